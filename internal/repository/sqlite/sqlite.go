package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"landscaper/internal/domain"
	"landscaper/internal/repository"
)

// Repository implements repository.Repository using SQLite
type Repository struct {
	db *sql.DB
}

// New creates a new SQLite repository
func New(dbPath string) (*Repository, error) {
	dsn := dbPath + "?_pragma=foreign_keys(1)"
	if dbPath != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes
	// writers. Rows are always drained before the next statement.
	db.SetMaxOpenConns(1)

	repo := &Repository{db: db}
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return repo, nil
}

func (r *Repository) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entities (
		id TEXT PRIMARY KEY,
		layer TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL DEFAULT '',
		attributes JSON,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS states (
		id TEXT PRIMARY KEY,
		entity_id TEXT NOT NULL,
		attributes JSON,
		FOREIGN KEY (entity_id) REFERENCES entities(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS relationships (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		target TEXT NOT NULL,
		label TEXT NOT NULL,
		valid_from INTEGER NOT NULL,
		valid_to INTEGER NOT NULL,
		CHECK (valid_from <= valid_to)
	);

	CREATE INDEX IF NOT EXISTS idx_relationships_source ON relationships(source, label, valid_to);
	CREATE INDEX IF NOT EXISTS idx_relationships_target ON relationships(target, label);
	CREATE INDEX IF NOT EXISTS idx_relationships_interval ON relationships(label, valid_from, valid_to);
	CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(type);
	`

	_, err := r.db.Exec(schema)
	return err
}

// Ping implements repository.Repository
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// ============================================================================
// Entities
// ============================================================================

// GetEntity implements repository.Repository
func (r *Repository) GetEntity(ctx context.Context, id string) (*domain.EntityRef, error) {
	var row entityRow
	err := r.db.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM entities e WHERE e.id = ?`, id,
	).Scan(row.scanArgs()...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity %s: %w", id, err)
	}
	return row.toDomain()
}

// CreateEntity implements repository.Repository
func (r *Repository) CreateEntity(ctx context.Context, entity domain.EntityRef, state domain.State, rel domain.RelRef) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	attrs, err := marshalToNull(entity.Attributes)
	if err != nil {
		return false, fmt.Errorf("failed to marshal identity: %w", err)
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO entities (id, layer, category, type, attributes, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, entity.ID, string(entity.Layer), string(entity.Category), entity.Type, attrs, entity.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to insert entity: %w", constraintErr(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	if err := insertState(ctx, tx, state); err != nil {
		return false, err
	}
	if err := insertRelationship(ctx, tx, rel); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}

// ============================================================================
// States
// ============================================================================

// GetState implements repository.Repository
func (r *Repository) GetState(ctx context.Context, id string) (*domain.State, error) {
	var row stateRow
	err := r.db.QueryRowContext(ctx,
		`SELECT `+stateColumns+` FROM states s WHERE s.id = ?`, id,
	).Scan(row.scanArgs()...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get state %s: %w", id, err)
	}
	return row.toDomain()
}

// SupersedeState implements repository.Repository
func (r *Repository) SupersedeState(ctx context.Context, oldRelID string, state domain.State, rel domain.RelRef) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := closeRelationship(ctx, tx, oldRelID, rel.From); err != nil {
		return err
	}
	if err := insertState(ctx, tx, state); err != nil {
		return err
	}
	if err := insertRelationship(ctx, tx, rel); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ReopenState implements repository.Repository
func (r *Repository) ReopenState(ctx context.Context, state domain.State, rel domain.RelRef) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var entities, open int
	if err := tx.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM entities WHERE id = ?),
			(SELECT COUNT(*) FROM relationships WHERE source = ? AND label = ? AND valid_to = ?)
	`, rel.Source, rel.Source, string(domain.LabelState), domain.EOT).Scan(&entities, &open); err != nil {
		return fmt.Errorf("failed to check state of %s: %w", rel.Source, err)
	}
	if entities == 0 {
		return fmt.Errorf("entity %s: %w", rel.Source, domain.ErrNotFound)
	}
	if open > 0 {
		return fmt.Errorf("entity %s has an open state: %w", rel.Source, domain.ErrStale)
	}

	if err := insertState(ctx, tx, state); err != nil {
		return err
	}
	if err := insertRelationship(ctx, tx, rel); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func insertState(ctx context.Context, tx *sql.Tx, state domain.State) error {
	attrs, err := marshalToNull(state.Attributes)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO states (id, entity_id, attributes) VALUES (?, ?, ?)`,
		state.ID, state.EntityID, attrs)
	if err != nil {
		return fmt.Errorf("failed to insert state: %w", constraintErr(err))
	}
	return nil
}

// ============================================================================
// Relationships
// ============================================================================

// CreateRelationship implements repository.Repository
func (r *Repository) CreateRelationship(ctx context.Context, rel domain.RelRef) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertRelationship(ctx, tx, rel); err != nil {
		return err
	}
	return tx.Commit()
}

func insertRelationship(ctx context.Context, tx *sql.Tx, rel domain.RelRef) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO relationships (id, source, target, label, valid_from, valid_to)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rel.ID, rel.Source, rel.Target, string(rel.Label), rel.From, rel.To)
	if err != nil {
		return fmt.Errorf("failed to insert relationship: %w", constraintErr(err))
	}
	return nil
}

// CloseRelationship implements repository.Repository
func (r *Repository) CloseRelationship(ctx context.Context, id string, at int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := closeRelationship(ctx, tx, id, at); err != nil {
		return err
	}
	return tx.Commit()
}

func closeRelationship(ctx context.Context, tx *sql.Tx, id string, at int64) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE relationships SET valid_to = ? WHERE id = ? AND valid_to = ?`,
		at, id, domain.EOT)
	if err != nil {
		return fmt.Errorf("failed to close relationship %s: %w", id, constraintErr(err))
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM relationships WHERE id = ?`, id,
	).Scan(&count); err != nil {
		return fmt.Errorf("failed to check relationship %s: %w", id, err)
	}
	if count == 0 {
		return fmt.Errorf("relationship %s: %w", id, domain.ErrNotFound)
	}
	return fmt.Errorf("relationship %s: %w", id, domain.ErrStale)
}

// FindRelationships implements repository.Repository
func (r *Repository) FindRelationships(ctx context.Context, filter repository.Filter) ([]domain.RelRef, error) {
	where, args := buildWhere(filter)
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+relColumns+` FROM relationships r`+where+` ORDER BY r.rowid`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query relationships: %w", err)
	}
	defer rows.Close()

	var rels []domain.RelRef
	for rows.Next() {
		var row relRow
		if err := rows.Scan(row.scanArgs()...); err != nil {
			return nil, fmt.Errorf("failed to scan relationship: %w", err)
		}
		rels = append(rels, row.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating relationships: %w", err)
	}
	return rels, nil
}

// FindSnapshots implements repository.Repository
func (r *Repository) FindSnapshots(ctx context.Context, filter repository.Filter) ([]repository.Snapshot, error) {
	filter.Label = domain.LabelState
	filter.ExcludeLabel = ""
	where, args := buildWhere(filter)

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+entityColumns+`, `+stateColumns+`, `+relColumns+`
		FROM relationships r
		JOIN entities e ON e.id = r.source
		JOIN states s ON s.id = r.target`+where+`
		ORDER BY e.id, r.rowid`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []repository.Snapshot
	for rows.Next() {
		var (
			e   entityRow
			s   stateRow
			rel relRow
		)
		dest := append(append(e.scanArgs(), s.scanArgs()...), rel.scanArgs()...)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		entity, err := e.toDomain()
		if err != nil {
			return nil, err
		}
		state, err := s.toDomain()
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, repository.Snapshot{
			Entity:       *entity,
			State:        *state,
			Relationship: rel.toDomain(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}
	return snapshots, nil
}

// buildWhere turns a filter into a WHERE clause over the relationships
// table aliased as r.
func buildWhere(f repository.Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.Source != "" {
		conds = append(conds, "r.source = ?")
		args = append(args, f.Source)
	}
	if f.Target != "" {
		conds = append(conds, "r.target = ?")
		args = append(args, f.Target)
	}
	if f.Label != "" {
		conds = append(conds, "r.label = ?")
		args = append(args, string(f.Label))
	}
	if f.ExcludeLabel != "" {
		conds = append(conds, "r.label <> ?")
		args = append(args, string(f.ExcludeLabel))
	}
	if f.Open {
		conds = append(conds, "r.valid_to = ?")
		args = append(args, domain.EOT)
	}
	if f.Window != nil {
		conds = append(conds, "r.valid_from <= ?", "r.valid_to > ?")
		args = append(args, f.Window.At, f.Window.End())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// DeleteAll implements repository.Repository
func (r *Repository) DeleteAll(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"relationships", "states", "entities"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return tx.Commit()
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}
