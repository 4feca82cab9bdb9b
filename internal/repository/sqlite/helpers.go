package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"landscaper/internal/domain"
)

// constraintErr marks writes the schema rejects (interval checks, foreign
// keys) as malformed input so callers do not retry them.
func constraintErr(err error) error {
	var se *msqlite.Error
	if errors.As(err, &se) && se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
		return fmt.Errorf("%w: %v", domain.ErrMalformedInput, err)
	}
	return err
}

// ============================================================================
// JSON Marshaling Helpers
// ============================================================================

// unmarshalJSONField safely unmarshals JSON from nullable string into target
func unmarshalJSONField(ns sql.NullString, target interface{}) error {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(ns.String), target)
}

// marshalToNull marshals an attribute bag to a nullable JSON string.
// Empty bags are stored as NULL.
func marshalToNull(attrs domain.Attributes) (sql.NullString, error) {
	if len(attrs) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(attrs)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// ============================================================================
// Row Scanners
// ============================================================================
//
// CRITICAL: column order must match between the *Columns constants and the
// scanArgs() slices. Snapshot queries scan entity, state and relationship
// columns in that order from one joined row.

const entityColumns = `e.id, e.layer, e.category, e.type, e.attributes, e.created_at`

type entityRow struct {
	ID             string
	Layer          string
	Category       string
	Type           string
	AttributesJSON sql.NullString
	CreatedAt      int64
}

func (r *entityRow) scanArgs() []interface{} {
	return []interface{}{&r.ID, &r.Layer, &r.Category, &r.Type, &r.AttributesJSON, &r.CreatedAt}
}

func (r *entityRow) toDomain() (*domain.EntityRef, error) {
	entity := &domain.EntityRef{
		ID:         r.ID,
		Layer:      domain.Layer(r.Layer),
		Category:   domain.Category(r.Category),
		Type:       r.Type,
		Attributes: domain.Attributes{},
		CreatedAt:  r.CreatedAt,
	}
	if err := unmarshalJSONField(r.AttributesJSON, &entity.Attributes); err != nil {
		return nil, fmt.Errorf("unmarshal identity %s: %w", r.ID, err)
	}
	return entity, nil
}

const stateColumns = `s.id, s.entity_id, s.attributes`

type stateRow struct {
	ID             string
	EntityID       string
	AttributesJSON sql.NullString
}

func (r *stateRow) scanArgs() []interface{} {
	return []interface{}{&r.ID, &r.EntityID, &r.AttributesJSON}
}

func (r *stateRow) toDomain() (*domain.State, error) {
	state := &domain.State{ID: r.ID, EntityID: r.EntityID, Attributes: domain.Attributes{}}
	if err := unmarshalJSONField(r.AttributesJSON, &state.Attributes); err != nil {
		return nil, fmt.Errorf("unmarshal state %s: %w", r.ID, err)
	}
	return state, nil
}

const relColumns = `r.id, r.source, r.target, r.label, r.valid_from, r.valid_to`

type relRow struct {
	ID     string
	Source string
	Target string
	Label  string
	From   int64
	To     int64
}

func (r *relRow) scanArgs() []interface{} {
	return []interface{}{&r.ID, &r.Source, &r.Target, &r.Label, &r.From, &r.To}
}

func (r *relRow) toDomain() domain.RelRef {
	return domain.RelRef{
		ID:     r.ID,
		Source: r.Source,
		Target: r.Target,
		Label:  domain.Label(r.Label),
		From:   r.From,
		To:     r.To,
	}
}
