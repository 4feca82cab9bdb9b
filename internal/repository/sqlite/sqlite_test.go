package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"landscaper/internal/domain"
	"landscaper/internal/repository"
	"landscaper/internal/repository/repotest"
)

// newTestRepo creates an in-memory SQLite repository for testing
func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		repo.Close()
	})
	return repo
}

func TestContract(t *testing.T) {
	repotest.Run(t, func(t *testing.T) repository.Repository {
		return newTestRepo(t)
	})
}

func TestIntervalCheckConstraint(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	tests := []struct {
		name string
		rel  domain.RelRef
	}{
		{"to before from", domain.RelRef{ID: "bad", Source: "a", Target: "b", Label: domain.LabelHosts, From: 20, To: 10}},
		{"opened past EOT", domain.NewRelRef("late", "a", "b", domain.LabelHosts, domain.EOT+1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := repo.CreateRelationship(ctx, tt.rel)
			assert.ErrorIs(t, err, domain.ErrMalformedInput)
		})
	}

	require.NoError(t, repo.CreateRelationship(ctx, domain.NewRelRef("ok", "a", "b", domain.LabelHosts, 20)))
	assert.ErrorIs(t, repo.CloseRelationship(ctx, "ok", 10), domain.ErrMalformedInput)
}

func TestPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "landscape.db")

	repo, err := New(path)
	require.NoError(t, err)
	entity := domain.NewEntityRef("host1", domain.Attributes{"type": "machine"}, 1)
	state := domain.State{ID: "s0", EntityID: "host1", Attributes: domain.Attributes{"allocation": "host1"}}
	created, err := repo.CreateEntity(ctx, entity, state,
		domain.NewRelRef("r0", "host1", "s0", domain.LabelState, 1))
	require.NoError(t, err)
	require.True(t, created)
	require.NoError(t, repo.Close())

	repo, err = New(path)
	require.NoError(t, err)
	defer repo.Close()

	got, err := repo.GetEntity(ctx, "host1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "machine", got.Type)

	snaps, err := repo.FindSnapshots(ctx, repository.Filter{Open: true})
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "host1", snaps[0].State.Attributes["allocation"])
}
