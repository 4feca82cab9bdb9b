// Package repotest holds a behavioural suite every repository.Repository
// implementation must pass.
package repotest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"landscaper/internal/domain"
	"landscaper/internal/repository"
)

// Factory returns a fresh, empty repository.
type Factory func(t *testing.T) repository.Repository

// Run executes the contract suite.
func Run(t *testing.T, newRepo Factory) {
	ctx := context.Background()

	seed := func(t *testing.T, repo repository.Repository, id string, ts int64) domain.RelRef {
		t.Helper()
		entity := domain.NewEntityRef(id, domain.Attributes{"type": "vm", "layer": "virtual"}, ts)
		state := domain.State{ID: id + "-s0", EntityID: id, Attributes: domain.Attributes{"vcpu": float64(2)}}
		rel := domain.NewRelRef(id+"-r0", id, state.ID, domain.LabelState, ts)
		created, err := repo.CreateEntity(ctx, entity, state, rel)
		require.NoError(t, err)
		require.True(t, created)
		return rel
	}

	t.Run("create entity is atomic and idempotent", func(t *testing.T) {
		repo := newRepo(t)
		seed(t, repo, "vm1", 100)

		entity := domain.NewEntityRef("vm1", domain.Attributes{"type": "other"}, 500)
		created, err := repo.CreateEntity(ctx, entity,
			domain.State{ID: "other-state", EntityID: "vm1"},
			domain.NewRelRef("other-rel", "vm1", "other-state", domain.LabelState, 500))
		require.NoError(t, err)
		assert.False(t, created)

		got, err := repo.GetEntity(ctx, "vm1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "vm", got.Type)
		assert.Equal(t, domain.LayerVirtual, got.Layer)
		assert.Equal(t, "vm1", got.Attributes["name"])

		state, err := repo.GetState(ctx, "other-state")
		require.NoError(t, err)
		assert.Nil(t, state)

		rels, err := repo.FindRelationships(ctx, repository.Filter{Source: "vm1"})
		require.NoError(t, err)
		assert.Len(t, rels, 1)
	})

	t.Run("missing records return nil", func(t *testing.T) {
		repo := newRepo(t)
		entity, err := repo.GetEntity(ctx, "nope")
		require.NoError(t, err)
		assert.Nil(t, entity)

		state, err := repo.GetState(ctx, "nope")
		require.NoError(t, err)
		assert.Nil(t, state)
	})

	t.Run("supersede state closes old relationship", func(t *testing.T) {
		repo := newRepo(t)
		old := seed(t, repo, "vm1", 100)

		next := domain.State{ID: "vm1-s1", EntityID: "vm1", Attributes: domain.Attributes{"vcpu": float64(4)}}
		rel := domain.NewRelRef("vm1-r1", "vm1", next.ID, domain.LabelState, 200)
		require.NoError(t, repo.SupersedeState(ctx, old.ID, next, rel))

		rels, err := repo.FindRelationships(ctx, repository.Filter{Source: "vm1", Label: domain.LabelState})
		require.NoError(t, err)
		require.Len(t, rels, 2)
		assert.Equal(t, int64(200), rels[0].To)
		assert.Equal(t, domain.EOT, rels[1].To)

		err = repo.SupersedeState(ctx, old.ID,
			domain.State{ID: "vm1-s2", EntityID: "vm1"},
			domain.NewRelRef("vm1-r2", "vm1", "vm1-s2", domain.LabelState, 300))
		assert.ErrorIs(t, err, domain.ErrStale)

		state, err := repo.GetState(ctx, "vm1-s2")
		require.NoError(t, err)
		assert.Nil(t, state, "failed supersede must not leave a state behind")
	})

	t.Run("reopen state only after close", func(t *testing.T) {
		repo := newRepo(t)
		first := seed(t, repo, "ep1", 100)

		state := domain.State{ID: "ep1-s1", EntityID: "ep1", Attributes: domain.Attributes{"ip": "10.0.0.5"}}
		rel := domain.NewRelRef("ep1-r1", "ep1", state.ID, domain.LabelState, 300)
		assert.ErrorIs(t, repo.ReopenState(ctx, state, rel), domain.ErrStale)

		require.NoError(t, repo.CloseRelationship(ctx, first.ID, 200))
		require.NoError(t, repo.ReopenState(ctx, state, rel))

		snaps, err := repo.FindSnapshots(ctx, repository.Filter{Source: "ep1", Open: true})
		require.NoError(t, err)
		require.Len(t, snaps, 1)
		assert.Equal(t, "10.0.0.5", snaps[0].State.Attributes["ip"])
		assert.Equal(t, int64(300), snaps[0].Relationship.From)

		err = repo.ReopenState(ctx, domain.State{ID: "ghost-s0", EntityID: "ghost"},
			domain.NewRelRef("ghost-r0", "ghost", "ghost-s0", domain.LabelState, 300))
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("close relationship once", func(t *testing.T) {
		repo := newRepo(t)
		seed(t, repo, "a", 10)
		seed(t, repo, "b", 10)
		rel := domain.NewRelRef("edge", "a", "b", domain.LabelHosts, 20)
		require.NoError(t, repo.CreateRelationship(ctx, rel))

		require.NoError(t, repo.CloseRelationship(ctx, "edge", 30))
		assert.ErrorIs(t, repo.CloseRelationship(ctx, "edge", 40), domain.ErrStale)
		assert.ErrorIs(t, repo.CloseRelationship(ctx, "missing", 40), domain.ErrNotFound)

		rels, err := repo.FindRelationships(ctx, repository.Filter{Label: domain.LabelHosts})
		require.NoError(t, err)
		require.Len(t, rels, 1)
		assert.Equal(t, int64(30), rels[0].To)
	})

	t.Run("filters", func(t *testing.T) {
		repo := newRepo(t)
		seed(t, repo, "a", 10)
		seed(t, repo, "b", 10)
		require.NoError(t, repo.CreateRelationship(ctx, domain.NewRelRef("e1", "a", "b", domain.LabelHosts, 20)))
		require.NoError(t, repo.CreateRelationship(ctx, domain.NewRelRef("e2", "b", "a", domain.LabelRequires, 50)))
		require.NoError(t, repo.CloseRelationship(ctx, "e2", 60))

		tests := []struct {
			name   string
			filter repository.Filter
			want   []string
		}{
			{"by source", repository.Filter{Source: "a"}, []string{"a-r0", "e1"}},
			{"by target", repository.Filter{Target: "a"}, []string{"e2"}},
			{"exclude state", repository.Filter{ExcludeLabel: domain.LabelState}, []string{"e1", "e2"}},
			{"open only", repository.Filter{ExcludeLabel: domain.LabelState, Open: true}, []string{"e1"}},
			{"window inside", repository.Filter{Label: domain.LabelRequires, Window: &domain.Window{At: 50, Duration: 9}}, []string{"e2"}},
			{"window past close", repository.Filter{Label: domain.LabelRequires, Window: &domain.Window{At: 50, Duration: 10}}, nil},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				rels, err := repo.FindRelationships(ctx, tt.filter)
				require.NoError(t, err)
				var ids []string
				for _, r := range rels {
					ids = append(ids, r.ID)
				}
				assert.Equal(t, tt.want, ids)
			})
		}
	})

	t.Run("find snapshots joins entity and state", func(t *testing.T) {
		repo := newRepo(t)
		seed(t, repo, "b", 10)
		seed(t, repo, "a", 10)
		require.NoError(t, repo.CreateRelationship(ctx, domain.NewRelRef("e1", "a", "b", domain.LabelHosts, 20)))

		snaps, err := repo.FindSnapshots(ctx, repository.Filter{Window: &domain.Window{At: 15}})
		require.NoError(t, err)
		require.Len(t, snaps, 2)
		assert.Equal(t, "a", snaps[0].Entity.ID)
		assert.Equal(t, "b", snaps[1].Entity.ID)
		assert.Equal(t, float64(2), snaps[0].State.Attributes["vcpu"])
		assert.Equal(t, domain.LabelState, snaps[0].Relationship.Label)

		snaps, err = repo.FindSnapshots(ctx, repository.Filter{Source: "a", Open: true})
		require.NoError(t, err)
		assert.Len(t, snaps, 1)

		snaps, err = repo.FindSnapshots(ctx, repository.Filter{Window: &domain.Window{At: 5}})
		require.NoError(t, err)
		assert.Empty(t, snaps)
	})

	t.Run("delete all", func(t *testing.T) {
		repo := newRepo(t)
		seed(t, repo, "a", 10)
		require.NoError(t, repo.DeleteAll(ctx))

		entity, err := repo.GetEntity(ctx, "a")
		require.NoError(t, err)
		assert.Nil(t, entity)
		rels, err := repo.FindRelationships(ctx, repository.Filter{})
		require.NoError(t, err)
		assert.Empty(t, rels)
	})
}
