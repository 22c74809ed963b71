package repository

import (
	"context"
	"errors"
	"testing"

	"blueprint-sync/internal/models"
	"blueprint-sync/internal/testutil"

	"github.com/go-playground/assert/v2"
)

func TestSaveBumpsVersion(t *testing.T) {
	ctx := context.Background()
	repo := NewBlueprintRepository(testutil.NewSQLite(t).DB)

	snap := &models.Snapshot{
		Nodes:    []models.Node{{ID: "a", Type: models.NodeTypeCrew, Position: models.Position{X: 1, Y: 2}}},
		Viewport: models.Viewport{Zoom: 1},
	}
	bp, err := repo.Save(ctx, "bp-1", snap)
	assert.Equal(t, err, nil)
	assert.Equal(t, bp.Version, 1)

	snap.Edges = []models.Edge{{ID: "edge-a-b", Source: "a", Target: "b"}}
	bp, err = repo.Save(ctx, "bp-1", snap)
	assert.Equal(t, err, nil)
	assert.Equal(t, bp.Version, 2)

	got, err := repo.GetSnapshot(ctx, "bp-1")
	assert.Equal(t, err, nil)
	assert.Equal(t, len(got.Nodes), 1)
	assert.Equal(t, got.Nodes[0].Position, models.Position{X: 1, Y: 2})
	assert.Equal(t, got.Edges[0].ID, "edge-a-b")
	assert.Equal(t, got.Viewport.Zoom, 1.0)
}

func TestGetMissingBlueprint(t *testing.T) {
	repo := NewBlueprintRepository(testutil.NewSQLite(t).DB)

	_, err := repo.GetByID(context.Background(), "nope")
	assert.Equal(t, errors.Is(err, ErrNotFound), true)
}

func TestDeleteBlueprint(t *testing.T) {
	ctx := context.Background()
	repo := NewBlueprintRepository(testutil.NewSQLite(t).DB)

	_, err := repo.Save(ctx, "bp-1", &models.Snapshot{})
	assert.Equal(t, err, nil)
	assert.Equal(t, repo.Delete(ctx, "bp-1"), nil)

	_, err = repo.GetByID(ctx, "bp-1")
	assert.Equal(t, errors.Is(err, ErrNotFound), true)
	assert.Equal(t, errors.Is(repo.Delete(ctx, "bp-1"), ErrNotFound), true)
}
