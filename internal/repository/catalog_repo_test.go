package repository

import (
	"context"
	"testing"

	"blueprint-sync/internal/models"
	"blueprint-sync/internal/testutil"

	"github.com/go-playground/assert/v2"
)

func TestCatalogLookups(t *testing.T) {
	gdb := testutil.NewSQLite(t)
	assert.Equal(t, gdb.Create(&models.Project{ID: "p1", Name: "Main St"}).Error, nil)
	assert.Equal(t, gdb.Create(&models.CrewMember{ID: "c1", Name: "Ana"}).Error, nil)

	repo := NewCatalogRepository(gdb.DB)
	ctx := context.Background()

	projects, err := repo.ProjectNames(ctx, []string{"p1", "missing"})
	assert.Equal(t, err, nil)
	assert.Equal(t, projects, map[string]string{"p1": "Main St"})

	crew, err := repo.CrewNames(ctx, []string{"c1"})
	assert.Equal(t, err, nil)
	assert.Equal(t, crew, map[string]string{"c1": "Ana"})

	empty, err := repo.ProjectNames(ctx, nil)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(empty), 0)
}
