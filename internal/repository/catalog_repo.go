package repository

import (
	"context"
	"fmt"

	"blueprint-sync/internal/models"

	"gorm.io/gorm"
)

// CatalogRepositoryImpl reads the projects and crew the operations app owns.
// Learning: This service never writes these tables
type CatalogRepositoryImpl struct {
	db *gorm.DB
}

// NewCatalogRepository creates a new catalog repository
func NewCatalogRepository(db *gorm.DB) *CatalogRepositoryImpl {
	return &CatalogRepositoryImpl{db: db}
}

// ProjectNames returns id -> name for the given project ids.
// Unknown ids are simply absent from the result.
func (r *CatalogRepositoryImpl) ProjectNames(ctx context.Context, ids []string) (map[string]string, error) {
	names := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}

	var projects []models.Project
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&projects).Error; err != nil {
		return nil, fmt.Errorf("failed to look up projects: %w", err)
	}
	for _, p := range projects {
		names[p.ID] = p.Name
	}
	return names, nil
}

// CrewNames returns id -> name for the given crew member ids
func (r *CatalogRepositoryImpl) CrewNames(ctx context.Context, ids []string) (map[string]string, error) {
	names := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}

	var crew []models.CrewMember
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&crew).Error; err != nil {
		return nil, fmt.Errorf("failed to look up crew: %w", err)
	}
	for _, c := range crew {
		names[c.ID] = c.Name
	}
	return names, nil
}
