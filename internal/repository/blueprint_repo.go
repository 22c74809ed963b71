package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"blueprint-sync/internal/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when a requested row does not exist
var ErrNotFound = errors.New("not found")

// BlueprintRepositoryImpl stores the snapshots editors save to the server
// Learning: Returns concrete type - "Accept interfaces, return structs"
type BlueprintRepositoryImpl struct {
	db *gorm.DB
}

// NewBlueprintRepository creates a new blueprint repository
func NewBlueprintRepository(db *gorm.DB) *BlueprintRepositoryImpl {
	return &BlueprintRepositoryImpl{db: db}
}

// Save upserts the snapshot for a blueprint and bumps its version
func (r *BlueprintRepositoryImpl) Save(ctx context.Context, id string, snapshot *models.Snapshot) (*models.SavedBlueprint, error) {
	nodes, err := json.Marshal(nonNilNodes(snapshot.Nodes))
	if err != nil {
		return nil, fmt.Errorf("failed to encode nodes: %w", err)
	}
	edges, err := json.Marshal(nonNilEdges(snapshot.Edges))
	if err != nil {
		return nil, fmt.Errorf("failed to encode edges: %w", err)
	}
	viewport, err := json.Marshal(snapshot.Viewport)
	if err != nil {
		return nil, fmt.Errorf("failed to encode viewport: %w", err)
	}

	row := &models.SavedBlueprint{
		ID:       id,
		Version:  1,
		Nodes:    datatypes.JSON(nodes),
		Edges:    datatypes.JSON(edges),
		Viewport: datatypes.JSON(viewport),
	}

	// Learning: ON CONFLICT keeps save idempotent per blueprint id
	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"nodes":      row.Nodes,
			"edges":      row.Edges,
			"viewport":   row.Viewport,
			"version":    gorm.Expr("blueprints.version + 1"),
			"updated_at": gorm.Expr("CURRENT_TIMESTAMP"),
			"deleted_at": nil,
		}),
	}).Create(row).Error
	if err != nil {
		return nil, fmt.Errorf("failed to save blueprint: %w", err)
	}

	return r.GetByID(ctx, id)
}

// GetByID retrieves a saved blueprint
// Soft-deleted blueprints are automatically excluded
func (r *BlueprintRepositoryImpl) GetByID(ctx context.Context, id string) (*models.SavedBlueprint, error) {
	var bp models.SavedBlueprint

	err := r.db.WithContext(ctx).First(&bp, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("blueprint %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get blueprint: %w", err)
	}

	return &bp, nil
}

// GetSnapshot decodes a saved blueprint back into a snapshot
func (r *BlueprintRepositoryImpl) GetSnapshot(ctx context.Context, id string) (*models.Snapshot, error) {
	bp, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return DecodeSnapshot(bp)
}

// Delete performs a soft delete
func (r *BlueprintRepositoryImpl) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&models.SavedBlueprint{}, "id = ?", id)

	if result.Error != nil {
		return fmt.Errorf("failed to delete blueprint: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("blueprint %s: %w", id, ErrNotFound)
	}

	return nil
}

// DecodeSnapshot turns the stored JSON columns back into a snapshot
func DecodeSnapshot(bp *models.SavedBlueprint) (*models.Snapshot, error) {
	snapshot := &models.Snapshot{Nodes: []models.Node{}, Edges: []models.Edge{}}
	if len(bp.Nodes) > 0 {
		if err := json.Unmarshal(bp.Nodes, &snapshot.Nodes); err != nil {
			return nil, fmt.Errorf("failed to decode nodes: %w", err)
		}
	}
	if len(bp.Edges) > 0 {
		if err := json.Unmarshal(bp.Edges, &snapshot.Edges); err != nil {
			return nil, fmt.Errorf("failed to decode edges: %w", err)
		}
	}
	if len(bp.Viewport) > 0 {
		if err := json.Unmarshal(bp.Viewport, &snapshot.Viewport); err != nil {
			return nil, fmt.Errorf("failed to decode viewport: %w", err)
		}
	}
	return snapshot, nil
}

func nonNilNodes(nodes []models.Node) []models.Node {
	if nodes == nil {
		return []models.Node{}
	}
	return nodes
}

func nonNilEdges(edges []models.Edge) []models.Edge {
	if edges == nil {
		return []models.Edge{}
	}
	return edges
}
