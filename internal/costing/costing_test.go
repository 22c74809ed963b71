package costing

import (
	"testing"

	"blueprint-sync/internal/models"

	"github.com/go-playground/assert/v2"
)

func TestCompute(t *testing.T) {
	nodes := []models.Node{
		{ID: "p", Type: models.NodeTypeProject},
		{ID: "c1", Type: models.NodeTypeCrew},
		{ID: "c2", Type: models.NodeTypeCrew},
		{ID: "e", Type: models.NodeTypeEquipment},
		{ID: "n", Type: models.NodeTypeNote},
	}

	s := Compute(nodes, 35)
	assert.Equal(t, s, Summary{CrewCount: 2, ProjectCount: 1, Hourly: 70, Daily: 560, Weekly: 2800})
}

func TestComputeEmpty(t *testing.T) {
	assert.Equal(t, Compute(nil, DefaultAverageHourlyWage), Summary{})
}

func TestCacheUsesLastPush(t *testing.T) {
	c := NewCache(0)
	assert.Equal(t, c.Wage(), DefaultAverageHourlyWage)
	assert.Equal(t, c.Summary().CrewCount, 0)

	nodes := []models.Node{{ID: "c1", Type: models.NodeTypeCrew}}
	c.Push(nodes)
	nodes[0].Type = models.NodeTypeNote // the cache holds its own copy

	s := c.Summary()
	assert.Equal(t, s.CrewCount, 1)
	assert.Equal(t, s.Weekly, 35.0*40)

	c.Push(nil)
	assert.Equal(t, c.Summary().CrewCount, 0)
}
