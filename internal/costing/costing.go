// Package costing derives headcount and labor burn rate from a node snapshot.
package costing

import (
	"sync"

	"blueprint-sync/internal/models"
)

// DefaultAverageHourlyWage is the wage applied to every crew node
const DefaultAverageHourlyWage = 35.0

const (
	hoursPerDay  = 8
	hoursPerWeek = 40
)

// Summary is the labor cost of one blueprint
type Summary struct {
	CrewCount    int     `json:"crew_count"`
	ProjectCount int     `json:"project_count"`
	Hourly       float64 `json:"hourly"`
	Daily        float64 `json:"daily"`
	Weekly       float64 `json:"weekly"`
}

// Compute counts crew and project nodes and prices the crew at wage per hour
func Compute(nodes []models.Node, wage float64) Summary {
	var s Summary
	for _, n := range nodes {
		switch n.Type {
		case models.NodeTypeCrew:
			s.CrewCount++
		case models.NodeTypeProject:
			s.ProjectCount++
		}
	}
	s.Hourly = float64(s.CrewCount) * wage
	s.Daily = s.Hourly * hoursPerDay
	s.Weekly = s.Hourly * hoursPerWeek
	return s
}

// Cache keeps the last node snapshot pushed by a projection
type Cache struct {
	wage float64

	mu    sync.RWMutex
	nodes []models.Node
}

// NewCache creates a cache pricing crew at wage; zero means the default
func NewCache(wage float64) *Cache {
	if wage <= 0 {
		wage = DefaultAverageHourlyWage
	}
	return &Cache{wage: wage}
}

// Push replaces the cached snapshot
func (c *Cache) Push(nodes []models.Node) {
	cp := make([]models.Node, len(nodes))
	copy(cp, nodes)

	c.mu.Lock()
	c.nodes = cp
	c.mu.Unlock()
}

// Summary recomputes the figures for the cached snapshot
func (c *Cache) Summary() Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Compute(c.nodes, c.wage)
}

// Wage returns the hourly wage the cache prices crew at
func (c *Cache) Wage() float64 {
	return c.wage
}
