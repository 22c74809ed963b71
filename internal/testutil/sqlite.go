// Package testutil holds helpers shared by package tests.
package testutil

import (
	"strings"
	"testing"

	"blueprint-sync/internal/db"
	"blueprint-sync/internal/models"
)

// NewSQLite returns a migrated in-memory database private to t.
// The catalog tables are created too so lookups can be seeded.
func NewSQLite(t *testing.T) *db.GormDB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name())
	gdb, err := db.NewLocal("file:" + name + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// one connection keeps the in-memory database alive and avoids
	// shared-cache table locks between goroutines
	sqlDB, err := gdb.DB.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.Migrate(gdb.DB); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := gdb.AutoMigrate(&models.Project{}, &models.CrewMember{}); err != nil {
		t.Fatalf("migrate catalog: %v", err)
	}
	t.Cleanup(func() { _ = gdb.Close() })
	return gdb
}
