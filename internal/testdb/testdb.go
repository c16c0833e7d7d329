// Package testdb opens throwaway sqlite databases for package tests.
package testdb

import (
	"testing"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"case-mail-router/internal/config"
	"case-mail-router/internal/database"
)

// New returns a migrated in-memory database closed when t ends
func New(t *testing.T) *gorm.DB {
	t.Helper()
	logrus.SetLevel(logrus.WarnLevel)

	db, err := database.Init(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}
