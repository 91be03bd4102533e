package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/ingather/ingather-backend/internal/platform/config"
	"github.com/ingather/ingather-backend/internal/platform/database"
	"gorm.io/gorm"
)

var dbSeq atomic.Int64

// SetupTestDB 打开一个独立的内存SQLite数据库并迁移给定的表，测试结束时自动关闭
func SetupTestDB(t *testing.T, models ...any) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:testdb_%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := database.Open(config.DatabaseConfig{Driver: config.DriverSqlite, DSN: dsn}, false)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if len(models) > 0 {
		if err := db.AutoMigrate(models...); err != nil {
			t.Fatalf("Failed to migrate test database: %v", err)
		}
	}
	return db
}
