package database

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/logger"
	"github.com/ingather/ingather-backend/internal/platform/config"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var DB *gorm.DB

// Open 按配置打开数据库连接，不修改全局变量
func Open(cfg config.DatabaseConfig, debug bool) (*gorm.DB, error) {
	level := gormlogger.Silent
	if debug {
		level = gormlogger.Info
	}
	// GORM日志配置
	newLogger := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
			Colorful:                  true,
		},
	)

	var dialector gorm.Dialector
	switch cfg.Driver {
	case config.DriverPostgres:
		dialector = postgres.Open(cfg.DSN)
	case config.DriverSqlite:
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("不支持的数据库驱动: %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         newLogger,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层连接池失败: %w", err)
	}
	if cfg.Driver == config.DriverSqlite {
		// SQLite 只允许一个写者，串行化连接避免 database is locked
		sqlDB.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	return db, nil
}

// InitDB 初始化全局数据库连接
func InitDB(cfg config.DatabaseConfig, debug bool) error {
	db, err := Open(cfg, debug)
	if err != nil {
		return err
	}
	DB = db
	logger.Infof("数据库连接成功 (driver=%s)", cfg.Driver)
	return nil
}

// CloseDB 关闭全局数据库连接
func CloseDB() {
	if DB == nil {
		return
	}
	sqlDB, err := DB.DB()
	if err != nil {
		logger.Errorf("获取底层连接池失败: %v", err)
		return
	}
	if err := sqlDB.Close(); err != nil {
		logger.Errorf("关闭数据库失败: %v", err)
	}
}
