package startup

import (
	"fmt"

	"github.com/google/logger"
	"github.com/ingather/ingather-backend/internal/platform/metadata"
	"github.com/ingather/ingather-backend/internal/program"
	"github.com/ingather/ingather-backend/internal/scan"
	"gorm.io/gorm"
)

// Models 是需要迁移的全部表
func Models() []any {
	return []any{&program.Program{}, &scan.ScanRecord{}, &scan.Attendee{}, &metadata.Setting{}}
}

// MigrateSchema 建表并创建唯一索引，唯一索引是去重的最后一道防线
func MigrateSchema(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("数据库迁移失败: %w", err)
	}
	logger.Info("数据库表迁移成功。")
	return nil
}
