package metadata

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GetValue 读取键对应的值，键不存在时返回空字符串
func GetValue(db *gorm.DB, key string) (string, error) {
	var s Setting
	err := db.Where("key = ?", key).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("读取设置 %q 失败: %w", key, err)
	}
	return s.Value, nil
}

// EnsureValue 返回键已有的值；不存在时用 generate 生成并写入。
// 多个实例同时启动时只有第一个写入生效，其余实例读到同一个值。
func EnsureValue(db *gorm.DB, key string, generate func() (string, error)) (string, error) {
	if v, err := GetValue(db, key); err != nil || v != "" {
		return v, err
	}

	v, err := generate()
	if err != nil {
		return "", err
	}
	err = db.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "key"}}, DoNothing: true}).
		Create(&Setting{Key: key, Value: v}).Error
	if err != nil {
		return "", fmt.Errorf("写入设置 %q 失败: %w", key, err)
	}
	return GetValue(db, key)
}
