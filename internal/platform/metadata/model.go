package metadata

import "time"

// Setting 是系统级的键值对，例如自动生成的签名密钥
type Setting struct {
	Key       string `gorm:"primaryKey;type:varchar(64)"`
	Value     string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

func (Setting) TableName() string {
	return "settings"
}
