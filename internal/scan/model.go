package scan

import (
	"time"

	"gorm.io/datatypes"
)

// ScanRecord 是一台设备在一个活动中的唯一入场记录，创建后只允许补充 Gender 和 FirstTimer
type ScanRecord struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	ProgramID         string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_scans_program_device,priority:1" json:"programId"`
	DeviceFingerprint string    `gorm:"type:varchar(255);not null;uniqueIndex:idx_scans_program_device,priority:2" json:"-"`
	Gender            *string   `gorm:"type:varchar(16)" json:"gender"`
	FirstTimer        bool      `gorm:"not null;default:false" json:"firstTimer"`
	ScannedAt         time.Time `gorm:"not null;index" json:"scanTime"`
}

func (ScanRecord) TableName() string {
	return "scans"
}

// Attendee 是一次表单提交，IsWinner 在提交时一次性确定
type Attendee struct {
	ID                uint              `gorm:"primaryKey" json:"id"`
	ProgramID         string            `gorm:"type:varchar(36);not null;uniqueIndex:idx_attendees_program_device,priority:1" json:"programId"`
	DeviceFingerprint string            `gorm:"type:varchar(255);not null;uniqueIndex:idx_attendees_program_device,priority:2" json:"-"`
	Fields            datatypes.JSONMap `json:"fields"`
	FirstTimer        bool              `gorm:"not null;default:false" json:"firstTimer"`
	IsWinner          bool              `gorm:"not null;default:false" json:"isWinner"`
	SubmittedAt       time.Time         `gorm:"not null;index" json:"scanTime"`
}

// Metadata 是扫码时可选携带的信息，nil 表示未提供
type Metadata struct {
	Gender     *string
	FirstTimer *bool
}

func (m Metadata) firstTimer() bool {
	return m.FirstTimer != nil && *m.FirstTimer
}
