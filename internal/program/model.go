package program

import (
	"time"

	"gorm.io/datatypes"
)

// TrackingMode 决定扫码后是否还需要填写表单
type TrackingMode string

const (
	TrackingCountOnly   TrackingMode = "count-only"
	TrackingCollectData TrackingMode = "collect-data"
)

func (m TrackingMode) Valid() bool {
	return m == TrackingCountOnly || m == TrackingCollectData
}

// Program 是一次限时活动，归属于一个主办方。
// OrganizerName 和 OrganizerLogo 是创建时的主办方快照，供扫码页展示。
// IsActive 只会被显式停止置为false，且不可恢复；
// TotalScans 和 WinnersSelected 只能通过 Store 的原子操作修改。
type Program struct {
	ID              string                      `gorm:"primaryKey;type:varchar(36)" json:"id"`
	OrganizerID     string                      `gorm:"type:varchar(64);not null;index" json:"organizerId"`
	OrganizerName   string                      `json:"organizerName"`
	OrganizerLogo   string                      `json:"organizerLogo"`
	Title           string                      `gorm:"not null" json:"title"`
	Date            string                      `gorm:"type:varchar(10);index" json:"date"`
	StartTime       string                      `gorm:"type:varchar(8)" json:"startTime"`
	EndTime         string                      `gorm:"type:varchar(8)" json:"endTime"`
	TrackingMode    TrackingMode                `gorm:"type:varchar(16);not null" json:"trackingMode"`
	DataFields      datatypes.JSONSlice[string] `json:"dataFields"`
	GiftingEnabled  bool                        `gorm:"not null" json:"giftingEnabled"`
	TotalWinners    int64                       `gorm:"not null;check:chk_programs_total_winners,total_winners >= 0" json:"totalWinners"`
	WinnersSelected int64                       `gorm:"not null;default:0;check:chk_programs_winner_quota,winners_selected <= total_winners" json:"winnersSelected"`
	TotalScans      int64                       `gorm:"not null;default:0" json:"totalScans"`
	IsActive        bool                        `gorm:"not null" json:"isActive"`
	QRCodeURL       string                      `json:"qrCodeUrl"`
	CreatedAt       time.Time                   `json:"createdAt"`
	UpdatedAt       time.Time                   `json:"-"`
}

// QuotaReached 基于快照判断奖励名额是否已满，只能作为快速路径，
// 真正的名额分配以 TryAllocateWinnerSlot 为准。
func (p *Program) QuotaReached() bool {
	return p.WinnersSelected >= p.TotalWinners
}
