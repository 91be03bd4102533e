package program

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/logger"
	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrInvalidProgram = errors.New("活动参数无效")

const qrCodeSize = 256

// CreateInput 是创建活动所需的参数
type CreateInput struct {
	OrganizerID    string
	OrganizerName  string
	OrganizerLogo  string
	Title          string
	Date           string // YYYY-MM-DD
	StartTime      string // HH:MM 或 HH:MM:SS
	EndTime        string
	TrackingMode   TrackingMode
	DataFields     []string
	GiftingEnabled bool
	TotalWinners   int64
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidProgram, fmt.Sprintf(format, args...))
}

func parseClock(s string) error {
	if _, err := time.Parse("15:04", s); err == nil {
		return nil
	}
	_, err := time.Parse("15:04:05", s)
	return err
}

// Validate 检查并规范化创建参数
func (in *CreateInput) Validate() error {
	in.OrganizerID = strings.TrimSpace(in.OrganizerID)
	if in.OrganizerID == "" {
		return invalid("缺少主办方")
	}
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return invalid("活动标题不能为空")
	}
	if _, err := time.Parse(time.DateOnly, in.Date); err != nil {
		return invalid("日期格式应为 YYYY-MM-DD")
	}
	if err := parseClock(in.StartTime); err != nil {
		return invalid("开始时间格式无效")
	}
	if err := parseClock(in.EndTime); err != nil {
		return invalid("结束时间格式无效")
	}
	if !in.TrackingMode.Valid() {
		return invalid("无效的统计模式 %q", in.TrackingMode)
	}
	if in.TotalWinners < 0 {
		return invalid("奖励名额不能为负数")
	}
	if !in.GiftingEnabled {
		in.TotalWinners = 0
	}
	if in.DataFields == nil {
		in.DataFields = []string{}
	}
	return nil
}

// Service 提供主办方侧的活动管理
type Service struct {
	db          *gorm.DB
	store       Store
	frontendURL string
}

func NewService(db *gorm.DB, frontendURL string) *Service {
	return &Service{db: db, frontendURL: strings.TrimRight(frontendURL, "/")}
}

// ScanURL 是二维码中编码的扫码页面地址
func (s *Service) ScanURL(id string) string {
	return fmt.Sprintf("%s/scan/%s", s.frontendURL, id)
}

// Create 创建一个新的活动，新活动总是处于可用状态
func (s *Service) Create(ctx context.Context, in CreateInput) (*Program, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	p := Program{
		ID:             id,
		OrganizerID:    in.OrganizerID,
		OrganizerName:  in.OrganizerName,
		OrganizerLogo:  in.OrganizerLogo,
		Title:          in.Title,
		Date:           in.Date,
		StartTime:      in.StartTime,
		EndTime:        in.EndTime,
		TrackingMode:   in.TrackingMode,
		DataFields:     datatypes.NewJSONSlice(in.DataFields),
		GiftingEnabled: in.GiftingEnabled,
		TotalWinners:   in.TotalWinners,
		IsActive:       true,
		QRCodeURL:      s.ScanURL(id),
	}
	if err := s.db.WithContext(ctx).Create(&p).Error; err != nil {
		return nil, fmt.Errorf("创建活动失败: %w", err)
	}
	logger.Infof("活动已创建: id=%s, organizer=%s, title=%q, winners=%d", p.ID, p.OrganizerID, p.Title, p.TotalWinners)
	return &p, nil
}

// List 按日期倒序返回某个主办方的活动
func (s *Service) List(ctx context.Context, organizerID string) ([]Program, error) {
	programs := []Program{}
	err := s.db.WithContext(ctx).Where("organizer_id = ?", organizerID).
		Order("date DESC, start_time DESC").Find(&programs).Error
	if err != nil {
		return nil, fmt.Errorf("查询活动列表失败: %w", err)
	}
	return programs, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Program, error) {
	return s.store.GetProgram(s.db.WithContext(ctx), id)
}

// GetOwned 读取属于 organizerID 的活动，其他主办方的活动视为不存在
func (s *Service) GetOwned(ctx context.Context, organizerID, id string) (*Program, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.OrganizerID != organizerID {
		return nil, ErrProgramNotFound
	}
	return p, nil
}

// Stop 停止活动，之后的扫码和表单提交都会被拒绝
func (s *Service) Stop(ctx context.Context, id string) error {
	if err := s.store.Stop(s.db.WithContext(ctx), id); err != nil {
		return err
	}
	logger.Infof("活动已停止: id=%s", id)
	return nil
}

// QRCodePNG 生成扫码地址的PNG图片
func QRCodePNG(content string) ([]byte, error) {
	png, err := qrcode.Encode(content, qrcode.Medium, qrCodeSize)
	if err != nil {
		return nil, fmt.Errorf("生成二维码失败: %w", err)
	}
	return png, nil
}

// QRCodeDataURL 生成可以直接放进 <img src> 的二维码
func QRCodeDataURL(content string) (string, error) {
	png, err := QRCodePNG(content)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
