package scan

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/logger"
	"github.com/ingather/ingather-backend/internal/platform/database"
	"github.com/ingather/ingather-backend/internal/program"
	"github.com/ingather/ingather-backend/internal/realtime"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const publishTimeout = 2 * time.Second

// ProgramStore 是协调器对活动注册表和计数器的依赖
type ProgramStore interface {
	GetProgram(db *gorm.DB, id string) (*program.Program, error)
	IncrementScans(db *gorm.DB, id string) (int64, error)
}

// ScanLedger 是协调器对扫码台账的依赖
type ScanLedger interface {
	Admit(db *gorm.DB, programID, fingerprint string, meta Metadata, at time.Time) (InsertOutcome, error)
	HasScan(db *gorm.DB, programID, fingerprint string) (bool, error)
	HasSubmission(db *gorm.DB, programID, fingerprint string) (bool, error)
	SaveSubmission(db *gorm.DB, a *Attendee) (InsertOutcome, error)
	UpdateMetadata(db *gorm.DB, programID, fingerprint string, meta Metadata) error
}

type WinnerDecider interface {
	Decide(db *gorm.DB, p *program.Program) (bool, error)
}

// ScanResult 是一次成功扫码的结果
type ScanResult struct {
	ProgramID    string
	TrackingMode program.TrackingMode
	TotalScans   int64
	FirstTimer   bool
}

// SubmissionResult 是一次成功提交表单的结果
type SubmissionResult struct {
	IsWinner       bool
	GiftingEnabled bool
}

// Coordinator 把一次扫码或表单提交作为一个事务执行，
// 提交成功后再尽力推送计数变化。它不会自动重试。
type Coordinator struct {
	db        *gorm.DB
	programs  ProgramStore
	ledger    ScanLedger
	lottery   WinnerDecider
	publisher realtime.Publisher
	now       func() time.Time
}

func NewCoordinator(db *gorm.DB, programs ProgramStore, ledger ScanLedger, lottery WinnerDecider, publisher realtime.Publisher) *Coordinator {
	return &Coordinator{
		db:        db,
		programs:  programs,
		ledger:    ledger,
		lottery:   lottery,
		publisher: publisher,
		now:       time.Now,
	}
}

func validateKey(programID, fingerprint string) error {
	if strings.TrimSpace(programID) == "" || strings.TrimSpace(fingerprint) == "" {
		return ErrInvalidInput
	}
	return nil
}

// loadActive 在事务内读取活动并确认其可用
func (c *Coordinator) loadActive(tx *gorm.DB, programID string) (*program.Program, error) {
	p, err := c.programs.GetProgram(tx, programID)
	if err != nil {
		return nil, err
	}
	if !p.IsActive {
		return nil, ErrProgramInactive
	}
	return p, nil
}

// RecordScan 记录一台设备的首次扫码并将活动总数加一
func (c *Coordinator) RecordScan(ctx context.Context, programID, fingerprint string, meta Metadata) (*ScanResult, error) {
	if err := validateKey(programID, fingerprint); err != nil {
		return nil, err
	}

	var result ScanResult
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := c.loadActive(tx, programID)
		if err != nil {
			return err
		}

		outcome, err := c.ledger.Admit(tx, programID, fingerprint, meta, c.now())
		if err != nil {
			return err
		}
		if outcome == AlreadyExists {
			return ErrDuplicateScan
		}

		total, err := c.programs.IncrementScans(tx, programID)
		if err != nil {
			return err
		}

		result = ScanResult{
			ProgramID:    programID,
			TrackingMode: p.TrackingMode,
			TotalScans:   total,
			FirstTimer:   meta.firstTimer(),
		}
		return nil
	})
	if err != nil {
		return nil, classify("记录扫码", err, ErrDuplicateScan)
	}

	c.publish(ctx, realtime.Event{ProgramID: programID, TotalScans: result.TotalScans, Timestamp: c.now()})
	return &result, nil
}

// RecordSubmission 保存已扫码设备的表单，并在同一事务中决定是否中奖
func (c *Coordinator) RecordSubmission(ctx context.Context, programID, fingerprint string, fields map[string]any) (*SubmissionResult, error) {
	if err := validateKey(programID, fingerprint); err != nil {
		return nil, err
	}

	var result SubmissionResult
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := c.loadActive(tx, programID)
		if err != nil {
			return err
		}

		scanned, err := c.ledger.HasScan(tx, programID, fingerprint)
		if err != nil {
			return err
		}
		if !scanned {
			return ErrScanRequired
		}

		// 重复提交不能参与抽签，否则会白白占用名额
		submitted, err := c.ledger.HasSubmission(tx, programID, fingerprint)
		if err != nil {
			return err
		}
		if submitted {
			return ErrDuplicateSubmission
		}

		isWinner, err := c.lottery.Decide(tx, p)
		if err != nil {
			return err
		}

		attendee := Attendee{
			ProgramID:         programID,
			DeviceFingerprint: fingerprint,
			Fields:            datatypes.JSONMap(fields),
			FirstTimer:        truthy(fields["firstTimer"]),
			IsWinner:          isWinner,
			SubmittedAt:       c.now(),
		}
		outcome, err := c.ledger.SaveSubmission(tx, &attendee)
		if err != nil {
			return err
		}
		if outcome == AlreadyExists {
			// 并发的重复提交，回滚以释放可能已占用的名额
			return ErrDuplicateSubmission
		}

		result = SubmissionResult{IsWinner: isWinner, GiftingEnabled: p.GiftingEnabled}
		return nil
	})
	if err != nil {
		return nil, classify("提交表单", err, ErrDuplicateSubmission)
	}
	if result.IsWinner {
		logger.Infof("活动 %s 产生一名中奖者", programID)
	}
	return &result, nil
}

// UpdateScanMetadata 补充已有扫码记录的信息，不影响计数
func (c *Coordinator) UpdateScanMetadata(ctx context.Context, programID, fingerprint string, meta Metadata) error {
	if err := validateKey(programID, fingerprint); err != nil {
		return err
	}
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return c.ledger.UpdateMetadata(tx, programID, fingerprint, meta)
	})
	if err != nil {
		return classify("更新扫码信息", err, nil)
	}
	return nil
}

// classify 保留业务错误和客户端取消，把唯一约束冲突映射为 duplicate，其余包装成 StorageError
func classify(op string, err error, duplicate error) error {
	if isBusinessError(err) || errors.Is(err, context.Canceled) {
		return err
	}
	if duplicate != nil && database.IsDuplicateKeyError(err) {
		return duplicate
	}
	return &StorageError{Op: op, Err: err, Transient: database.IsRetryableError(err)}
}

// publish 在事务提交后执行，失败只记录日志。
// 使用独立的超时，客户端断开也不会打断推送。
func (c *Coordinator) publish(ctx context.Context, ev realtime.Event) {
	if c.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := c.publisher.Publish(ctx, ev); err != nil && !errors.Is(err, realtime.ErrHubClosed) {
		logger.Warningf("推送活动 %s 的计数失败: %v", ev.ProgramID, err)
	}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t == "true" || t == "yes" || t == "1"
	case float64:
		return t != 0
	}
	return false
}
