package program

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

var ErrProgramNotFound = errors.New("活动不存在")

// SlotOutcome 是一次名额争抢的结果
type SlotOutcome int

const (
	SlotGranted SlotOutcome = iota
	SlotQuotaExhausted
)

// Store 实现活动注册表和计数器。所有方法都接收 db 参数，
// 调用方可以传入事务句柄，让读写落在同一个事务中。
type Store struct{}

// GetProgram 读取活动的最新已提交状态
func (Store) GetProgram(db *gorm.DB, id string) (*Program, error) {
	var p Program
	if err := db.Where("id = ?", id).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProgramNotFound
		}
		return nil, err
	}
	return &p, nil
}

// IncrementScans 原子地将 total_scans 加一并返回新值
func (Store) IncrementScans(db *gorm.DB, id string) (int64, error) {
	res := db.Model(&Program{}).Where("id = ?", id).
		UpdateColumn("total_scans", gorm.Expr("total_scans + ?", 1))
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, ErrProgramNotFound
	}

	// 同一事务内更新过的行已被锁定，这里读到的就是本次递增后的值
	var total int64
	if err := db.Model(&Program{}).Where("id = ?", id).Select("total_scans").Row().Scan(&total); err != nil {
		return 0, fmt.Errorf("读取扫码总数失败: %w", err)
	}
	return total, nil
}

// TryAllocateWinnerSlot 以一条条件UPDATE完成"检查名额并占用"，
// 不会出现读-改-写之间的竞争。
func (Store) TryAllocateWinnerSlot(db *gorm.DB, id string) (SlotOutcome, error) {
	res := db.Model(&Program{}).
		Where("id = ? AND gifting_enabled = ? AND winners_selected < total_winners", id, true).
		UpdateColumn("winners_selected", gorm.Expr("winners_selected + ?", 1))
	if res.Error != nil {
		return SlotQuotaExhausted, res.Error
	}
	if res.RowsAffected == 1 {
		return SlotGranted, nil
	}
	return SlotQuotaExhausted, nil
}

// Stop 将活动置为不可用。重复停止不是错误。
func (s Store) Stop(db *gorm.DB, id string) error {
	res := db.Model(&Program{}).Where("id = ?", id).UpdateColumn("is_active", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// 部分驱动在值未变化时返回0行
		if _, err := s.GetProgram(db, id); err != nil {
			return err
		}
	}
	return nil
}
