package scan

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/ingather/ingather-backend/internal/program"
	"gorm.io/gorm"
)

// Drawer 产生一次独立的抽签结果
type Drawer interface {
	Draw() (bool, error)
}

// RandomDrawer 以概率 P 抽中，随机源为 crypto/rand
type RandomDrawer struct {
	P float64
}

func (d RandomDrawer) Draw() (bool, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return false, fmt.Errorf("读取随机数失败: %w", err)
	}
	// 取53位得到 [0, 1) 上均匀分布的浮点数
	u := float64(binary.BigEndian.Uint64(buf[:])>>11) / (1 << 53)
	return u < d.P, nil
}

// SlotAllocator 原子地占用一个奖励名额
type SlotAllocator interface {
	TryAllocateWinnerSlot(db *gorm.DB, programID string) (program.SlotOutcome, error)
}

// Lottery 在表单提交时决定是否中奖。
// 先抽签，抽中后才去占名额，没抽中的提交不会消耗名额，也无需补偿。
type Lottery struct {
	drawer Drawer
	slots  SlotAllocator
}

func NewLottery(drawer Drawer, slots SlotAllocator) *Lottery {
	return &Lottery{drawer: drawer, slots: slots}
}

// Decide 必须在提交所在的事务中调用，名额占用随事务一起提交或回滚。
func (l *Lottery) Decide(db *gorm.DB, p *program.Program) (bool, error) {
	if !p.GiftingEnabled || p.TotalWinners <= 0 {
		return false, nil
	}
	// 快照已满时直接返回，省去一次抽签和一次写
	if p.QuotaReached() {
		return false, nil
	}

	won, err := l.drawer.Draw()
	if err != nil {
		return false, err
	}
	if !won {
		return false, nil
	}

	outcome, err := l.slots.TryAllocateWinnerSlot(db, p.ID)
	if err != nil {
		return false, err
	}
	return outcome == program.SlotGranted, nil
}
