package scan

import (
	"time"

	"github.com/ingather/ingather-backend/internal/platform/database"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InsertOutcome 区分首次写入和重复写入，重复是正常结果而不是错误
type InsertOutcome int

const (
	Inserted InsertOutcome = iota
	AlreadyExists
)

var programDeviceColumns = []clause.Column{{Name: "program_id"}, {Name: "device_fingerprint"}}

// Ledger 维护"每台设备每个活动一次"的约束。
// 检查和插入由唯一索引上的 ON CONFLICT DO NOTHING 一次完成。
type Ledger struct{}

// Admit 尝试为设备创建扫码记录
func (Ledger) Admit(db *gorm.DB, programID, fingerprint string, meta Metadata, at time.Time) (InsertOutcome, error) {
	rec := ScanRecord{
		ProgramID:         programID,
		DeviceFingerprint: fingerprint,
		Gender:            meta.Gender,
		FirstTimer:        meta.firstTimer(),
		ScannedAt:         at,
	}
	return insertOnce(db, &rec)
}

// SaveSubmission 尝试写入表单提交
func (Ledger) SaveSubmission(db *gorm.DB, a *Attendee) (InsertOutcome, error) {
	return insertOnce(db, a)
}

func insertOnce(db *gorm.DB, row any) (InsertOutcome, error) {
	res := db.Clauses(clause.OnConflict{Columns: programDeviceColumns, DoNothing: true}).Create(row)
	if res.Error != nil {
		// 唯一索引是最后一道防线
		if database.IsDuplicateKeyError(res.Error) {
			return AlreadyExists, nil
		}
		return AlreadyExists, res.Error
	}
	if res.RowsAffected == 0 {
		return AlreadyExists, nil
	}
	return Inserted, nil
}

func (Ledger) HasScan(db *gorm.DB, programID, fingerprint string) (bool, error) {
	return exists(db, &ScanRecord{}, programID, fingerprint)
}

func (Ledger) HasSubmission(db *gorm.DB, programID, fingerprint string) (bool, error) {
	return exists(db, &Attendee{}, programID, fingerprint)
}

func exists(db *gorm.DB, model any, programID, fingerprint string) (bool, error) {
	var count int64
	err := db.Model(model).
		Where("program_id = ? AND device_fingerprint = ?", programID, fingerprint).
		Count(&count).Error
	return count > 0, err
}

// UpdateMetadata 补充已有扫码记录的性别和首次到访信息，不会创建新记录。
// 只覆盖调用方提供的字段，重复调用结果相同。
func (l Ledger) UpdateMetadata(db *gorm.DB, programID, fingerprint string, meta Metadata) error {
	updates := map[string]any{}
	if meta.Gender != nil {
		updates["gender"] = *meta.Gender
	}
	if meta.FirstTimer != nil {
		updates["first_timer"] = *meta.FirstTimer
	}

	if len(updates) > 0 {
		res := db.Model(&ScanRecord{}).
			Where("program_id = ? AND device_fingerprint = ?", programID, fingerprint).
			UpdateColumns(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return nil
		}
	}

	found, err := l.HasScan(db, programID, fingerprint)
	if err != nil {
		return err
	}
	if !found {
		return ErrScanNotFound
	}
	return nil
}
