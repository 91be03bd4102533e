package report

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ingather/ingather-backend/internal/program"
	"github.com/ingather/ingather-backend/internal/scan"
	"gorm.io/gorm"
)

const bucketSize = 30 * time.Minute

// Reporter 提供主办方侧的只读查询
type Reporter struct {
	db       *gorm.DB
	programs program.Store
	loc      *time.Location
}

// NewReporter 创建查询器，loc 决定时间分档所用的时区
func NewReporter(db *gorm.DB, loc *time.Location) *Reporter {
	if loc == nil {
		loc = time.Local
	}
	return &Reporter{db: db, loc: loc}
}

// ProgramDetail 返回活动以及表单提交人数和首次到访人数
func (r *Reporter) ProgramDetail(ctx context.Context, id string) (*ProgramDetail, error) {
	db := r.db.WithContext(ctx)
	p, err := r.programs.GetProgram(db, id)
	if err != nil {
		return nil, err
	}

	detail := ProgramDetail{Program: *p}
	if err := db.Model(&scan.Attendee{}).Where("program_id = ?", id).Count(&detail.AttendeesCount).Error; err != nil {
		return nil, fmt.Errorf("统计表单提交人数失败: %w", err)
	}
	err = db.Model(&scan.Attendee{}).Where("program_id = ? AND first_timer = ?", id, true).Count(&detail.FirstTimersCount).Error
	if err != nil {
		return nil, fmt.Errorf("统计首次到访人数失败: %w", err)
	}
	return &detail, nil
}

// Attendees 按提交时间倒序返回表单
func (r *Reporter) Attendees(ctx context.Context, id string) ([]scan.Attendee, error) {
	db := r.db.WithContext(ctx)
	if _, err := r.programs.GetProgram(db, id); err != nil {
		return nil, err
	}
	attendees := []scan.Attendee{}
	if err := db.Where("program_id = ?", id).Order("submitted_at DESC, id DESC").Find(&attendees).Error; err != nil {
		return nil, fmt.Errorf("查询表单失败: %w", err)
	}
	return attendees, nil
}

// Scans 按扫码时间倒序返回扫码记录
func (r *Reporter) Scans(ctx context.Context, id string) ([]scan.ScanRecord, error) {
	db := r.db.WithContext(ctx)
	if _, err := r.programs.GetProgram(db, id); err != nil {
		return nil, err
	}
	scans := []scan.ScanRecord{}
	if err := db.Where("program_id = ?", id).Order("scanned_at DESC, id DESC").Find(&scans).Error; err != nil {
		return nil, fmt.Errorf("查询扫码记录失败: %w", err)
	}
	return scans, nil
}

// AttendanceOverTime 将扫码按30分钟分档，档位以 HH:MM 表示并按时间升序排列。
// 分档在Go中完成，Postgres和SQLite的日期函数互不兼容。
func (r *Reporter) AttendanceOverTime(ctx context.Context, id string) ([]AttendanceBucket, error) {
	db := r.db.WithContext(ctx)
	if _, err := r.programs.GetProgram(db, id); err != nil {
		return nil, err
	}

	var times []time.Time
	if err := db.Model(&scan.ScanRecord{}).Where("program_id = ?", id).Pluck("scanned_at", &times).Error; err != nil {
		return nil, fmt.Errorf("查询扫码时间失败: %w", err)
	}

	counts := make(map[string]int64)
	for _, t := range times {
		t = t.In(r.loc)
		start := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, r.loc)
		if t.Minute() >= int(bucketSize/time.Minute) {
			start = start.Add(bucketSize)
		}
		counts[start.Format("15:04")]++
	}

	buckets := make([]AttendanceBucket, 0, len(counts))
	for label, n := range counts {
		buckets = append(buckets, AttendanceBucket{Time: label, Scans: n})
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Time < buckets[j].Time })
	return buckets, nil
}

// CountStats 汇总扫码记录中的首次到访和性别信息
func (r *Reporter) CountStats(ctx context.Context, id string) (*CountStats, error) {
	db := r.db.WithContext(ctx)
	p, err := r.programs.GetProgram(db, id)
	if err != nil {
		return nil, err
	}

	stats := CountStats{TotalScans: p.TotalScans, ByGender: map[string]int64{}}
	err = db.Model(&scan.ScanRecord{}).Where("program_id = ? AND first_timer = ?", id, true).Count(&stats.FirstTimers).Error
	if err != nil {
		return nil, fmt.Errorf("统计首次到访失败: %w", err)
	}
	stats.Returning = stats.TotalScans - stats.FirstTimers

	var rows []struct {
		Gender *string
		Total  int64
	}
	err = db.Model(&scan.ScanRecord{}).Select("gender, COUNT(*) AS total").
		Where("program_id = ?", id).Group("gender").Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("按性别统计失败: %w", err)
	}
	for _, row := range rows {
		if row.Gender == nil || *row.Gender == "" {
			stats.Unspecified += row.Total
			continue
		}
		stats.ByGender[*row.Gender] += row.Total
	}
	return &stats, nil
}
