package report

import "github.com/ingather/ingather-backend/internal/program"

// ProgramDetail 是主办方看到的活动详情
type ProgramDetail struct {
	program.Program
	AttendeesCount   int64 `json:"attendeesCount"`
	FirstTimersCount int64 `json:"firstTimersCount"`
}

// AttendanceBucket 是30分钟为一档的扫码数量
type AttendanceBucket struct {
	Time  string `json:"time"`
	Scans int64  `json:"scans"`
}

// CountStats 是仅计数模式下的扫码统计
type CountStats struct {
	TotalScans  int64            `json:"totalScans"`
	FirstTimers int64            `json:"firstTimers"`
	Returning   int64            `json:"returning"`
	ByGender    map[string]int64 `json:"byGender"`
	Unspecified int64            `json:"unspecifiedGender"`
}
