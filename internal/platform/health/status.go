package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ingather/ingather-backend/internal/platform/database"
	"gorm.io/gorm"
)

// Report 是 /health 的响应体
type Report struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Redis    string `json:"redis"`
}

// Assess 汇总数据库和Redis的状态。数据库不可达视为整体不可用，Redis只会导致降级。
func Assess(ctx context.Context, db *gorm.DB, redisEnabled bool) Report {
	r := Report{Status: "ok", Database: "up", Redis: "disabled"}

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil || sqlDB.PingContext(ctx) != nil {
		r.Status = "down"
		r.Database = "down"
	}

	if redisEnabled {
		if database.IsRedisHealthy() {
			r.Redis = "up"
		} else {
			r.Redis = "down"
			if r.Status == "ok" {
				r.Status = "degraded"
			}
		}
	}
	return r
}

// Handler 返回 GET /health 的处理函数
func Handler(db *gorm.DB, redisEnabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		report := Assess(c.Request.Context(), db, redisEnabled)
		code := http.StatusOK
		if report.Status == "down" {
			code = http.StatusServiceUnavailable
		}
		c.Header("Cache-Control", "no-store")
		c.JSON(code, gin.H{"health": report, "time": time.Now().UTC()})
	}
}
