package health

import (
	"context"
	"time"

	"github.com/google/logger"
	"github.com/ingather/ingather-backend/internal/platform/database"
	"github.com/ingather/ingather-backend/pkg/lifecycle"
	"github.com/redis/go-redis/v9"
)

const (
	checkInterval = 5 * time.Second
	pingTimeout   = 2 * time.Second
)

// PerformCheck 对Redis执行一次Ping并更新全局状态
func PerformCheck(ctx context.Context, rdb *redis.Client) {
	if rdb == nil {
		database.UpdateStatus(false)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	database.UpdateStatus(rdb.Ping(ctx).Err() == nil)
}

// StartRedisHealthCheck 在后台定期检查Redis，直到handle发出停机信号
func StartRedisHealthCheck(handle *lifecycle.Handle, rdb *redis.Client) {
	go func() {
		defer handle.Close()
		logger.Info("Redis 健康检查器已启动。")
		for {
			if err := handle.Sleep(checkInterval); err != nil {
				logger.Info("Redis 健康检查器已停止。")
				return
			}
			PerformCheck(handle.Ctx(), rdb)
		}
	}()
}
