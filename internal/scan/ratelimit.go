package scan

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/logger"
	"github.com/ingather/ingather-backend/internal/platform/config"
	"github.com/redis/go-redis/v9"
)

const rateLimitKeyPrefix = "scan_rate:"

// RateLimiter 用Redis有序集合实现按IP的滑动窗口限流。
// Redis未启用或不健康时放行所有请求，限流只是尽力而为。
type RateLimiter struct {
	rdb     *redis.Client
	limit   int64
	window  time.Duration
	healthy func() bool
}

// NewRateLimiter 在限流关闭或没有Redis时返回nil，nil 的 RateLimiter 放行一切
func NewRateLimiter(rdb *redis.Client, cfg config.RateLimitConfig, healthy func() bool) *RateLimiter {
	if !cfg.Enabled || rdb == nil {
		return nil
	}
	return &RateLimiter{rdb: rdb, limit: cfg.MaxPerWindow, window: cfg.Window, healthy: healthy}
}

// generateMemberID 生成 [8字节纳秒时间戳 | 8字节随机数] 的Base64编码，保证同一时刻的请求互不覆盖
func generateMemberID(t time.Time) (string, error) {
	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b[0:8], uint64(t.UnixNano()))
	if _, err := rand.Read(b[8:16]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Allow 记录一次请求并返回窗口内的请求数是否仍在限额内
func (l *RateLimiter) Allow(ctx context.Context, key string, now time.Time) (bool, int64, error) {
	if l == nil || (l.healthy != nil && !l.healthy()) {
		return true, 0, nil
	}

	redisKey := rateLimitKeyPrefix + key
	minScore := float64(now.Add(-l.window).UnixMicro())
	member, err := generateMemberID(now)
	if err != nil {
		return true, 0, fmt.Errorf("生成 memberID 失败: %w", err)
	}

	pipe := l.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "-inf", fmt.Sprintf("(%f", minScore))
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixMicro()), Member: member})
	pipe.Expire(ctx, redisKey, l.window+time.Minute)
	countCmd := pipe.ZCard(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, 0, fmt.Errorf("执行限流事务失败: %w", err)
	}

	count := countCmd.Val()
	return count <= l.limit, count, nil
}

// Middleware 对超过限额的客户端返回429，Redis出错时放行
func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, _, err := l.Allow(c.Request.Context(), c.ClientIP(), time.Now())
		if err != nil {
			logger.Warningf("扫码限流检查失败，放行请求: %v", err)
		}
		if !allowed {
			c.Header("Retry-After", fmt.Sprintf("%d", int(l.window.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "请求过于频繁，请稍后再试"})
			return
		}
		c.Next()
	}
}
