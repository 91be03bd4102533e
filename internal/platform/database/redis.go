package database

import (
	"context"
	"fmt"

	"github.com/google/logger"
	"github.com/ingather/ingather-backend/internal/platform/config"
	"github.com/redis/go-redis/v9"
)

// RDB 是一个全局的Redis客户端实例，未启用Redis时为nil
var RDB *redis.Client

// InitRedis 初始化与Redis数据库的连接
func InitRedis(ctx context.Context, cfg config.RedisConfig) error {
	if !cfg.Enabled {
		logger.Info("Redis 未启用，限流与跨实例推送将被跳过")
		UpdateStatus(false)
		return nil
	}

	RDB = redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := RDB.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("无法连接到Redis: %w", err)
	}
	UpdateStatus(true)
	logger.Info("Redis 连接成功！")
	return nil
}

// CloseRedis 关闭全局Redis客户端
func CloseRedis() {
	if RDB == nil {
		return
	}
	if err := RDB.Close(); err != nil {
		logger.Errorf("关闭Redis失败: %v", err)
	}
}
