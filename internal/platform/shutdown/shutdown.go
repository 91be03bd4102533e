package shutdown

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/logger"
	"github.com/ingather/ingather-backend/pkg/lifecycle"
)

const (
	httpTimeout     = 15 * time.Second
	gracefulTimeout = 10 * time.Second
	forcefulTimeout = 1 * time.Second
)

// Coordinator 负责编排应用程序的停机流程。
// GracefulManager 上是处理业务消息的服务，例如Redis推送转发；
// ForcefulManager 上是基础设施监控，例如Redis健康检查，它们在第一阶段期间继续运行，
// 同时也作为第一阶段超时后的强制停机信号。
type Coordinator struct {
	GracefulManager *lifecycle.Manager
	ForcefulManager *lifecycle.Manager
	// Finalizers 在所有后台服务退出后按顺序执行，例如关闭推送和数据库
	Finalizers []func()
}

func NewCoordinator(gracefulMgr, forcefulMgr *lifecycle.Manager, finalizers ...func()) *Coordinator {
	return &Coordinator{
		GracefulManager: gracefulMgr,
		ForcefulManager: forcefulMgr,
		Finalizers:      finalizers,
	}
}

// ListenForSignalsAndShutdown 阻塞直到收到 SIGINT/SIGTERM，然后执行停机
func (c *Coordinator) ListenForSignalsAndShutdown(server *http.Server) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info("收到关闭信号，开始优雅停机...")
	c.Shutdown(server)
}

// Shutdown 先关闭HTTP服务器让进行中的请求完成，再分两个阶段停止后台服务
func (c *Coordinator) Shutdown(server *http.Server) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("HTTP服务器关闭错误: %v", err)
	} else {
		logger.Info("HTTP服务器已关闭。")
	}

	c.GracefulManager.Shutdown()
	if remaining := c.GracefulManager.WaitWithTimeout(gracefulTimeout); len(remaining) > 0 {
		logger.Warningf("第一阶段超时，仍在运行的服务: %v，发送强制停机信号", remaining)
	}

	c.ForcefulManager.Shutdown()
	if remaining := c.ForcefulManager.WaitWithTimeout(forcefulTimeout); len(remaining) > 0 {
		logger.Warningf("第二阶段超时，放弃等待: %v", remaining)
	}

	for _, fn := range c.Finalizers {
		fn()
	}
	logger.Info("优雅停机完成。")
}
