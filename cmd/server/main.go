package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/logger"
	"github.com/ingather/ingather-backend/api"
	"github.com/ingather/ingather-backend/internal/organizer"
	"github.com/ingather/ingather-backend/internal/platform/config"
	"github.com/ingather/ingather-backend/internal/platform/database"
	"github.com/ingather/ingather-backend/internal/platform/health"
	"github.com/ingather/ingather-backend/internal/platform/metadata"
	"github.com/ingather/ingather-backend/internal/platform/shutdown"
	"github.com/ingather/ingather-backend/internal/platform/startup"
	"github.com/ingather/ingather-backend/internal/program"
	"github.com/ingather/ingather-backend/internal/realtime"
	"github.com/ingather/ingather-backend/internal/report"
	"github.com/ingather/ingather-backend/internal/scan"
	"github.com/ingather/ingather-backend/pkg/lifecycle"
	"github.com/ingather/ingather-backend/pkg/token"
)

func main() {
	defer logger.Init("ingather", true, false, io.Discard).Close()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("加载配置失败: %v", err)
	}
	debug := cfg.Server.Mode == gin.DebugMode
	gin.SetMode(cfg.Server.Mode)

	if err := database.InitDB(cfg.Database, debug); err != nil {
		logger.Fatalf("%v", err)
	}
	if err := startup.MigrateSchema(database.DB); err != nil {
		logger.Fatalf("应用初始化失败，无法启动: %v", err)
	}

	startCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := database.InitRedis(startCtx, cfg.Database.Redis); err != nil {
		logger.Fatalf("%v", err)
	}

	gracefulMgr := lifecycle.NewManager("graceful")
	forcefulMgr := lifecycle.NewManager("forceful")

	if cfg.Database.Redis.Enabled {
		// 健康检查在第一阶段停机期间继续运行，限流和推送仍依赖它
		handle, err := forcefulMgr.NewServiceHandle("redis-health")
		if err != nil {
			logger.Fatalf("%v", err)
		}
		health.StartRedisHealthCheck(handle, database.RDB)
	}

	// 实时推送
	hub := realtime.NewHub(cfg.Realtime.SubscriberBuffer)
	var publisher realtime.Publisher = hub
	var subscriber realtime.Subscriber = hub
	if cfg.Realtime.Backend == config.RealtimeRedis {
		notifier := realtime.NewRedisNotifier(database.RDB, hub)
		if err := notifier.Start(startCtx, gracefulMgr); err != nil {
			logger.Fatalf("启动Redis实时推送失败: %v", err)
		}
		publisher, subscriber = notifier, notifier
	}

	adminSecret := cfg.Security.AdminKeySecret
	if adminSecret == "" {
		adminSecret, err = metadata.EnsureValue(database.DB, metadata.AdminKeySecretKey, token.NewSecret)
		if err != nil {
			logger.Fatalf("加载管理密钥失败: %v", err)
		}
		logger.Info("未配置 security.adminKeySecret，使用数据库中保存的签名密钥")
	}
	signer, err := token.NewSigner(adminSecret)
	if err != nil {
		logger.Fatalf("%v", err)
	}
	directory := organizer.NewDirectory(cfg.Security.Organizers)
	if directory.Open() {
		logger.Warning("未配置 security.organizers，任何人都可以以默认主办方身份创建活动")
	}

	programStore := program.Store{}
	programService := program.NewService(database.DB, cfg.Server.FrontendURL)
	lottery := scan.NewLottery(scan.RandomDrawer{P: cfg.Lottery.WinProbability}, programStore)
	coordinator := scan.NewCoordinator(database.DB, programStore, scan.Ledger{}, lottery, publisher)
	limiter := scan.NewRateLimiter(database.RDB, cfg.Scan.RateLimit, database.IsRedisHealthy)

	r := gin.Default()
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.Cors.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", organizer.AdminKeyHeader, organizer.OrganizerKeyHeader},
		ExposeHeaders:    []string{"Content-Length", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	api.SetupRoutes(r, api.Deps{
		DB:           database.DB,
		RedisEnabled: cfg.Database.Redis.Enabled,
		Scan:         scan.NewHandler(coordinator, programService, subscriber, limiter),
		Organizer:    organizer.NewHandler(programService, report.NewReporter(database.DB, time.Local), signer, directory),
	})

	server := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: r,
	}
	// SSE连接不会自行结束，关闭Hub让它们在停机时退出
	server.RegisterOnShutdown(hub.Close)
	go func() {
		logger.Infof("服务器已准备就绪，开始监听 %s", cfg.Server.Address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("服务器启动失败: %v", err)
			os.Exit(1)
		}
	}()

	coordinatorShutdown := shutdown.NewCoordinator(gracefulMgr, forcefulMgr,
		database.CloseRedis,
		database.CloseDB,
	)
	coordinatorShutdown.ListenForSignalsAndShutdown(server)
}
