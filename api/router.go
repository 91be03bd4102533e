package api

import (
	"github.com/gin-gonic/gin"
	"github.com/ingather/ingather-backend/internal/organizer"
	"github.com/ingather/ingather-backend/internal/platform/health"
	"github.com/ingather/ingather-backend/internal/scan"
	"gorm.io/gorm"
)

// Deps 汇总注册路由所需的处理器
type Deps struct {
	DB           *gorm.DB
	RedisEnabled bool
	Scan         *scan.Handler
	Organizer    *organizer.Handler
}

// SetupRoutes 注册项目的所有API路由
func SetupRoutes(router *gin.Engine, deps Deps) {
	router.GET("/", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "Ingather API is running!"})
	})
	router.GET("/health", health.Handler(deps.DB, deps.RedisEnabled))

	api := router.Group("/api")
	{
		deps.Scan.RegisterRoutes(api.Group("/scan"))
		deps.Organizer.RegisterRoutes(api.Group("/programs"))
	}
}
