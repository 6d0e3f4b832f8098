package handler

import (
	"net/http"

	"photorevive/internal/config"
	"photorevive/internal/metrics"

	"github.com/gin-gonic/gin"
)

const defaultMaxBodyBytes = 25 << 20

// SetupRouter 配置路由
func SetupRouter(h *Handler, cfg *config.Config) *gin.Engine {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}

	r := gin.New()

	// 注册中间件
	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(metrics.Middleware())
	r.Use(CORSMiddleware(cfg.Server.AllowedOrigins))
	maxBody := cfg.Server.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	r.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBody)
		c.Next()
	})

	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "PhotoRevive AI Backend is running!")
	})
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api")
	{
		// 账户相关
		api.POST("/login", h.Login)
		api.POST("/spend", h.Spend)
		api.POST("/add-credits", h.AddCredits)
		api.GET("/account", h.GetAccount)
		api.GET("/transactions", h.ListTransactions)

		// 图片修复
		api.POST("/restore", RateLimitMiddleware(cfg.Server.RestoreLimit), h.Restore)
	}

	return r
}
