package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pixbridge/pkg/logger"
)

// SetupRoutes 配置所有路由，使用 Route Group 分类
func SetupRoutes(h *Handler, gatherer prometheus.Gatherer, log logger.Logger) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(RequestLogger(log))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "pixbridge",
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := r.Group("/api/v1")
	{
		orders := v1.Group("/orders")
		{
			orders.POST("", h.CreateOrder)
			orders.GET("/:id", h.GetOrder)
			orders.POST("/:id/events", h.PostEvent)
		}

		tasks := v1.Group("/tasks")
		{
			tasks.GET("/:id", h.GetTask)
			tasks.DELETE("/:id", h.CancelTask)
		}

		v1.POST("/webhooks/pix", h.PixWebhook)
	}

	return r
}

// RequestLogger 请求日志，注入 TraceID（优先使用 X-Request-ID）
func RequestLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader("X-Request-ID")
		if traceID == "" {
			traceID = uuid.New().String()
		}
		ctx := logger.WithTraceID(c.Request.Context(), traceID)
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Request-ID", traceID)

		start := time.Now()
		c.Next()

		log.Infof(ctx, "[Server] %s %s -> %d in %v", c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start))
	}
}
