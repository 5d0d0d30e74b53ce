package api

import (
	"github.com/gin-gonic/gin"

	"github.com/zlzcms/fx-agent-sub000/internal/config"
)

// RouterOptions 是路由装配参数。
type RouterOptions struct {
	JWTSecret string
	// StaticPrefix/StaticDir 非空时挂载产物文件的静态路由。
	StaticPrefix string
	StaticDir    string
	// RateLimit 启用时对业务路由做入口限流。
	RateLimit config.RateLimiterConfig
}

// NewRouter 组装编排服务的路由。
func NewRouter(h *Handler, opts RouterOptions) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", h.Health)
	if opts.StaticPrefix != "" && opts.StaticDir != "" {
		r.Static(opts.StaticPrefix, opts.StaticDir)
	}

	v1 := r.Group("/api/v1")
	if opts.RateLimit.Enabled {
		if limiter, err := newRateLimiter(opts.RateLimit); err == nil {
			v1.Use(RateLimit(limiter))
		}
	}
	v1.Use(AuthMiddleware(opts.JWTSecret))
	{
		v1.POST("/agent/stream", h.Stream)
		v1.POST("/agent/cancel", h.Cancel)
	}
	return r
}
