package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/zlzcms/fx-agent-sub000/internal/config"
	"github.com/zlzcms/fx-agent-sub000/pkg/ratelimiter"
)

// newRateLimiter 按配置选择限流算法。
func newRateLimiter(cfg config.RateLimiterConfig) (ratelimiter.RateLimiter, error) {
	algorithm := cfg.Algorithm
	if algorithm == "" {
		algorithm = "tokenBucket"
	}
	switch algorithm {
	case "tokenBucket":
		return ratelimiter.NewTokenBucket(cfg.Rate, cfg.Capacity), nil
	case "leakyBucket":
		return ratelimiter.NewLeakyBucket(cfg.Rate, cfg.Capacity), nil
	case "fixedWindow":
		window, err := time.ParseDuration(cfg.Window)
		if err != nil {
			return nil, fmt.Errorf("限流窗口配置非法: %w", err)
		}
		return ratelimiter.NewFixedWindowCounter(cfg.Limit, window), nil
	case "slidingLog":
		window, err := time.ParseDuration(cfg.Window)
		if err != nil {
			return nil, fmt.Errorf("限流窗口配置非法: %w", err)
		}
		return ratelimiter.NewSlidingWindowLog(cfg.Limit, window), nil
	default:
		return nil, fmt.Errorf("未知的限流算法: %s", algorithm)
	}
}

// RateLimit 创建一个 Gin 中间件，超出速率的请求返回 429。
func RateLimit(limiter ratelimiter.RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "请求过于频繁，请稍后重试"})
			c.Abort()
			return
		}
		c.Next()
	}
}
