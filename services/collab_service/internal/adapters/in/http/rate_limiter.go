package http

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// TokenBucket 令牌桶
type TokenBucket struct {
	capacity   float64 // 桶容量
	tokens     float64 // 当前令牌数
	rate       float64 // 每秒产生令牌数
	lastRefill time.Time
	mu         sync.Mutex
}

// NewTokenBucket 创建令牌桶
func NewTokenBucket(capacity, rate int64) *TokenBucket {
	return &TokenBucket{
		capacity:   float64(capacity),
		tokens:     float64(capacity),
		rate:       float64(rate),
		lastRefill: time.Now(),
	}
}

// Allow 尝试获取一个令牌
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	tb.tokens += now.Sub(tb.lastRefill).Seconds() * tb.rate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now

	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}

func (tb *TokenBucket) idleSince(t time.Time) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.lastRefill.Before(t)
}

// RateLimiterConfig 限流器配置
type RateLimiterConfig struct {
	GlobalQPS    int64 `mapstructure:"global_qps"`
	IPQPSLimit   int64 `mapstructure:"ip_qps"`
	UserQPSLimit int64 `mapstructure:"user_qps"`
	BurstSize    int64 `mapstructure:"burst"`
}

// DefaultRateLimiterConfig 默认配置，信令走 WebSocket，REST 请求量不大
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GlobalQPS:    1000,
		IPQPSLimit:   50,
		UserQPSLimit: 20,
		BurstSize:    10,
	}
}

// RateLimiter 全局 / IP / 用户三级限流
type RateLimiter struct {
	config       RateLimiterConfig
	globalBucket *TokenBucket
	ipBuckets    sync.Map // IP -> *TokenBucket
	userBuckets  sync.Map // userType:userID -> *TokenBucket
}

// NewRateLimiter 创建限流器
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	return &RateLimiter{
		config:       config,
		globalBucket: NewTokenBucket(config.GlobalQPS+config.BurstSize, config.GlobalQPS),
	}
}

func (rl *RateLimiter) bucket(buckets *sync.Map, key string, qps int64) *TokenBucket {
	if b, ok := buckets.Load(key); ok {
		return b.(*TokenBucket)
	}
	b, _ := buckets.LoadOrStore(key, NewTokenBucket(qps+rl.config.BurstSize, qps))
	return b.(*TokenBucket)
}

// Allow 检查是否允许请求，userKey 为空表示未登录
func (rl *RateLimiter) Allow(ip, userKey string) bool {
	if !rl.globalBucket.Allow() {
		return false
	}
	if !rl.bucket(&rl.ipBuckets, ip, rl.config.IPQPSLimit).Allow() {
		return false
	}
	if userKey != "" && !rl.bucket(&rl.userBuckets, userKey, rl.config.UserQPSLimit).Allow() {
		return false
	}
	return true
}

// Middleware Gin 中间件，需要挂在认证之后才能按用户限流
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userKey := ""
		if user, ok := CurrentUser(c); ok {
			userKey = user.Type + ":" + strconv.FormatUint(user.ID, 10)
		}

		if !rl.Allow(c.ClientIP(), userKey) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":    http.StatusTooManyRequests,
				"message": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

// Cleanup 清理长时间未使用的桶（定期调用）
func (rl *RateLimiter) Cleanup(idle time.Duration) {
	cutoff := time.Now().Add(-idle)
	for _, buckets := range []*sync.Map{&rl.ipBuckets, &rl.userBuckets} {
		buckets.Range(func(key, value interface{}) bool {
			if value.(*TokenBucket).idleSince(cutoff) {
				buckets.Delete(key)
			}
			return true
		})
	}
}
