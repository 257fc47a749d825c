// Package cache provides the redis-backed response cache.
// This package is internal and should not be imported by external projects.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/llmflow/provider"
)

// =============================================================================
// 💾 响应缓存
// =============================================================================

// Config 缓存配置
type Config struct {
	// Redis 地址
	Addr string `yaml:"addr" json:"addr"`

	// 密码
	Password string `yaml:"password" json:"password"`

	// 数据库编号
	DB int `yaml:"db" json:"db"`

	// 响应存活时间
	TTL time.Duration `yaml:"ttl" json:"ttl"`

	// 键前缀, 多套部署共用一个 Redis 时隔离命名空间
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`

	// 最大重试次数
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	// 连接池大小
	PoolSize int `yaml:"pool_size" json:"pool_size"`

	// 最小空闲连接数
	MinIdleConns int `yaml:"min_idle_conns" json:"min_idle_conns"`

	// 健康检查间隔
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`
}

// DefaultConfig 返回默认缓存配置
func DefaultConfig() Config {
	return Config{
		Addr:                "localhost:6379",
		Password:            "",
		DB:                  0,
		TTL:                 5 * time.Minute,
		KeyPrefix:           "llmflow:resp:",
		MaxRetries:          3,
		PoolSize:            10,
		MinIdleConns:        2,
		HealthCheckInterval: 30 * time.Second,
	}
}

// ResponseCache 把完整的 Provider 响应按调用键缓存进 Redis。
// 实现封套的 Cache 接口: 未命中、连接故障、负载损坏一律按
// 未命中降级, 缓存的任何问题都不影响调用本身。
type ResponseCache struct {
	redis  *redis.Client
	config Config
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
}

// New 创建响应缓存并验证连接。
func New(config Config, logger *zap.Logger) (*ResponseCache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	defaults := DefaultConfig()
	if config.TTL <= 0 {
		config.TTL = defaults.TTL
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = defaults.KeyPrefix
	}
	if config.PoolSize <= 0 {
		config.PoolSize = defaults.PoolSize
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		MaxRetries:   config.MaxRetries,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	c := &ResponseCache{
		redis:  client,
		config: config,
		logger: logger.With(zap.String("component", "cache")),
	}

	// 启动健康检查
	if config.HealthCheckInterval > 0 {
		go c.healthCheckLoop()
	}

	c.logger.Info("response cache initialized",
		zap.String("addr", config.Addr),
		zap.Duration("ttl", config.TTL),
		zap.Int("pool_size", config.PoolSize),
	)

	return c, nil
}

// =============================================================================
// 🎯 核心方法
// =============================================================================

// Get 按键取回缓存的响应。未命中、读取失败或负载损坏都返回
// (nil, false)。
func (c *ResponseCache) Get(ctx context.Context, key string) (*provider.Response, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, false
	}

	full := c.config.KeyPrefix + key
	val, err := c.redis.Get(ctx, full).Result()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}

	var resp provider.Response
	if err := json.Unmarshal([]byte(val), &resp); err != nil {
		// 损坏的负载当未命中处理, 顺手清掉。
		c.logger.Warn("cache payload corrupted", zap.String("key", key), zap.Error(err))
		c.redis.Del(ctx, full)
		return nil, false
	}

	return &resp, true
}

// Set 缓存一次成功调用的响应, 按配置的 TTL 过期。写入失败
// 只记日志。
func (c *ResponseCache) Set(ctx context.Context, key string, resp *provider.Response) {
	if resp == nil {
		return
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return
	}

	data, err := json.Marshal(resp)
	if err != nil {
		c.logger.Warn("cache marshal failed", zap.String("key", key), zap.Error(err))
		return
	}

	if err := c.redis.Set(ctx, c.config.KeyPrefix+key, data, c.config.TTL).Err(); err != nil {
		c.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}

// Delete 删除指定键的缓存响应。
func (c *ResponseCache) Delete(ctx context.Context, keys ...string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return fmt.Errorf("response cache is closed")
	}

	if len(keys) == 0 {
		return nil
	}

	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = c.config.KeyPrefix + k
	}

	err := c.redis.Del(ctx, prefixed...).Err()
	if err != nil {
		c.logger.Error("cache delete failed", zap.Strings("keys", keys), zap.Error(err))
		return fmt.Errorf("cache delete failed: %w", err)
	}

	return nil
}

// Ping 检查 Redis 连接
func (c *ResponseCache) Ping(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return fmt.Errorf("response cache is closed")
	}

	return c.redis.Ping(ctx).Err()
}

// Close 关闭响应缓存
func (c *ResponseCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	c.logger.Info("closing response cache")

	return c.redis.Close()
}

// =============================================================================
// 🏥 健康检查
// =============================================================================

// healthCheckLoop 健康检查循环
func (c *ResponseCache) healthCheckLoop() {
	ticker := time.NewTicker(c.config.HealthCheckInterval)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.RLock()
		if c.closed {
			c.mu.RUnlock()
			return
		}
		c.mu.RUnlock()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.Ping(ctx); err != nil {
			c.logger.Error("cache health check failed", zap.Error(err))
		} else {
			c.logger.Debug("cache health check passed")
		}
		cancel()
	}
}
