// =============================================================================
// 📦 LLMFlow 默认配置
// =============================================================================
// 所有配置节的出厂默认值。加载器以这里为起点，再叠加 YAML 和环境变量。
// =============================================================================
package config

import (
	"time"

	"github.com/BaSui01/llmflow/provider"
)

// DefaultConfig 返回完整的默认配置
func DefaultConfig() *Config {
	return &Config{
		Endpoints: map[string]provider.EndpointConfig{},
		Server:    DefaultServerConfig(),
		Budget:    DefaultBudgetConfig(),
		Cache:     DefaultCacheConfig(),
		Journal:   DefaultJournalConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回服务器默认配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:    8080,
		MetricsPort: 9091,
		ReadTimeout: 30 * time.Second,
		// 写超时要盖住最慢的透传调用
		WriteTimeout:    120 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
		AuthEnabled:     false,
	}
}

// DefaultBudgetConfig 返回预算默认配置，默认不设上限
func DefaultBudgetConfig() BudgetConfig {
	return BudgetConfig{
		RunCap:     0,
		PerCallCap: 0,
	}
}

// DefaultCacheConfig 返回缓存默认配置，默认关闭
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:      false,
		Addr:         "localhost:6379",
		DB:           0,
		TTL:          5 * time.Minute,
		KeyPrefix:    "llmflow:resp:",
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultJournalConfig 返回流水默认配置，默认关闭、SQLite 落盘
func DefaultJournalConfig() JournalConfig {
	return JournalConfig{
		Enabled:         false,
		Driver:          "sqlite",
		Name:            "llmflow.db",
		SSLMode:         "disable",
		MaxOpenConns:    100,
		MaxIdleConns:    10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
	}
}

// DefaultLogConfig 返回日志默认配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回遥测默认配置，默认关闭
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "llmflow",
		SampleRate:   1.0,
	}
}
