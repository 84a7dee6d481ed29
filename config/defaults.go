// =============================================================================
// 📦 群聊引擎默认配置
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Engine:    DefaultEngineConfig(),
		Gateway:   DefaultGatewayConfig(),
		Models:    map[string]ModelConfig{},
		Database:  DefaultDatabaseConfig(),
		Redis:     DefaultRedisConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
		Metrics:   DefaultMetricsConfig(),
	}
}

// DefaultEngineConfig 返回默认引擎配置
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		WindowSize:             20,
		TriggerThreshold:       0.5,
		MentionScore:           1.0,
		BareNameScore:          0.8,
		TopicWeight:            0.75,
		ContinuityWeight:       0.4,
		RoleWeight:             0.3,
		OrganicBaseProbability: 0.15,
		ResponseTimeout:        60 * time.Second,
		MaxConcurrentResponses: 4,
		MaxReplyRunes:          200,
		MaxTokens:              300,
		Temperature:            0.8,
		CorrectionTemperature:  0.6,
		DriftThreshold:         0.5,
		MinHistory:             3,
		HistorySize:            10,
		HistoryBackend:         "memory",
	}
}

// DefaultGatewayConfig 返回默认网关配置
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		AttemptTimeout:      30 * time.Second,
		RetryTimeout:        15 * time.Second,
		RetryDelay:          500 * time.Millisecond,
		BreakerThreshold:    5,
		BreakerResetTimeout: 60 * time.Second,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Host:            "localhost",
		Port:            5432,
		User:            "groupchat",
		Name:            "groupchat.db",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:      "localhost:6379",
		PoolSize:  10,
		MemberTTL: 10 * time.Minute,
		KeyPrefix: "groupchat:",
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "groupchat",
		SampleRate:   0.1,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "groupchat",
	}
}
