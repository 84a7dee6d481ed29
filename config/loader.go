// =============================================================================
// 📦 群聊引擎配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("groupchat.yaml").
//	    WithEnvPrefix("GROUPCHAT").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// 模型表（models）只能通过 YAML 配置。
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 完整配置
type Config struct {
	// Engine 触发判定与回复流水线
	Engine EngineConfig `yaml:"engine" env:"ENGINE"`

	// Gateway 生成网关策略
	Gateway GatewayConfig `yaml:"gateway" env:"GATEWAY"`

	// Models 模型引用 → 上游模型
	Models map[string]ModelConfig `yaml:"models" env:"-"`

	// Database 数据库配置
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Redis 缓存配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// Metrics 指标配置
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`
}

// EngineConfig 回复引擎配置
type EngineConfig struct {
	// 上下文窗口（最近 N 条消息）
	WindowSize int `yaml:"window_size" env:"WINDOW_SIZE"`
	// 触发阈值
	TriggerThreshold float64 `yaml:"trigger_threshold" env:"TRIGGER_THRESHOLD"`
	// 直接点名（@昵称）信号值
	MentionScore float64 `yaml:"mention_score" env:"MENTION_SCORE"`
	// 裸昵称信号值
	BareNameScore float64 `yaml:"bare_name_score" env:"BARE_NAME_SCORE"`
	// 话题相关权重
	TopicWeight float64 `yaml:"topic_weight" env:"TOPIC_WEIGHT"`
	// 回复连续性权重
	ContinuityWeight float64 `yaml:"continuity_weight" env:"CONTINUITY_WEIGHT"`
	// 角色相关权重（消息关键词命中成员性格中的角色特征）
	RoleWeight float64 `yaml:"role_weight" env:"ROLE_WEIGHT"`
	// 自发参与基础概率（乘以成员 chattiness）
	OrganicBaseProbability float64 `yaml:"organic_base_probability" env:"ORGANIC_BASE_PROBABILITY"`
	// 单条回复流水线超时
	ResponseTimeout time.Duration `yaml:"response_timeout" env:"RESPONSE_TIMEOUT"`
	// 同一消息并发回复的 AI 数上限
	MaxConcurrentResponses int `yaml:"max_concurrent_responses" env:"MAX_CONCURRENT_RESPONSES"`
	// 回复最大字符数
	MaxReplyRunes int `yaml:"max_reply_runes" env:"MAX_REPLY_RUNES"`
	// 生成最大 token 数
	MaxTokens int `yaml:"max_tokens" env:"MAX_TOKENS"`
	// 首次生成温度
	Temperature float64 `yaml:"temperature" env:"TEMPERATURE"`
	// 纠偏重生成温度
	CorrectionTemperature float64 `yaml:"correction_temperature" env:"CORRECTION_TEMPERATURE"`
	// 偏离阈值
	DriftThreshold float64 `yaml:"drift_threshold" env:"DRIFT_THRESHOLD"`
	// 历史少于该条数时跳过偏离检查
	MinHistory int `yaml:"min_history" env:"MIN_HISTORY"`
	// 每个成员保留的历史回复条数
	HistorySize int `yaml:"history_size" env:"HISTORY_SIZE"`
	// 历史存储: memory, redis
	HistoryBackend string `yaml:"history_backend" env:"HISTORY_BACKEND"`
	// 严格模式：纠偏后仍偏离则返回错误
	StrictConsistency bool `yaml:"strict_consistency" env:"STRICT_CONSISTENCY"`
}

// GatewayConfig 生成网关配置
type GatewayConfig struct {
	// 首次调用超时
	AttemptTimeout time.Duration `yaml:"attempt_timeout" env:"ATTEMPT_TIMEOUT"`
	// 重试调用超时（不超过首次）
	RetryTimeout time.Duration `yaml:"retry_timeout" env:"RETRY_TIMEOUT"`
	// 重试前等待
	RetryDelay time.Duration `yaml:"retry_delay" env:"RETRY_DELAY"`
	// 熔断阈值（连续失败次数）
	BreakerThreshold int `yaml:"breaker_threshold" env:"BREAKER_THRESHOLD"`
	// 熔断恢复时间
	BreakerResetTimeout time.Duration `yaml:"breaker_reset_timeout" env:"BREAKER_RESET_TIMEOUT"`
}

// ModelConfig 单个模型引用
type ModelConfig struct {
	// 上游类型: openai-compatible
	Provider string `yaml:"provider"`
	// 基础 URL
	BaseURL string `yaml:"base_url"`
	// API Key
	APIKey string `yaml:"api_key"`
	// 上游模型名
	Model string `yaml:"model"`
	// 最大上下文 token
	MaxContextTokens int `yaml:"max_context_tokens"`
	// 每秒请求数（0 不限流）
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	// 令牌桶容量
	Burst int `yaml:"burst"`
	// HTTP 超时
	Timeout time.Duration `yaml:"timeout"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名（sqlite 为文件路径）
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 是否启用（关闭时成员缓存与 redis 历史均不可用）
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 成员缓存 TTL
	MemberTTL time.Duration `yaml:"member_ttl" env:"MEMBER_TTL"`
	// 键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// MetricsConfig Prometheus 指标配置
type MetricsConfig struct {
	// 指标命名空间
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
	// 指标 HTTP 监听地址（为空则不暴露）
	Addr string `yaml:"addr" env:"ADDR"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "GROUPCHAT",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// time.Duration 按 "30s" 格式解析
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 校验与辅助函数
// =============================================================================

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	e := c.Engine
	if e.WindowSize <= 0 {
		errs = append(errs, "engine.window_size must be positive")
	}
	if e.TriggerThreshold <= 0 || e.TriggerThreshold > 1 {
		errs = append(errs, "engine.trigger_threshold must be in (0,1]")
	}
	if e.RoleWeight < 0 || e.RoleWeight > 1 {
		errs = append(errs, "engine.role_weight must be in [0,1]")
	}
	if e.OrganicBaseProbability < 0 || e.OrganicBaseProbability > 1 {
		errs = append(errs, "engine.organic_base_probability must be in [0,1]")
	}
	if e.DriftThreshold < 0 || e.DriftThreshold > 1 {
		errs = append(errs, "engine.drift_threshold must be in [0,1]")
	}
	if e.Temperature < 0 || e.Temperature > 2 || e.CorrectionTemperature < 0 || e.CorrectionTemperature > 2 {
		errs = append(errs, "temperature must be between 0 and 2")
	}
	if e.HistorySize < e.MinHistory {
		errs = append(errs, "engine.history_size must not be smaller than engine.min_history")
	}
	if e.HistoryBackend == "redis" && !c.Redis.Enabled {
		errs = append(errs, "engine.history_backend=redis requires redis.enabled")
	}

	g := c.Gateway
	if g.AttemptTimeout <= 0 {
		errs = append(errs, "gateway.attempt_timeout must be positive")
	}
	if g.RetryTimeout <= 0 || g.RetryTimeout > g.AttemptTimeout {
		errs = append(errs, "gateway.retry_timeout must be positive and not exceed attempt_timeout")
	}

	for ref, m := range c.Models {
		if m.BaseURL == "" || m.Model == "" {
			errs = append(errs, fmt.Sprintf("models.%s requires base_url and model", ref))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
