// Package circuitbreaker 为每个模型上游提供熔断保护。
//
// 连续失败达到阈值后熔断器打开，在恢复等待期内直接拒绝调用；
// 等待期过后进入半开状态放行少量试探请求，成功则关闭，失败则重新打开。
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State 熔断器状态
type State int

const (
	// StateClosed 正常放行
	StateClosed State = iota
	// StateOpen 熔断中
	StateOpen
	// StateHalfOpen 试探恢复
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// 错误定义
var (
	ErrCircuitOpen            = errors.New("circuit breaker is open")
	ErrTooManyCallsInHalfOpen = errors.New("too many calls in half-open state")
)

// Config 熔断器配置
type Config struct {
	// Threshold 连续失败次数阈值
	Threshold int
	// ResetTimeout Open -> HalfOpen 等待时间
	ResetTimeout time.Duration
	// HalfOpenMaxCalls 半开状态允许的试探请求数
	HalfOpenMaxCalls int
	// IsFailure 判定错误是否计入失败，为空时所有错误都计入。
	// 参数错误之类的客户端问题不应让上游熔断。
	IsFailure func(error) bool
	// OnStateChange 状态变更回调（同步调用，勿阻塞）
	OnStateChange func(from, to State)
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		Threshold:        5,
		ResetTimeout:     60 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// Breaker 熔断器
type Breaker struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu           sync.Mutex
	state        State
	failures     int
	openedAt     time.Time
	halfOpenCall int
}

// Option 熔断器选项
type Option func(*Breaker)

// WithClock 注入时钟
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// New 创建熔断器
func New(cfg Config, logger *zap.Logger, opts ...Option) *Breaker {
	def := DefaultConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = def.HalfOpenMaxCalls
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Breaker{cfg: cfg, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Call 在熔断保护下执行 fn。熔断打开时不执行 fn，直接返回 ErrCircuitOpen。
func (b *Breaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.before(); err != nil {
		return err
	}
	err := fn(ctx)
	b.after(err)
	return err
}

// State 当前状态。Open 且已过恢复等待期时报告 HalfOpen。
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Reset 手动恢复
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.halfOpenCall = 0
	b.setState(StateClosed)
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			return ErrCircuitOpen
		}
		b.setState(StateHalfOpen)
		b.halfOpenCall = 1
		return nil
	case StateHalfOpen:
		if b.halfOpenCall >= b.cfg.HalfOpenMaxCalls {
			return ErrTooManyCallsInHalfOpen
		}
		b.halfOpenCall++
		return nil
	default:
		return nil
	}
}

func (b *Breaker) after(err error) {
	failed := err != nil
	if failed && b.cfg.IsFailure != nil {
		failed = b.cfg.IsFailure(err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if !failed {
		if b.state == StateHalfOpen {
			b.logger.Info("circuit breaker recovered")
		}
		b.failures = 0
		b.halfOpenCall = 0
		b.setState(StateClosed)
		return
	}

	b.failures++
	switch b.state {
	case StateClosed:
		if b.failures >= b.cfg.Threshold {
			b.logger.Warn("circuit breaker opened",
				zap.Int("failure_count", b.failures),
				zap.Int("threshold", b.cfg.Threshold),
			)
			b.openedAt = b.now()
			b.setState(StateOpen)
		}
	case StateHalfOpen:
		b.logger.Warn("circuit breaker probe failed, reopening")
		b.openedAt = b.now()
		b.halfOpenCall = 0
		b.setState(StateOpen)
	}
}

func (b *Breaker) setState(s State) {
	if b.state == s {
		return
	}
	from := b.state
	b.state = s
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(from, s)
	}
}
