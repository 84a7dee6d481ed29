// =============================================================================
// 生成网关
// =============================================================================
// 整个系统中唯一调用文本生成上游的组件。
// 首次调用使用 AttemptTimeout；遇到瞬时故障（超时、5xx、429、网络错误）
// 以不长于首次的 RetryTimeout 重试恰好一次；无效响应与非瞬时错误不重试。
// 所有失败统一包装为 GENERATION_FAILED，原因码保留在错误链上。
// =============================================================================

package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/aigroupchat/config"
	"github.com/BaSui01/aigroupchat/internal/metrics"
	"github.com/BaSui01/aigroupchat/internal/telemetry"
	"github.com/BaSui01/aigroupchat/llm"
	"github.com/BaSui01/aigroupchat/llm/circuitbreaker"
	"github.com/BaSui01/aigroupchat/llm/retry"
	"github.com/BaSui01/aigroupchat/llm/tokenizer"
	"github.com/BaSui01/aigroupchat/types"
)

// Request 生成请求
type Request struct {
	ModelReference string
	Prompt         string
	MaxTokens      int
	Temperature    float64
	// TraceID 为空时自动生成
	TraceID string
}

// Result 生成结果
type Result struct {
	Text             string
	ModelReference   string
	Model            string
	Provider         string
	TraceID          string
	Attempts         int
	PromptTokens     int
	CompletionTokens int
	Duration         time.Duration
}

// Generator 文本生成能力
type Generator interface {
	Generate(ctx context.Context, req Request) (*Result, error)
}

// modelState 每个模型引用独立的限流、熔断与分词状态
type modelState struct {
	limiter *rate.Limiter
	breaker *circuitbreaker.Breaker
	tok     tokenizer.Tokenizer
}

// Gateway 生成网关
type Gateway struct {
	registry *llm.Registry
	cfg      config.GatewayConfig
	retryer  *retry.Retryer
	metrics  *metrics.Collector
	meter    metric.Meter
	otelm    *telemetry.GenerationInstruments
	logger   *zap.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	models map[string]*modelState
}

// Option 网关选项
type Option func(*Gateway)

// WithLogger 注入日志
func WithLogger(l *zap.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// WithMetrics 注入指标
func WithMetrics(c *metrics.Collector) Option {
	return func(g *Gateway) { g.metrics = c }
}

// WithMeter 替换 OTel meter，默认取全局 meter
func WithMeter(m metric.Meter) Option {
	return func(g *Gateway) { g.meter = m }
}

// WithClock 注入时钟（熔断恢复计时）
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// WithSleep 替换重试前的等待
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(g *Gateway) { g.sleep = sleep }
}

// New 创建网关
func New(registry *llm.Registry, cfg config.GatewayConfig, opts ...Option) *Gateway {
	def := config.DefaultGatewayConfig()
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = def.AttemptTimeout
	}
	if cfg.RetryTimeout <= 0 || cfg.RetryTimeout > cfg.AttemptTimeout {
		cfg.RetryTimeout = cfg.AttemptTimeout
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}

	g := &Gateway{
		registry: registry,
		cfg:      cfg,
		logger:   zap.NewNop(),
		now:      time.Now,
		models:   make(map[string]*modelState),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With(zap.String("component", "gateway"))
	if g.meter == nil {
		g.meter = telemetry.Meter()
	}
	if inst, err := telemetry.NewGenerationInstruments(g.meter); err != nil {
		g.logger.Warn("otel generation instruments unavailable", zap.Error(err))
	} else {
		g.otelm = inst
	}

	retryOpts := []retry.Option{}
	if g.sleep != nil {
		retryOpts = append(retryOpts, retry.WithSleep(g.sleep))
	}
	g.retryer = retry.New(retry.Policy{
		MaxRetries:   1,
		InitialDelay: cfg.RetryDelay,
		MaxDelay:     max(cfg.RetryDelay, time.Millisecond),
		Multiplier:   1,
		AttemptTimeout: func(attempt int) time.Duration {
			if attempt == 0 {
				return cfg.AttemptTimeout
			}
			return cfg.RetryTimeout
		},
		Retryable: types.IsRetryable,
	}, g.logger, retryOpts...)
	return g
}

// Generate 执行一次生成
func (g *Gateway) Generate(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	ref := req.ModelReference
	traceID := req.TraceID
	if traceID == "" {
		traceID = uuid.NewString()
	}

	ctx, span := telemetry.StartSpan(ctx, "gateway.generate", trace.WithAttributes(
		attribute.String("llm.model_reference", ref),
		attribute.String("llm.trace_id", traceID),
	))
	defer span.End()

	logger := g.logger.With(zap.String("model_reference", ref), zap.String("trace_id", traceID))

	fail := func(cause error, attempts, promptTokens int) (*Result, error) {
		err := types.Errorf(types.ErrGenerationFailed, "generation failed for %q after %d attempt(s)", ref, attempts).
			WithCause(cause).
			WithModel(ref)
		status := strings.ToLower(string(types.GetErrorCode(cause)))
		if status == "" {
			status = "error"
		}
		g.metrics.RecordGeneration(ref, status, time.Since(start), promptTokens)
		g.otelm.Record(ctx, ref, status, attempts, time.Since(start), promptTokens)
		span.RecordError(err)
		span.SetStatus(codes.Error, status)
		logger.Warn("generation failed", zap.Int("attempts", attempts), zap.Error(cause))
		return nil, err
	}

	if strings.TrimSpace(req.Prompt) == "" {
		return fail(types.NewInvalidRequestError("prompt is empty"), 0, 0)
	}
	binding, err := g.registry.Resolve(ref)
	if err != nil {
		return fail(err, 0, 0)
	}
	st := g.state(ref, binding)

	promptTokens, _ := st.tok.CountTokens(req.Prompt)
	if binding.MaxContextTokens > 0 && promptTokens+req.MaxTokens > binding.MaxContextTokens {
		return fail(types.Errorf(types.ErrContextTooLong,
			"prompt needs %d tokens plus %d for the reply, model allows %d",
			promptTokens, req.MaxTokens, binding.MaxContextTokens), 0, promptTokens)
	}

	if st.limiter != nil {
		if err := st.limiter.Wait(ctx); err != nil {
			return fail(types.NewError(types.ErrUpstreamTimeout, "rate limiter wait aborted").WithCause(err), 0, promptTokens)
		}
	}

	chatReq := &llm.ChatRequest{
		TraceID:     traceID,
		Model:       binding.Model,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: req.Prompt}},
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
	}

	var (
		resp     *llm.ChatResponse
		attempts int
	)
	err = g.retryer.Do(ctx, func(actx context.Context, attempt int) error {
		attempts = attempt + 1
		callErr := st.breaker.Call(actx, func(c context.Context) error {
			r, err := binding.Provider.Completion(c, chatReq)
			if err != nil {
				return classify(ctx, c, err)
			}
			if r.Text() == "" {
				return types.NewError(types.ErrInvalidResponse, "upstream returned empty text")
			}
			resp = r
			return nil
		})
		if errors.Is(callErr, circuitbreaker.ErrCircuitOpen) || errors.Is(callErr, circuitbreaker.ErrTooManyCallsInHalfOpen) {
			callErr = types.NewError(types.ErrCircuitOpen, "model circuit breaker is open").WithCause(callErr)
		}
		g.metrics.RecordGenerationAttempt(ref, attempts, outcome(callErr))
		if callErr != nil {
			logger.Debug("generation attempt failed", zap.Int("attempt", attempts), zap.Error(callErr))
		}
		return callErr
	})
	if err != nil {
		return fail(err, attempts, promptTokens)
	}

	res := &Result{
		Text:             resp.Text(),
		ModelReference:   ref,
		Model:            binding.Model,
		Provider:         binding.Provider.Name(),
		TraceID:          traceID,
		Attempts:         attempts,
		PromptTokens:     promptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		Duration:         time.Since(start),
	}
	if resp.Usage.PromptTokens > 0 {
		res.PromptTokens = resp.Usage.PromptTokens
	}
	g.metrics.RecordGeneration(ref, "success", res.Duration, res.PromptTokens)
	g.otelm.Record(ctx, ref, "success", attempts, res.Duration, res.PromptTokens)
	span.SetAttributes(
		attribute.Int("llm.attempts", attempts),
		attribute.Int("llm.prompt_tokens", res.PromptTokens),
	)
	logger.Debug("generation succeeded", zap.Int("attempts", attempts), zap.Duration("duration", res.Duration))
	return res, nil
}

// BreakerState 返回模型引用的熔断状态，未调用过时为 Closed
func (g *Gateway) BreakerState(ref string) circuitbreaker.State {
	g.mu.Lock()
	st, ok := g.models[ref]
	g.mu.Unlock()
	if !ok {
		return circuitbreaker.StateClosed
	}
	return st.breaker.State()
}

func (g *Gateway) state(ref string, b llm.Binding) *modelState {
	g.mu.Lock()
	defer g.mu.Unlock()
	if st, ok := g.models[ref]; ok {
		return st
	}
	st := &modelState{
		breaker: circuitbreaker.New(circuitbreaker.Config{
			Threshold:    g.cfg.BreakerThreshold,
			ResetTimeout: g.cfg.BreakerResetTimeout,
			IsFailure:    types.IsRetryable,
			OnStateChange: func(from, to circuitbreaker.State) {
				g.logger.Info("circuit breaker state changed",
					zap.String("model_reference", ref),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		}, g.logger, circuitbreaker.WithClock(g.now)),
		tok: tokenizer.Fallback{
			Primary:   tokenizer.ForModel(b.Model, b.MaxContextTokens),
			Secondary: tokenizer.NewEstimatorTokenizer(b.Model, b.MaxContextTokens),
		},
	}
	if b.RequestsPerSecond > 0 {
		burst := b.Burst
		if burst <= 0 {
			burst = 1
		}
		st.limiter = rate.NewLimiter(rate.Limit(b.RequestsPerSecond), burst)
	}
	g.models[ref] = st
	return st
}

// classify 将上游错误归类为带可重试标记的 types.Error。
// parent 为调用方 ctx，attempt 为单次限时 ctx：调用方取消不算瞬时故障。
func classify(parent, attempt context.Context, err error) error {
	if parent.Err() != nil {
		return types.NewError(types.ErrUpstreamTimeout, "request cancelled").WithCause(err)
	}

	var le *llm.Error
	if errors.As(err, &le) {
		switch le.Code {
		case llm.ErrUpstreamTimeout:
			return types.NewError(types.ErrUpstreamTimeout, le.Message).WithCause(err).WithRetryable(true)
		case llm.ErrInvalidResponse:
			return types.NewError(types.ErrInvalidResponse, le.Message).WithCause(err)
		case llm.ErrRateLimited, llm.ErrModelOverloaded, llm.ErrUpstreamError:
			return types.NewError(types.ErrUpstreamError, le.Message).WithCause(err).WithRetryable(le.Retryable)
		default:
			return types.NewError(types.ErrUpstreamError, le.Message).WithCause(err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(attempt.Err(), context.DeadlineExceeded) {
		return types.NewError(types.ErrUpstreamTimeout, "attempt timed out").WithCause(err).WithRetryable(true)
	}
	return types.NewError(types.ErrUpstreamError, fmt.Sprintf("upstream call failed: %v", err)).WithCause(err).WithRetryable(true)
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	if code := types.GetErrorCode(err); code != "" {
		return strings.ToLower(string(code))
	}
	return "error"
}
