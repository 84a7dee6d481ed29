package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// 指标名称
const (
	MetricGenerationDuration = "groupchat.generation.duration"
	MetricGenerationAttempts = "groupchat.generation.attempts"
	MetricPromptTokens       = "groupchat.generation.prompt_tokens"
)

// Meter 返回全局 meter。遥测关闭时为 noop
func Meter() metric.Meter {
	return otel.Meter(InstrumentationName)
}

// GenerationInstruments 生成调用的 OTel 指标，随 OTLP 导出；
// Prometheus 侧的同类指标由 internal/metrics 负责
type GenerationInstruments struct {
	duration metric.Float64Histogram
	attempts metric.Int64Counter
	tokens   metric.Int64Counter
}

// NewGenerationInstruments 在 meter 上注册生成指标
func NewGenerationInstruments(m metric.Meter) (*GenerationInstruments, error) {
	duration, err := m.Float64Histogram(MetricGenerationDuration,
		metric.WithDescription("Generation latency including the retry"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", MetricGenerationDuration, err)
	}
	attempts, err := m.Int64Counter(MetricGenerationAttempts,
		metric.WithDescription("Upstream calls made by the gateway"))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", MetricGenerationAttempts, err)
	}
	tokens, err := m.Int64Counter(MetricPromptTokens,
		metric.WithDescription("Prompt tokens sent upstream"))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", MetricPromptTokens, err)
	}
	return &GenerationInstruments{duration: duration, attempts: attempts, tokens: tokens}, nil
}

// Record 记录一次生成。nil 接收者为空操作
func (gi *GenerationInstruments) Record(ctx context.Context, modelRef, status string, attempts int, d time.Duration, promptTokens int) {
	if gi == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("model_reference", modelRef),
		attribute.String("status", status),
	)
	gi.duration.Record(ctx, d.Seconds(), attrs)
	if attempts > 0 {
		gi.attempts.Add(ctx, int64(attempts), attrs)
	}
	if promptTokens > 0 {
		gi.tokens.Add(ctx, int64(promptTokens), attrs)
	}
}
