package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"github.com/BaSui01/aigroupchat/config"
	"github.com/BaSui01/aigroupchat/internal/metrics"
	"github.com/BaSui01/aigroupchat/internal/telemetry"
	"github.com/BaSui01/aigroupchat/llm"
	"github.com/BaSui01/aigroupchat/llm/circuitbreaker"
	"github.com/BaSui01/aigroupchat/testutil/mocks"
	"github.com/BaSui01/aigroupchat/types"
)

var (
	transient = &llm.Error{Code: llm.ErrUpstreamError, Message: "502", Retryable: true}
	fatal     = &llm.Error{Code: llm.ErrUnauthorized, Message: "bad key"}
)

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func testConfig() config.GatewayConfig {
	return config.GatewayConfig{
		AttemptTimeout:      10 * time.Second,
		RetryTimeout:        5 * time.Second,
		BreakerThreshold:    5,
		BreakerResetTimeout: time.Minute,
	}
}

func newGateway(t *testing.T, p llm.Provider, cfg config.GatewayConfig, b llm.Binding) *Gateway {
	t.Helper()
	reg := llm.NewRegistry()
	b.Provider = p
	reg.Register("qwen-plus", b)
	return New(reg, cfg,
		WithLogger(zaptest.NewLogger(t)),
		WithMetrics(metrics.NewCollectorWithRegisterer("test", prometheus.NewRegistry(), nil)),
		WithSleep(noSleep),
	)
}

func request() Request {
	return Request{ModelReference: "qwen-plus", Prompt: "你好", MaxTokens: 100, Temperature: 0.8}
}

func TestGenerate_FirstAttemptSucceeds(t *testing.T) {
	p := mocks.NewMockProvider().WithResponse("  大家好  ")
	g := newGateway(t, p, testConfig(), llm.Binding{Model: "qwen-plus-latest"})

	res, err := g.Generate(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, "大家好", res.Text)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, "mock", res.Provider)
	assert.Equal(t, "qwen-plus-latest", res.Model)
	assert.NotEmpty(t, res.TraceID)
	assert.Positive(t, res.PromptTokens)

	calls := p.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "qwen-plus-latest", calls[0].Request.Model)
	assert.Equal(t, res.TraceID, calls[0].Request.TraceID)
	assert.InDelta(t, 0.8, calls[0].Request.Temperature, 1e-6)
	assert.Equal(t, 100, calls[0].Request.MaxTokens)
}

func TestGenerate_RecordsOTelInstruments(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	reg := llm.NewRegistry()
	reg.Register("qwen-plus", llm.Binding{
		Provider: mocks.NewMockProvider().WithScript(mocks.Step{Err: transient}, mocks.Step{Text: "ok"}),
	})
	g := New(reg, testConfig(), WithSleep(noSleep), WithMeter(mp.Meter("test")))

	_, err := g.Generate(context.Background(), request())
	require.NoError(t, err)
	_, err = g.Generate(context.Background(), Request{ModelReference: "missing", Prompt: "hi"})
	require.Error(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	names := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names[m.Name] = m.Data
		}
	}

	hist, ok := names[telemetry.MetricGenerationDuration].(metricdata.Histogram[float64])
	require.True(t, ok)
	assert.Len(t, hist.DataPoints, 2, "one series per status")

	attempts, ok := names[telemetry.MetricGenerationAttempts].(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, attempts.DataPoints, 1)
	assert.Equal(t, int64(2), attempts.DataPoints[0].Value)
}

func TestGenerate_RetriesOnceWithShorterTimeout(t *testing.T) {
	p := mocks.NewMockProvider().WithScript(mocks.Step{Err: transient}, mocks.Step{Text: "ok"})
	g := newGateway(t, p, testConfig(), llm.Binding{})

	res, err := g.Generate(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)

	calls := p.Calls()
	require.Len(t, calls, 2)
	assert.Greater(t, calls[0].Deadline, 5*time.Second)
	assert.LessOrEqual(t, calls[1].Deadline, 5*time.Second)
}

func TestGenerate_TimeoutTwiceFails(t *testing.T) {
	cfg := testConfig()
	cfg.AttemptTimeout = 40 * time.Millisecond
	cfg.RetryTimeout = 20 * time.Millisecond
	p := mocks.NewMockProvider().WithScript(mocks.Step{Hang: true}, mocks.Step{Hang: true}, mocks.Step{Text: "never"})
	g := newGateway(t, p, cfg, llm.Binding{})

	_, err := g.Generate(context.Background(), request())
	require.Error(t, err)
	assert.Equal(t, types.ErrGenerationFailed, types.GetErrorCode(err))
	assert.True(t, types.IsErrorCode(err, types.ErrUpstreamTimeout))
	assert.Equal(t, 2, p.CallCount())
}

func TestGenerate_NoRetryOnNonTransient(t *testing.T) {
	p := mocks.NewMockProvider().WithScript(mocks.Step{Err: fatal})
	g := newGateway(t, p, testConfig(), llm.Binding{})

	_, err := g.Generate(context.Background(), request())
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrUpstreamError))
	assert.False(t, types.IsRetryable(err))
	assert.Equal(t, 1, p.CallCount())
}

func TestGenerate_EmptyTextIsInvalidResponse(t *testing.T) {
	p := mocks.NewMockProvider().WithScript(mocks.Step{Text: "   "})
	g := newGateway(t, p, testConfig(), llm.Binding{})

	_, err := g.Generate(context.Background(), request())
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidResponse))
	assert.Equal(t, 1, p.CallCount())
}

func TestGenerate_CircuitOpensAndFailsFast(t *testing.T) {
	cfg := testConfig()
	cfg.BreakerThreshold = 1
	p := mocks.NewMockProvider().WithScript(mocks.Step{Err: transient})
	g := newGateway(t, p, cfg, llm.Binding{})

	_, err := g.Generate(context.Background(), request())
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrCircuitOpen))
	assert.Equal(t, 1, p.CallCount())
	assert.Equal(t, circuitbreaker.StateOpen, g.BreakerState("qwen-plus"))

	_, err = g.Generate(context.Background(), request())
	assert.True(t, types.IsErrorCode(err, types.ErrCircuitOpen))
	assert.Equal(t, 1, p.CallCount())
}

func TestGenerate_RequestErrors(t *testing.T) {
	p := mocks.NewMockProvider()
	g := newGateway(t, p, testConfig(), llm.Binding{MaxContextTokens: 20})

	_, err := g.Generate(context.Background(), Request{ModelReference: "missing", Prompt: "hi"})
	assert.Equal(t, types.ErrGenerationFailed, types.GetErrorCode(err))
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))

	_, err = g.Generate(context.Background(), Request{ModelReference: "qwen-plus", Prompt: "  "})
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))

	long := request()
	long.Prompt = strings.Repeat("长", 60)
	_, err = g.Generate(context.Background(), long)
	assert.True(t, types.IsErrorCode(err, types.ErrContextTooLong))

	assert.Zero(t, p.CallCount())
}

func TestGenerate_CallerCancelDoesNotRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := mocks.NewMockProvider().WithCompletionFunc(func(context.Context, *llm.ChatRequest) (*llm.ChatResponse, error) {
		cancel()
		return nil, transient
	})
	g := newGateway(t, p, testConfig(), llm.Binding{})

	_, err := g.Generate(ctx, request())
	require.Error(t, err)
	assert.Equal(t, 1, p.CallCount())
}

func TestGenerate_RateLimited(t *testing.T) {
	p := mocks.NewMockProvider()
	g := newGateway(t, p, testConfig(), llm.Binding{RequestsPerSecond: 0.001, Burst: 1})

	_, err := g.Generate(context.Background(), request())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = g.Generate(ctx, request())
	assert.True(t, types.IsErrorCode(err, types.ErrUpstreamTimeout))
	assert.Equal(t, 1, p.CallCount())
}

// 任意两步上游脚本下，调用次数不超过 2，首次非瞬时失败时恰好 1 次
func TestGenerate_BoundedRetryProperty(t *testing.T) {
	outcomes := []string{"ok", "transient", "fatal", "empty"}
	step := func(kind string) mocks.Step {
		switch kind {
		case "transient":
			return mocks.Step{Err: transient}
		case "fatal":
			return mocks.Step{Err: fatal}
		case "empty":
			return mocks.Step{Text: ""}
		default:
			return mocks.Step{Text: "ok"}
		}
	}

	rapid.Check(t, func(rt *rapid.T) {
		first := rapid.SampledFrom(outcomes).Draw(rt, "first")
		second := rapid.SampledFrom(outcomes).Draw(rt, "second")
		p := mocks.NewMockProvider().WithScript(step(first), step(second), step("ok"))

		reg := llm.NewRegistry()
		reg.Register("m", llm.Binding{Provider: p})
		g := New(reg, testConfig(), WithSleep(noSleep))

		res, err := g.Generate(context.Background(), Request{ModelReference: "m", Prompt: "hi"})
		calls := p.CallCount()
		if calls > 2 {
			rt.Fatalf("%d upstream calls", calls)
		}
		if first != "transient" && calls != 1 {
			rt.Fatalf("retried after %s", first)
		}
		if err == nil && res.Text == "" {
			rt.Fatalf("empty text accepted")
		}
	})
}

func TestRegistryFromConfig(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"来自上游"}}]}`))
	}))
	defer srv.Close()

	reg, err := RegistryFromConfig(map[string]config.ModelConfig{
		"qwen-plus": {Provider: "qwen", BaseURL: srv.URL, Model: "qwen-plus-2025"},
		"gpt":       {Provider: "openai"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"gpt", "qwen-plus"}, reg.References())

	b, err := reg.Resolve("qwen-plus")
	require.NoError(t, err)
	assert.Equal(t, "qwen-plus-2025", b.Model)
	assert.Equal(t, "qwen", b.Provider.Name())

	g := New(reg, testConfig())
	res, err := g.Generate(context.Background(), Request{ModelReference: "qwen-plus", Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "来自上游", res.Text)

	_, err = RegistryFromConfig(map[string]config.ModelConfig{"x": {Provider: "nope"}}, nil)
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))

	_, err = RegistryFromConfig(map[string]config.ModelConfig{"x": {Provider: "openai-compatible"}}, nil)
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
}
