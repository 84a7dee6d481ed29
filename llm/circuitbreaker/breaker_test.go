package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var errBoom = errors.New("boom")

func fail(context.Context) error { return errBoom }
func ok(context.Context) error   { return nil }

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	var transitions []string
	b := New(Config{
		Threshold:    3,
		ResetTimeout: time.Minute,
		OnStateChange: func(from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	}, zaptest.NewLogger(t), WithClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, b.Call(ctx, fail), errBoom)
	}
	assert.Equal(t, StateOpen, b.State())

	called := false
	err := b.Call(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	clock.Advance(time.Minute)
	assert.Equal(t, StateHalfOpen, b.State())
	require.NoError(t, b.Call(ctx, ok))
	assert.Equal(t, StateClosed, b.State())

	assert.Equal(t, []string{"closed->open", "open->half_open", "half_open->closed"}, transitions)
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	b := New(Config{Threshold: 1, ResetTimeout: time.Second}, nil, WithClock(clock.Now))
	ctx := context.Background()

	require.Error(t, b.Call(ctx, fail))
	clock.Advance(time.Second)
	require.ErrorIs(t, b.Call(ctx, fail), errBoom)
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Call(ctx, ok), ErrCircuitOpen)
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b := New(Config{Threshold: 2}, nil)
	ctx := context.Background()

	_ = b.Call(ctx, fail)
	_ = b.Call(ctx, ok)
	_ = b.Call(ctx, fail)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_IgnoresNonFailures(t *testing.T) {
	clientErr := errors.New("bad request")
	b := New(Config{
		Threshold: 1,
		IsFailure: func(err error) bool { return !errors.Is(err, clientErr) },
	}, nil)

	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, b.Call(context.Background(), func(context.Context) error { return clientErr }), clientErr)
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_Reset(t *testing.T) {
	b := New(Config{Threshold: 1, ResetTimeout: time.Hour}, nil)
	_ = b.Call(context.Background(), fail)
	require.Equal(t, StateOpen, b.State())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Call(context.Background(), ok))
}
