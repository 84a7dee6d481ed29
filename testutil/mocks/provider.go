// Package mocks 提供文本生成上游的测试桩。
//
// 支持固定响应、按调用顺序编排的脚本、延迟与错误注入。
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/aigroupchat/llm"
)

// Step 脚本中的一次调用结果
type Step struct {
	Text  string
	Err   error
	Delay time.Duration
	// Hang 一直阻塞直到 ctx 结束
	Hang bool
}

// Call 单次调用记录
type Call struct {
	Request  llm.ChatRequest
	Deadline time.Duration // 调用开始时剩余的时限，无时限为 0
	Err      error
}

// MockProvider llm.Provider 的测试实现，可并发调用
type MockProvider struct {
	mu       sync.Mutex
	name     string
	response string
	script   []Step
	fn       func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)
	calls    []Call
}

// NewMockProvider 创建默认返回 "Mock response" 的桩
func NewMockProvider() *MockProvider {
	return &MockProvider{name: "mock", response: "Mock response"}
}

// WithName 设置 Provider 名称
func (m *MockProvider) WithName(name string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.name = name
	return m
}

// WithResponse 设置脚本耗尽后的固定响应
func (m *MockProvider) WithResponse(text string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.response = text
	return m
}

// WithScript 按调用顺序依次返回各步结果，耗尽后回到固定响应
func (m *MockProvider) WithScript(steps ...Step) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, steps...)
	return m
}

// WithCompletionFunc 完全自定义响应，优先于脚本
func (m *MockProvider) WithCompletionFunc(fn func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fn = fn
	return m
}

// Name implements llm.Provider.
func (m *MockProvider) Name() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.name
}

// Completion implements llm.Provider.
func (m *MockProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	m.mu.Lock()
	call := Call{Request: *req}
	if dl, ok := ctx.Deadline(); ok {
		call.Deadline = time.Until(dl)
	}
	idx := len(m.calls)
	m.calls = append(m.calls, call)
	fn := m.fn
	step := Step{Text: m.response}
	if len(m.script) > 0 {
		step = m.script[0]
		m.script = m.script[1:]
	}
	name := m.name
	m.mu.Unlock()

	var (
		resp *llm.ChatResponse
		err  error
	)
	if fn != nil {
		resp, err = fn(ctx, req)
	} else {
		resp, err = m.play(ctx, step, name, req.Model)
	}

	m.mu.Lock()
	m.calls[idx].Err = err
	m.mu.Unlock()
	return resp, err
}

func (m *MockProvider) play(ctx context.Context, step Step, name, model string) (*llm.ChatResponse, error) {
	if step.Hang {
		<-ctx.Done()
		return nil, &llm.Error{Code: llm.ErrUpstreamTimeout, Message: ctx.Err().Error(), Retryable: true, Provider: name}
	}
	if step.Delay > 0 {
		t := time.NewTimer(step.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, &llm.Error{Code: llm.ErrUpstreamTimeout, Message: ctx.Err().Error(), Retryable: true, Provider: name}
		case <-t.C:
		}
	}
	if step.Err != nil {
		return nil, step.Err
	}
	return &llm.ChatResponse{
		Provider: name,
		Model:    model,
		Choices: []llm.ChatChoice{{
			FinishReason: "stop",
			Message:      llm.Message{Role: llm.RoleAssistant, Content: step.Text},
		}},
	}, nil
}

// Calls 返回调用记录副本
func (m *MockProvider) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount 调用次数
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Reset 清空调用记录与脚本
func (m *MockProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.script = nil
}
