package llm

import (
	"sort"
	"sync"

	"github.com/BaSui01/aigroupchat/types"
)

// Binding 模型引用的解析结果
type Binding struct {
	Provider Provider
	// Model 上游模型名
	Model string
	// MaxContextTokens 上下文上限，0 表示不检查
	MaxContextTokens int
	// RequestsPerSecond 本地限流，0 表示不限
	RequestsPerSecond float64
	Burst             int
}

// Registry 并发安全的模型引用注册表。
// 成员记录里的 model_reference 是不透明句柄，由这里解析到具体上游。
type Registry struct {
	mu       sync.RWMutex
	bindings map[string]Binding
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{bindings: make(map[string]Binding)}
}

// Register 注册或替换一个模型引用
func (r *Registry) Register(reference string, b Binding) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[reference] = b
}

// Resolve 解析模型引用
func (r *Registry) Resolve(reference string) (Binding, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[reference]
	if !ok || b.Provider == nil {
		return Binding{}, types.NewInvalidRequestError("unknown model reference %q", reference)
	}
	if b.Model == "" {
		b.Model = reference
	}
	return b, nil
}

// References 返回已注册的引用（升序）
func (r *Registry) References() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.bindings))
	for ref := range r.bindings {
		out = append(out, ref)
	}
	sort.Strings(out)
	return out
}

// Len 已注册的引用数
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bindings)
}
