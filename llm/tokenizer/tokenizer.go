package tokenizer

import (
	"strings"
	"sync"
)

// Tokenizer token 计数接口
type Tokenizer interface {
	// CountTokens 返回文本的 token 数
	CountTokens(text string) (int, error)

	// MaxTokens 返回模型的上下文上限
	MaxTokens() int

	// Name 返回分词器名称
	Name() string
}

var (
	registry   = make(map[string]Tokenizer)
	registryMu sync.RWMutex
)

// Register 为模型名注册分词器
func Register(model string, t Tokenizer) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[model] = t
}

// lookup 精确匹配优先，否则取最长前缀匹配
func lookup(model string) (Tokenizer, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	if t, ok := registry[model]; ok {
		return t, true
	}
	var (
		best    Tokenizer
		bestLen int
	)
	for prefix, t := range registry {
		if strings.HasPrefix(model, prefix) && len(prefix) > bestLen {
			best, bestLen = t, len(prefix)
		}
	}
	return best, best != nil
}

// ForModel 返回模型的分词器：OpenAI 系列用 tiktoken，其他模型用估算器。
// maxContext>0 时覆盖默认上下文上限。
func ForModel(model string, maxContext int) Tokenizer {
	if t, ok := lookup(model); ok {
		if maxContext > 0 && maxContext != t.MaxTokens() {
			return withMax{Tokenizer: t, max: maxContext}
		}
		return t
	}
	if IsOpenAIModel(model) {
		t := NewTiktokenTokenizer(model)
		if maxContext > 0 {
			return withMax{Tokenizer: t, max: maxContext}
		}
		return t
	}
	return NewEstimatorTokenizer(model, maxContext)
}

// withMax 覆盖上下文上限
type withMax struct {
	Tokenizer
	max int
}

func (w withMax) MaxTokens() int { return w.max }

// Fallback 首选分词器出错时退回估算器
type Fallback struct {
	Primary   Tokenizer
	Secondary Tokenizer
}

// CountTokens implements Tokenizer.
func (f Fallback) CountTokens(text string) (int, error) {
	if n, err := f.Primary.CountTokens(text); err == nil {
		return n, nil
	}
	return f.Secondary.CountTokens(text)
}

// MaxTokens implements Tokenizer.
func (f Fallback) MaxTokens() int { return f.Primary.MaxTokens() }

// Name implements Tokenizer.
func (f Fallback) Name() string { return f.Primary.Name() + "|" + f.Secondary.Name() }
