package tokenizer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TiktokenTokenizer OpenAI 系列模型的精确计数
type TiktokenTokenizer struct {
	model     string
	encoding  string
	maxTokens int

	once    sync.Once
	enc     *tiktoken.Tiktoken
	initErr error
}

type encodingInfo struct {
	encoding  string
	maxTokens int
}

var openAIEncodings = map[string]encodingInfo{
	"gpt-4o":        {"o200k_base", 128000},
	"gpt-4.1":       {"o200k_base", 1047576},
	"gpt-4-turbo":   {"cl100k_base", 128000},
	"gpt-4":         {"cl100k_base", 8192},
	"gpt-3.5-turbo": {"cl100k_base", 16385},
}

// IsOpenAIModel 是否为已知编码的 OpenAI 模型（含前缀，如 gpt-4o-mini）
func IsOpenAIModel(model string) bool {
	_, ok := encodingFor(model)
	return ok
}

func encodingFor(model string) (encodingInfo, bool) {
	if info, ok := openAIEncodings[model]; ok {
		return info, true
	}
	var (
		best    encodingInfo
		bestLen int
	)
	for prefix, info := range openAIEncodings {
		if strings.HasPrefix(model, prefix) && len(prefix) > bestLen {
			best, bestLen = info, len(prefix)
		}
	}
	return best, bestLen > 0
}

// NewTiktokenTokenizer 创建 tiktoken 分词器，未知模型按 cl100k_base 处理。
// 编码数据在首次计数时加载。
func NewTiktokenTokenizer(model string) *TiktokenTokenizer {
	info, ok := encodingFor(model)
	if !ok {
		info = encodingInfo{"cl100k_base", 8192}
	}
	return &TiktokenTokenizer{model: model, encoding: info.encoding, maxTokens: info.maxTokens}
}

func (t *TiktokenTokenizer) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

// CountTokens implements Tokenizer.
func (t *TiktokenTokenizer) CountTokens(text string) (int, error) {
	if err := t.init(); err != nil {
		return 0, err
	}
	return len(t.enc.Encode(text, nil, nil)), nil
}

// MaxTokens implements Tokenizer.
func (t *TiktokenTokenizer) MaxTokens() int { return t.maxTokens }

// Name implements Tokenizer.
func (t *TiktokenTokenizer) Name() string { return "tiktoken[" + t.encoding + "]" }
