package guardrails

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/BaSui01/aigroupchat/types"
)

// LeakageConfig 泄露过滤器配置
type LeakageConfig struct {
	// Indicators 系统提示词或 AI 身份外泄的标志短语（大小写不敏感）
	Indicators []string
	// ForbiddenPhrases 群聊回复里不应出现的短语（大小写不敏感）
	ForbiddenPhrases []string
	// ForbiddenPatterns 模板占位符、HTML 标签等
	ForbiddenPatterns []*regexp.Regexp
	// Injection 对回复本身再做一次注入检测，nil 表示不检测
	Injection *InjectionDetector
}

// DefaultLeakageConfig 默认配置。提示词各段标题也算泄露：回复原样带出说明模型在复述提示词。
func DefaultLeakageConfig() LeakageConfig {
	return LeakageConfig{
		Indicators: []string{
			"system:", "system prompt", "instruction:", "instructions:", "role:",
			"你是一个AI助手", "作为AI", "作为一个AI", "language model", "系统提示",
			"【群聊参与者】", "【对话历史】", "【近况】", "【特别提醒】",
		},
		ForbiddenPhrases: []string{
			"系统指令", "ignore above", "disregard previous",
			"as a language model", "as an ai assistant",
		},
		ForbiddenPatterns: []*regexp.Regexp{
			regexp.MustCompile(`</?[A-Za-z][A-Za-z0-9]*(?:\s[^<>]*)?/?>`),
			regexp.MustCompile(`\{\{[^{}]*\}\}`),
			regexp.MustCompile(`[$%]\{[^{}]*\}`),
		},
		Injection: NewInjectionDetector(nil),
	}
}

// LeakageIssue 一处命中
type LeakageIssue struct {
	Kind    string `json:"kind"` // system_leakage / forbidden_phrase / forbidden_pattern / injection
	Matched string `json:"matched"`
}

// LeakageFilter 拒绝泄露系统信息、跳出人设或夹带指令的回复。
// 只做判定不改写，命中即返回 INVALID_RESPONSE。
type LeakageFilter struct {
	cfg LeakageConfig
}

// NewLeakageFilter 创建泄露过滤器
func NewLeakageFilter(cfg LeakageConfig) *LeakageFilter {
	return &LeakageFilter{cfg: cfg}
}

// Name implements Filter.
func (f *LeakageFilter) Name() string { return "leakage_filter" }

// Check 返回回复中的全部命中，按规则顺序
func (f *LeakageFilter) Check(content string) []LeakageIssue {
	lower := strings.ToLower(content)
	var issues []LeakageIssue
	for _, s := range f.cfg.Indicators {
		if s != "" && strings.Contains(lower, strings.ToLower(s)) {
			issues = append(issues, LeakageIssue{Kind: "system_leakage", Matched: s})
		}
	}
	for _, s := range f.cfg.ForbiddenPhrases {
		if s != "" && strings.Contains(lower, strings.ToLower(s)) {
			issues = append(issues, LeakageIssue{Kind: "forbidden_phrase", Matched: s})
		}
	}
	for _, re := range f.cfg.ForbiddenPatterns {
		if m := re.FindString(content); m != "" {
			issues = append(issues, LeakageIssue{Kind: "forbidden_pattern", Matched: m})
		}
	}
	if f.cfg.Injection != nil {
		for _, m := range f.cfg.Injection.Detect(content) {
			issues = append(issues, LeakageIssue{Kind: "injection", Matched: m.MatchedText})
		}
	}
	return issues
}

// Filter implements Filter. 内容原样返回或报错。
func (f *LeakageFilter) Filter(content string) (string, error) {
	issues := f.Check(content)
	if len(issues) == 0 {
		return content, nil
	}
	return "", types.NewError(types.ErrInvalidResponse,
		fmt.Sprintf("reply rejected: %s %q", issues[0].Kind, issues[0].Matched))
}
