package guardrails

import (
	"regexp"
	"sort"
	"strings"
)

// 严重级别
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
)

// 隔离分隔符
const (
	IsolationOpen  = "<<<成员原话>>>"
	IsolationClose = "<<<原话结束>>>"
)

// injectionRule 单条注入规则
type injectionRule struct {
	re          *regexp.Regexp
	description string
	severity    string
	language    string // en / zh / universal
}

// InjectionMatch 注入命中
type InjectionMatch struct {
	Description string `json:"description"`
	Severity    string `json:"severity"`
	Position    int    `json:"position"`
	MatchedText string `json:"matched_text"`
}

// InjectionDetectorConfig 注入检测器配置
type InjectionDetectorConfig struct {
	// EnabledLanguages 启用的规则语言，为空则全部启用
	EnabledLanguages []string
	// CustomPatterns 追加的正则（大小写不敏感），非法正则被忽略
	CustomPatterns []string
}

// InjectionDetector 群成员消息的提示注入检测器
type InjectionDetector struct {
	rules []injectionRule
}

// NewInjectionDetector 创建注入检测器，config 为 nil 时使用全部内置规则
func NewInjectionDetector(config *InjectionDetectorConfig) *InjectionDetector {
	if config == nil {
		config = &InjectionDetectorConfig{}
	}
	langs := map[string]bool{"en": true, "zh": true, "universal": true}
	if len(config.EnabledLanguages) > 0 {
		langs = make(map[string]bool, len(config.EnabledLanguages))
		for _, l := range config.EnabledLanguages {
			langs[l] = true
		}
	}

	d := &InjectionDetector{}
	for _, r := range builtinRules() {
		if langs[r.language] {
			d.rules = append(d.rules, r)
		}
	}
	for _, p := range config.CustomPatterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			continue
		}
		d.rules = append(d.rules, injectionRule{re: re, description: "custom pattern", severity: SeverityHigh, language: "custom"})
	}
	return d
}

func builtinRules() []injectionRule {
	return []injectionRule{
		// 指令覆盖
		{regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above|earlier)\s+(instructions?|prompts?|rules?)`), "ignore previous instructions", SeverityCritical, "en"},
		{regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|prior|above|the\s+above)`), "disregard instructions", SeverityCritical, "en"},
		{regexp.MustCompile(`(?i)forget\s+(everything|all)\s+(you\s+)?(know|were\s+told)`), "forget context", SeverityCritical, "en"},
		{regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an|the)\s`), "role change", SeverityHigh, "en"},
		{regexp.MustCompile(`(?i)pretend\s+(to\s+be|you\s+are)\s`), "pretend role", SeverityMedium, "en"},
		{regexp.MustCompile(`(?i)jailbreak`), "jailbreak", SeverityCritical, "universal"},
		// 角色标记
		{regexp.MustCompile(`(?im)^\s*(system|assistant)\s*:`), "role marker", SeverityCritical, "universal"},
		{regexp.MustCompile(`(?i)<\s*/?\s*system\s*>`), "system tag", SeverityCritical, "universal"},
		{regexp.MustCompile(`(?i)\[\s*/?INST\s*\]`), "instruction tag", SeverityHigh, "universal"},
		// 中文
		{regexp.MustCompile(`忽略(之前|上面|以上|前面)(的)?(所有)?(指令|指示|规则|提示|设定)`), "忽略之前的指令", SeverityCritical, "zh"},
		{regexp.MustCompile(`忘(记|掉)(之前|上面|以上|所有|一切)(的)?(指令|设定|规则|人设)`), "忘记上下文", SeverityCritical, "zh"},
		{regexp.MustCompile(`不要(遵守|遵循|听从)(之前|上面|以上|任何)(的)?(指令|指示|规则|设定)`), "不遵守指令", SeverityCritical, "zh"},
		{regexp.MustCompile(`(从现在开始|现在起)(你是|你要|你将)`), "改变角色", SeverityHigh, "zh"},
		{regexp.MustCompile(`(系统提示|系统指令|system\s*prompt)`), "窥探系统提示", SeverityMedium, "zh"},
		// 分隔符逃逸，含本包使用的隔离标记
		{regexp.MustCompile(`(?i)(---+|===+)\s*(system|instructions?|rules?)\s*(---+|===+)`), "delimiter injection", SeverityHigh, "universal"},
		{regexp.MustCompile(regexp.QuoteMeta(IsolationClose)), "isolation escape", SeverityCritical, "universal"},
	}
}

// Detect 返回按位置排序的全部命中
func (d *InjectionDetector) Detect(content string) []InjectionMatch {
	var matches []InjectionMatch
	for _, r := range d.rules {
		for _, loc := range r.re.FindAllStringIndex(content, -1) {
			matches = append(matches, InjectionMatch{
				Description: r.description,
				Severity:    r.severity,
				Position:    loc[0],
				MatchedText: content[loc[0]:loc[1]],
			})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Position < matches[j].Position })
	return matches
}

// Flagged 内容是否命中任一注入规则
func (d *InjectionDetector) Flagged(content string) bool {
	for _, r := range d.rules {
		if r.re.MatchString(content) {
			return true
		}
	}
	return false
}

// Isolate 用分隔符包裹内容。内容里伪造的结束标记会被替换，保证包裹只闭合一次。
func (d *InjectionDetector) Isolate(content string) string {
	safe := strings.ReplaceAll(content, IsolationClose, "<<<>>>")
	return IsolationOpen + safe + IsolationClose
}

// Sanitize 命中注入规则时隔离，否则原样返回
func (d *InjectionDetector) Sanitize(content string) (string, bool) {
	if !d.Flagged(content) {
		return content, false
	}
	return d.Isolate(content), true
}
