package guardrails

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/BaSui01/aigroupchat/types"
)

// DefaultMaxReplyRunes 群聊回复默认长度上限
const DefaultMaxReplyRunes = 200

// Ellipsis 截断后缀
const Ellipsis = "..."

// Filter 输出过滤器
type Filter interface {
	Name() string
	Filter(content string) (string, error)
}

var (
	boldPattern      = regexp.MustCompile(`\*{2,}`)
	headingPattern   = regexp.MustCompile(`(?m)^[ \t]*#+[ \t]*`)
	listPattern      = regexp.MustCompile(`(?m)^[ \t]*(?:[-*+•]|\d+[.)、])[ \t]+`)
	blankLinePattern = regexp.MustCompile(`\n{3,}`)
)

// FormatFilter 将模型回复整理为群聊纯文本
type FormatFilter struct {
	maxRunes int
}

// NewFormatFilter 创建格式过滤器，maxRunes<=0 时使用默认上限
func NewFormatFilter(maxRunes int) *FormatFilter {
	if maxRunes <= 0 {
		maxRunes = DefaultMaxReplyRunes
	}
	return &FormatFilter{maxRunes: maxRunes}
}

// Name implements Filter.
func (f *FormatFilter) Name() string { return "format_filter" }

// Filter 去除 Markdown 标记并截断。整理后为空视为无效回复。
func (f *FormatFilter) Filter(content string) (string, error) {
	out := strings.ReplaceAll(content, "\r\n", "\n")
	out = boldPattern.ReplaceAllString(out, "")
	out = headingPattern.ReplaceAllString(out, "")
	out = listPattern.ReplaceAllString(out, "")
	out = blankLinePattern.ReplaceAllString(out, "\n\n")
	out = strings.TrimSpace(out)

	if out == "" {
		return "", types.NewError(types.ErrInvalidResponse, "reply is empty after formatting")
	}
	if utf8.RuneCountInString(out) > f.maxRunes {
		runes := []rune(out)
		out = strings.TrimRightFunc(string(runes[:f.maxRunes]), func(r rune) bool { return r == ' ' || r == '\n' }) + Ellipsis
	}
	return out, nil
}

// Apply 依次执行过滤器
func Apply(content string, filters ...Filter) (string, error) {
	var err error
	for _, f := range filters {
		if content, err = f.Filter(content); err != nil {
			return "", err
		}
	}
	return content, nil
}
