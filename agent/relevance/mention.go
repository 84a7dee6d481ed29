package relevance

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/BaSui01/aigroupchat/types"
)

// mentionPattern @ 后跟汉字、字母、数字或下划线
var mentionPattern = regexp.MustCompile(`@([\p{Han}A-Za-z0-9_]+)`)

var handleName = regexp.MustCompile(`^[\p{Han}A-Za-z0-9_]+$`)

// isHandleName 昵称能否完整地作为 @ 句柄出现
func isHandleName(name string) bool { return handleName.MatchString(name) }

// MentionParser 解析消息中的 @ 点名
type MentionParser struct{}

// Extract 按出现顺序返回去重后的 @ 句柄（不含 @）
func (MentionParser) Extract(body string) []string {
	matches := mentionPattern.FindAllStringSubmatch(body, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		h := m[1]
		key := strings.ToLower(h)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, h)
	}
	return out
}

// Resolve 将句柄解析为 AI 成员，保持句柄顺序。
// 中文里点名后常紧跟正文（"@小艺你好"），所以句柄以昵称开头即视为命中；
// 昵称以字母数字结尾时要求其后不再是字母数字，避免 "@Bob2" 命中 "Bob"。
func (MentionParser) Resolve(handles []string, members []types.Member) []types.Member {
	var out []types.Member
	picked := make(map[int64]struct{})
	for _, h := range handles {
		for _, m := range members {
			if !m.IsAI() {
				continue
			}
			if _, ok := picked[m.ID]; ok {
				continue
			}
			if handleMatches(h, m.DisplayName) {
				picked[m.ID] = struct{}{}
				out = append(out, m)
				break
			}
		}
	}
	return out
}

// Mentions 消息是否 @ 了该昵称。
// 昵称含空格等句柄之外的字符时按字面 "@昵称" 匹配，同样要求右侧词边界。
func (p MentionParser) Mentions(body, name string) bool {
	if name == "" {
		return false
	}
	for _, h := range p.Extract(body) {
		if handleMatches(h, name) {
			return true
		}
	}
	if isHandleName(name) {
		return false
	}
	return containsBareName(body, "@"+name)
}

func handleMatches(handle, name string) bool {
	if name == "" {
		return false
	}
	h, n := strings.ToLower(handle), strings.ToLower(name)
	if !strings.HasPrefix(h, n) {
		return false
	}
	if len(h) == len(n) {
		return true
	}
	last, _ := utf8.DecodeLastRuneInString(n)
	if unicode.Is(unicode.Han, last) {
		return true
	}
	next, _ := utf8.DecodeRuneInString(h[len(n):])
	return unicode.Is(unicode.Han, next)
}

// containsBareName 消息正文中是否以独立词出现昵称（大小写不敏感）。
// 昵称首尾为汉字时不要求词边界。
func containsBareName(body, name string) bool {
	if name == "" {
		return false
	}
	b, n := strings.ToLower(body), strings.ToLower(name)
	first, _ := utf8.DecodeRuneInString(n)
	last, _ := utf8.DecodeLastRuneInString(n)

	for offset := 0; offset < len(b); {
		i := strings.Index(b[offset:], n)
		if i < 0 {
			return false
		}
		start := offset + i
		end := start + len(n)

		okLeft := unicode.Is(unicode.Han, first) || start == 0
		if !okLeft {
			prev, _ := utf8.DecodeLastRuneInString(b[:start])
			okLeft = !isWordRune(prev)
		}
		okRight := unicode.Is(unicode.Han, last) || end == len(b)
		if !okRight {
			next, _ := utf8.DecodeRuneInString(b[end:])
			okRight = !isWordRune(next)
		}
		if okLeft && okRight {
			return true
		}
		_, size := utf8.DecodeRuneInString(b[start:])
		offset = start + size
	}
	return false
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
