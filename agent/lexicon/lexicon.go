// Package lexicon 提供人设关键词抽取与文本相似度评分。
//
// 中文没有空格分词，对连续汉字取二元组（bigram）作为词项；
// 拉丁字母与数字按非字母数字字符切分并转小写。
package lexicon

import (
	"strings"
	"unicode"
)

// 英文停用词
var englishStopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "but": {}, "of": {}, "to": {},
	"in": {}, "on": {}, "at": {}, "by": {}, "for": {}, "with": {}, "from": {}, "as": {},
	"is": {}, "are": {}, "was": {}, "were": {}, "be": {}, "been": {}, "am": {},
	"i": {}, "you": {}, "he": {}, "she": {}, "it": {}, "we": {}, "they": {}, "me": {},
	"my": {}, "your": {}, "our": {}, "its": {}, "this": {}, "that": {}, "these": {},
	"those": {}, "what": {}, "which": {}, "who": {}, "do": {}, "does": {}, "did": {},
	"not": {}, "no": {}, "so": {}, "if": {}, "then": {}, "than": {}, "too": {},
	"very": {}, "can": {}, "will": {}, "just": {}, "about": {}, "think": {},
}

// 中文虚词，含这些字的二元组不计入词项
var hanStopRunes = map[rune]struct{}{
	'的': {}, '了': {}, '是': {}, '我': {}, '你': {}, '他': {}, '她': {}, '它': {},
	'在': {}, '和': {}, '也': {}, '就': {}, '都': {}, '吗': {}, '呢': {}, '吧': {},
	'啊': {}, '呀': {}, '着': {}, '过': {}, '把': {}, '被': {}, '这': {}, '那': {},
	'们': {}, '很': {}, '有': {}, '不': {}, '个': {}, '与': {}, '及': {},
}

// isHan 判断是否为汉字
func isHan(r rune) bool {
	return unicode.Is(unicode.Han, r)
}

// Tokenize 将文本切分为词项序列（保留重复，按出现顺序）。
func Tokenize(text string) []string {
	var (
		tokens []string
		word   strings.Builder
		han    []rune
	)

	flushWord := func() {
		if word.Len() == 0 {
			return
		}
		w := word.String()
		word.Reset()
		if len([]rune(w)) < 2 {
			return
		}
		if _, stop := englishStopwords[w]; stop {
			return
		}
		tokens = append(tokens, w)
	}
	flushHan := func() {
		if len(han) == 0 {
			return
		}
		if len(han) == 1 {
			if _, stop := hanStopRunes[han[0]]; !stop {
				tokens = append(tokens, string(han))
			}
			han = han[:0]
			return
		}
		for i := 0; i+1 < len(han); i++ {
			_, s1 := hanStopRunes[han[i]]
			_, s2 := hanStopRunes[han[i+1]]
			if s1 || s2 {
				continue
			}
			tokens = append(tokens, string(han[i:i+2]))
		}
		han = han[:0]
	}

	for _, r := range text {
		switch {
		case isHan(r):
			flushWord()
			han = append(han, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			flushHan()
			word.WriteRune(unicode.ToLower(r))
		default:
			flushWord()
			flushHan()
		}
	}
	flushWord()
	flushHan()
	return tokens
}

// Terms 返回去重后的词项，保持首次出现顺序
func Terms(text string) []string {
	tokens := Tokenize(text)
	seen := make(map[string]struct{}, len(tokens))
	out := tokens[:0]
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// TermSet 返回词项集合
func TermSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, t := range Tokenize(text) {
		set[t] = struct{}{}
	}
	return set
}

// Jaccard 计算两个词项集合的 Jaccard 相似度，两者皆空时为 0
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	inter := 0
	for t := range small {
		if _, ok := large[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// Matches 返回 terms 中出现在 text 词项集合里的词项（按 terms 顺序）
func Matches(text string, terms []string) []string {
	if len(terms) == 0 {
		return nil
	}
	set := TermSet(text)
	var out []string
	for _, t := range terms {
		if _, ok := set[t]; ok {
			out = append(out, t)
		}
	}
	return out
}
