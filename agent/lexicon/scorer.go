package lexicon

// Scorer 文本与参照文本之间的一致性评分策略，返回 [0,1]。
// 关键词覆盖是默认实现，可替换为基于向量的语义相似度。
type Scorer interface {
	Score(text, reference string) float64
}

// ScorerFunc 函数适配器
type ScorerFunc func(text, reference string) float64

// Score implements Scorer.
func (f ScorerFunc) Score(text, reference string) float64 {
	return f(text, reference)
}

// NeutralScore 参照文本没有可用词项时的中性分
const NeutralScore = 0.5

// TermCoverage 参照文本的词项有多少出现在待评文本中
type TermCoverage struct{}

// Score implements Scorer.
func (TermCoverage) Score(text, reference string) float64 {
	terms := Terms(reference)
	if len(terms) == 0 {
		return NeutralScore
	}
	return float64(len(Matches(text, terms))) / float64(len(terms))
}

// JaccardScorer 两段文本的词项集合 Jaccard 相似度
type JaccardScorer struct{}

// Score implements Scorer.
func (JaccardScorer) Score(text, reference string) float64 {
	return Jaccard(TermSet(text), TermSet(reference))
}

// MeanScore 对一组参照文本取平均分，参照为空时返回 0
func MeanScore(s Scorer, text string, references []string) float64 {
	if len(references) == 0 {
		return 0
	}
	total := 0.0
	for _, ref := range references {
		total += s.Score(text, ref)
	}
	return total / float64(len(references))
}
