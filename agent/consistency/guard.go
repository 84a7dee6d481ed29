// Package consistency 检查 AI 回复是否偏离成员的人设与既有发言。
//
// 综合分 = 0.4·性格覆盖 + 0.3·立场覆盖 + 0.3·与近期发言的平均相似度。
// 低于阈值时以强化人设的提示词重新生成一次，重生成结果直接采纳。
// 历史不足 MinHistory 条时跳过检查。
package consistency

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/aigroupchat/agent/guardrails"
	"github.com/BaSui01/aigroupchat/agent/lexicon"
	"github.com/BaSui01/aigroupchat/agent/prompt"
	"github.com/BaSui01/aigroupchat/internal/metrics"
	"github.com/BaSui01/aigroupchat/llm/gateway"
	"github.com/BaSui01/aigroupchat/store"
	"github.com/BaSui01/aigroupchat/types"
)

// Weights 综合分各项权重
type Weights struct {
	Personality float64
	Stance      float64
	Similarity  float64
}

// Config 检查参数
type Config struct {
	DriftThreshold        float64
	MinHistory            int
	HistorySize           int
	CorrectionTemperature float64
	MaxTokens             int
	// StrictMode 重生成后仍偏离时返回 DRIFT_DETECTED
	StrictMode bool
	Weights    Weights
}

// DefaultConfig 默认检查参数
func DefaultConfig() Config {
	return Config{
		DriftThreshold:        0.5,
		MinHistory:            3,
		HistorySize:           DefaultHistorySize,
		CorrectionTemperature: 0.6,
		MaxTokens:             300,
		Weights:               Weights{Personality: 0.4, Stance: 0.3, Similarity: 0.3},
	}
}

// reinforceRecent 纠偏提示词里引用的近期发言条数
const reinforceRecent = 2

// Guard 一致性守卫
type Guard struct {
	cfg        Config
	history    HistoryStore
	gen        gateway.Generator
	log        store.MessageLog
	coverage   lexicon.Scorer
	similarity lexicon.Scorer
	filters    []guardrails.Filter
	metrics    *metrics.Collector
	logger     *zap.Logger

	// seeded 已从消息日志回填过历史的成员
	seeded sync.Map
}

// Option 守卫选项
type Option func(*Guard)

// WithMessageLog 历史为空时从消息日志回填
func WithMessageLog(l store.MessageLog) Option {
	return func(g *Guard) { g.log = l }
}

// WithScorers 替换覆盖度与相似度评分策略
func WithScorers(coverage, similarity lexicon.Scorer) Option {
	return func(g *Guard) {
		if coverage != nil {
			g.coverage = coverage
		}
		if similarity != nil {
			g.similarity = similarity
		}
	}
}

// WithFilters 重生成结果需经过的过滤器
func WithFilters(filters ...guardrails.Filter) Option {
	return func(g *Guard) { g.filters = filters }
}

// WithLogger 设置日志
func WithLogger(l *zap.Logger) Option {
	return func(g *Guard) { g.logger = l }
}

// WithMetrics 设置指标收集器
func WithMetrics(c *metrics.Collector) Option {
	return func(g *Guard) { g.metrics = c }
}

// NewGuard 创建一致性守卫
func NewGuard(cfg Config, history HistoryStore, gen gateway.Generator, opts ...Option) *Guard {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultConfig().Weights
	}
	if history == nil {
		history = NewMemoryHistory(cfg.HistorySize)
	}
	g := &Guard{
		cfg:        cfg,
		history:    history,
		gen:        gen,
		coverage:   lexicon.TermCoverage{},
		similarity: lexicon.JaccardScorer{},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With(zap.String("component", "consistency_guard"))
	return g
}

// Review 一次审查的输入
type Review struct {
	Member types.Member
	// Prompt 生成草稿所用的提示词，纠偏时在其后追加人设强化
	Prompt  string
	Draft   string
	TraceID string
}

// Outcome 审查结果
type Outcome struct {
	Text    string
	Verdict types.ConsistencyVerdict
	// Regenerated 最终文本来自纠偏重生成
	Regenerated bool
	// Corrected 重生成文本的评分，仅在 Regenerated 时有值
	Corrected *types.ConsistencyVerdict
}

// Check 对草稿评分，不触发重生成
func (g *Guard) Check(ctx context.Context, member types.Member, draft string) types.ConsistencyVerdict {
	v, _ := g.check(ctx, member, draft)
	return v
}

func (g *Guard) check(ctx context.Context, member types.Member, draft string) (types.ConsistencyVerdict, []string) {
	history := g.load(ctx, member)
	if len(history) < g.cfg.MinHistory {
		g.metrics.RecordConsistencyCheck("skipped", 0)
		return types.ConsistencyVerdict{Accepted: true, Skipped: true}, history
	}
	v := g.score(member, draft, history)
	outcome := "accepted"
	if !v.Accepted {
		outcome = "drift"
	}
	g.metrics.RecordConsistencyCheck(outcome, v.OverallScore)
	return v, history
}

func (g *Guard) score(member types.Member, text string, history []string) types.ConsistencyVerdict {
	w := g.cfg.Weights
	p := g.coverage.Score(text, member.Personality)
	s := g.coverage.Score(text, member.InitialStance)
	sim := lexicon.MeanScore(g.similarity, text, history)
	overall := w.Personality*p + w.Stance*s + w.Similarity*sim
	return types.ConsistencyVerdict{
		Accepted:         overall >= g.cfg.DriftThreshold,
		PersonalityScore: p,
		StanceScore:      s,
		SimilarityScore:  sim,
		OverallScore:     overall,
	}
}

// Review 审查草稿，偏离时重生成一次。
// 重生成失败保留原草稿；严格模式下重生成仍偏离返回 DRIFT_DETECTED。
func (g *Guard) Review(ctx context.Context, r Review) (*Outcome, error) {
	verdict, history := g.check(ctx, r.Member, r.Draft)
	out := &Outcome{Text: r.Draft, Verdict: verdict}
	if verdict.Accepted {
		return out, nil
	}

	logger := g.logger.With(
		zap.Int64("member_id", r.Member.ID),
		zap.Float64("overall", verdict.OverallScore),
		zap.String("trace_id", r.TraceID),
	)
	logger.Info("draft drifted from persona, regenerating")

	if g.gen == nil {
		g.metrics.RecordRegeneration("failed")
		return out, nil
	}
	recent := history
	if len(recent) > reinforceRecent {
		recent = recent[len(recent)-reinforceRecent:]
	}
	res, err := g.gen.Generate(ctx, gateway.Request{
		ModelReference: r.Member.ModelReference,
		Prompt:         prompt.Reinforce(r.Prompt, r.Member, recent),
		MaxTokens:      g.cfg.MaxTokens,
		Temperature:    g.cfg.CorrectionTemperature,
		TraceID:        r.TraceID,
	})
	var text string
	if err == nil {
		text, err = guardrails.Apply(res.Text, g.filters...)
	}
	if err != nil {
		g.metrics.RecordRegeneration("failed")
		logger.Warn("regeneration failed, keeping draft", zap.Error(err))
		return out, nil
	}

	corrected := g.score(r.Member, text, history)
	if !corrected.Accepted {
		g.metrics.RecordRegeneration("drift_persisted")
		if g.cfg.StrictMode {
			return nil, types.Errorf(types.ErrDriftDetected,
				"member %d reply still drifts after regeneration (%.2f)", r.Member.ID, corrected.OverallScore)
		}
		logger.Info("regenerated reply still below threshold, accepting",
			zap.Float64("corrected", corrected.OverallScore))
	} else {
		g.metrics.RecordRegeneration("success")
	}
	out.Text = text
	out.Regenerated = true
	out.Corrected = &corrected
	return out, nil
}

// Record 将已写入消息日志的回复追加到成员历史
func (g *Guard) Record(ctx context.Context, memberID int64, text string) error {
	return g.history.Push(ctx, memberID, text)
}

// History 返回成员近期发言（旧 → 新）
func (g *Guard) History(ctx context.Context, member types.Member) []string {
	return g.load(ctx, member)
}

// load 读取历史；为空且未回填过时从消息日志回填。读取失败按无历史处理。
func (g *Guard) load(ctx context.Context, member types.Member) []string {
	lines, err := g.history.Recent(ctx, member.ID, g.cfg.HistorySize)
	if err != nil {
		g.logger.Warn("history read failed", zap.Int64("member_id", member.ID), zap.Error(err))
		return nil
	}
	if len(lines) > 0 || g.log == nil {
		return lines
	}
	if _, done := g.seeded.LoadOrStore(member.ID, struct{}{}); done {
		return lines
	}

	msgs, err := g.log.RecentByMember(ctx, member.GroupID, member.ID, g.cfg.HistorySize)
	if err != nil {
		g.seeded.Delete(member.ID)
		g.logger.Warn("history seed failed", zap.Int64("member_id", member.ID), zap.Error(err))
		return nil
	}
	for _, m := range msgs {
		if m.Kind != types.KindText {
			continue
		}
		if err := g.history.Push(ctx, member.ID, m.Body); err != nil {
			g.logger.Warn("history seed push failed", zap.Int64("member_id", member.ID), zap.Error(err))
			break
		}
		lines = append(lines, m.Body)
	}
	if n := len(lines); n > g.cfg.HistorySize {
		lines = lines[n-g.cfg.HistorySize:]
	}
	return lines
}
