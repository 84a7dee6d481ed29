// Package relevance 判断一条新消息是否应触发某个 AI 成员回复。
//
// 信号按权重累加为 [0,1] 的分数：直接点名视为强制触发；话题相关、角色相关与
// 回复连续性为中等信号；没有任何触发时按成员 chattiness 以小概率自发参与。
// 成员自己发出的消息永远不会触发自己。
package relevance

import (
	"context"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/aigroupchat/agent/lexicon"
	"github.com/BaSui01/aigroupchat/agent/partition"
	"github.com/BaSui01/aigroupchat/internal/metrics"
	"github.com/BaSui01/aigroupchat/types"
)

// Config 判定参数
type Config struct {
	Threshold              float64
	MentionScore           float64 // @昵称
	BareNameScore          float64 // 裸昵称
	TopicWeight            float64
	ContinuityWeight       float64
	RoleWeight             float64
	RoleCues               []RoleCue
	OrganicBaseProbability float64
	// TopicSaturation 命中多少个人设词项即视为话题信号饱和
	TopicSaturation int
}

// DefaultConfig 默认判定参数
func DefaultConfig() Config {
	return Config{
		Threshold:              0.5,
		MentionScore:           1.0,
		BareNameScore:          0.8,
		TopicWeight:            0.75,
		ContinuityWeight:       0.4,
		RoleWeight:             0.3,
		RoleCues:               DefaultRoleCues(),
		OrganicBaseProbability: 0.15,
		TopicSaturation:        3,
	}
}

// RoleCue 消息含 Keyword 且成员性格含 Trait 时，视为在找这类角色说话
type RoleCue struct {
	Keyword string
	Trait   string
}

// DefaultRoleCues 默认角色线索
func DefaultRoleCues() []RoleCue {
	return []RoleCue{
		{Keyword: "问题", Trait: "专家"},
		{Keyword: "辩论", Trait: "批判"},
		{Keyword: "建议", Trait: "指导"},
	}
}

// RandomSource 自发参与所用的随机源
type RandomSource interface {
	Float64() float64
}

// lockedRand 并发安全的随机源
type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

// NewSeededSource 返回固定种子的并发安全随机源
func NewSeededSource(seed int64) RandomSource {
	return &lockedRand{r: rand.New(rand.NewSource(seed))}
}

// Input 一次判定的输入。Preceding 是候选成员视角下、严格早于 Message 的窗口。
type Input struct {
	Message   types.Message
	Candidate types.Member
	Preceding *partition.Context
	Force     bool
}

// Detector 相关性判定器
type Detector struct {
	cfg      Config
	mentions MentionParser
	random   RandomSource
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// Option 判定器选项
type Option func(*Detector)

// WithRandom 注入随机源
func WithRandom(r RandomSource) Option {
	return func(d *Detector) { d.random = r }
}

// WithLogger 注入日志
func WithLogger(l *zap.Logger) Option {
	return func(d *Detector) { d.logger = l }
}

// WithMetrics 注入指标
func WithMetrics(c *metrics.Collector) Option {
	return func(d *Detector) { d.metrics = c }
}

// NewDetector 创建判定器
func NewDetector(cfg Config, opts ...Option) *Detector {
	if cfg.TopicSaturation <= 0 {
		cfg.TopicSaturation = 3
	}
	d := &Detector{
		cfg:    cfg,
		random: NewSeededSource(time.Now().UnixNano()),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With(zap.String("component", "relevance"))
	return d
}

// Mentions 返回消息中被 @ 的 AI 成员：先按句柄顺序，再补上昵称含空格等
// 无法作为句柄解析、只能按字面 "@昵称" 命中的成员
func (d *Detector) Mentions(body string, members []types.Member) []types.Member {
	out := d.mentions.Resolve(d.mentions.Extract(body), members)
	for _, m := range members {
		if !m.IsAI() || isHandleName(m.DisplayName) || containsMember(out, m.ID) {
			continue
		}
		if d.mentions.Mentions(body, m.DisplayName) {
			out = append(out, m)
		}
	}
	return out
}

func containsMember(ms []types.Member, id int64) bool {
	for _, m := range ms {
		if m.ID == id {
			return true
		}
	}
	return false
}

// Detect 对单个 (消息, 候选成员) 做判定。
// 没有信号不是错误，而是 score=0 的负判定。
func (d *Detector) Detect(in Input) (types.RelevanceDecision, error) {
	msg, cand := in.Message, in.Candidate
	decision := types.RelevanceDecision{MemberID: cand.ID, MessageID: msg.ID}

	if !cand.IsAI() {
		return decision, types.NewInvalidRequestError("member %d is not an AI member", cand.ID)
	}
	if msg.GroupID != cand.GroupID {
		return decision, types.NewInvalidRequestError("member %d is not in group %d", cand.ID, msg.GroupID)
	}

	if msg.SenderID == cand.ID {
		if in.Force {
			err := types.NewInvariantError("force trigger of member %d on its own message %d", cand.ID, msg.ID)
			d.logger.DPanic("self trigger requested", zap.Error(err))
			return decision, err
		}
		decision.Reason = types.ReasonSelfMessage
		d.metrics.RecordDecision(string(decision.Reason), false, 0)
		return decision, nil
	}

	var (
		signals   []types.Signal
		evidence  []int64
		mentioned bool
	)
	add := func(reason types.Reason, value, weight float64, ids ...int64) {
		signals = append(signals, types.Signal{
			Reason:       reason,
			Value:        value,
			Weight:       weight,
			Contribution: value * weight,
		})
		evidence = append(evidence, ids...)
	}

	// 直接点名
	switch {
	case d.mentions.Mentions(msg.Body, cand.DisplayName):
		mentioned = true
		add(types.ReasonDirectMention, d.cfg.MentionScore, 1, msg.ID)
	case containsBareName(msg.Body, cand.DisplayName):
		mentioned = true
		add(types.ReasonDirectMention, d.cfg.BareNameScore, 1, msg.ID)
	}

	// 话题相关
	if terms := lexicon.Terms(cand.Personality + " " + cand.InitialStance); len(terms) > 0 {
		if matched := lexicon.Matches(msg.Body, terms); len(matched) > 0 {
			denom := len(terms)
			if denom > d.cfg.TopicSaturation {
				denom = d.cfg.TopicSaturation
			}
			value := math.Min(1, float64(len(matched))/float64(denom))
			add(types.ReasonTopicAligned, value, d.cfg.TopicWeight, msg.ID)
		}
	}

	// 角色相关
	if d.cfg.RoleWeight > 0 {
		if cue, ok := matchRole(msg.Body, cand.Personality, d.cfg.RoleCues); ok {
			d.logger.Debug("role cue matched", zap.Int64("member_id", cand.ID), zap.String("keyword", cue.Keyword))
			add(types.ReasonRoleAligned, 1, d.cfg.RoleWeight, msg.ID)
		}
	}

	// 回复连续性：紧接在候选成员的发言之后
	if in.Preceding != nil {
		if last := in.Preceding.Last(); last != nil && last.Origin == partition.OriginSelf {
			add(types.ReasonReplyContinuity, 1, d.cfg.ContinuityWeight, last.Message.ID)
		}
	}

	score := 0.0
	for _, s := range signals {
		score += s.Contribution
	}
	score = clamp01(score)

	decision.Score = score
	decision.Signals = signals
	decision.EvidenceIDs = evidence

	switch {
	case in.Force:
		decision.Triggered = true
		decision.Reason = types.ReasonForced
	case mentioned:
		decision.Triggered = true
		decision.Reason = types.ReasonDirectMention
	case score >= d.cfg.Threshold:
		decision.Triggered = true
		decision.Reason = strongest(signals)
	default:
		p := d.cfg.OrganicBaseProbability * clamp01(cand.Chattiness)
		if p > 0 && d.random.Float64() < p {
			decision.Triggered = true
			decision.Reason = types.ReasonOrganic
			decision.Signals = append(decision.Signals, types.Signal{Reason: types.ReasonOrganic, Value: p, Weight: 0})
		} else {
			decision.Reason = types.ReasonNotRelevant
		}
	}

	d.metrics.RecordDecision(string(decision.Reason), decision.Triggered, decision.Score)
	d.logger.Debug("relevance decided",
		zap.Int64("member_id", cand.ID),
		zap.Int64("message_id", msg.ID),
		zap.Bool("triggered", decision.Triggered),
		zap.Float64("score", decision.Score),
		zap.String("reason", string(decision.Reason)),
	)
	return decision, nil
}

// DetectAll 并发判定多个候选成员，结果与 inputs 一一对应
func (d *Detector) DetectAll(ctx context.Context, inputs []Input) ([]types.RelevanceDecision, error) {
	out := make([]types.RelevanceDecision, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	for i := range inputs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			dec, err := d.Detect(inputs[i])
			if err != nil {
				return err
			}
			out[i] = dec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// matchRole 返回第一条命中的角色线索
func matchRole(body, personality string, cues []RoleCue) (RoleCue, bool) {
	if strings.TrimSpace(personality) == "" {
		return RoleCue{}, false
	}
	b, p := strings.ToLower(body), strings.ToLower(personality)
	for _, c := range cues {
		if c.Keyword == "" || c.Trait == "" {
			continue
		}
		if strings.Contains(b, strings.ToLower(c.Keyword)) && strings.Contains(p, strings.ToLower(c.Trait)) {
			return c, true
		}
	}
	return RoleCue{}, false
}

// strongest 贡献最大的信号原因，同分取先出现者
func strongest(signals []types.Signal) types.Reason {
	best := types.ReasonNotRelevant
	bestScore := -1.0
	for _, s := range signals {
		if s.Contribution > bestScore {
			best, bestScore = s.Reason, s.Contribution
		}
	}
	return best
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
