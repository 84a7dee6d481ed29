// Package engine 是回复流程的入口：对新消息逐个 AI 成员做触发判定，
// 为触发的成员组装上下文、生成回复、做一致性检查并写回消息日志。
//
// 多个成员被同一条消息触发时各自独立运行，只共享同一份只读窗口快照；
// 追加顺序由消息日志按群串行化。生成调用期间不持有任何锁。
package engine

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/aigroupchat/agent/consistency"
	"github.com/BaSui01/aigroupchat/agent/guardrails"
	"github.com/BaSui01/aigroupchat/agent/partition"
	"github.com/BaSui01/aigroupchat/agent/prompt"
	"github.com/BaSui01/aigroupchat/agent/relevance"
	"github.com/BaSui01/aigroupchat/config"
	"github.com/BaSui01/aigroupchat/internal/metrics"
	"github.com/BaSui01/aigroupchat/llm/gateway"
	"github.com/BaSui01/aigroupchat/store"
	"github.com/BaSui01/aigroupchat/types"
)

// Request 一次判定与回复请求
type Request struct {
	GroupID   int64
	MessageID int64
	// MemberID 为空时评估群内全部 AI 成员
	MemberID *int64
	// ForceTrigger 跳过相关性门槛（不会对成员自己的消息生效）
	ForceTrigger bool
}

// Outcome 一条消息的处理结果，Results 按成员 ID 升序
type Outcome struct {
	GroupID   int64                  `json:"group_id"`
	MessageID int64                  `json:"message_id"`
	// Mentioned 触发消息里被 @ 的 AI 成员 ID，按点名顺序
	Mentioned []int64                `json:"mentioned,omitempty"`
	Results   []types.ResponseResult `json:"results"`
}

// Triggered 是否有成员被触发
func (o *Outcome) Triggered() bool {
	for _, r := range o.Results {
		if r.Triggered {
			return true
		}
	}
	return false
}

// Messages 本次写入的回复（按结果顺序）
func (o *Outcome) Messages() []types.Message {
	var out []types.Message
	for _, r := range o.Results {
		if r.Message != nil {
			out = append(out, *r.Message)
		}
	}
	return out
}

// Engine 回复引擎
type Engine struct {
	cfg         config.EngineConfig
	registry    store.Registry
	log         store.MessageLog
	partitioner *partition.Partitioner
	detector    *relevance.Detector
	composer    *prompt.Composer
	gen         gateway.Generator
	guard       *consistency.Guard
	filters     []guardrails.Filter
	metrics     *metrics.Collector
	logger      *zap.Logger
	now         func() time.Time

	random  relevance.RandomSource
	history consistency.HistoryStore
}

// Option 引擎选项
type Option func(*Engine)

// WithLogger 设置日志
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics 设置指标收集器
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = c }
}

// WithRandom 自发参与的随机源
func WithRandom(r relevance.RandomSource) Option {
	return func(e *Engine) { e.random = r }
}

// WithHistory 一致性检查的历史存储，默认内存
func WithHistory(h consistency.HistoryStore) Option {
	return func(e *Engine) { e.history = h }
}

// WithClock 设置时钟
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New 创建回复引擎
func New(cfg config.EngineConfig, registry store.Registry, log store.MessageLog, gen gateway.Generator, opts ...Option) *Engine {
	e := &Engine{
		cfg:      cfg,
		registry: registry,
		log:      log,
		gen:      gen,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cfg.MaxReplyRunes <= 0 {
		e.cfg.MaxReplyRunes = guardrails.DefaultMaxReplyRunes
	}
	if e.cfg.WindowSize <= 0 {
		e.cfg.WindowSize = config.DefaultEngineConfig().WindowSize
	}
	if e.history == nil {
		e.history = consistency.NewMemoryHistory(cfg.HistorySize)
	}

	detectorOpts := []relevance.Option{relevance.WithLogger(e.logger), relevance.WithMetrics(e.metrics)}
	if e.random != nil {
		detectorOpts = append(detectorOpts, relevance.WithRandom(e.random))
	}

	e.filters = []guardrails.Filter{
		guardrails.NewLeakageFilter(guardrails.DefaultLeakageConfig()),
		guardrails.NewFormatFilter(e.cfg.MaxReplyRunes),
	}
	e.partitioner = partition.New(registry, log, e.logger)
	e.detector = relevance.NewDetector(detectorConfig(e.cfg), detectorOpts...)
	e.composer = prompt.NewComposer(prompt.WithMaxReplyRunes(e.cfg.MaxReplyRunes))
	e.guard = consistency.NewGuard(guardConfig(e.cfg), e.history, gen,
		consistency.WithMessageLog(log),
		consistency.WithFilters(e.filters...),
		consistency.WithLogger(e.logger),
		consistency.WithMetrics(e.metrics),
	)
	e.logger = e.logger.With(zap.String("component", "engine"))
	return e
}

func detectorConfig(c config.EngineConfig) relevance.Config {
	return relevance.Config{
		Threshold:              c.TriggerThreshold,
		MentionScore:           c.MentionScore,
		BareNameScore:          c.BareNameScore,
		TopicWeight:            c.TopicWeight,
		ContinuityWeight:       c.ContinuityWeight,
		RoleWeight:             c.RoleWeight,
		RoleCues:               relevance.DefaultRoleCues(),
		OrganicBaseProbability: c.OrganicBaseProbability,
	}
}

func guardConfig(c config.EngineConfig) consistency.Config {
	cfg := consistency.DefaultConfig()
	cfg.DriftThreshold = c.DriftThreshold
	cfg.MinHistory = c.MinHistory
	cfg.CorrectionTemperature = c.CorrectionTemperature
	cfg.StrictMode = c.StrictConsistency
	if c.HistorySize > 0 {
		cfg.HistorySize = c.HistorySize
	}
	if c.MaxTokens > 0 {
		cfg.MaxTokens = c.MaxTokens
	}
	return cfg
}

// =============================================================================
// 入口
// =============================================================================

// DecideAndRespond 判定并回复。
// 指定 MemberID 时只评估该成员，流水线失败直接返回错误；
// 否则评估群内全部 AI 成员，各成员的失败记录在对应结果的 Err 上。
// 未触发不是错误，结果里 Triggered=false 并带有原因。
func (e *Engine) DecideAndRespond(ctx context.Context, req Request) (*Outcome, error) {
	if req.GroupID <= 0 || req.MessageID <= 0 {
		return nil, types.NewInvalidRequestError("group id and message id are required")
	}

	trigger, err := e.log.Get(ctx, req.GroupID, req.MessageID)
	if err != nil {
		return nil, err
	}
	members, err := e.registry.ListMembers(ctx, req.GroupID)
	if err != nil {
		return nil, err
	}
	candidates, err := e.candidates(ctx, req, members)
	if err != nil {
		return nil, err
	}

	// 判定窗口严格早于触发消息；提示词窗口在其后补上触发消息
	preceding, err := e.log.Before(ctx, req.GroupID, req.MessageID, e.cfg.WindowSize)
	if err != nil {
		return nil, err
	}
	promptWindow := append(preceding[:len(preceding):len(preceding)], *trigger)
	if len(promptWindow) > e.cfg.WindowSize {
		promptWindow = promptWindow[len(promptWindow)-e.cfg.WindowSize:]
	}

	inputs := make([]relevance.Input, len(candidates))
	for i, cand := range candidates {
		pc, err := partition.Split(cand, members, preceding, e.logger)
		if err != nil {
			return nil, err
		}
		inputs[i] = relevance.Input{
			Message:   *trigger,
			Candidate: cand,
			Preceding: pc,
			Force:     req.ForceTrigger && (req.MemberID != nil || cand.ID != trigger.SenderID),
		}
	}
	decisions, err := e.detector.DetectAll(ctx, inputs)
	if err != nil {
		return nil, err
	}

	out := &Outcome{
		GroupID:   req.GroupID,
		MessageID: req.MessageID,
		Results:   make([]types.ResponseResult, len(candidates)),
	}
	for _, m := range e.detector.Mentions(trigger.Body, members) {
		out.Mentioned = append(out.Mentioned, m.ID)
	}

	var g errgroup.Group
	if e.cfg.MaxConcurrentResponses > 0 {
		g.SetLimit(e.cfg.MaxConcurrentResponses)
	}
	for i, cand := range candidates {
		d := decisions[i]
		out.Results[i] = types.ResponseResult{
			MemberID:  cand.ID,
			Triggered: d.Triggered,
			Decision:  d,
			Reasons:   d.Reasons(),
		}
		if !d.Triggered {
			continue
		}
		g.Go(func() error {
			res := &out.Results[i]
			resp, err := e.respond(ctx, pipeline{
				trigger:  *trigger,
				member:   cand,
				members:  members,
				window:   promptWindow,
				decision: d,
			})
			if err != nil {
				res.Err = err
				res.Error = err.Error()
				return nil
			}
			res.Message = resp.message
			res.Verdict = &resp.verdict
			res.Regenerated = resp.regenerated
			return nil
		})
	}
	_ = g.Wait()

	if req.MemberID != nil {
		if err := out.Results[0].Err; err != nil {
			return nil, err
		}
	}

	e.logger.Info("message processed",
		zap.Int64("group_id", req.GroupID),
		zap.Int64("message_id", req.MessageID),
		zap.Int("candidates", len(candidates)),
		zap.Int64s("mentioned", out.Mentioned),
		zap.Int("replies", len(out.Messages())),
	)
	return out, nil
}

// candidates 返回参与判定的 AI 成员
func (e *Engine) candidates(ctx context.Context, req Request, members []types.Member) ([]types.Member, error) {
	if req.MemberID != nil {
		m, err := e.registry.GetMember(ctx, *req.MemberID)
		if err != nil {
			return nil, err
		}
		if m.GroupID != req.GroupID {
			return nil, types.NewInvalidRequestError("member %d is not in group %d", m.ID, req.GroupID)
		}
		if !m.IsAI() {
			return nil, types.NewInvalidRequestError("member %d is not an AI member", m.ID)
		}
		return []types.Member{*m}, nil
	}
	var out []types.Member
	for _, m := range members {
		if m.IsAI() {
			out = append(out, m)
		}
	}
	return out, nil
}

// RespondToMessage 让群内全部 AI 成员对一条消息做判定与回复
func (e *Engine) RespondToMessage(ctx context.Context, groupID, messageID int64) (*Outcome, error) {
	return e.DecideAndRespond(ctx, Request{GroupID: groupID, MessageID: messageID})
}

// PostAndRespond 写入一条成员消息并触发回复
func (e *Engine) PostAndRespond(ctx context.Context, groupID, senderID int64, body string) (*types.Message, *Outcome, error) {
	sender, err := e.registry.GetMember(ctx, senderID)
	if err != nil {
		return nil, nil, err
	}
	if sender.GroupID != groupID {
		return nil, nil, types.NewInvalidRequestError("member %d is not in group %d", senderID, groupID)
	}
	msg, err := e.log.Append(ctx, groupID, senderID, body, types.KindText)
	if err != nil {
		return nil, nil, err
	}
	out, err := e.RespondToMessage(ctx, groupID, msg.ID)
	if err != nil {
		return msg, nil, err
	}
	return msg, out, nil
}

// GetMemberProfile 返回 AI 成员的人设摘要
func (e *Engine) GetMemberProfile(ctx context.Context, memberID int64) (*types.MemberProfile, error) {
	m, err := e.registry.GetMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if !m.IsAI() {
		return nil, types.NewInvalidRequestError("member %d is not an AI member", memberID)
	}
	p := m.Profile()
	return &p, nil
}

// Context 返回成员视角下最近窗口的分区结果
func (e *Engine) Context(ctx context.Context, groupID, memberID int64) (*partition.Context, error) {
	return e.partitioner.Partition(ctx, memberID, groupID, e.cfg.WindowSize)
}
