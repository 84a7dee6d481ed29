package engine

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/aigroupchat/agent/consistency"
	"github.com/BaSui01/aigroupchat/agent/guardrails"
	"github.com/BaSui01/aigroupchat/agent/partition"
	"github.com/BaSui01/aigroupchat/agent/prompt"
	"github.com/BaSui01/aigroupchat/internal/telemetry"
	"github.com/BaSui01/aigroupchat/llm/gateway"
	"github.com/BaSui01/aigroupchat/types"
)

// pipeline 单个被触发成员的回复任务，只读共享的窗口快照
type pipeline struct {
	trigger  types.Message
	member   types.Member
	members  []types.Member
	window   []types.Message
	decision types.RelevanceDecision
}

type response struct {
	message     *types.Message
	verdict     types.ConsistencyVerdict
	regenerated bool
}

// respond 组装上下文 → 生成 → 过滤 → 一致性检查 → 追加。
// 草稿产生之前被取消则什么都不写；草稿产生之后的检查与追加不再受取消影响。
func (e *Engine) respond(ctx context.Context, p pipeline) (_ *response, err error) {
	start := e.now()
	ctx, span := telemetry.StartSpan(ctx, "engine.respond", trace.WithAttributes(
		attribute.Int64("group_id", p.trigger.GroupID),
		attribute.Int64("message_id", p.trigger.ID),
		attribute.Int64("member_id", p.member.ID),
		attribute.String("reason", string(p.decision.Reason)),
	))
	logger := e.logger.With(
		zap.Int64("group_id", p.trigger.GroupID),
		zap.Int64("message_id", p.trigger.ID),
		zap.Int64("member_id", p.member.ID),
	)
	defer func() {
		status := "success"
		if err != nil {
			status = "failed"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Warn("response pipeline failed", zap.Error(err))
		}
		e.metrics.RecordPipeline(status, e.now().Sub(start))
		span.End()
	}()

	genCtx := ctx
	if e.cfg.ResponseTimeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, e.cfg.ResponseTimeout)
		defer cancel()
	}

	pc, err := partition.Split(p.member, p.members, p.window, logger)
	if err != nil {
		return nil, err
	}
	in := prompt.Input{Context: pc}
	if p.decision.Reason == types.ReasonDirectMention {
		in.Trigger = &p.trigger
	}
	rendered, err := e.composer.Compose(in)
	if err != nil {
		return nil, err
	}
	if rendered.Isolated > 0 {
		logger.Info("isolated suspicious member messages", zap.Int("count", rendered.Isolated))
	}

	res, err := e.gen.Generate(genCtx, gateway.Request{
		ModelReference: p.member.ModelReference,
		Prompt:         rendered.Text,
		MaxTokens:      e.cfg.MaxTokens,
		Temperature:    e.cfg.Temperature,
	})
	if err != nil {
		return nil, err
	}
	draft, err := guardrails.Apply(res.Text, e.filters...)
	if err != nil {
		return nil, types.NewError(types.ErrGenerationFailed, "generated reply rejected by output filter").
			WithCause(err).WithModel(p.member.ModelReference)
	}

	// 纠偏重生成仍受流水线超时约束；超时即保留草稿
	out, err := e.guard.Review(genCtx, consistency.Review{
		Member:  p.member,
		Prompt:  rendered.Text,
		Draft:   draft,
		TraceID: res.TraceID,
	})
	if err != nil {
		return nil, err
	}

	final := context.WithoutCancel(ctx)
	msg, err := e.log.Append(final, p.trigger.GroupID, p.member.ID, out.Text, types.KindText)
	if err != nil {
		return nil, err
	}
	if err := e.guard.Record(final, p.member.ID, out.Text); err != nil {
		logger.Warn("history update failed", zap.Error(err))
	}

	logger.Info("reply appended",
		zap.Int64("reply_id", msg.ID),
		zap.String("reason", string(p.decision.Reason)),
		zap.Bool("regenerated", out.Regenerated),
		zap.Bool("consistency_skipped", out.Verdict.Skipped),
		zap.Float64("consistency", out.Verdict.OverallScore),
		zap.Duration("duration", e.now().Sub(start)),
	)
	return &response{message: msg, verdict: out.Verdict, regenerated: out.Regenerated}, nil
}
