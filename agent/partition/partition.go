// Package partition 将群消息窗口按发送者相对于目标 AI 的身份分桶。
//
// 每条消息在分区时只分类一次，得到 Origin 标签；下游组件只读标签，
// 不再自行比较发送者 ID。
package partition

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/aigroupchat/store"
	"github.com/BaSui01/aigroupchat/types"
)

// Origin 消息来源相对于目标成员的身份
type Origin int

const (
	// OriginHuman 人类成员（含已移除的未知成员）
	OriginHuman Origin = iota
	// OriginOtherAI 其他 AI 成员
	OriginOtherAI
	// OriginSelf 目标成员自己
	OriginSelf
)

func (o Origin) String() string {
	switch o {
	case OriginSelf:
		return "self"
	case OriginOtherAI:
		return "other_ai"
	default:
		return "human"
	}
}

// UnknownSender 无法解析的发送者显示名
const UnknownSender = "unknown"

// Entry 已分类的一条消息
type Entry struct {
	Message    types.Message
	Origin     Origin
	SenderName string
}

// Context 目标成员视角下的分区结果。三个桶互不相交，并集恰为窗口。
type Context struct {
	Target   types.Member
	Timeline []Entry
	Self     []Entry
	OtherAI  []Entry
	Human    []Entry
	Members  []types.Member // 群成员名册，按 ID 升序
}

// Len 窗口大小
func (c *Context) Len() int { return len(c.Timeline) }

// Last 最后一条消息，窗口为空时返回 nil
func (c *Context) Last() *Entry {
	if len(c.Timeline) == 0 {
		return nil
	}
	return &c.Timeline[len(c.Timeline)-1]
}

// Participants 窗口内出现过的发送者显示名，按首次发言顺序去重
func (c *Context) Participants() []string {
	seen := make(map[string]struct{}, len(c.Timeline))
	names := make([]string, 0, len(c.Timeline))
	for _, e := range c.Timeline {
		if _, ok := seen[e.SenderName]; ok {
			continue
		}
		seen[e.SenderName] = struct{}{}
		names = append(names, e.SenderName)
	}
	return names
}

// Partitioner 上下文分区器
type Partitioner struct {
	registry store.Registry
	log      store.MessageLog
	logger   *zap.Logger
}

// New 创建分区器
func New(registry store.Registry, log store.MessageLog, logger *zap.Logger) *Partitioner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Partitioner{
		registry: registry,
		log:      log,
		logger:   logger.With(zap.String("component", "partitioner")),
	}
}

// Partition 读取最近 windowSize 条消息并按目标成员分区
func (p *Partitioner) Partition(ctx context.Context, targetID, groupID int64, windowSize int) (*Context, error) {
	window, err := p.log.Recent(ctx, groupID, windowSize)
	if err != nil {
		return nil, err
	}
	return p.PartitionWindow(ctx, targetID, groupID, window)
}

// PartitionWindow 对给定窗口分区
func (p *Partitioner) PartitionWindow(ctx context.Context, targetID, groupID int64, window []types.Message) (*Context, error) {
	target, err := p.registry.GetMember(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if target.GroupID != groupID {
		return nil, types.NewInvalidRequestError("member %d is not in group %d", targetID, groupID)
	}
	members, err := p.registry.ListMembers(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return Split(*target, members, window, p.logger)
}

// Split 纯函数分区：window 中每条消息恰好落入一个桶
func Split(target types.Member, members []types.Member, window []types.Message, logger *zap.Logger) (*Context, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	byID := make(map[int64]types.Member, len(members))
	for _, m := range members {
		byID[m.ID] = m
	}

	pc := &Context{
		Target:   target,
		Timeline: make([]Entry, 0, len(window)),
		Members:  members,
	}

	for _, msg := range window {
		if msg.GroupID != target.GroupID {
			err := types.NewInvariantError("message %d belongs to group %d, window is for group %d",
				msg.ID, msg.GroupID, target.GroupID)
			logger.DPanic("cross-group message in window", zap.Error(err))
			return nil, err
		}

		entry := Entry{Message: msg}
		sender, known := byID[msg.SenderID]
		switch {
		case msg.SenderID == target.ID:
			entry.Origin = OriginSelf
			entry.SenderName = target.DisplayName
		case known && sender.IsAI():
			entry.Origin = OriginOtherAI
			entry.SenderName = sender.DisplayName
		case known:
			entry.Origin = OriginHuman
			entry.SenderName = sender.DisplayName
		default:
			entry.Origin = OriginHuman
			entry.SenderName = UnknownSender
		}

		pc.Timeline = append(pc.Timeline, entry)
		switch entry.Origin {
		case OriginSelf:
			pc.Self = append(pc.Self, entry)
		case OriginOtherAI:
			pc.OtherAI = append(pc.OtherAI, entry)
		default:
			pc.Human = append(pc.Human, entry)
		}
	}
	return pc, nil
}
