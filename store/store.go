// Package store 提供群成员注册表与群消息日志。
//
// 消息日志在组内按 (CreatedAt, ID) 全序：追加按组串行化，ID 严格递增，
// 时间戳单调不减。读取接口一律返回从旧到新的切片。
package store

import (
	"context"

	"github.com/BaSui01/aigroupchat/types"
)

// Registry 只读的成员视图
type Registry interface {
	// GetMember 查询成员，不存在时返回 NotFound
	GetMember(ctx context.Context, memberID int64) (*types.Member, error)

	// ListMembers 按 ID 升序列出群成员，群不存在时返回 NotFound
	ListMembers(ctx context.Context, groupID int64) ([]types.Member, error)
}

// MessageLog 群消息日志
type MessageLog interface {
	// Append 原子追加一条消息：要么完整写入，要么返回错误且日志不变
	Append(ctx context.Context, groupID, senderID int64, body string, kind types.MessageKind) (*types.Message, error)

	// Get 查询组内指定消息
	Get(ctx context.Context, groupID, messageID int64) (*types.Message, error)

	// Recent 返回最近 limit 条消息（旧 → 新）
	Recent(ctx context.Context, groupID int64, limit int) ([]types.Message, error)

	// Before 返回严格早于 messageID 的最近 limit 条消息（旧 → 新）
	Before(ctx context.Context, groupID, messageID int64, limit int) ([]types.Message, error)

	// RecentByMember 返回某成员最近 limit 条消息（旧 → 新）
	RecentByMember(ctx context.Context, groupID, memberID int64, limit int) ([]types.Message, error)

	// Len 返回组内消息总数
	Len(ctx context.Context, groupID int64) (int, error)
}

// Admin 群与成员的写操作（初始化数据、CLI）
type Admin interface {
	CreateGroup(ctx context.Context, name string) (int64, error)
	AddMember(ctx context.Context, member types.Member) (*types.Member, error)
}

// Store 组合接口
type Store interface {
	Registry
	MessageLog
	Admin
}

func checkLimit(limit int) error {
	if limit <= 0 {
		return types.NewInvalidRequestError("limit must be positive, got %d", limit)
	}
	return nil
}

func normalizeKind(kind types.MessageKind) (types.MessageKind, error) {
	if kind == "" {
		return types.KindText, nil
	}
	if !kind.Valid() {
		return "", types.NewInvalidRequestError("unknown message kind %q", kind)
	}
	return kind, nil
}

func checkBody(body string) error {
	if body == "" {
		return types.NewInvalidRequestError("message body is empty")
	}
	return nil
}
