package store

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/aigroupchat/internal/cache"
	"github.com/BaSui01/aigroupchat/internal/metrics"
	"github.com/BaSui01/aigroupchat/types"
)

// CachedRegistry 在任意 Registry 前加一层 Redis 读穿缓存。
// 成员记录在对话期间不变，缓存故障时直接回落到底层注册表。
type CachedRegistry struct {
	next    Registry
	cache   *cache.Manager
	ttl     time.Duration
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewCachedRegistry 创建带缓存的注册表
func NewCachedRegistry(next Registry, c *cache.Manager, ttl time.Duration, m *metrics.Collector, logger *zap.Logger) *CachedRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedRegistry{
		next:    next,
		cache:   c,
		ttl:     ttl,
		metrics: m,
		logger:  logger.With(zap.String("component", "member_cache")),
	}
}

func (r *CachedRegistry) memberKey(id int64) string {
	return r.cache.Key("member", strconv.FormatInt(id, 10))
}

func (r *CachedRegistry) groupKey(id int64) string {
	return r.cache.Key("group", strconv.FormatInt(id, 10), "members")
}

// GetMember implements Registry.
func (r *CachedRegistry) GetMember(ctx context.Context, memberID int64) (*types.Member, error) {
	key := r.memberKey(memberID)
	var m types.Member
	err := r.cache.GetJSON(ctx, key, &m)
	if err == nil {
		r.metrics.RecordCacheHit("member")
		return &m, nil
	}
	r.miss(key, err)

	member, err := r.next.GetMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if err := r.cache.SetJSON(ctx, key, member, r.ttl); err != nil {
		r.logger.Warn("member cache write failed", zap.Int64("member_id", memberID), zap.Error(err))
	}
	return member, nil
}

// ListMembers implements Registry.
func (r *CachedRegistry) ListMembers(ctx context.Context, groupID int64) ([]types.Member, error) {
	key := r.groupKey(groupID)
	var members []types.Member
	err := r.cache.GetJSON(ctx, key, &members)
	if err == nil {
		r.metrics.RecordCacheHit("group_members")
		return members, nil
	}
	r.miss(key, err)

	members, err = r.next.ListMembers(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if err := r.cache.SetJSON(ctx, key, members, r.ttl); err != nil {
		r.logger.Warn("group members cache write failed", zap.Int64("group_id", groupID), zap.Error(err))
	}
	return members, nil
}

// Invalidate 清除成员及其所在群的缓存
func (r *CachedRegistry) Invalidate(ctx context.Context, member types.Member) error {
	return r.cache.Delete(ctx, r.memberKey(member.ID), r.groupKey(member.GroupID))
}

func (r *CachedRegistry) miss(key string, err error) {
	if cache.IsCacheMiss(err) {
		r.metrics.RecordCacheMiss("member")
		return
	}
	r.logger.Warn("member cache read failed, falling back", zap.String("key", key), zap.Error(err))
}

var _ Registry = (*CachedRegistry)(nil)
