package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/aigroupchat/internal/database"
	"github.com/BaSui01/aigroupchat/internal/metrics"
	"github.com/BaSui01/aigroupchat/types"
)

// =============================================================================
// 🗄️ GORM 存储
// =============================================================================

// appendRetries 追加事务遇到死锁/序列化失败时的重试次数
const appendRetries = 3

// GormStore 基于 GORM 的持久化存储（postgres / mysql / sqlite）
type GormStore struct {
	pool    *database.PoolManager
	metrics *metrics.Collector
	logger  *zap.Logger
	now     func() time.Time

	// 进程内按组串行化追加；跨进程依赖行锁
	groupLocks sync.Map // map[int64]*sync.Mutex
}

// GormOption GORM 存储选项
type GormOption func(*GormStore)

// WithGormClock 注入时钟
func WithGormClock(now func() time.Time) GormOption {
	return func(s *GormStore) { s.now = now }
}

// WithMetrics 注入指标收集器
func WithMetrics(c *metrics.Collector) GormOption {
	return func(s *GormStore) { s.metrics = c }
}

// NewGormStore 创建 GORM 存储
func NewGormStore(pool *database.PoolManager, logger *zap.Logger, opts ...GormOption) *GormStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &GormStore{
		pool:   pool,
		logger: logger.With(zap.String("component", "gorm_store")),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *GormStore) db(ctx context.Context) *gorm.DB {
	return s.pool.DB().WithContext(ctx)
}

func (s *GormStore) lockGroup(groupID int64) func() {
	v, _ := s.groupLocks.LoadOrStore(groupID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// wrapErr 将底层错误映射为统一错误码；已是 *types.Error 的原样返回
func (s *GormStore) wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := types.AsError(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	s.logger.Error("store operation failed", zap.String("op", op), zap.Error(err))
	return types.NewStoreUnavailableError(err)
}

// CreateGroup implements Admin.
func (s *GormStore) CreateGroup(ctx context.Context, name string) (int64, error) {
	rec := GroupRecord{Name: name, CreatedAt: s.now()}
	if err := s.db(ctx).Create(&rec).Error; err != nil {
		return 0, s.wrapErr("create_group", err)
	}
	return rec.ID, nil
}

// AddMember implements Admin.
func (s *GormStore) AddMember(ctx context.Context, m types.Member) (*types.Member, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if err := s.requireGroup(s.db(ctx), m.GroupID); err != nil {
		return nil, s.wrapErr("add_member", err)
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	rec := memberRecordFrom(&m)
	if err := s.db(ctx).Create(rec).Error; err != nil {
		return nil, s.wrapErr("add_member", err)
	}
	return rec.toMember(), nil
}

// GetMember implements Registry.
func (s *GormStore) GetMember(ctx context.Context, memberID int64) (*types.Member, error) {
	var rec MemberRecord
	err := s.db(ctx).First(&rec, memberID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewNotFoundError("member %d", memberID)
	}
	if err != nil {
		return nil, s.wrapErr("get_member", err)
	}
	return rec.toMember(), nil
}

// ListMembers implements Registry.
func (s *GormStore) ListMembers(ctx context.Context, groupID int64) ([]types.Member, error) {
	db := s.db(ctx)
	if err := s.requireGroup(db, groupID); err != nil {
		return nil, s.wrapErr("list_members", err)
	}
	var recs []MemberRecord
	if err := db.Where("group_id = ?", groupID).Order("id ASC").Find(&recs).Error; err != nil {
		return nil, s.wrapErr("list_members", err)
	}
	out := make([]types.Member, 0, len(recs))
	for i := range recs {
		out = append(out, *recs[i].toMember())
	}
	return out, nil
}

func (s *GormStore) requireGroup(db *gorm.DB, groupID int64) error {
	var count int64
	if err := db.Model(&GroupRecord{}).Where("id = ?", groupID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return types.NewNotFoundError("group %d", groupID)
	}
	return nil
}

// Append implements MessageLog.
// 在一个事务内锁定群行、写入消息并推进群的时间戳，失败整体回滚。
func (s *GormStore) Append(ctx context.Context, groupID, senderID int64, body string, kind types.MessageKind) (*types.Message, error) {
	kind, err := normalizeKind(kind)
	if err != nil {
		return nil, err
	}
	if err := checkBody(body); err != nil {
		return nil, err
	}

	unlock := s.lockGroup(groupID)
	defer unlock()

	start := time.Now()
	var rec MessageRecord
	err = s.pool.WithTransactionRetry(ctx, appendRetries, func(tx *gorm.DB) error {
		var group GroupRecord
		q := tx
		if tx.Dialector.Name() != "sqlite" {
			q = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		if err := q.First(&group, groupID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return types.NewNotFoundError("group %d", groupID)
			}
			return err
		}

		var sender MemberRecord
		if err := tx.First(&sender, senderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return types.NewNotFoundError("member %d", senderID)
			}
			return err
		}
		if sender.GroupID != groupID {
			return types.NewInvalidRequestError("member %d is not in group %d", senderID, groupID)
		}

		now := s.now()
		if now.Before(group.LastMessageAt) {
			now = group.LastMessageAt
		}
		rec = MessageRecord{
			GroupID:     groupID,
			SenderID:    senderID,
			Content:     body,
			MessageType: string(kind),
			CreatedAt:   now,
		}
		if err := tx.Create(&rec).Error; err != nil {
			return err
		}
		return tx.Model(&GroupRecord{}).Where("id = ?", groupID).Updates(map[string]any{
			"last_message_at": now,
			"message_count":   gorm.Expr("message_count + 1"),
		}).Error
	})
	s.metrics.RecordAppend("gorm", err, time.Since(start))
	if err != nil {
		return nil, s.wrapErr("append", err)
	}

	msg := rec.toMessage()
	return &msg, nil
}

// Get implements MessageLog.
func (s *GormStore) Get(ctx context.Context, groupID, messageID int64) (*types.Message, error) {
	var rec MessageRecord
	err := s.db(ctx).Where("group_id = ? AND id = ?", groupID, messageID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewNotFoundError("message %d in group %d", messageID, groupID)
	}
	if err != nil {
		return nil, s.wrapErr("get_message", err)
	}
	msg := rec.toMessage()
	return &msg, nil
}

// Recent implements MessageLog.
// 组内 ID 与时间戳同序，按 ID 排序即满足 (CreatedAt, ID) 全序。
func (s *GormStore) Recent(ctx context.Context, groupID int64, limit int) ([]types.Message, error) {
	return s.window(ctx, "recent", groupID, limit, nil)
}

// Before implements MessageLog.
func (s *GormStore) Before(ctx context.Context, groupID, messageID int64, limit int) ([]types.Message, error) {
	return s.window(ctx, "before", groupID, limit, func(q *gorm.DB) *gorm.DB {
		return q.Where("id < ?", messageID)
	})
}

// RecentByMember implements MessageLog.
func (s *GormStore) RecentByMember(ctx context.Context, groupID, memberID int64, limit int) ([]types.Message, error) {
	return s.window(ctx, "recent_by_member", groupID, limit, func(q *gorm.DB) *gorm.DB {
		return q.Where("sender_id = ?", memberID)
	})
}

func (s *GormStore) window(ctx context.Context, op string, groupID int64, limit int, scope func(*gorm.DB) *gorm.DB) ([]types.Message, error) {
	if err := checkLimit(limit); err != nil {
		return nil, err
	}
	db := s.db(ctx)
	if err := s.requireGroup(db, groupID); err != nil {
		return nil, s.wrapErr(op, err)
	}
	q := db.Where("group_id = ?", groupID)
	if scope != nil {
		q = scope(q)
	}
	var recs []MessageRecord
	if err := q.Order("id DESC").Limit(limit).Find(&recs).Error; err != nil {
		return nil, s.wrapErr(op, err)
	}
	return reverse(recs), nil
}

// Len implements MessageLog.
func (s *GormStore) Len(ctx context.Context, groupID int64) (int, error) {
	db := s.db(ctx)
	if err := s.requireGroup(db, groupID); err != nil {
		return 0, s.wrapErr("len", err)
	}
	var count int64
	if err := db.Model(&MessageRecord{}).Where("group_id = ?", groupID).Count(&count).Error; err != nil {
		return 0, s.wrapErr("len", err)
	}
	return int(count), nil
}

var _ Store = (*GormStore)(nil)
