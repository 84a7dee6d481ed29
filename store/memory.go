package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BaSui01/aigroupchat/types"
)

// =============================================================================
// 🧠 内存存储
// =============================================================================

type memGroup struct {
	mu   sync.Mutex // 串行化本组追加
	name string
	log  []types.Message
}

// MemoryStore 进程内存储，用于测试与单机演示
type MemoryStore struct {
	mu      sync.RWMutex
	groups  map[int64]*memGroup
	members map[int64]types.Member

	nextGroupID   int64
	nextMemberID  int64
	nextMessageID int64

	now func() time.Time
}

// MemoryOption 内存存储选项
type MemoryOption func(*MemoryStore)

// WithClock 注入时钟
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore 创建内存存储
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		groups:  make(map[int64]*memGroup),
		members: make(map[int64]types.Member),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateGroup implements Admin.
func (s *MemoryStore) CreateGroup(_ context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextGroupID++
	s.groups[s.nextGroupID] = &memGroup{name: name}
	return s.nextGroupID, nil
}

// AddMember implements Admin. ID 为 0 时自动分配。
func (s *MemoryStore) AddMember(_ context.Context, m types.Member) (*types.Member, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[m.GroupID]; !ok {
		return nil, types.NewNotFoundError("group %d", m.GroupID)
	}
	if m.ID == 0 {
		s.nextMemberID++
		m.ID = s.nextMemberID
	} else if _, dup := s.members[m.ID]; dup {
		return nil, types.NewInvalidRequestError("member %d already exists", m.ID)
	}
	if m.ID > s.nextMemberID {
		s.nextMemberID = m.ID
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	s.members[m.ID] = m
	return &m, nil
}

// GetMember implements Registry.
func (s *MemoryStore) GetMember(_ context.Context, memberID int64) (*types.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[memberID]
	if !ok {
		return nil, types.NewNotFoundError("member %d", memberID)
	}
	return &m, nil
}

// ListMembers implements Registry.
func (s *MemoryStore) ListMembers(_ context.Context, groupID int64) ([]types.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.groups[groupID]; !ok {
		return nil, types.NewNotFoundError("group %d", groupID)
	}
	out := make([]types.Member, 0)
	for _, m := range s.members {
		if m.GroupID == groupID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) group(groupID int64) (*memGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[groupID]
	if !ok {
		return nil, types.NewNotFoundError("group %d", groupID)
	}
	return g, nil
}

// Append implements MessageLog.
func (s *MemoryStore) Append(ctx context.Context, groupID, senderID int64, body string, kind types.MessageKind) (*types.Message, error) {
	kind, err := normalizeKind(kind)
	if err != nil {
		return nil, err
	}
	if err := checkBody(body); err != nil {
		return nil, err
	}
	g, err := s.group(groupID)
	if err != nil {
		return nil, err
	}
	sender, err := s.GetMember(ctx, senderID)
	if err != nil {
		return nil, err
	}
	if sender.GroupID != groupID {
		return nil, types.NewInvalidRequestError("member %d is not in group %d", senderID, groupID)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := s.now()
	if n := len(g.log); n > 0 && now.Before(g.log[n-1].CreatedAt) {
		now = g.log[n-1].CreatedAt
	}

	s.mu.Lock()
	s.nextMessageID++
	id := s.nextMessageID
	s.mu.Unlock()

	msg := types.Message{
		ID:        id,
		GroupID:   groupID,
		SenderID:  senderID,
		Body:      body,
		Kind:      kind,
		CreatedAt: now,
	}
	g.log = append(g.log, msg)
	return &msg, nil
}

// snapshot 复制组日志，避免调用方持有内部切片
func (s *MemoryStore) snapshot(groupID int64) ([]types.Message, error) {
	g, err := s.group(groupID)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]types.Message, len(g.log))
	copy(out, g.log)
	return out, nil
}

func tail(msgs []types.Message, limit int) []types.Message {
	if len(msgs) > limit {
		return msgs[len(msgs)-limit:]
	}
	return msgs
}

// Get implements MessageLog.
func (s *MemoryStore) Get(_ context.Context, groupID, messageID int64) (*types.Message, error) {
	log, err := s.snapshot(groupID)
	if err != nil {
		return nil, err
	}
	i := sort.Search(len(log), func(i int) bool { return log[i].ID >= messageID })
	if i == len(log) || log[i].ID != messageID {
		return nil, types.NewNotFoundError("message %d in group %d", messageID, groupID)
	}
	msg := log[i]
	return &msg, nil
}

// Recent implements MessageLog.
func (s *MemoryStore) Recent(_ context.Context, groupID int64, limit int) ([]types.Message, error) {
	if err := checkLimit(limit); err != nil {
		return nil, err
	}
	log, err := s.snapshot(groupID)
	if err != nil {
		return nil, err
	}
	return tail(log, limit), nil
}

// Before implements MessageLog.
func (s *MemoryStore) Before(_ context.Context, groupID, messageID int64, limit int) ([]types.Message, error) {
	if err := checkLimit(limit); err != nil {
		return nil, err
	}
	log, err := s.snapshot(groupID)
	if err != nil {
		return nil, err
	}
	i := sort.Search(len(log), func(i int) bool { return log[i].ID >= messageID })
	return tail(log[:i], limit), nil
}

// RecentByMember implements MessageLog.
func (s *MemoryStore) RecentByMember(_ context.Context, groupID, memberID int64, limit int) ([]types.Message, error) {
	if err := checkLimit(limit); err != nil {
		return nil, err
	}
	log, err := s.snapshot(groupID)
	if err != nil {
		return nil, err
	}
	var own []types.Message
	for _, m := range log {
		if m.SenderID == memberID {
			own = append(own, m)
		}
	}
	return tail(own, limit), nil
}

// Len implements MessageLog.
func (s *MemoryStore) Len(_ context.Context, groupID int64) (int, error) {
	g, err := s.group(groupID)
	if err != nil {
		return 0, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.log), nil
}

var _ Store = (*MemoryStore)(nil)
