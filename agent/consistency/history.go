package consistency

import (
	"context"
	"strconv"
	"sync"

	"github.com/BaSui01/aigroupchat/internal/cache"
)

// DefaultHistorySize 每个成员保留的历史发言条数
const DefaultHistorySize = 10

// HistoryStore 成员近期发言的有界存储
type HistoryStore interface {
	// Recent 返回最近 n 条发言（旧 → 新）
	Recent(ctx context.Context, memberID int64, n int) ([]string, error)

	// Push 追加一条发言，超出容量时丢弃最旧的
	Push(ctx context.Context, memberID int64, text string) error
}

// =============================================================================
// 内存实现
// =============================================================================

const historyShards = 16

// ring 定长环形缓冲
type ring struct {
	buf   []string
	start int
	n     int
}

func (r *ring) push(s string) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = s
		r.n++
		return
	}
	r.buf[r.start] = s
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) newest(k int) []string {
	if k <= 0 || k > r.n {
		k = r.n
	}
	out := make([]string, 0, k)
	for i := r.n - k; i < r.n; i++ {
		out = append(out, r.buf[(r.start+i)%len(r.buf)])
	}
	return out
}

type historyShard struct {
	mu    sync.Mutex
	rings map[int64]*ring
}

// MemoryHistory 按成员 ID 分片加锁的内存环形缓冲
type MemoryHistory struct {
	capacity int
	shards   [historyShards]historyShard
}

// NewMemoryHistory 创建内存历史，capacity<=0 时取默认值
func NewMemoryHistory(capacity int) *MemoryHistory {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	h := &MemoryHistory{capacity: capacity}
	for i := range h.shards {
		h.shards[i].rings = make(map[int64]*ring)
	}
	return h
}

func (h *MemoryHistory) shard(memberID int64) *historyShard {
	idx := memberID % historyShards
	if idx < 0 {
		idx = -idx
	}
	return &h.shards[idx]
}

// Recent implements HistoryStore.
func (h *MemoryHistory) Recent(_ context.Context, memberID int64, n int) ([]string, error) {
	s := h.shard(memberID)
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rings[memberID]
	if !ok {
		return nil, nil
	}
	return r.newest(n), nil
}

// Push implements HistoryStore.
func (h *MemoryHistory) Push(_ context.Context, memberID int64, text string) error {
	s := h.shard(memberID)
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rings[memberID]
	if !ok {
		r = &ring{buf: make([]string, h.capacity)}
		s.rings[memberID] = r
	}
	r.push(text)
	return nil
}

// =============================================================================
// Redis 实现
// =============================================================================

// RedisHistory 以 Redis 列表保存历史（LPUSH + LTRIM），多实例部署时共享
type RedisHistory struct {
	cache    *cache.Manager
	capacity int
}

// NewRedisHistory 创建 Redis 历史
func NewRedisHistory(c *cache.Manager, capacity int) *RedisHistory {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &RedisHistory{cache: c, capacity: capacity}
}

func (h *RedisHistory) key(memberID int64) string {
	return h.cache.Key("history", strconv.FormatInt(memberID, 10))
}

// Recent implements HistoryStore.
func (h *RedisHistory) Recent(ctx context.Context, memberID int64, n int) ([]string, error) {
	if n <= 0 || n > h.capacity {
		n = h.capacity
	}
	vals, err := h.cache.Newest(ctx, h.key(memberID), n)
	if err != nil {
		return nil, err
	}
	// 列表最新在前，翻转为旧 → 新
	for i, j := 0, len(vals)-1; i < j; i, j = i+1, j-1 {
		vals[i], vals[j] = vals[j], vals[i]
	}
	return vals, nil
}

// Push implements HistoryStore.
func (h *RedisHistory) Push(ctx context.Context, memberID int64, text string) error {
	return h.cache.PushCapped(ctx, h.key(memberID), text, h.capacity)
}
