package store

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/aigroupchat/internal/cache"
	"github.com/BaSui01/aigroupchat/internal/metrics"
	"github.com/BaSui01/aigroupchat/types"
)

// countingRegistry 统计底层调用次数
type countingRegistry struct {
	Registry
	gets  atomic.Int32
	lists atomic.Int32
}

func (c *countingRegistry) GetMember(ctx context.Context, id int64) (*types.Member, error) {
	c.gets.Add(1)
	return c.Registry.GetMember(ctx, id)
}

func (c *countingRegistry) ListMembers(ctx context.Context, gid int64) ([]types.Member, error) {
	c.lists.Add(1)
	return c.Registry.ListMembers(ctx, gid)
}

func newCachedFixture(t *testing.T) (*miniredis.Miniredis, *countingRegistry, *CachedRegistry, fixture) {
	t.Helper()
	mr := miniredis.RunT(t)
	mgr, err := cache.NewManager(cache.Config{Addr: mr.Addr(), KeyPrefix: "gc:"}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })

	mem := NewMemoryStore()
	f := seedGroup(t, mem)
	backing := &countingRegistry{Registry: mem}
	collector := metrics.NewCollectorWithRegisterer("gc", prometheus.NewRegistry(), zap.NewNop())
	return mr, backing, NewCachedRegistry(backing, mgr, time.Minute, collector, zap.NewNop()), f
}

func TestCachedRegistry_GetMemberReadThrough(t *testing.T) {
	mr, backing, reg, f := newCachedFixture(t)
	ctx := context.Background()

	first, err := reg.GetMember(ctx, f.ai1.ID)
	require.NoError(t, err)
	second, err := reg.GetMember(ctx, f.ai1.ID)
	require.NoError(t, err)

	assert.Equal(t, int32(1), backing.gets.Load())
	assert.Equal(t, first.DisplayName, second.DisplayName)
	assert.Equal(t, first.Personality, second.Personality)
	assert.True(t, mr.Exists("gc:member:2"))
	assert.Equal(t, time.Minute, mr.TTL("gc:member:2"))
}

func TestCachedRegistry_ListMembers(t *testing.T) {
	_, backing, reg, f := newCachedFixture(t)
	ctx := context.Background()

	a, err := reg.ListMembers(ctx, f.groupID)
	require.NoError(t, err)
	b, err := reg.ListMembers(ctx, f.groupID)
	require.NoError(t, err)

	assert.Equal(t, int32(1), backing.lists.Load())
	require.Len(t, b, 3)
	for i := range a {
		assert.Equal(t, a[i].ID, b[i].ID)
		assert.Equal(t, a[i].Role, b[i].Role)
	}
}

func TestCachedRegistry_NotFoundIsNotCached(t *testing.T) {
	_, backing, reg, _ := newCachedFixture(t)
	ctx := context.Background()

	_, err := reg.GetMember(ctx, 404)
	assert.True(t, types.IsNotFound(err))
	_, err = reg.GetMember(ctx, 404)
	assert.True(t, types.IsNotFound(err))
	assert.Equal(t, int32(2), backing.gets.Load())
}

func TestCachedRegistry_FallsBackWhenRedisDown(t *testing.T) {
	mr, backing, reg, f := newCachedFixture(t)
	mr.Close()

	m, err := reg.GetMember(context.Background(), f.human.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", m.DisplayName)
	assert.Equal(t, int32(1), backing.gets.Load())
}

func TestCachedRegistry_Invalidate(t *testing.T) {
	_, backing, reg, f := newCachedFixture(t)
	ctx := context.Background()

	_, err := reg.GetMember(ctx, f.ai2.ID)
	require.NoError(t, err)
	require.NoError(t, reg.Invalidate(ctx, *f.ai2))
	_, err = reg.GetMember(ctx, f.ai2.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(2), backing.gets.Load())
}
