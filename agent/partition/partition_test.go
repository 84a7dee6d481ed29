package partition

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/aigroupchat/store"
	"github.com/BaSui01/aigroupchat/types"
)

func roster() []types.Member {
	return []types.Member{
		{ID: 1, GroupID: 10, Role: types.RoleHuman, DisplayName: "Alice"},
		{ID: 2, GroupID: 10, Role: types.RoleAI, DisplayName: "DebateBot", ModelReference: "m"},
		{ID: 3, GroupID: 10, Role: types.RoleAI, DisplayName: "小艺", ModelReference: "m"},
	}
}

func msg(id, sender int64) types.Message {
	return types.Message{ID: id, GroupID: 10, SenderID: sender, Body: "x", Kind: types.KindText}
}

func TestSplit_Buckets(t *testing.T) {
	members := roster()
	window := []types.Message{msg(1, 1), msg(2, 2), msg(3, 3), msg(4, 99), msg(5, 2)}

	pc, err := Split(members[1], members, window, zap.NewNop())
	require.NoError(t, err)

	require.Len(t, pc.Timeline, 5)
	assert.Equal(t, []int64{2, 5}, ids(pc.Self))
	assert.Equal(t, []int64{3}, ids(pc.OtherAI))
	assert.Equal(t, []int64{1, 4}, ids(pc.Human))

	assert.Equal(t, OriginSelf, pc.Timeline[1].Origin)
	assert.Equal(t, "小艺", pc.Timeline[2].SenderName)
	assert.Equal(t, UnknownSender, pc.Timeline[3].SenderName)
	assert.Equal(t, int64(5), pc.Last().Message.ID)
	assert.Len(t, pc.Members, 3)
	assert.Equal(t, []string{"Alice", "DebateBot", "小艺", UnknownSender}, pc.Participants())
}

func TestSplit_Empty(t *testing.T) {
	members := roster()
	pc, err := Split(members[1], members, nil, nil)
	require.NoError(t, err)
	assert.Zero(t, pc.Len())
	assert.Nil(t, pc.Last())
}

func TestSplit_CrossGroupIsInvariantViolation(t *testing.T) {
	members := roster()
	stray := msg(7, 1)
	stray.GroupID = 11

	_, err := Split(members[1], members, []types.Message{msg(6, 1), stray}, zap.NewNop())
	assert.Equal(t, types.ErrInvariantViolation, types.GetErrorCode(err))
}

func TestOrigin_String(t *testing.T) {
	assert.Equal(t, "self", OriginSelf.String())
	assert.Equal(t, "other_ai", OriginOtherAI.String())
	assert.Equal(t, "human", OriginHuman.String())
}

func TestPartitioner_Partition(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	gid, _ := s.CreateGroup(ctx, "g")
	human, _ := s.AddMember(ctx, types.Member{GroupID: gid, Role: types.RoleHuman, DisplayName: "Alice"})
	bot, _ := s.AddMember(ctx, types.Member{GroupID: gid, Role: types.RoleAI, DisplayName: "Bot", ModelReference: "m"})

	for i := 0; i < 5; i++ {
		_, err := s.Append(ctx, gid, human.ID, "hello", types.KindText)
		require.NoError(t, err)
		_, err = s.Append(ctx, gid, bot.ID, "hi", types.KindText)
		require.NoError(t, err)
	}

	p := New(s, s, zap.NewNop())
	pc, err := p.Partition(ctx, bot.ID, gid, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, pc.Len())
	assert.Len(t, pc.Self, 2)
	assert.Len(t, pc.Human, 2)

	_, err = p.Partition(ctx, 404, gid, 4)
	assert.True(t, types.IsNotFound(err))

	other, _ := s.CreateGroup(ctx, "other")
	_, err = p.Partition(ctx, bot.ID, other, 4)
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
}

// 任意窗口分区后，三个桶恰好覆盖每条消息一次，且各桶保持时间顺序
func TestSplit_CompletenessProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)
	members := roster()

	properties.Property("buckets are disjoint and complete", prop.ForAll(
		func(senders []int64, targetIdx int) bool {
			window := make([]types.Message, len(senders))
			for i, s := range senders {
				window[i] = msg(int64(i+1), s)
			}
			pc, err := Split(members[targetIdx], members, window, nil)
			if err != nil {
				return false
			}

			count := make(map[int64]int)
			for _, bucket := range [][]Entry{pc.Self, pc.OtherAI, pc.Human} {
				for i, e := range bucket {
					count[e.Message.ID]++
					if i > 0 && bucket[i-1].Message.ID >= e.Message.ID {
						return false
					}
				}
			}
			if len(count) != len(window) {
				return false
			}
			for _, m := range window {
				if count[m.ID] != 1 {
					return false
				}
			}
			for _, e := range pc.Self {
				if e.Message.SenderID != members[targetIdx].ID {
					return false
				}
			}
			return len(pc.Self)+len(pc.OtherAI)+len(pc.Human) == len(window)
		},
		gen.SliceOf(gen.Int64Range(1, 5)),
		gen.IntRange(0, 2),
	))

	properties.TestingRun(t)
}

func ids(entries []Entry) []int64 {
	out := make([]int64, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Message.ID)
	}
	return out
}
