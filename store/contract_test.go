package store

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/aigroupchat/types"
)

// fixture 一个群：一名人类，两名 AI
type fixture struct {
	groupID int64
	human   *types.Member
	ai1     *types.Member
	ai2     *types.Member
}

func seedGroup(t *testing.T, s Store) fixture {
	t.Helper()
	ctx := context.Background()

	gid, err := s.CreateGroup(ctx, "辩论小组")
	require.NoError(t, err)

	human, err := s.AddMember(ctx, types.Member{GroupID: gid, Role: types.RoleHuman, DisplayName: "Alice"})
	require.NoError(t, err)
	ai1, err := s.AddMember(ctx, types.Member{
		GroupID: gid, Role: types.RoleAI, DisplayName: "DebateBot",
		Personality: "critical and analytical", InitialStance: "pro-renewable-energy",
		ModelReference: "qwen-plus",
	})
	require.NoError(t, err)
	ai2, err := s.AddMember(ctx, types.Member{
		GroupID: gid, Role: types.RoleAI, DisplayName: "小艺",
		Personality: "热情 幽默", InitialStance: "支持人工智能艺术",
		ModelReference: "qwen-turbo", Chattiness: 0.5,
	})
	require.NoError(t, err)

	return fixture{groupID: gid, human: human, ai1: ai1, ai2: ai2}
}

func assertOrdered(t *testing.T, msgs []types.Message) {
	t.Helper()
	for i := 1; i < len(msgs); i++ {
		assert.True(t, msgs[i-1].ID < msgs[i].ID, "ids must increase: %d then %d", msgs[i-1].ID, msgs[i].ID)
		assert.False(t, msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt), "timestamps must not decrease")
	}
}

// runStoreContract 所有 Store 实现共享的行为测试
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("registry", func(t *testing.T) {
		s := newStore(t)
		f := seedGroup(t, s)

		m, err := s.GetMember(ctx, f.ai1.ID)
		require.NoError(t, err)
		assert.Equal(t, "DebateBot", m.DisplayName)
		assert.Equal(t, types.RoleAI, m.Role)
		assert.Equal(t, "pro-renewable-energy", m.InitialStance)
		assert.Equal(t, "qwen-plus", m.ModelReference)

		members, err := s.ListMembers(ctx, f.groupID)
		require.NoError(t, err)
		require.Len(t, members, 3)
		assert.Equal(t, []int64{f.human.ID, f.ai1.ID, f.ai2.ID}, []int64{members[0].ID, members[1].ID, members[2].ID})

		_, err = s.GetMember(ctx, 9999)
		assert.True(t, types.IsNotFound(err))
		_, err = s.ListMembers(ctx, 9999)
		assert.True(t, types.IsNotFound(err))
	})

	t.Run("add member validates", func(t *testing.T) {
		s := newStore(t)
		f := seedGroup(t, s)

		_, err := s.AddMember(ctx, types.Member{GroupID: f.groupID, Role: types.RoleAI, DisplayName: "NoModel"})
		assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))

		_, err = s.AddMember(ctx, types.Member{GroupID: 9999, Role: types.RoleHuman, DisplayName: "Ghost"})
		assert.True(t, types.IsNotFound(err))
	})

	t.Run("append and recent", func(t *testing.T) {
		s := newStore(t)
		f := seedGroup(t, s)

		for i := 0; i < 5; i++ {
			msg, err := s.Append(ctx, f.groupID, f.human.ID, fmt.Sprintf("msg-%d", i), "")
			require.NoError(t, err)
			assert.Equal(t, types.KindText, msg.Kind)
			assert.Equal(t, f.groupID, msg.GroupID)
		}

		all, err := s.Recent(ctx, f.groupID, 100)
		require.NoError(t, err)
		require.Len(t, all, 5)
		assert.Equal(t, "msg-0", all[0].Body)
		assert.Equal(t, "msg-4", all[4].Body)
		assertOrdered(t, all)

		last2, err := s.Recent(ctx, f.groupID, 2)
		require.NoError(t, err)
		require.Len(t, last2, 2)
		assert.Equal(t, "msg-3", last2[0].Body)
		assert.Equal(t, "msg-4", last2[1].Body)

		// 同一日志重复读取结果一致
		again, err := s.Recent(ctx, f.groupID, 100)
		require.NoError(t, err)
		assert.Equal(t, all, again)

		n, err := s.Len(ctx, f.groupID)
		require.NoError(t, err)
		assert.Equal(t, 5, n)
	})

	t.Run("append rejects bad input", func(t *testing.T) {
		s := newStore(t)
		f := seedGroup(t, s)

		_, err := s.Append(ctx, 9999, f.human.ID, "hi", types.KindText)
		assert.True(t, types.IsNotFound(err))

		_, err = s.Append(ctx, f.groupID, 9999, "hi", types.KindText)
		assert.True(t, types.IsNotFound(err))

		_, err = s.Append(ctx, f.groupID, f.human.ID, "", types.KindText)
		assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))

		_, err = s.Append(ctx, f.groupID, f.human.ID, "hi", "video")
		assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))

		other, err := s.CreateGroup(ctx, "other")
		require.NoError(t, err)
		_, err = s.Append(ctx, other, f.human.ID, "wrong group", types.KindText)
		assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))

		n, err := s.Len(ctx, f.groupID)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("recent requires limit and group", func(t *testing.T) {
		s := newStore(t)
		f := seedGroup(t, s)

		_, err := s.Recent(ctx, f.groupID, 0)
		assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))

		_, err = s.Recent(ctx, 9999, 10)
		assert.True(t, types.IsNotFound(err))

		empty, err := s.Recent(ctx, f.groupID, 10)
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("get and before", func(t *testing.T) {
		s := newStore(t)
		f := seedGroup(t, s)

		var ids []int64
		for i := 0; i < 4; i++ {
			msg, err := s.Append(ctx, f.groupID, f.human.ID, fmt.Sprintf("m%d", i), types.KindText)
			require.NoError(t, err)
			ids = append(ids, msg.ID)
		}

		got, err := s.Get(ctx, f.groupID, ids[2])
		require.NoError(t, err)
		assert.Equal(t, "m2", got.Body)

		_, err = s.Get(ctx, f.groupID, ids[3]+100)
		assert.True(t, types.IsNotFound(err))

		before, err := s.Before(ctx, f.groupID, ids[3], 2)
		require.NoError(t, err)
		require.Len(t, before, 2)
		assert.Equal(t, "m1", before[0].Body)
		assert.Equal(t, "m2", before[1].Body)

		none, err := s.Before(ctx, f.groupID, ids[0], 5)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("recent by member", func(t *testing.T) {
		s := newStore(t)
		f := seedGroup(t, s)

		for i := 0; i < 3; i++ {
			_, err := s.Append(ctx, f.groupID, f.human.ID, fmt.Sprintf("h%d", i), types.KindText)
			require.NoError(t, err)
			_, err = s.Append(ctx, f.groupID, f.ai1.ID, fmt.Sprintf("a%d", i), types.KindText)
			require.NoError(t, err)
		}

		own, err := s.RecentByMember(ctx, f.groupID, f.ai1.ID, 2)
		require.NoError(t, err)
		require.Len(t, own, 2)
		assert.Equal(t, "a1", own[0].Body)
		assert.Equal(t, "a2", own[1].Body)
		for _, m := range own {
			assert.Equal(t, f.ai1.ID, m.SenderID)
		}
	})

	t.Run("concurrent appends are totally ordered", func(t *testing.T) {
		s := newStore(t)
		f := seedGroup(t, s)

		const perWriter = 10
		writers := []int64{f.human.ID, f.ai1.ID, f.ai2.ID}
		var wg sync.WaitGroup
		errs := make(chan error, perWriter*len(writers))
		for _, w := range writers {
			wg.Add(1)
			go func(sender int64) {
				defer wg.Done()
				for i := 0; i < perWriter; i++ {
					if _, err := s.Append(ctx, f.groupID, sender, fmt.Sprintf("%d-%d", sender, i), types.KindText); err != nil {
						errs <- err
					}
				}
			}(w)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		all, err := s.Recent(ctx, f.groupID, 1000)
		require.NoError(t, err)
		require.Len(t, all, perWriter*len(writers))
		assertOrdered(t, all)

		seen := make(map[string]bool)
		for _, m := range all {
			assert.False(t, seen[m.Body], "duplicate %s", m.Body)
			seen[m.Body] = true
		}
	})
}
