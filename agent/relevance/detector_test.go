package relevance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"github.com/BaSui01/aigroupchat/agent/partition"
	"github.com/BaSui01/aigroupchat/types"
)

type fixedRandom float64

func (f fixedRandom) Float64() float64 { return float64(f) }

var (
	alice = types.Member{ID: 1, GroupID: 10, Role: types.RoleHuman, DisplayName: "Alice"}
	debate = types.Member{
		ID: 2, GroupID: 10, Role: types.RoleAI, DisplayName: "DebateBot", ModelReference: "m",
		Personality: "喜欢辩论，逻辑严密", InitialStance: "支持远程办公", Chattiness: 0,
	}
	coder = types.Member{
		ID: 3, GroupID: 10, Role: types.RoleAI, DisplayName: "小码", ModelReference: "m",
		Personality: "热爱编程技术", Chattiness: 0,
	}
)

func textMsg(id, sender int64, body string) types.Message {
	return types.Message{
		ID: id, GroupID: 10, SenderID: sender, Body: body, Kind: types.KindText,
		CreatedAt: time.Unix(id, 0),
	}
}

func newTestDetector(t *testing.T, r RandomSource) *Detector {
	return NewDetector(DefaultConfig(), WithRandom(r), WithLogger(zaptest.NewLogger(t)))
}

func TestDetect_DirectMention(t *testing.T) {
	d := newTestDetector(t, fixedRandom(0.99))

	dec, err := d.Detect(Input{Message: textMsg(1, alice.ID, "@DebateBot what do you think?"), Candidate: debate})
	require.NoError(t, err)
	assert.True(t, dec.Triggered)
	assert.Equal(t, types.ReasonDirectMention, dec.Reason)
	assert.InDelta(t, 1.0, dec.Score, 1e-9)
	assert.Equal(t, []int64{1}, dec.EvidenceIDs)
}

func TestDetect_BareNameForcesTrigger(t *testing.T) {
	d := newTestDetector(t, fixedRandom(0.99))

	dec, err := d.Detect(Input{Message: textMsg(1, alice.ID, "what would debatebot say"), Candidate: debate})
	require.NoError(t, err)
	assert.True(t, dec.Triggered)
	assert.Equal(t, types.ReasonDirectMention, dec.Reason)
	assert.InDelta(t, 0.8, dec.Score, 1e-9)
}

func TestDetect_MentionRespectsNameBoundary(t *testing.T) {
	d := newTestDetector(t, fixedRandom(0.99))
	bob := types.Member{ID: 4, GroupID: 10, Role: types.RoleAI, DisplayName: "Bob", ModelReference: "m"}
	bob2 := types.Member{ID: 5, GroupID: 10, Role: types.RoleAI, DisplayName: "Bob2", ModelReference: "m"}
	msg := textMsg(1, alice.ID, "@Bob2 hello")

	dec, err := d.Detect(Input{Message: msg, Candidate: bob})
	require.NoError(t, err)
	assert.False(t, dec.Triggered)
	assert.Equal(t, types.ReasonNotRelevant, dec.Reason)
	assert.Zero(t, dec.Score)

	dec, err = d.Detect(Input{Message: msg, Candidate: bob2})
	require.NoError(t, err)
	assert.True(t, dec.Triggered)
	assert.Equal(t, types.ReasonDirectMention, dec.Reason)

	mentioned := d.Mentions(msg.Body, []types.Member{alice, bob, bob2})
	require.Len(t, mentioned, 1)
	assert.Equal(t, bob2.ID, mentioned[0].ID)
}

func TestDetect_MentionNameWithSpace(t *testing.T) {
	d := newTestDetector(t, fixedRandom(0.99))
	smith := types.Member{ID: 6, GroupID: 10, Role: types.RoleAI, DisplayName: "Mr Smith", ModelReference: "m"}

	dec, err := d.Detect(Input{Message: textMsg(1, alice.ID, "hey @mr smith, 你怎么看"), Candidate: smith})
	require.NoError(t, err)
	assert.True(t, dec.Triggered)
	assert.InDelta(t, 1.0, dec.Score, 1e-9)
	assert.Equal(t, []types.Member{smith}, d.Mentions("hey @mr smith, 你怎么看", []types.Member{smith}))

	dec, err = d.Detect(Input{Message: textMsg(2, alice.ID, "@Mr Smithers 来了"), Candidate: smith})
	require.NoError(t, err)
	assert.False(t, dec.Triggered)
	assert.Empty(t, d.Mentions("@Mr Smithers 来了", []types.Member{smith}))
}

func TestDetect_RoleAligned(t *testing.T) {
	expert := types.Member{
		ID: 7, GroupID: 10, Role: types.RoleAI, DisplayName: "老王", ModelReference: "m",
		Personality: "资深专家",
	}
	msg := textMsg(1, alice.ID, "我有个问题想请教")

	d := newTestDetector(t, fixedRandom(0.99))
	dec, err := d.Detect(Input{Message: msg, Candidate: expert})
	require.NoError(t, err)
	assert.False(t, dec.Triggered)
	assert.InDelta(t, 0.3, dec.Score, 1e-9)
	require.Len(t, dec.Signals, 1)
	assert.Equal(t, types.ReasonRoleAligned, dec.Signals[0].Reason)

	cfg := DefaultConfig()
	cfg.RoleWeight = 0.6
	d = NewDetector(cfg, WithRandom(fixedRandom(0.99)), WithLogger(zaptest.NewLogger(t)))
	dec, err = d.Detect(Input{Message: msg, Candidate: expert})
	require.NoError(t, err)
	assert.True(t, dec.Triggered)
	assert.Equal(t, types.ReasonRoleAligned, dec.Reason)

	cfg.RoleCues = nil
	d = NewDetector(cfg, WithRandom(fixedRandom(0.99)))
	dec, err = d.Detect(Input{Message: msg, Candidate: expert})
	require.NoError(t, err)
	assert.False(t, dec.Triggered)
	assert.Zero(t, dec.Score)
}

func TestDetect_NoSignalWithZeroChattiness(t *testing.T) {
	d := newTestDetector(t, fixedRandom(0))

	dec, err := d.Detect(Input{Message: textMsg(1, alice.ID, "今天天气真好"), Candidate: coder})
	require.NoError(t, err)
	assert.False(t, dec.Triggered)
	assert.Equal(t, types.ReasonNotRelevant, dec.Reason)
	assert.Zero(t, dec.Score)
	assert.Empty(t, dec.Signals)
}

func TestDetect_TopicAligned(t *testing.T) {
	d := newTestDetector(t, fixedRandom(0.99))

	dec, err := d.Detect(Input{Message: textMsg(1, alice.ID, "热爱编程技术的人多吗"), Candidate: coder})
	require.NoError(t, err)
	assert.True(t, dec.Triggered)
	assert.Equal(t, types.ReasonTopicAligned, dec.Reason)
	assert.InDelta(t, 0.75, dec.Score, 1e-9)
}

func TestDetect_ContinuityAloneIsBelowThreshold(t *testing.T) {
	d := newTestDetector(t, fixedRandom(0.99))

	window := []types.Message{textMsg(1, alice.ID, "hi"), textMsg(2, coder.ID, "你好")}
	pc, err := partition.Split(coder, []types.Member{alice, debate, coder}, window, nil)
	require.NoError(t, err)

	dec, err := d.Detect(Input{Message: textMsg(3, alice.ID, "ok"), Candidate: coder, Preceding: pc})
	require.NoError(t, err)
	assert.False(t, dec.Triggered)
	assert.Equal(t, types.ReasonNotRelevant, dec.Reason)
	assert.InDelta(t, 0.4, dec.Score, 1e-9)
	require.Len(t, dec.Signals, 1)
	assert.Equal(t, types.ReasonReplyContinuity, dec.Signals[0].Reason)
	assert.Equal(t, []int64{2}, dec.EvidenceIDs)
}

func TestDetect_ContinuityPlusTopic(t *testing.T) {
	d := newTestDetector(t, fixedRandom(0.99))

	window := []types.Message{textMsg(1, coder.ID, "写代码吧")}
	pc, err := partition.Split(coder, []types.Member{alice, coder}, window, nil)
	require.NoError(t, err)

	dec, err := d.Detect(Input{Message: textMsg(2, alice.ID, "编程好难"), Candidate: coder, Preceding: pc})
	require.NoError(t, err)
	assert.True(t, dec.Triggered)
	assert.Equal(t, types.ReasonReplyContinuity, dec.Reason)
	assert.Equal(t, []types.Reason{types.ReasonReplyContinuity, types.ReasonTopicAligned}, dec.Reasons())
	assert.InDelta(t, 0.4+0.25, dec.Score, 1e-9)
}

func TestDetect_Organic(t *testing.T) {
	chatty := coder
	chatty.Chattiness = 1

	dec, err := newTestDetector(t, fixedRandom(0.1)).Detect(Input{Message: textMsg(1, alice.ID, "今天天气真好"), Candidate: chatty})
	require.NoError(t, err)
	assert.True(t, dec.Triggered)
	assert.Equal(t, types.ReasonOrganic, dec.Reason)

	dec, err = newTestDetector(t, fixedRandom(0.2)).Detect(Input{Message: textMsg(1, alice.ID, "今天天气真好"), Candidate: chatty})
	require.NoError(t, err)
	assert.False(t, dec.Triggered)
}

func TestDetect_Forced(t *testing.T) {
	d := newTestDetector(t, fixedRandom(0.99))

	dec, err := d.Detect(Input{Message: textMsg(1, alice.ID, "今天天气真好"), Candidate: coder, Force: true})
	require.NoError(t, err)
	assert.True(t, dec.Triggered)
	assert.Equal(t, types.ReasonForced, dec.Reason)
}

func TestDetect_SelfMessage(t *testing.T) {
	d := NewDetector(DefaultConfig(), WithRandom(fixedRandom(0)))

	dec, err := d.Detect(Input{Message: textMsg(1, debate.ID, "@DebateBot 我同意我自己"), Candidate: debate})
	require.NoError(t, err)
	assert.False(t, dec.Triggered)
	assert.Equal(t, types.ReasonSelfMessage, dec.Reason)

	_, err = d.Detect(Input{Message: textMsg(1, debate.ID, "hi"), Candidate: debate, Force: true})
	assert.True(t, types.IsErrorCode(err, types.ErrInvariantViolation))
}

func TestDetect_RejectsHumanCandidate(t *testing.T) {
	d := newTestDetector(t, fixedRandom(0))

	_, err := d.Detect(Input{Message: textMsg(1, debate.ID, "hi"), Candidate: alice})
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
}

func TestDetectAll_PreservesOrder(t *testing.T) {
	d := newTestDetector(t, fixedRandom(0.99))
	m := textMsg(1, alice.ID, "@小码 @DebateBot 你们好")

	decs, err := d.DetectAll(context.Background(), []Input{
		{Message: m, Candidate: debate},
		{Message: m, Candidate: coder},
	})
	require.NoError(t, err)
	require.Len(t, decs, 2)
	assert.Equal(t, debate.ID, decs[0].MemberID)
	assert.Equal(t, coder.ID, decs[1].MemberID)
	assert.True(t, decs[0].Triggered)
	assert.True(t, decs[1].Triggered)
}

// 任意正文与随机源下，成员不会被自己的消息触发，分数始终在 [0,1]
func TestDetect_SelfNeverTriggersProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		body := rapid.String().Draw(rt, "body")
		draw := rapid.Float64Range(0, 0.999).Draw(rt, "draw")
		chattiness := rapid.Float64Range(0, 1).Draw(rt, "chattiness")

		cand := coder
		cand.Chattiness = chattiness
		d := NewDetector(DefaultConfig(), WithRandom(fixedRandom(draw)))

		self, err := d.Detect(Input{Message: textMsg(1, cand.ID, body+" @小码"), Candidate: cand})
		if err != nil {
			rt.Fatalf("unexpected error: %v", err)
		}
		if self.Triggered {
			rt.Fatalf("self message triggered: %+v", self)
		}

		other, err := d.Detect(Input{Message: textMsg(2, alice.ID, body), Candidate: cand})
		if err != nil {
			rt.Fatalf("unexpected error: %v", err)
		}
		if other.Score < 0 || other.Score > 1 {
			rt.Fatalf("score out of range: %v", other.Score)
		}
	})
}
