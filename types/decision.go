package types

// Reason 触发判定原因标签
type Reason string

const (
	ReasonDirectMention   Reason = "direct_mention"
	ReasonTopicAligned    Reason = "topic_aligned"
	ReasonReplyContinuity Reason = "reply_continuity"
	ReasonRoleAligned     Reason = "role_aligned"
	ReasonOrganic         Reason = "organic_participation"
	ReasonForced          Reason = "forced"
	ReasonSelfMessage     Reason = "self_message"
	ReasonNotRelevant     Reason = "not_relevant"
)

// Signal 单个相关性信号及其贡献
type Signal struct {
	Reason       Reason  `json:"reason"`
	Value        float64 `json:"value"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
}

// RelevanceDecision 单个 (消息, 候选成员) 的触发判定，仅在一次请求内存在
type RelevanceDecision struct {
	MemberID    int64    `json:"member_id"`
	MessageID   int64    `json:"message_id"`
	Triggered   bool     `json:"triggered"`
	Score       float64  `json:"score"`
	Reason      Reason   `json:"reason"`
	Signals     []Signal `json:"signals,omitempty"`
	EvidenceIDs []int64  `json:"evidence_ids,omitempty"`
}

// Reasons 返回所有命中信号的原因，首个为主因
func (d *RelevanceDecision) Reasons() []Reason {
	out := []Reason{d.Reason}
	for _, s := range d.Signals {
		if s.Reason != d.Reason {
			out = append(out, s.Reason)
		}
	}
	return out
}

// ConsistencyVerdict 一致性检查结果
type ConsistencyVerdict struct {
	Accepted         bool    `json:"accepted"`
	Skipped          bool    `json:"skipped"`
	PersonalityScore float64 `json:"personality_score"`
	StanceScore      float64 `json:"stance_score"`
	SimilarityScore  float64 `json:"similarity_score"`
	OverallScore     float64 `json:"overall_score"`
}

// ResponseResult 单个 AI 成员对一条消息的处理结果
type ResponseResult struct {
	MemberID    int64               `json:"member_id"`
	Triggered   bool                `json:"triggered"`
	Decision    RelevanceDecision   `json:"decision"`
	Reasons     []Reason            `json:"reasons"`
	Message     *Message            `json:"message,omitempty"`
	Verdict     *ConsistencyVerdict `json:"verdict,omitempty"`
	Regenerated bool                `json:"regenerated"`
	Err         error               `json:"-"`
	Error       string              `json:"error,omitempty"`
}
