package types

import (
	"time"
	"unicode/utf8"
)

// MaxPersonalityRunes 性格描述长度上限
const MaxPersonalityRunes = 255

// Role 群成员身份
type Role string

const (
	RoleHuman Role = "human"
	RoleAI    Role = "ai"
)

// Member 群成员。AI 成员携带人设与模型引用，引擎只读不写。
type Member struct {
	ID             int64     `json:"id"`
	GroupID        int64     `json:"group_id"`
	Role           Role      `json:"role"`
	DisplayName    string    `json:"display_name"`
	Personality    string    `json:"personality,omitempty"`
	InitialStance  string    `json:"initial_stance,omitempty"`
	ModelReference string    `json:"model_reference,omitempty"`
	Chattiness     float64   `json:"chattiness,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// IsAI reports whether the member is an AI participant.
func (m *Member) IsAI() bool {
	return m.Role == RoleAI
}

// Validate 校验成员记录
func (m *Member) Validate() error {
	if m.DisplayName == "" {
		return NewInvalidRequestError("member %d has empty display name", m.ID)
	}
	switch m.Role {
	case RoleHuman:
	case RoleAI:
		if m.ModelReference == "" {
			return NewInvalidRequestError("ai member %d has no model reference", m.ID)
		}
	default:
		return NewInvalidRequestError("member %d has unknown role %q", m.ID, m.Role)
	}
	if utf8.RuneCountInString(m.Personality) > MaxPersonalityRunes {
		return NewInvalidRequestError("member %d personality exceeds %d characters", m.ID, MaxPersonalityRunes)
	}
	if m.Chattiness < 0 || m.Chattiness > 1 {
		return NewInvalidRequestError("member %d chattiness %.2f out of [0,1]", m.ID, m.Chattiness)
	}
	return nil
}

// MemberProfile AI 成员对外暴露的人设摘要
type MemberProfile struct {
	MemberID       int64  `json:"member_id"`
	Nickname       string `json:"nickname"`
	Personality    string `json:"personality"`
	Stance         string `json:"stance"`
	ModelReference string `json:"model_reference"`
}

// Profile 提取人设摘要
func (m *Member) Profile() MemberProfile {
	return MemberProfile{
		MemberID:       m.ID,
		Nickname:       m.DisplayName,
		Personality:    m.Personality,
		Stance:         m.InitialStance,
		ModelReference: m.ModelReference,
	}
}
