package store

import (
	"time"

	"github.com/BaSui01/aigroupchat/types"
	"gorm.io/gorm"
)

// =============================================================================
// 🗄️ 数据库模型
// =============================================================================

// 成员类型，与历史库表保持一致：0 人类，1 AI
const (
	memberTypeHuman = 0
	memberTypeAI    = 1
)

// GroupRecord 群
type GroupRecord struct {
	ID            int64     `gorm:"primaryKey;autoIncrement"`
	Name          string    `gorm:"size:100;not null"`
	MessageCount  int64     `gorm:"not null;default:0"`
	LastMessageAt time.Time `gorm:"index"`
	CreatedAt     time.Time
}

// TableName 表名
func (GroupRecord) TableName() string { return "chat_groups" }

// MemberRecord 群成员
type MemberRecord struct {
	ID            int64   `gorm:"primaryKey;autoIncrement"`
	GroupID       int64   `gorm:"index;not null"`
	MemberType    int     `gorm:"not null;default:0"`
	DisplayName   string  `gorm:"size:64;not null"`
	Personality   string  `gorm:"size:255"`
	InitialStance string  `gorm:"type:text"`
	AIModel       string  `gorm:"size:64"`
	Chattiness    float64 `gorm:"not null;default:0"`
	CreatedAt     time.Time
}

// TableName 表名
func (MemberRecord) TableName() string { return "group_members" }

// MessageRecord 群消息
type MessageRecord struct {
	ID          int64     `gorm:"primaryKey;autoIncrement"`
	GroupID     int64     `gorm:"index:idx_group_messages_order,priority:1;not null"`
	SenderID    int64     `gorm:"index;not null"`
	Content     string    `gorm:"type:text;not null"`
	MessageType string    `gorm:"size:16;not null;default:text"`
	CreatedAt   time.Time `gorm:"index:idx_group_messages_order,priority:2"`
}

// TableName 表名
func (MessageRecord) TableName() string { return "group_messages" }

// Migrate 自动建表
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&GroupRecord{}, &MemberRecord{}, &MessageRecord{})
}

func (r *MemberRecord) toMember() *types.Member {
	role := types.RoleHuman
	if r.MemberType == memberTypeAI {
		role = types.RoleAI
	}
	return &types.Member{
		ID:             r.ID,
		GroupID:        r.GroupID,
		Role:           role,
		DisplayName:    r.DisplayName,
		Personality:    r.Personality,
		InitialStance:  r.InitialStance,
		ModelReference: r.AIModel,
		Chattiness:     r.Chattiness,
		CreatedAt:      r.CreatedAt,
	}
}

func memberRecordFrom(m *types.Member) *MemberRecord {
	mt := memberTypeHuman
	if m.IsAI() {
		mt = memberTypeAI
	}
	return &MemberRecord{
		ID:            m.ID,
		GroupID:       m.GroupID,
		MemberType:    mt,
		DisplayName:   m.DisplayName,
		Personality:   m.Personality,
		InitialStance: m.InitialStance,
		AIModel:       m.ModelReference,
		Chattiness:    m.Chattiness,
		CreatedAt:     m.CreatedAt,
	}
}

func (r *MessageRecord) toMessage() types.Message {
	return types.Message{
		ID:        r.ID,
		GroupID:   r.GroupID,
		SenderID:  r.SenderID,
		Body:      r.Content,
		Kind:      types.MessageKind(r.MessageType),
		CreatedAt: r.CreatedAt,
	}
}

// reverse 将倒序查询结果转为旧 → 新
func reverse(recs []MessageRecord) []types.Message {
	out := make([]types.Message, len(recs))
	for i := range recs {
		out[len(recs)-1-i] = recs[i].toMessage()
	}
	return out
}
