package types

import "time"

// MessageKind 消息类型
type MessageKind string

const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
	KindFile  MessageKind = "file"
)

// Valid reports whether k is a known kind.
func (k MessageKind) Valid() bool {
	switch k {
	case KindText, KindImage, KindFile:
		return true
	}
	return false
}

// Message 群消息，写入后不可变。组内按 (CreatedAt, ID) 全序。
type Message struct {
	ID        int64       `json:"id"`
	GroupID   int64       `json:"group_id"`
	SenderID  int64       `json:"sender_id"`
	Body      string      `json:"body"`
	Kind      MessageKind `json:"kind"`
	CreatedAt time.Time   `json:"created_at"`
}

// Before reports whether m orders strictly before o within a group.
func (m *Message) Before(o *Message) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.Before(o.CreatedAt)
	}
	return m.ID < o.ID
}
