// Package adapter converts between live chat messages and their persisted form.
package adapter

import (
	"time"

	"chatkeep/internal/chat"
	"chatkeep/internal/storage"
)

// ToPersisted stamps m with the current time.
func ToPersisted(m chat.Message) storage.Message {
	return ToPersistedAt(m, time.Now())
}

// ToPersistedAt 转换为持久化消息；可选字段只在存在时复制
// ToPersistedAt converts m using the given clock reading; optional fields are copied only when present
func ToPersistedAt(m chat.Message, at time.Time) storage.Message {
	out := storage.Message{
		ID:        m.ID,
		Role:      m.Role,
		Content:   m.Content,
		Timestamp: storage.FormatTime(at),
	}
	if m.Type != "" {
		out.Type = m.Type
	}
	if len(m.ToolCalls) > 0 {
		out.ToolCalls = chat.CloneToolCalls(m.ToolCalls)
	}
	if m.ToolCallID != "" {
		out.ToolCallID = m.ToolCallID
	}
	if m.Name != "" {
		out.Name = m.Name
	}
	return out
}

// FromPersisted drops the timestamp and copies everything else.
func FromPersisted(m storage.Message) chat.Message {
	out := chat.Message{
		ID:      m.ID,
		Role:    m.Role,
		Content: m.Content,
	}
	if m.Type != "" {
		out.Type = m.Type
	}
	if len(m.ToolCalls) > 0 {
		out.ToolCalls = chat.CloneToolCalls(m.ToolCalls)
	}
	if m.ToolCallID != "" {
		out.ToolCallID = m.ToolCallID
	}
	if m.Name != "" {
		out.Name = m.Name
	}
	return out
}

func FromPersistedAll(msgs []storage.Message) []chat.Message {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]chat.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, FromPersisted(m))
	}
	return out
}
