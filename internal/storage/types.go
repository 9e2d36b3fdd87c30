package storage

import (
	"fmt"
	"strings"
	"time"

	"chatkeep/internal/chat"
)

// TimeLayout 持久化时间戳格式（固定宽度，UTC，毫秒）
// TimeLayout is the persisted timestamp layout: fixed width, UTC, millisecond precision
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// TimeResolution is the smallest step representable in TimeLayout.
const TimeResolution = time.Millisecond

// Message 持久化的消息，比界面消息多一个时间戳
// Message is the persisted message; the live shape plus a timestamp
type Message struct {
	ID         string          `json:"id" yaml:"id"`
	Role       string          `json:"role" yaml:"role"`
	Content    string          `json:"content" yaml:"content"`
	Timestamp  string          `json:"timestamp" yaml:"timestamp"`
	Type       string          `json:"type,omitempty" yaml:"type,omitempty"`
	ToolCalls  []chat.ToolCall `json:"tool_calls,omitempty" yaml:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty" yaml:"tool_call_id,omitempty"`
	Name       string          `json:"name,omitempty" yaml:"name,omitempty"`
}

func (m Message) Kind() chat.Kind {
	return chat.Classify(m.Role, m.Type, len(m.ToolCalls), m.ToolCallID, m.Name)
}

func (m Message) Validate() error {
	return chat.ValidateFields(m.ID, m.Role, m.Kind())
}

// Session 一个持久化的会话文档
// Session is one persisted conversation document
type Session struct {
	ID        string    `json:"id" yaml:"id"`
	Title     string    `json:"title" yaml:"title"`
	Messages  []Message `json:"messages" yaml:"messages"`
	CreatedAt string    `json:"createdAt" yaml:"createdAt"`
	UpdatedAt string    `json:"updatedAt" yaml:"updatedAt"`
}

// Validate reports records whose shape breaks the session invariants.
func (s Session) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("session id is empty")
	}
	created, err := ParseTime(s.CreatedAt)
	if err != nil {
		return fmt.Errorf("session %s: createdAt: %w", s.ID, err)
	}
	updated, err := ParseTime(s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("session %s: updatedAt: %w", s.ID, err)
	}
	if updated.Before(created) {
		return fmt.Errorf("session %s: updatedAt %s before createdAt %s", s.ID, s.UpdatedAt, s.CreatedAt)
	}
	for i, m := range s.Messages {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("session %s: message %d: %w", s.ID, i, err)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (s Session) Clone() Session {
	out := s
	if s.Messages != nil {
		out.Messages = make([]Message, len(s.Messages))
		for i, m := range s.Messages {
			m.ToolCalls = chat.CloneToolCalls(m.ToolCalls)
			out.Messages[i] = m
		}
	}
	return out
}

// UpdatedTime parses UpdatedAt, returning the zero time when it is unreadable.
func (s Session) UpdatedTime() time.Time {
	t, _ := ParseTime(s.UpdatedAt)
	return t
}

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime 接受 RFC3339（可带小数秒）或纯日期
// ParseTime accepts RFC 3339 with or without fractional seconds, or a bare date
func ParseTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, fmt.Errorf("timestamp is empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.DateOnly, v); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", v)
}
