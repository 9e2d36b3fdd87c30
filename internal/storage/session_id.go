package storage

import "github.com/google/uuid"

// NewSessionID 生成新的会话 ID（随机 UUIDv4，不是顺序计数）
// NewSessionID generates a new session id: a random UUIDv4, never a counter
func NewSessionID() string {
	return uuid.NewString()
}
