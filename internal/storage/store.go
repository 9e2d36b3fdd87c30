package storage

import "context"

// Store 会话持久化接口：读路径失败时降级为空，写路径失败时返回错误
// Store persists sessions. Reads fail open (empty result); writes return errors.
type Store interface {
	// LoadAll 返回全部会话；任何失败都记录日志并返回空
	// LoadAll returns every session; any failure is logged and yields an empty slice
	LoadAll(ctx context.Context) []Session

	// Save 按 id upsert 一个会话
	// Save upserts one session keyed by id
	Save(ctx context.Context, s Session) error

	// SaveAll 在一个事务中 upsert 多个会话
	// SaveAll upserts many sessions in one transaction
	SaveAll(ctx context.Context, sessions []Session) error

	// Remove 删除会话；不存在的 id 不算错误
	// Remove deletes a session; a missing id is not an error
	Remove(ctx context.Context, id string) error

	Close() error
}

// FlagStore 同步的布尔标志存储，独立于会话数据库
// FlagStore is a synchronous boolean store kept apart from the session database
type FlagStore interface {
	LoadFlag(key string) bool
	SaveFlag(key string, value bool) error
}

// FlagSidebarCollapsed is the key for the sidebar collapsed preference.
const FlagSidebarCollapsed = "sidebar-collapsed"
