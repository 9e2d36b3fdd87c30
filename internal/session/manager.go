// Package session owns the in-memory view of all chat sessions and the active-session pointer.
//
// Every mutation changes memory first and then awaits the durable write, so synchronous
// reads never lag behind a call that has already started.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"chatkeep/internal/chat"
	"chatkeep/internal/storage"

	"go.uber.org/zap"
)

// DefaultTitle is the placeholder given to new sessions.
const DefaultTitle = "New Chat"

const titleMaxRunes = 30

var (
	ErrNotInitialized     = errors.New("session manager is not initialized")
	ErrAlreadyInitialized = errors.New("session manager is already initialized")
	ErrSystemMessage      = errors.New("system messages are not persisted")
)

// Manager 会话的唯一数据源：内存中的会话列表和活跃会话指针
// Manager is the single source of truth for sessions and the active pointer
type Manager struct {
	store        storage.Store
	logger       *zap.Logger
	now          func() time.Time
	newID        func() string
	defaultTitle string

	mu          sync.RWMutex
	sessions    []storage.Session
	activeID    string
	started     bool
	initialized bool

	// persistMu 串行化持久化阶段 / persistMu serializes the durable phase
	persistMu sync.Mutex
}

type Option func(*Manager)

func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(m *Manager) {
		if newID != nil {
			m.newID = newID
		}
	}
}

func WithDefaultTitle(title string) Option {
	return func(m *Manager) {
		if strings.TrimSpace(title) != "" {
			m.defaultTitle = title
		}
	}
}

func NewManager(store storage.Store, opts ...Option) *Manager {
	m := &Manager{
		store:        store,
		logger:       zap.NewNop(),
		now:          time.Now,
		newID:        storage.NewSessionID,
		defaultTitle: DefaultTitle,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.Named("session")
	return m
}

// Init 从存储加载全部会话，并把最近更新的会话设为活跃；只能调用一次
// Init loads every session and activates the most recently updated one; it may run once
func (m *Manager) Init(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyInitialized
	}
	m.started = true
	m.mu.Unlock()

	loaded := m.store.LoadAll(ctx)
	sessions := make([]storage.Session, 0, len(loaded))
	index := make(map[string]int, len(loaded))
	skipped := 0
	for _, s := range loaded {
		if err := s.Validate(); err != nil {
			skipped++
			m.logger.Warn("skip invalid session record", zap.String("session_id", s.ID), zap.Error(err))
			continue
		}
		if s.Messages == nil {
			s.Messages = []storage.Message{}
		}
		if i, ok := index[s.ID]; ok {
			sessions[i] = s
			continue
		}
		index[s.ID] = len(sessions)
		sessions = append(sessions, s)
	}

	m.mu.Lock()
	m.sessions = sessions
	m.activeID = mostRecentID(sessions)
	m.initialized = true
	m.mu.Unlock()

	m.logger.Info("sessions loaded", zap.Int("count", len(sessions)), zap.Int("skipped", skipped))
	return nil
}

// ListSessions returns copies of all sessions, most recently updated first.
func (m *Manager) ListSessions() []storage.Session {
	m.mu.RLock()
	out := cloneAll(m.sessions)
	m.mu.RUnlock()
	SortByRecency(out)
	return out
}

func (m *Manager) GetSession(id string) (storage.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i := m.indexOf(id)
	if i < 0 {
		return storage.Session{}, false
	}
	return m.sessions[i].Clone(), true
}

// Snapshot returns the sorted sessions and the active id read under one lock.
func (m *Manager) Snapshot() ([]storage.Session, string) {
	m.mu.RLock()
	out := cloneAll(m.sessions)
	active := m.activeID
	m.mu.RUnlock()
	SortByRecency(out)
	return out, active
}

func (m *Manager) ActiveID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeID
}

// SetActive points the active pointer at id. Unknown ids are ignored.
func (m *Manager) SetActive(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.indexOf(id) < 0 {
		m.logger.Warn("activate unknown session ignored", zap.String("session_id", id))
		return false
	}
	m.activeID = id
	return true
}

func (m *Manager) ClearActive() {
	m.mu.Lock()
	m.activeID = ""
	m.mu.Unlock()
}

// CreateSession 新建会话并设为活跃，然后持久化；title 为空时使用默认标题
// CreateSession adds a session, makes it active, then persists it; an empty title means the default
func (m *Manager) CreateSession(ctx context.Context, title string) (storage.Session, error) {
	if strings.TrimSpace(title) == "" {
		title = m.defaultTitle
	}
	stamp := storage.FormatTime(m.now())
	sess := storage.Session{
		ID:        m.newID(),
		Title:     title,
		Messages:  []storage.Message{},
		CreatedAt: stamp,
		UpdatedAt: stamp,
	}

	m.mu.Lock()
	if !m.initialized {
		m.mu.Unlock()
		return storage.Session{}, ErrNotInitialized
	}
	m.sessions = append(m.sessions, sess)
	m.activeID = sess.ID
	m.mu.Unlock()

	return sess.Clone(), m.persist(ctx, sess.ID)
}

// DeleteSession removes the session from memory, fails the active pointer over
// to the most recent remaining session, then removes it from the store.
func (m *Manager) DeleteSession(ctx context.Context, id string) error {
	m.mu.Lock()
	if !m.initialized {
		m.mu.Unlock()
		return ErrNotInitialized
	}
	i := m.indexOf(id)
	if i < 0 {
		m.mu.Unlock()
		m.logger.Debug("delete unknown session ignored", zap.String("session_id", id))
		return nil
	}
	m.sessions = slices.Delete(m.sessions, i, i+1)
	if m.activeID == id {
		m.activeID = mostRecentID(m.sessions)
	}
	m.mu.Unlock()

	m.persistMu.Lock()
	defer m.persistMu.Unlock()
	if err := m.store.Remove(ctx, id); err != nil {
		return fmt.Errorf("remove session %s: %w", id, err)
	}
	return nil
}

// AddMessage appends msg, advances updatedAt and persists the whole session.
// An unknown session id is logged and ignored.
func (m *Manager) AddMessage(ctx context.Context, sessionID string, msg storage.Message) error {
	if msg.Role == chat.RoleSystem {
		return ErrSystemMessage
	}
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("add message: %w", err)
	}
	msg.ToolCalls = chat.CloneToolCalls(msg.ToolCalls)

	m.mu.Lock()
	if !m.initialized {
		m.mu.Unlock()
		return ErrNotInitialized
	}
	i := m.indexOf(sessionID)
	if i < 0 {
		m.mu.Unlock()
		m.logger.Warn("add message to unknown session ignored", zap.String("session_id", sessionID))
		return nil
	}
	s := &m.sessions[i]
	s.Messages = append(s.Messages, msg)
	s.UpdatedAt = m.advance(s.UpdatedAt)
	m.mu.Unlock()

	return m.persist(ctx, sessionID)
}

func (m *Manager) UpdateTitle(ctx context.Context, sessionID, title string) error {
	m.mu.Lock()
	if !m.initialized {
		m.mu.Unlock()
		return ErrNotInitialized
	}
	i := m.indexOf(sessionID)
	if i < 0 {
		m.mu.Unlock()
		m.logger.Warn("update title of unknown session ignored", zap.String("session_id", sessionID))
		return nil
	}
	s := &m.sessions[i]
	s.Title = title
	s.UpdatedAt = m.advance(s.UpdatedAt)
	m.mu.Unlock()

	return m.persist(ctx, sessionID)
}

// persist 写入该会话的最新内存快照；会话已被删除时跳过，避免复活
// persist writes the latest in-memory snapshot; a session deleted meanwhile is skipped so it is not resurrected
func (m *Manager) persist(ctx context.Context, id string) error {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	m.mu.RLock()
	i := m.indexOf(id)
	var snap storage.Session
	if i >= 0 {
		snap = m.sessions[i].Clone()
	}
	m.mu.RUnlock()

	if i < 0 {
		m.logger.Debug("session deleted before persist", zap.String("session_id", id))
		return nil
	}
	if err := m.store.Save(ctx, snap); err != nil {
		return fmt.Errorf("persist session %s: %w", id, err)
	}
	return nil
}

// advance 返回严格晚于 prev 的时间戳，即使时钟没有前进
// advance returns a timestamp strictly after prev even when the clock has not moved
func (m *Manager) advance(prev string) string {
	next := m.now().UTC().Truncate(storage.TimeResolution)
	if p, err := storage.ParseTime(prev); err == nil && !next.After(p) {
		next = p.Add(storage.TimeResolution)
	}
	return storage.FormatTime(next)
}

func (m *Manager) indexOf(id string) int {
	if id == "" {
		return -1
	}
	for i := range m.sessions {
		if m.sessions[i].ID == id {
			return i
		}
	}
	return -1
}

// GenerateTitle 由首条用户消息生成标题：去掉首尾空白，超过 30 个字符时截断并追加 "..."
// GenerateTitle trims message and truncates it to 30 characters plus "..." when longer
func GenerateTitle(message string) string {
	trimmed := strings.TrimSpace(message)
	runes := []rune(trimmed)
	if len(runes) <= titleMaxRunes {
		return trimmed
	}
	return string(runes[:titleMaxRunes]) + "..."
}

// SortByRecency sorts by updatedAt descending, keeping input order on ties.
func SortByRecency(sessions []storage.Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].UpdatedTime().After(sessions[j].UpdatedTime())
	})
}

// mostRecentID picks the greatest updatedAt; ties go to the smallest id.
func mostRecentID(sessions []storage.Session) string {
	best := -1
	var bestAt time.Time
	for i := range sessions {
		at := sessions[i].UpdatedTime()
		switch {
		case best < 0, at.After(bestAt):
			best, bestAt = i, at
		case at.Equal(bestAt) && sessions[i].ID < sessions[best].ID:
			best = i
		}
	}
	if best < 0 {
		return ""
	}
	return sessions[best].ID
}

func cloneAll(sessions []storage.Session) []storage.Session {
	out := make([]storage.Session, len(sessions))
	for i := range sessions {
		out[i] = sessions[i].Clone()
	}
	return out
}
