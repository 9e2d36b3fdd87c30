package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

const (
	// DatabaseName 固定的数据库文件名 / Fixed database file name
	DatabaseName = "chatkeep.db"
	// SchemaVersion is stored in PRAGMA user_version.
	SchemaVersion = 1
)

var errStoreClosed = errors.New("store is closed")

// SQLiteStore 基于 SQLite (WAL 模式) 的会话存储；每行是一个完整的 JSON 会话文档
// SQLiteStore stores sessions in SQLite (WAL mode); each row is one full JSON session document
type SQLiteStore struct {
	path   string
	logger *zap.Logger

	mu     sync.Mutex
	db     *sql.DB
	closed bool
}

// NewSQLiteStore 创建存储；数据库在第一次使用时才打开
// NewSQLiteStore creates the store; the database is opened on first use
func NewSQLiteStore(dbPath string, logger *zap.Logger) (*SQLiteStore, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, fmt.Errorf("sqlite db path is empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLiteStore{path: dbPath, logger: logger.Named("store")}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// conn 返回共享连接，未打开时打开；打开失败不缓存，下次调用会重试
// conn returns the shared connection, opening it if needed; failures are not cached
func (s *SQLiteStore) conn(ctx context.Context) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errStoreClosed
	}
	if s.db != nil {
		return s.db, nil
	}
	db, err := openDB(ctx, s.path)
	if err != nil {
		return nil, err
	}
	s.db = db
	return db, nil
}

func openDB(ctx context.Context, dbPath string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// 单连接，保证 PRAGMA 对所有语句生效 / One connection so the PRAGMAs cover every statement
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}

	if err := ensureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return db, nil
}

func ensureSchema(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}
	if version > SchemaVersion {
		return fmt.Errorf("%w: found %d, supported %d", ErrVersionTooNew, version, SchemaVersion)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id  TEXT PRIMARY KEY,
		doc TEXT NOT NULL
	);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return err
	}
	if version < SchemaVersion {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", SchemaVersion)); err != nil {
			return fmt.Errorf("write user_version: %w", err)
		}
	}
	return nil
}

// Close 关闭数据库连接 / Close the database connection
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// --- Read path (fail-open) ---

func (s *SQLiteStore) LoadAll(ctx context.Context) []Session {
	db, err := s.conn(ctx)
	if err != nil {
		s.logger.Error("open session store failed, continuing without history",
			zap.String("path", s.path), zap.Error(err))
		return []Session{}
	}

	rows, err := db.QueryContext(ctx, `SELECT id, doc FROM sessions ORDER BY rowid`)
	if err != nil {
		s.logger.Error("query sessions failed, continuing without history", zap.Error(err))
		return []Session{}
	}
	defer rows.Close()

	sessions := make([]Session, 0)
	for rows.Next() {
		var id, doc string
		if err := rows.Scan(&id, &doc); err != nil {
			s.logger.Warn("skip unreadable session row", zap.Error(err))
			continue
		}
		var sess Session
		if err := json.Unmarshal([]byte(doc), &sess); err != nil {
			s.logger.Warn("skip undecodable session record", zap.String("id", id), zap.Error(err))
			continue
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		s.logger.Error("read sessions failed, continuing without history", zap.Error(err))
		return []Session{}
	}
	return sessions
}

// --- Write path (fail-loud) ---

const upsertSessionSQL = `
	INSERT INTO sessions (id, doc) VALUES (?, ?)
	ON CONFLICT(id) DO UPDATE SET doc = excluded.doc`

func (s *SQLiteStore) Save(ctx context.Context, sess Session) error {
	doc, err := encodeSession(sess)
	if err != nil {
		return &StorageError{Op: "save", ID: sess.ID, Err: err}
	}
	db, err := s.conn(ctx)
	if err != nil {
		return &StorageError{Op: "save", ID: sess.ID, Err: err}
	}
	if _, err := db.ExecContext(ctx, upsertSessionSQL, sess.ID, doc); err != nil {
		return &StorageError{Op: "save", ID: sess.ID, Err: fmt.Errorf("upsert session: %w", err)}
	}
	return nil
}

func (s *SQLiteStore) SaveAll(ctx context.Context, sessions []Session) error {
	if len(sessions) == 0 {
		return nil
	}
	docs := make([]string, len(sessions))
	for i, sess := range sessions {
		doc, err := encodeSession(sess)
		if err != nil {
			return &StorageError{Op: "save_all", ID: sess.ID, Err: err}
		}
		docs[i] = doc
	}

	db, err := s.conn(ctx)
	if err != nil {
		return &StorageError{Op: "save_all", Err: err}
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return &StorageError{Op: "save_all", Err: fmt.Errorf("begin tx: %w", err)}
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, upsertSessionSQL)
	if err != nil {
		return &StorageError{Op: "save_all", Err: fmt.Errorf("prepare upsert: %w", err)}
	}
	defer stmt.Close()

	for i, sess := range sessions {
		if _, err := stmt.ExecContext(ctx, sess.ID, docs[i]); err != nil {
			return &StorageError{Op: "save_all", ID: sess.ID, Err: fmt.Errorf("upsert session %d: %w", i, err)}
		}
	}
	if err := tx.Commit(); err != nil {
		return &StorageError{Op: "save_all", Err: fmt.Errorf("commit: %w", err)}
	}
	return nil
}

func (s *SQLiteStore) Remove(ctx context.Context, id string) error {
	db, err := s.conn(ctx)
	if err != nil {
		return &StorageError{Op: "remove", ID: id, Err: err}
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return &StorageError{Op: "remove", ID: id, Err: fmt.Errorf("delete session: %w", err)}
	}
	return nil
}

func encodeSession(sess Session) (string, error) {
	if strings.TrimSpace(sess.ID) == "" {
		return "", fmt.Errorf("session id is empty")
	}
	if sess.Messages == nil {
		sess.Messages = []Message{}
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return "", fmt.Errorf("encode session: %w", err)
	}
	return string(data), nil
}
