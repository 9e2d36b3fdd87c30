package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"chatkeep/internal/chat"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), DatabaseName)
	store, err := NewSQLiteStore(dbPath, nil)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleSession(id string) Session {
	return Session{
		ID:    id,
		Title: "weather in Paris",
		Messages: []Message{
			{ID: "m1", Role: chat.RoleUser, Content: "what time is it in Paris?", Timestamp: "2024-06-01T10:00:00.000Z"},
			{ID: "m2", Role: chat.RoleAssistant, Content: "checking the clock", Timestamp: "2024-06-01T10:00:01.000Z", Type: chat.TypeTransitiveThought},
			{ID: "m3", Role: chat.RoleAssistant, Content: "", Timestamp: "2024-06-01T10:00:02.000Z", ToolCalls: []chat.ToolCall{
				{ID: "call_a", Type: "function", Function: chat.ToolCallFunction{Name: "current_time", Arguments: `{"zone":"Europe/Paris"}`}},
				{ID: "call_b", Type: "function", Function: chat.ToolCallFunction{Name: "current_time", Arguments: `{}`}},
			}},
			{ID: "m4", Role: chat.RoleTool, Content: "12:00", Timestamp: "2024-06-01T10:00:03.000Z", ToolCallID: "call_a", Name: "current_time"},
			{ID: "m5", Role: chat.RoleAssistant, Content: "It is noon.", Timestamp: "2024-06-01T10:00:04.000Z"},
		},
		CreatedAt: "2024-06-01T10:00:00.000Z",
		UpdatedAt: "2024-06-01T10:00:04.000Z",
	}
}

func TestSQLiteStore_SaveLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	want := sampleSession("s1")
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got := store.LoadAll(ctx)
	if len(got) != 1 {
		t.Fatalf("LoadAll count=%d, want 1", len(got))
	}
	if !reflect.DeepEqual(got[0], want) {
		t.Fatalf("round trip mismatch:\n got=%+v\nwant=%+v", got[0], want)
	}
	if got[0].Messages[3].ToolCallID != got[0].Messages[2].ToolCalls[0].ID {
		t.Fatalf("tool result no longer references the first call")
	}
}

func TestSQLiteStore_SaveUpserts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess := sampleSession("s1")
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("Save: %v", err)
	}
	sess.Title = "renamed"
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("Save again: %v", err)
	}

	got := store.LoadAll(ctx)
	if len(got) != 1 {
		t.Fatalf("LoadAll count=%d, want 1", len(got))
	}
	if got[0].Title != "renamed" {
		t.Fatalf("Title=%q, want %q", got[0].Title, "renamed")
	}
}

func TestSQLiteStore_SaveRejectsEmptyID(t *testing.T) {
	store := newTestStore(t)
	err := store.Save(context.Background(), Session{Title: "no id"})
	var serr *StorageError
	if !errors.As(err, &serr) || serr.Op != "save" {
		t.Fatalf("Save err=%v, want *StorageError with op save", err)
	}
}

func TestSQLiteStore_SaveAll(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	batch := []Session{sampleSession("a"), sampleSession("b"), sampleSession("c")}
	if err := store.SaveAll(ctx, batch); err != nil {
		t.Fatalf("SaveAll: %v", err)
	}
	got := store.LoadAll(ctx)
	if len(got) != 3 {
		t.Fatalf("LoadAll count=%d, want 3", len(got))
	}
	for i, id := range []string{"a", "b", "c"} {
		if got[i].ID != id {
			t.Fatalf("got[%d].ID=%q, want %q", i, got[i].ID, id)
		}
	}
}

func TestSQLiteStore_SaveAllIsAllOrNothing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	batch := []Session{sampleSession("a"), {Title: "broken"}}
	if err := store.SaveAll(ctx, batch); err == nil {
		t.Fatal("SaveAll with an invalid record should fail")
	}
	if got := store.LoadAll(ctx); len(got) != 0 {
		t.Fatalf("LoadAll count=%d after failed batch, want 0", len(got))
	}
	if err := store.SaveAll(ctx, nil); err != nil {
		t.Fatalf("SaveAll(nil): %v", err)
	}
}

func TestSQLiteStore_RemoveIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, sampleSession("s1")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Remove(ctx, "s1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := store.Remove(ctx, "s1"); err != nil {
		t.Fatalf("second Remove: %v", err)
	}
	if err := store.Remove(ctx, "never-existed"); err != nil {
		t.Fatalf("Remove unknown: %v", err)
	}
	if got := store.LoadAll(ctx); len(got) != 0 {
		t.Fatalf("LoadAll count=%d after remove, want 0", len(got))
	}
}

func TestSQLiteStore_FailOpenReadsFailLoudWrites(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	store, err := NewSQLiteStore(filepath.Join(blocker, "nested", DatabaseName), nil)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	got := store.LoadAll(ctx)
	if got == nil || len(got) != 0 {
		t.Fatalf("LoadAll=%v, want empty non-nil slice", got)
	}

	var serr *StorageError
	if err := store.Save(ctx, sampleSession("s1")); !errors.As(err, &serr) {
		t.Fatalf("Save err=%v, want *StorageError", err)
	}
	if err := store.Remove(ctx, "s1"); !errors.As(err, &serr) || serr.Op != "remove" {
		t.Fatalf("Remove err=%v, want *StorageError with op remove", err)
	}
	if err := store.SaveAll(ctx, []Session{sampleSession("s1")}); err == nil {
		t.Fatal("SaveAll should fail when the database cannot open")
	}
}

func TestSQLiteStore_SkipsUndecodableRows(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, sampleSession("good")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	db, err := store.conn(ctx)
	if err != nil {
		t.Fatalf("conn: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO sessions (id, doc) VALUES ('bad', '{not json')`); err != nil {
		t.Fatalf("insert corrupt row: %v", err)
	}

	got := store.LoadAll(ctx)
	if len(got) != 1 || got[0].ID != "good" {
		t.Fatalf("LoadAll=%+v, want only the decodable record", got)
	}
}

func TestSQLiteStore_SchemaVersion(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), DatabaseName)
	store, err := NewSQLiteStore(dbPath, nil)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	ctx := context.Background()
	db, err := store.conn(ctx)
	if err != nil {
		t.Fatalf("conn: %v", err)
	}
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("read user_version: %v", err)
	}
	if version != SchemaVersion {
		t.Fatalf("user_version=%d, want %d", version, SchemaVersion)
	}

	// 模拟更新版本写入的数据库 / Simulate a database written by a newer release
	if _, err := db.Exec("PRAGMA user_version = 2"); err != nil {
		t.Fatalf("bump user_version: %v", err)
	}
	_ = store.Close()

	reopened, err := NewSQLiteStore(dbPath, nil)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer reopened.Close()
	if got := reopened.LoadAll(ctx); len(got) != 0 {
		t.Fatalf("LoadAll on newer schema=%d records, want 0", len(got))
	}
	if err := reopened.Save(ctx, sampleSession("s1")); !errors.Is(err, ErrVersionTooNew) {
		t.Fatalf("Save err=%v, want ErrVersionTooNew", err)
	}
}

func TestSQLiteStore_ClosedStore(t *testing.T) {
	store := newTestStore(t)
	_ = store.Close()
	if err := store.Save(context.Background(), sampleSession("s1")); err == nil {
		t.Fatal("Save after Close should fail")
	}
	if got := store.LoadAll(context.Background()); len(got) != 0 {
		t.Fatalf("LoadAll after Close=%d records, want 0", len(got))
	}
}
