package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"chatkeep/internal/chat"
	"chatkeep/internal/storage"
)

func sessionsFixture() []storage.Session {
	msg := func(role, content string) storage.Message {
		return storage.Message{ID: chat.NewMessageID(), Role: role, Content: content, Timestamp: "2024-01-01T00:00:00.000Z"}
	}
	return []storage.Session{
		{ID: "s1", Title: "Go generics", UpdatedAt: "2024-03-01T00:00:00.000Z", Messages: []storage.Message{
			msg("user", "How do type parameters work?"),
			msg("assistant", "Type parameters let a function accept any type satisfying a constraint."),
		}},
		{ID: "s2", Title: "Dinner ideas", UpdatedAt: "2024-02-01T00:00:00.000Z", Messages: []storage.Message{
			msg("user", "Something with GO-CHUJANG maybe"),
		}},
		{ID: "s3", Title: "Taxes", UpdatedAt: "2024-01-01T00:00:00.000Z", Messages: []storage.Message{
			{ID: "t1", Role: "tool", Content: "go go go", ToolCallID: "call_1", Name: "current_time", Timestamp: "2024-01-01T00:00:00.000Z"},
		}},
	}
}

func decode(t *testing.T, raw string) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		t.Fatalf("unmarshal %q: %v", raw, err)
	}
	return out
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(NewSearchSessionsTool(SessionListerFunc(sessionsFixture)), NewCurrentTimeTool(nil))

	names := r.Names()
	if len(names) != 2 || names[0] != "current_time" || names[1] != "search_sessions" {
		t.Fatalf("names=%v", names)
	}
	defs := r.Definitions()
	if len(defs) != 2 || defs[0].Function.Name != "current_time" || defs[0].Type != "function" {
		t.Fatalf("definitions unexpected: %+v", defs)
	}
	if !r.Has("search_sessions") || r.Has("bash") {
		t.Fatal("Has reported wrong membership")
	}
	if _, err := r.Execute(context.Background(), "bash", nil); err == nil {
		t.Fatal("unknown tool should error")
	}
}

func TestCurrentTime(t *testing.T) {
	fixed := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	tool := NewCurrentTimeTool(func() time.Time { return fixed })

	raw, err := tool.Execute(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	out := decode(t, raw)
	if out["time"] != "2024-06-01T12:00:00Z" || out["weekday"] != "Saturday" {
		t.Fatalf("unexpected: %v", out)
	}

	raw, err = tool.Execute(context.Background(), json.RawMessage(`{"zone":"Asia/Tokyo"}`))
	if err != nil {
		t.Skipf("time zone database unavailable: %v", err)
	}
	out = decode(t, raw)
	if out["time"] != "2024-06-01T21:00:00+09:00" {
		t.Fatalf("tokyo time=%v", out["time"])
	}

	if _, err := tool.Execute(context.Background(), json.RawMessage(`{"zone":"Mars/Olympus"}`)); err == nil {
		t.Fatal("unknown zone should error")
	}
	if _, err := tool.Execute(context.Background(), json.RawMessage(`{`)); err == nil {
		t.Fatal("bad args should error")
	}
}

func TestSearchSessions(t *testing.T) {
	tool := NewSearchSessionsTool(SessionListerFunc(sessionsFixture))

	raw, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"go"}`))
	if err != nil {
		t.Fatal(err)
	}
	var out struct {
		OK      bool        `json:"ok"`
		Results []searchHit `json:"results"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		t.Fatal(err)
	}
	if !out.OK || len(out.Results) != 2 {
		t.Fatalf("results=%+v", out.Results)
	}
	if out.Results[0].SessionID != "s1" || out.Results[1].SessionID != "s2" {
		t.Fatalf("order unexpected: %+v", out.Results)
	}
	if len(out.Results[1].Snippets) != 1 || !strings.Contains(out.Results[1].Snippets[0], "GO-CHUJANG") {
		t.Fatalf("snippet unexpected: %+v", out.Results[1].Snippets)
	}
}

func TestSearchSessionsLimitAndValidation(t *testing.T) {
	tool := NewSearchSessionsTool(SessionListerFunc(sessionsFixture))

	raw, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"GO","limit":1}`))
	if err != nil {
		t.Fatal(err)
	}
	results, _ := decode(t, raw)["results"].([]any)
	if len(results) != 1 {
		t.Fatalf("limit ignored: %v", results)
	}

	if _, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"  "}`)); err == nil {
		t.Fatal("empty query should error")
	}
}

func TestFindSnippet(t *testing.T) {
	long := strings.Repeat("a", 100) + "needle" + strings.Repeat("b", 100)
	snippet, ok := findSnippet(long, "needle")
	if !ok {
		t.Fatal("expected a match")
	}
	if !strings.HasPrefix(snippet, "...") || !strings.HasSuffix(snippet, "...") || !strings.Contains(snippet, "needle") {
		t.Fatalf("snippet=%q", snippet)
	}

	if s, ok := findSnippet("Grüße aus München", "münchen"); !ok || s != "Grüße aus München" {
		t.Fatalf("unicode snippet=%q ok=%v", s, ok)
	}
	if _, ok := findSnippet("nothing here", "absent"); ok {
		t.Fatal("unexpected match")
	}
}
