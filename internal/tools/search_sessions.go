package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"chatkeep/internal/chat"
	"chatkeep/internal/storage"
)

const (
	defaultSearchLimit = 5
	maxSearchLimit     = 20
	snippetRadius      = 40
)

// SessionLister 提供当前会话列表（按最近更新排序）
// SessionLister provides the current sessions, most recent first
type SessionLister interface {
	Sessions() []storage.Session
}

// SessionListerFunc adapts a plain function to SessionLister.
type SessionListerFunc func() []storage.Session

func (f SessionListerFunc) Sessions() []storage.Session { return f() }

// SearchSessionsTool 在会话标题和消息内容中做不区分大小写的子串搜索
// SearchSessionsTool runs a case-insensitive substring search over titles and message content
type SearchSessionsTool struct {
	sessions SessionLister
}

func NewSearchSessionsTool(sessions SessionLister) *SearchSessionsTool {
	return &SearchSessionsTool{sessions: sessions}
}

func (t *SearchSessionsTool) Name() string {
	return "search_sessions"
}

func (t *SearchSessionsTool) Definition() chat.ToolDef {
	return chat.ToolDef{
		Type: "function",
		Function: chat.ToolFunction{
			Name:        t.Name(),
			Description: "Search earlier chat sessions by title and message text",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{"type": "string"},
					"limit": map[string]any{"type": "integer", "description": "maximum sessions to return (default 5, max 20)"},
				},
				"required": []string{"query"},
			},
		},
	}
}

type searchHit struct {
	SessionID string   `json:"session_id"`
	Title     string   `json:"title"`
	UpdatedAt string   `json:"updated_at"`
	Snippets  []string `json:"snippets,omitempty"`
}

func (t *SearchSessionsTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &in); err != nil {
			return "", fmt.Errorf("search_sessions args: %w", err)
		}
	}
	query := strings.ToLower(strings.TrimSpace(in.Query))
	if query == "" {
		return "", fmt.Errorf("query is required")
	}
	limit := in.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	hits := make([]searchHit, 0, limit)
	for _, s := range t.sessions.Sessions() {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		hit := searchHit{SessionID: s.ID, Title: s.Title, UpdatedAt: s.UpdatedAt}
		matched := strings.Contains(strings.ToLower(s.Title), query)
		for _, m := range s.Messages {
			if m.Kind() != chat.KindPlain {
				continue
			}
			if snippet, ok := findSnippet(m.Content, query); ok {
				matched = true
				if len(hit.Snippets) < 3 {
					hit.Snippets = append(hit.Snippets, m.Role+": "+snippet)
				}
			}
		}
		if !matched {
			continue
		}
		hits = append(hits, hit)
		if len(hits) == limit {
			break
		}
	}

	return mustJSON(map[string]any{
		"ok":      true,
		"query":   in.Query,
		"results": hits,
	}), nil
}

// findSnippet 返回匹配位置前后若干字符的片段；按 rune 截取，不会切断多字节字符
// findSnippet returns the text around the first match, cut on rune boundaries
func findSnippet(content, lowerQuery string) (string, bool) {
	runes := []rune(content)
	lower := []rune(strings.ToLower(content))
	q := []rune(lowerQuery)
	if len(lower) != len(runes) {
		// 大小写转换改变了长度时退回整段匹配
		if !strings.Contains(strings.ToLower(content), lowerQuery) {
			return "", false
		}
		return truncateRunes(content, 2*snippetRadius), true
	}
	idx := indexRunes(lower, q)
	if idx < 0 {
		return "", false
	}
	start := max(idx-snippetRadius, 0)
	end := min(idx+len(q)+snippetRadius, len(runes))
	snippet := strings.TrimSpace(string(runes[start:end]))
	if start > 0 {
		snippet = "..." + snippet
	}
	if end < len(runes) {
		snippet += "..."
	}
	return snippet, true
}

func indexRunes(haystack, needle []rune) int {
	if len(needle) == 0 {
		return 0
	}
outer:
	for i := 0; i+len(needle) <= len(haystack); i++ {
		for j := range needle {
			if haystack[i+j] != needle[j] {
				continue outer
			}
		}
		return i
	}
	return -1
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
