package export

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"chatkeep/internal/chat"
	"chatkeep/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSessions() []storage.Session {
	return []storage.Session{
		{
			ID:        "s-1",
			Title:     "Go questions",
			CreatedAt: "2026-03-01T10:00:00.000Z",
			UpdatedAt: "2026-03-01T10:05:00.000Z",
			Messages: []storage.Message{
				{ID: "m-1", Role: chat.RoleUser, Content: "what time is it?", Timestamp: "2026-03-01T10:00:00.000Z"},
				{ID: "m-2", Role: chat.RoleAssistant, Content: "checking the clock", Type: chat.TypeTransitiveThought, Timestamp: "2026-03-01T10:00:01.000Z"},
				{ID: "m-3", Role: chat.RoleAssistant, Content: "", Timestamp: "2026-03-01T10:00:02.000Z", ToolCalls: []chat.ToolCall{
					{ID: "call_1", Type: "function", Function: chat.ToolCallFunction{Name: "current_time", Arguments: `{ "zone": "UTC" }`}},
				}},
				{ID: "m-4", Role: chat.RoleTool, Content: `{"ok":true}`, ToolCallID: "call_1", Name: "current_time", Timestamp: "2026-03-01T10:00:03.000Z"},
				{ID: "m-5", Role: chat.RoleAssistant, Content: "It is 10:00 UTC.", Timestamp: "2026-03-01T10:00:04.000Z"},
			},
		},
		{
			ID:        "s-2",
			Title:     "Empty",
			CreatedAt: "2026-03-02T08:00:00.000Z",
			UpdatedAt: "2026-03-02T08:00:00.000Z",
		},
	}
}

var exportTime = time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC)

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatJSON, "JSON": FormatJSON, "yml": FormatYAML, "md": FormatMarkdown} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFormat("csv")
	assert.Error(t, err)

	assert.Equal(t, FormatYAML, FormatFromPath("backup.YML"))
	assert.Equal(t, FormatMarkdown, FormatFromPath("notes.md"))
	assert.Equal(t, FormatJSON, FormatFromPath("backup"))
}

func TestWriteReadJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatJSON, sampleSessions(), exportTime))
	assert.Contains(t, buf.String(), `"exportedAt": "2026-03-03T12:00:00.000Z"`)
	assert.Contains(t, buf.String(), `"messages": []`)

	got, err := Read(&buf, FormatJSON)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, sampleSessions()[0], got[0])
	assert.Empty(t, got[1].Messages)
	assert.NotNil(t, got[1].Messages)
}

func TestWriteReadYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatYAML, sampleSessions(), exportTime))
	assert.Contains(t, buf.String(), "version: 1")

	got, err := Read(&buf, FormatYAML)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, sampleSessions()[0], got[0])
}

func TestReadBareList(t *testing.T) {
	jsonList := `[{"id":"a","title":"A","messages":[],"createdAt":"2026-01-01T00:00:00.000Z","updatedAt":"2026-01-01T00:00:00.000Z"}]`
	got, err := Read(strings.NewReader(jsonList), FormatJSON)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)

	yamlList := "- id: b\n  title: B\n  createdAt: 2026-01-01\n  updatedAt: 2026-01-02\n"
	got, err = Read(strings.NewReader(yamlList), FormatYAML)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ID)
	assert.NotNil(t, got[0].Messages)
}

func TestReadRejectsInvalidRecords(t *testing.T) {
	cases := map[string]string{
		"missing id":      `[{"title":"x","createdAt":"2026-01-01","updatedAt":"2026-01-01"}]`,
		"bad timestamp":   `[{"id":"x","createdAt":"yesterday","updatedAt":"2026-01-01"}]`,
		"invalid variant": `[{"id":"x","createdAt":"2026-01-01","updatedAt":"2026-01-01","messages":[{"id":"m","role":"user","content":"hi","tool_call_id":"c"}]}]`,
		"duplicate id":    `[{"id":"x","createdAt":"2026-01-01","updatedAt":"2026-01-01"},{"id":"x","createdAt":"2026-01-01","updatedAt":"2026-01-01"}]`,
		"not json":        `{"sessions": `,
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Read(strings.NewReader(in), FormatJSON)
			assert.Error(t, err)
		})
	}

	_, err := Read(strings.NewReader("# title"), FormatMarkdown)
	assert.Error(t, err)
}

func TestMarkdown(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatMarkdown, sampleSessions(), exportTime))
	md := buf.String()

	assert.True(t, strings.HasPrefix(md, "# Go questions\n"))
	assert.Contains(t, md, "**user**\n\nwhat time is it?")
	assert.Contains(t, md, "> **thinking**\n>\n> checking the clock")
	assert.Contains(t, md, "- calls `current_time` with `{\"zone\":\"UTC\"}`")
	assert.Contains(t, md, "**tool `current_time` result**\n\n```\n{\"ok\":true}\n```")
	assert.Contains(t, md, "\n---\n\n# Empty\n")
}

func TestImportIntoStore(t *testing.T) {
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), storage.DatabaseName), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	require.NoError(t, Import(ctx, store, nil))
	require.NoError(t, Import(ctx, store, sampleSessions()))

	loaded := store.LoadAll(ctx)
	require.Len(t, loaded, 2)
	ids := []string{loaded[0].ID, loaded[1].ID}
	assert.ElementsMatch(t, []string{"s-1", "s-2"}, ids)
}
