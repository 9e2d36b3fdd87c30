// Package export writes sessions out as JSON, YAML or Markdown and reads JSON or YAML back in.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"chatkeep/internal/chat"
	"chatkeep/internal/storage"

	"gopkg.in/yaml.v3"
)

type Format string

const (
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
	FormatMarkdown Format = "markdown"
)

// DocumentVersion is bumped when the export layout changes.
const DocumentVersion = 1

// Document 导出文件的顶层结构
// Document is the top level of an export file
type Document struct {
	Version    int               `json:"version" yaml:"version"`
	ExportedAt string            `json:"exportedAt" yaml:"exportedAt"`
	Sessions   []storage.Session `json:"sessions" yaml:"sessions"`
}

func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unknown export format %q", s)
	}
}

// FormatFromPath picks YAML for .yaml/.yml files and JSON otherwise.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".md", ".markdown":
		return FormatMarkdown
	default:
		return FormatJSON
	}
}

func Write(w io.Writer, format Format, sessions []storage.Session, now time.Time) error {
	doc := Document{
		Version:    DocumentVersion,
		ExportedAt: storage.FormatTime(now),
		Sessions:   make([]storage.Session, 0, len(sessions)),
	}
	for _, s := range sessions {
		s = s.Clone()
		if s.Messages == nil {
			s.Messages = []storage.Message{}
		}
		doc.Sessions = append(doc.Sessions, s)
	}

	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	case FormatMarkdown:
		_, err := io.WriteString(w, Markdown(doc.Sessions))
		return err
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
}

// Read 解析 JSON 或 YAML 导出文件；接受完整文档或裸会话数组，任何无效记录都会让整个读取失败
// Read parses a JSON or YAML export. Both a full Document and a bare session list are accepted.
// Any invalid or duplicated record fails the whole read.
func Read(r io.Reader, format Format) ([]storage.Session, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read import: %w", err)
	}
	trimmed := bytes.TrimSpace(data)

	var sessions []storage.Session
	switch format {
	case FormatJSON:
		if len(trimmed) > 0 && trimmed[0] == '[' {
			err = json.Unmarshal(trimmed, &sessions)
		} else {
			var doc Document
			err = json.Unmarshal(trimmed, &doc)
			sessions = doc.Sessions
		}
	case FormatYAML:
		var node yaml.Node
		if err = yaml.Unmarshal(trimmed, &node); err == nil && len(node.Content) > 0 && node.Content[0].Kind == yaml.SequenceNode {
			err = node.Content[0].Decode(&sessions)
		} else if err == nil {
			var doc Document
			err = yaml.Unmarshal(trimmed, &doc)
			sessions = doc.Sessions
		}
	default:
		return nil, fmt.Errorf("cannot import %s", format)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", format, err)
	}

	seen := make(map[string]struct{}, len(sessions))
	for i := range sessions {
		if err := sessions[i].Validate(); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		if _, dup := seen[sessions[i].ID]; dup {
			return nil, fmt.Errorf("record %d: duplicate session id %s", i, sessions[i].ID)
		}
		seen[sessions[i].ID] = struct{}{}
		if sessions[i].Messages == nil {
			sessions[i].Messages = []storage.Message{}
		}
	}
	return sessions, nil
}

// Import writes every session in one atomic batch.
func Import(ctx context.Context, store storage.Store, sessions []storage.Session) error {
	if len(sessions) == 0 {
		return nil
	}
	return store.SaveAll(ctx, sessions)
}

// Markdown 把会话渲染成可读的 Markdown 记录
// Markdown renders sessions as a readable transcript
func Markdown(sessions []storage.Session) string {
	var b strings.Builder
	for i, s := range sessions {
		if i > 0 {
			b.WriteString("\n---\n\n")
		}
		fmt.Fprintf(&b, "# %s\n\n", s.Title)
		fmt.Fprintf(&b, "_Created %s, updated %s_\n\n", s.CreatedAt, s.UpdatedAt)
		for _, m := range s.Messages {
			writeMessage(&b, m)
		}
	}
	return b.String()
}

func writeMessage(b *strings.Builder, m storage.Message) {
	switch m.Kind() {
	case chat.KindThought:
		b.WriteString("> **thinking**\n>\n")
		for _, line := range strings.Split(strings.TrimSpace(m.Content), "\n") {
			fmt.Fprintf(b, "> %s\n", line)
		}
		b.WriteString("\n")
	case chat.KindToolCalling:
		fmt.Fprintf(b, "**%s**\n\n", m.Role)
		if strings.TrimSpace(m.Content) != "" {
			fmt.Fprintf(b, "%s\n\n", strings.TrimSpace(m.Content))
		}
		for _, c := range m.ToolCalls {
			fmt.Fprintf(b, "- calls `%s` with `%s`\n", c.Function.Name, compact(c.Function.Arguments))
		}
		b.WriteString("\n")
	case chat.KindToolResult:
		fmt.Fprintf(b, "**tool `%s` result**\n\n```\n%s\n```\n\n", m.Name, strings.TrimRight(m.Content, "\n"))
	default:
		fmt.Fprintf(b, "**%s**\n\n%s\n\n", m.Role, strings.TrimSpace(m.Content))
	}
}

func compact(args string) string {
	args = strings.TrimSpace(args)
	if args == "" {
		return "{}"
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(args)); err != nil {
		return args
	}
	return buf.String()
}
