package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"chatkeep/internal/chat"
)

type CurrentTimeTool struct {
	now func() time.Time
}

func NewCurrentTimeTool(now func() time.Time) *CurrentTimeTool {
	if now == nil {
		now = time.Now
	}
	return &CurrentTimeTool{now: now}
}

func (t *CurrentTimeTool) Name() string {
	return "current_time"
}

func (t *CurrentTimeTool) Definition() chat.ToolDef {
	return chat.ToolDef{
		Type: "function",
		Function: chat.ToolFunction{
			Name:        t.Name(),
			Description: "Return the current date and time, optionally in an IANA time zone such as Europe/Berlin",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"zone": map[string]any{"type": "string", "description": "IANA time zone name; defaults to local time"},
				},
			},
		},
	}
}

func (t *CurrentTimeTool) Execute(_ context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Zone string `json:"zone"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &in); err != nil {
			return "", fmt.Errorf("current_time args: %w", err)
		}
	}

	now := t.now()
	if zone := strings.TrimSpace(in.Zone); zone != "" {
		loc, err := time.LoadLocation(zone)
		if err != nil {
			return "", fmt.Errorf("unknown time zone %q", zone)
		}
		now = now.In(loc)
	}

	zoneName, _ := now.Zone()
	return mustJSON(map[string]any{
		"ok":      true,
		"time":    now.Format(time.RFC3339),
		"zone":    zoneName,
		"weekday": now.Weekday().String(),
	}), nil
}
