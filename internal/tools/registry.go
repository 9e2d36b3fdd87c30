package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"chatkeep/internal/chat"
)

type Registry struct {
	tools map[string]Tool
}

func NewRegistry(ts ...Tool) *Registry {
	m := make(map[string]Tool, len(ts))
	for _, t := range ts {
		m[t.Name()] = t
	}
	return &Registry{tools: m}
}

// Definitions are sorted by tool name so requests are stable.
func (r *Registry) Definitions() []chat.ToolDef {
	out := make([]chat.ToolDef, 0, len(r.tools))
	for _, name := range r.Names() {
		out = append(out, r.tools[name].Definition())
	}
	return out
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (string, error) {
	t, ok := r.tools[name]
	if !ok {
		return "", fmt.Errorf("unknown tool: %s", name)
	}
	return t.Execute(ctx, args)
}
