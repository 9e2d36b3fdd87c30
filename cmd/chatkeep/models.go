package main

import (
	"fmt"
	"strconv"
	"strings"
)

// resolveModelTarget 接受模型 id、列表序号或带引号的名字
// resolveModelTarget accepts a model id, a 1-based index into available, or a quoted name
func resolveModelTarget(arg string, available []string) (string, error) {
	raw := strings.TrimSpace(arg)
	if unquoted, err := strconv.Unquote(raw); err == nil {
		raw = strings.TrimSpace(unquoted)
	} else if len(raw) >= 2 && raw[0] == '\'' && raw[len(raw)-1] == '\'' {
		raw = strings.TrimSpace(raw[1 : len(raw)-1])
	}
	if raw == "" {
		return "", fmt.Errorf("missing model")
	}
	for _, model := range available {
		if strings.EqualFold(strings.TrimSpace(model), raw) {
			return strings.TrimSpace(model), nil
		}
	}
	if index, err := strconv.Atoi(raw); err == nil {
		if index < 1 || index > len(available) {
			return "", fmt.Errorf("index %d out of range", index)
		}
		return strings.TrimSpace(available[index-1]), nil
	}
	return raw, nil
}

// normalizedModels 去重去空，并把 current 放在最前（如果不在列表中）
// normalizedModels drops blanks and duplicates and puts current first when it is missing
func normalizedModels(existing []string, current string) []string {
	out := make([]string, 0, len(existing)+1)
	seen := map[string]struct{}{}
	for _, model := range existing {
		trimmed := strings.TrimSpace(model)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	current = strings.TrimSpace(current)
	if current != "" {
		if _, ok := seen[current]; !ok {
			out = append([]string{current}, out...)
		}
	}
	return out
}
