package turn

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"chatkeep/internal/chat"
)

var (
	toolCallBlockPattern = regexp.MustCompile(`(?is)<tool_call>\s*(.*?)\s*</tool_call>`)
	functionCallPattern  = regexp.MustCompile(`(?is)<function=([a-zA-Z0-9_\-]+)>\s*(.*?)\s*</function>`)
	parameterPattern     = regexp.MustCompile(`(?is)<parameter=([a-zA-Z0-9_\-]+)>\s*(.*?)\s*</parameter>`)
)

// recoverToolCalls 把本地模型写在正文里的伪工具调用标记还原成结构化调用，只接受已注册的工具
// recoverToolCalls turns tool-call markup that local models write into the content back into
// structured calls. Only registered tool names are accepted. Two shapes are understood:
//
//	<tool_call>{"name":"current_time","arguments":{"zone":"UTC"}}</tool_call>
//	<tool_call><function=current_time><parameter=zone>UTC</parameter></function></tool_call>
func recoverToolCalls(content string, defs []chat.ToolDef) ([]chat.ToolCall, string) {
	if strings.TrimSpace(content) == "" || len(defs) == 0 {
		return nil, content
	}
	allowed := make(map[string]struct{}, len(defs))
	for _, d := range defs {
		if name := strings.ToLower(strings.TrimSpace(d.Function.Name)); name != "" {
			allowed[name] = struct{}{}
		}
	}

	matches := toolCallBlockPattern.FindAllStringSubmatchIndex(content, -1)
	if len(matches) == 0 {
		return nil, content
	}

	var calls []chat.ToolCall
	var cleaned strings.Builder
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		cleaned.WriteString(content[last:start])
		last = end
		inner := strings.TrimSpace(content[m[2]:m[3]])
		call, ok := parseJSONCall(inner, allowed)
		if !ok {
			call, ok = parseTaggedCall(inner, allowed)
		}
		if !ok {
			// 解析失败的块原样保留 / unparsed blocks stay in the text
			cleaned.WriteString(content[start:end])
			continue
		}
		call.ID = fmt.Sprintf("call_recovered_%d", len(calls)+1)
		calls = append(calls, call)
	}
	cleaned.WriteString(content[last:])
	if len(calls) == 0 {
		return nil, content
	}
	return calls, strings.TrimSpace(cleaned.String())
}

func parseJSONCall(inner string, allowed map[string]struct{}) (chat.ToolCall, bool) {
	var payload struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(inner), &payload); err != nil {
		return chat.ToolCall{}, false
	}
	name := strings.ToLower(strings.TrimSpace(payload.Name))
	if _, ok := allowed[name]; !ok {
		return chat.ToolCall{}, false
	}
	args := "{}"
	if raw := bytes.TrimSpace(payload.Arguments); len(raw) > 0 {
		var obj map[string]any
		if raw[0] != '{' || json.Unmarshal(raw, &obj) != nil {
			return chat.ToolCall{}, false
		}
		normalized, _ := json.Marshal(obj)
		args = string(normalized)
	}
	return newCall(name, args), true
}

func parseTaggedCall(inner string, allowed map[string]struct{}) (chat.ToolCall, bool) {
	m := functionCallPattern.FindStringSubmatch(inner)
	if len(m) != 3 {
		return chat.ToolCall{}, false
	}
	name := strings.ToLower(strings.TrimSpace(m[1]))
	if _, ok := allowed[name]; !ok {
		return chat.ToolCall{}, false
	}
	params := map[string]any{}
	for _, pm := range parameterPattern.FindAllStringSubmatch(m[2], -1) {
		if key := strings.TrimSpace(pm[1]); key != "" {
			params[key] = strings.TrimSpace(pm[2])
		}
	}
	args, err := json.Marshal(params)
	if err != nil {
		return chat.ToolCall{}, false
	}
	return newCall(name, string(args)), true
}

func newCall(name, args string) chat.ToolCall {
	return chat.ToolCall{
		Type:     "function",
		Function: chat.ToolCallFunction{Name: name, Arguments: args},
	}
}
