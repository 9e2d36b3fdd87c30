// Package tools holds the functions the model may call during a turn.
package tools

import (
	"context"
	"encoding/json"

	"chatkeep/internal/chat"
)

// Tool 模型可调用的函数；Execute 返回的字符串作为工具结果消息的内容
// Tool is a function the model may call; the string Execute returns becomes the tool result content
type Tool interface {
	Name() string
	Definition() chat.ToolDef
	Execute(ctx context.Context, args json.RawMessage) (string, error)
}
