package contextmgr

import "chatkeep/internal/chat"

// Trim 保留能放进 budget 的最新消息；窗口不会以孤立的工具结果开头
// Trim keeps the newest messages that fit in budget tokens; the window never opens on an orphan tool result
//
// A budget of zero or less disables trimming.
func Trim(tok *Tokenizer, messages []chat.Message, budget int) []chat.Message {
	if budget <= 0 || tok == nil {
		return append([]chat.Message(nil), messages...)
	}

	start := len(messages)
	used := 0
	for i := len(messages) - 1; i >= 0; i-- {
		cost := tok.countMessage(messages[i])
		if used+cost > budget {
			break
		}
		used += cost
		start = i
	}
	for start < len(messages) && messages[start].Kind() == chat.KindToolResult {
		start++
	}
	return append([]chat.Message(nil), messages[start:]...)
}
