package contextmgr

import (
	"strings"
	"unicode"

	"chatkeep/internal/chat"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

const (
	encodingCL100K = "cl100k_base"
	encodingO200K  = "o200k_base"

	// 每条消息的固定开销 / fixed per-message framing
	messageOverhead  = 4
	toolCallOverhead = 8
)

// o200kPrefixes 使用 o200k_base 的模型前缀；其余（包括 Qwen、Llama 等本地模型）按 cl100k_base 估算
// o200kPrefixes lists model prefixes on o200k_base; everything else is estimated with cl100k_base
var o200kPrefixes = []string{"gpt-4o", "chatgpt-4o", "gpt-4.1", "gpt-5", "o1", "o3", "o4"}

// Tokenizer 计算发给模型的消息 token 数；tiktoken 不可用时用启发式估算
// Tokenizer counts the tokens of messages sent to the model, estimating when tiktoken is unavailable
type Tokenizer struct {
	encodingName string
	encode       func(string) int
}

// NewTokenizer 加载 encodingName 对应的 BPE 词表；离线时没有缓存会回退到启发式
// NewTokenizer loads the BPE ranks for encodingName and falls back to the estimate when they cannot be fetched
func NewTokenizer(encodingName string) *Tokenizer {
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return &Tokenizer{encodingName: encodingName}
	}
	return &Tokenizer{
		encodingName: encodingName,
		encode: func(text string) int {
			return len(enc.Encode(text, nil, nil))
		},
	}
}

// NewHeuristicTokenizer never touches the network or the BPE cache.
func NewHeuristicTokenizer() *Tokenizer {
	return &Tokenizer{encodingName: "heuristic"}
}

func NewTokenizerForModel(model string) *Tokenizer {
	return NewTokenizer(modelToEncoding(model))
}

// Count 计算消息列表的 token 数；思考消息不发送给模型，计为 0
// Count sums the tokens of messages; thoughts are never sent and count as zero
func (t *Tokenizer) Count(messages []chat.Message) int {
	total := 0
	for _, msg := range messages {
		total += t.countMessage(msg)
	}
	return total
}

func (t *Tokenizer) CountText(text string) int {
	if text == "" {
		return 0
	}
	if t.encode == nil {
		return estimateTokens(text)
	}
	return t.encode(text)
}

// IsPrecise reports whether counts come from the real BPE encoding.
func (t *Tokenizer) IsPrecise() bool {
	return t.encode != nil
}

func (t *Tokenizer) EncodingName() string {
	return t.encodingName
}

func (t *Tokenizer) countMessage(msg chat.Message) int {
	switch msg.Kind() {
	case chat.KindThought:
		return 0
	case chat.KindToolResult:
		return messageOverhead + t.CountText(msg.Role) + t.CountText(msg.Name) + t.CountText(msg.ToolCallID) + t.CountText(msg.Content)
	}
	tokens := messageOverhead + t.CountText(msg.Role) + t.CountText(msg.Content)
	for _, tc := range msg.ToolCalls {
		tokens += toolCallOverhead + t.CountText(tc.Function.Name) + t.CountText(tc.Function.Arguments)
	}
	return tokens
}

// estimateTokens 表意文字和韩文约 1.5 token/字，其他字符约 4 个一个 token
// estimateTokens charges ideographs and Hangul about 1.5 tokens each and other runes about a quarter token
func estimateTokens(text string) int {
	if text == "" {
		return 0
	}
	var wide, narrow int
	for _, r := range text {
		if isWide(r) {
			wide++
		} else {
			narrow++
		}
	}
	return max(1, (wide*6+narrow)/4)
}

func isWide(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hangul, unicode.Hiragana, unicode.Katakana) ||
		(r >= 0x3000 && r <= 0x303F) || // CJK punctuation
		(r >= 0xFF00 && r <= 0xFFEF) // fullwidth forms
}

func modelToEncoding(model string) string {
	m := strings.ToLower(strings.TrimSpace(model))
	for _, p := range o200kPrefixes {
		if strings.HasPrefix(m, p) {
			return encodingO200K
		}
	}
	return encodingCL100K
}
