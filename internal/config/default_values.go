package config

const (
	DefaultBaseURL   = "https://api.openai.com/v1"
	DefaultModel     = "gpt-4o-mini"
	DefaultTimeoutMS = 120000
	DefaultRetries   = 2

	DefaultRuntimeMaxSteps          = 8
	DefaultRuntimeContextTokenLimit = 24000

	DefaultBaseDir      = "~/.chatkeep"
	DefaultSessionTitle = "New Chat"
	DefaultLogLevel     = "info"
)

const defaultSystemPrompt = "You are a helpful assistant. Answer concisely. " +
	"Use the available tools when the user asks about the current time or about earlier conversations."
