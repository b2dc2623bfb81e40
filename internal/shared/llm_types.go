package shared

import (
	"time"
)

// TokenUsage tracks the tokens consumed by a request.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Model            string
}

// Empty reports whether no tokens were recorded.
func (u TokenUsage) Empty() bool {
	return u.PromptTokens == 0 && u.CompletionTokens == 0
}

// AgentMeta holds operational metadata for one model call made on behalf
// of the engine (recognition, estimation).
type AgentMeta struct {
	AgentName string
	Usage     TokenUsage
	Latency   time.Duration
}
