package metrics

// Event names emitted by the agent loop and the LLM adapters.
const (
	EventTurnStarted  = "turn_started"
	EventTurnComplete = "turn_complete"
	EventTurnFailed   = "turn_failed"

	EventLLMGenerate = "llm_generate"
	EventToolCall    = "tool_call"

	EventRateLimit     = "rate_limit"
	EventBreakerOpen   = "breaker_open"
	EventBreakerClose  = "breaker_close"
	EventBreakerDenied = "breaker_denied"
)
