package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonConfig ReasonCode = "config"

	ReasonStoreOpen  ReasonCode = "store_open"
	ReasonStoreQuery ReasonCode = "store_query"
	ReasonStoreExec  ReasonCode = "store_exec"

	ReasonLLMGenerate  ReasonCode = "llm_generate"
	ReasonLLMRateLimit ReasonCode = "llm_rate_limit"

	ReasonToolUnknown ReasonCode = "tool_unknown"
	ReasonToolArgs    ReasonCode = "tool_args"
	ReasonToolFailed  ReasonCode = "tool_failed"

	ReasonTurnLimit ReasonCode = "turn_limit"
)
