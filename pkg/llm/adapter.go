package llm

import "context"

// Tool describes one callable operation in the form a function-calling
// model consumes: a name, a natural-language description the model uses to
// decide when to invoke it, and a JSON schema for its parameters.
type Tool struct {
	Name        string
	Description string
	Schema      any
}

// Context is one request to the model: the conversation so far plus the
// tool declarations, supplied verbatim on every call.
type Context struct {
	Messages []map[string]any
	Tools    []Tool
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is either a direct textual answer or a request to invoke tools.
type Response struct {
	Text         string
	Usage        Usage
	FinishReason string
	ToolCalls    []ToolCall
}

type LLMAdapter interface {
	Generate(ctx context.Context, input Context) (Response, error)
	MapTools(tools []Tool) (providerTools any, err error)
	FromProviderFormat(raw any) (Response, error)
	Name() string
}

type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}
