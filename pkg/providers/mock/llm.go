package mock

import (
	"context"
	"sync"

	"github.com/harunnryd/toko/pkg/llm"
)

// LLMAdapter is a scripted adapter for tests and offline runs. Each Generate
// call consumes the next scripted response; once the script is exhausted (or
// when there is none) it answers with the configured fallback.
type LLMAdapter struct {
	cfg LLMConfig

	mu     sync.Mutex
	calls  int
	inputs []llm.Context
}

type LLMConfig struct {
	ResponseText string
	ToolCalls    []llm.ToolCall
	Script       []llm.Response
	Err          error
}

func NewLLMAdapter(cfg LLMConfig) *LLMAdapter {
	if cfg.ResponseText == "" {
		cfg.ResponseText = "mock response"
	}
	return &LLMAdapter{cfg: cfg}
}

func (a *LLMAdapter) Name() string { return "mock_llm" }

func (a *LLMAdapter) Generate(ctx context.Context, input llm.Context) (llm.Response, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inputs = append(a.inputs, input)
	n := a.calls
	a.calls++
	if a.cfg.Err != nil {
		return llm.Response{}, a.cfg.Err
	}
	if n < len(a.cfg.Script) {
		return a.cfg.Script[n], nil
	}
	return llm.Response{
		Text:      a.cfg.ResponseText,
		ToolCalls: a.cfg.ToolCalls,
	}, nil
}

// Calls reports how many Generate calls the adapter has seen.
func (a *LLMAdapter) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// LastInput returns the most recent Generate input, if any.
func (a *LLMAdapter) LastInput() (llm.Context, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.inputs) == 0 {
		return llm.Context{}, false
	}
	return a.inputs[len(a.inputs)-1], true
}

func (a *LLMAdapter) MapTools(tools []llm.Tool) (any, error) {
	return nil, nil
}

func (a *LLMAdapter) FromProviderFormat(raw any) (llm.Response, error) {
	return llm.Response{Text: a.cfg.ResponseText}, nil
}
