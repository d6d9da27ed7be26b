package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/harunnryd/toko/pkg/errorsx"
	"github.com/harunnryd/toko/pkg/llm"
	"github.com/harunnryd/toko/pkg/metrics"
	mockllm "github.com/harunnryd/toko/pkg/providers/mock"
	"github.com/harunnryd/toko/pkg/resilience"
)

type countingRegistry struct {
	llm.ToolRegistry
	mu    sync.Mutex
	calls []string
}

func (c *countingRegistry) HandleTool(ctx context.Context, name string, args map[string]any) (string, error) {
	c.mu.Lock()
	c.calls = append(c.calls, name)
	c.mu.Unlock()
	return c.ToolRegistry.HandleTool(ctx, name, args)
}

func (c *countingRegistry) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func newTestAgent(t *testing.T, adapter llm.LLMAdapter, obs metrics.Observer) (*Agent, *countingRegistry) {
	t.Helper()
	registry := &countingRegistry{ToolRegistry: NewInventoryTools(newSeededStore(t), nil)}
	return New(Options{
		Adapter:  adapter,
		Tools:    registry,
		Observer: obs,
	}), registry
}

func TestAskDirectAnswer(t *testing.T) {
	adapter := mockllm.NewLLMAdapter(mockllm.LLMConfig{ResponseText: "hello"})
	a, registry := newTestAgent(t, adapter, nil)

	answer, err := a.Ask(context.Background(), "hi")
	if err != nil {
		t.Fatalf("ask error: %v", err)
	}
	if answer != "hello" {
		t.Fatalf("unexpected answer %q", answer)
	}
	if registry.Count() != 0 {
		t.Fatalf("expected no tool calls, got %d", registry.Count())
	}
	if a.State() != StateIdle {
		t.Fatalf("expected IDLE after turn, got %s", a.State())
	}
	// system + user + assistant
	if len(a.messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(a.messages))
	}
}

func TestAskTwoToolRoundsProduceOneAnswer(t *testing.T) {
	adapter := mockllm.NewLLMAdapter(mockllm.LLMConfig{
		Script: []llm.Response{
			{ToolCalls: []llm.ToolCall{{
				ID:        "call-1",
				Name:      "find_product",
				Arguments: map[string]any{"name": "iPhone"},
			}}},
			{ToolCalls: []llm.ToolCall{{
				ID:        "call-2",
				Name:      "update_stock",
				Arguments: map[string]any{"product_id": float64(1), "delta": float64(-1)},
			}}},
			{Text: "Found the iPhone 15 and reduced its stock to 4."},
		},
	})
	mem := metrics.NewMemoryObserver()
	a, registry := newTestAgent(t, adapter, mem)

	answer, err := a.Ask(context.Background(), "find the iPhone and reduce its stock by 1")
	if err != nil {
		t.Fatalf("ask error: %v", err)
	}
	if !strings.Contains(answer, "iPhone 15") {
		t.Fatalf("unexpected answer %q", answer)
	}
	if registry.Count() != 2 {
		t.Fatalf("expected exactly 2 tool invocations, got %d", registry.Count())
	}
	if adapter.Calls() != 3 {
		t.Fatalf("expected 3 model calls, got %d", adapter.Calls())
	}

	var toolEvents int
	for _, ev := range mem.Events {
		if ev.Name == metrics.EventToolCall {
			toolEvents++
		}
	}
	if toolEvents != 2 {
		t.Fatalf("expected 2 tool_call events, got %d", toolEvents)
	}
}

func TestAskToolRoundLimit(t *testing.T) {
	// No script: the adapter asks for the same tool on every call.
	adapter := mockllm.NewLLMAdapter(mockllm.LLMConfig{
		ToolCalls: []llm.ToolCall{{
			ID:        "call-loop",
			Name:      "find_product",
			Arguments: map[string]any{"name": "iPhone"},
		}},
	})
	registry := &countingRegistry{ToolRegistry: NewInventoryTools(newSeededStore(t), nil)}
	a := New(Options{
		Adapter:       adapter,
		Tools:         registry,
		MaxToolRounds: 2,
	})

	_, err := a.Ask(context.Background(), "loop forever")
	if !errorsx.HasReason(err, errorsx.ReasonTurnLimit) {
		t.Fatalf("expected turn_limit reason, got %v", err)
	}
	if registry.Count() != 2 {
		t.Fatalf("expected the cap to stop after 2 rounds, got %d", registry.Count())
	}
	if len(a.messages) != 1 {
		t.Fatalf("expected history rolled back to system prompt, got %d messages", len(a.messages))
	}
	if a.State() != StateIdle {
		t.Fatalf("expected IDLE after failed turn, got %s", a.State())
	}
}

func TestAskFailedGenerateRollsBackHistory(t *testing.T) {
	adapter := mockllm.NewLLMAdapter(mockllm.LLMConfig{Err: errors.New("upstream down")})
	a, _ := newTestAgent(t, adapter, nil)

	_, err := a.Ask(context.Background(), "hello")
	if !errorsx.HasReason(err, errorsx.ReasonLLMGenerate) {
		t.Fatalf("expected llm_generate reason, got %v", err)
	}
	if len(a.messages) != 1 {
		t.Fatalf("expected history rolled back, got %d messages", len(a.messages))
	}

	// The next turn starts clean.
	ok := mockllm.NewLLMAdapter(mockllm.LLMConfig{ResponseText: "recovered"})
	a.adapter = ok
	answer, err := a.Ask(context.Background(), "hello again")
	if err != nil {
		t.Fatalf("ask error: %v", err)
	}
	if answer != "recovered" {
		t.Fatalf("unexpected answer %q", answer)
	}
}

func TestAskRateLimitReason(t *testing.T) {
	adapter := mockllm.NewLLMAdapter(mockllm.LLMConfig{
		Err: resilience.RateLimitError{Provider: "openai"},
	})
	a, _ := newTestAgent(t, adapter, nil)

	_, err := a.Ask(context.Background(), "hello")
	if !errorsx.HasReason(err, errorsx.ReasonLLMRateLimit) {
		t.Fatalf("expected llm_rate_limit reason, got %v", err)
	}
}

func TestAskBadArgumentsFedBackToModel(t *testing.T) {
	adapter := mockllm.NewLLMAdapter(mockllm.LLMConfig{
		Script: []llm.Response{
			{ToolCalls: []llm.ToolCall{{
				ID:        "call-1",
				Name:      "update_stock",
				Arguments: map[string]any{"product_id": float64(1), "delta": 1.5},
			}}},
			{ToolCalls: []llm.ToolCall{{
				ID:        "call-2",
				Name:      "update_stock",
				Arguments: map[string]any{"product_id": float64(1), "delta": float64(2)},
			}}},
			{Text: "done"},
		},
	})
	a, registry := newTestAgent(t, adapter, nil)

	answer, err := a.Ask(context.Background(), "add 2 to product 1")
	if err != nil {
		t.Fatalf("ask error: %v", err)
	}
	if answer != "done" {
		t.Fatalf("unexpected answer %q", answer)
	}
	if registry.Count() != 2 {
		t.Fatalf("expected 2 tool invocations, got %d", registry.Count())
	}

	// The second model call saw the tool-error result from the first round.
	input, ok := adapter.LastInput()
	if !ok {
		t.Fatalf("expected recorded inputs")
	}
	var sawToolError bool
	for _, msg := range input.Messages {
		if role, _ := msg["role"].(string); role != "tool" {
			continue
		}
		if content, _ := msg["content"].(string); strings.Contains(content, "error") {
			sawToolError = true
		}
	}
	if !sawToolError {
		t.Fatalf("expected a tool-error result in the conversation")
	}
}

func TestAskUnknownToolIsFatalForTurn(t *testing.T) {
	adapter := mockllm.NewLLMAdapter(mockllm.LLMConfig{
		Script: []llm.Response{
			{ToolCalls: []llm.ToolCall{{
				ID:        "call-1",
				Name:      "make_coffee",
				Arguments: map[string]any{},
			}}},
		},
		ResponseText: "never reached",
	})
	a, _ := newTestAgent(t, adapter, nil)

	_, err := a.Ask(context.Background(), "coffee please")
	if !errorsx.HasReason(err, errorsx.ReasonToolUnknown) {
		t.Fatalf("expected tool_unknown reason, got %v", err)
	}
	if adapter.Calls() != 1 {
		t.Fatalf("expected the turn to stop after one model call, got %d", adapter.Calls())
	}
	if len(a.messages) != 1 {
		t.Fatalf("expected history rolled back, got %d messages", len(a.messages))
	}
}

func TestPruneHistoryNeverStrandsToolResults(t *testing.T) {
	// Two turns, the first a tool round. A flat cut at 4 would land between
	// the assistant tool_calls message and its tool result.
	messages := []map[string]any{
		{"role": "system", "content": "sys"},
		{"role": "user", "content": "find the iphone and restock it"},
		{"role": "assistant", "tool_calls": []map[string]any{{"id": "call-1"}}},
		{"role": "tool", "tool_call_id": "call-1", "content": "{}"},
		{"role": "assistant", "content": "done"},
		{"role": "user", "content": "thanks"},
		{"role": "assistant", "content": "anytime"},
	}
	pruned := pruneHistory(messages, 4)
	if role, _ := pruned[0]["role"].(string); role != "system" {
		t.Fatalf("expected system message preserved first, got %s", role)
	}
	if role, _ := pruned[1]["role"].(string); role != "user" {
		t.Fatalf("expected the cut on a turn boundary, got leading %s message", role)
	}
	for i, msg := range pruned {
		if role, _ := msg["role"].(string); role != "tool" {
			continue
		}
		if i == 0 {
			t.Fatalf("tool message at head of history")
		}
		if _, ok := pruned[i-1]["tool_calls"]; !ok {
			t.Fatalf("tool message at %d has no preceding assistant tool_calls message", i)
		}
	}
	// The whole first turn went, so only the second remains.
	if len(pruned) != 3 {
		t.Fatalf("expected system + last turn, got %d messages", len(pruned))
	}
}

func TestPruneHistoryKeepsLastTurnWhole(t *testing.T) {
	// One oversized tool-heavy turn must survive intact rather than be split.
	messages := []map[string]any{
		{"role": "system", "content": "sys"},
		{"role": "user", "content": "audit everything"},
	}
	for i := 0; i < 3; i++ {
		messages = append(messages, map[string]any{"role": "assistant", "tool_calls": []map[string]any{{"id": "c"}}})
		messages = append(messages, map[string]any{"role": "tool", "tool_call_id": "c", "content": "{}"})
	}
	messages = append(messages, map[string]any{"role": "assistant", "content": "done"})

	pruned := pruneHistory(messages, 4)
	if len(pruned) != len(messages) {
		t.Fatalf("expected the single turn kept whole, got %d of %d messages", len(pruned), len(messages))
	}
}

func TestPruneHistoryKeepsSystemMessages(t *testing.T) {
	messages := []map[string]any{{"role": "system", "content": "sys"}}
	for i := 0; i < 10; i++ {
		messages = append(messages, map[string]any{"role": "user", "content": "q"})
		messages = append(messages, map[string]any{"role": "assistant", "content": "a"})
	}
	pruned := pruneHistory(messages, 4)
	if len(pruned) != 5 {
		t.Fatalf("expected system + 4 messages, got %d", len(pruned))
	}
	if role, _ := pruned[0]["role"].(string); role != "system" {
		t.Fatalf("expected system message preserved first, got %s", role)
	}
}
