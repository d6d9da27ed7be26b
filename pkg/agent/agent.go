package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/harunnryd/toko/pkg/errorsx"
	"github.com/harunnryd/toko/pkg/llm"
	"github.com/harunnryd/toko/pkg/metrics"
	"github.com/harunnryd/toko/pkg/redact"
	"github.com/harunnryd/toko/pkg/resilience"
)

const defaultSystemPrompt = "You are an inventory assistant for a small e-shop. " +
	"Use the find_product, list_low_stock and update_stock tools to answer questions about the catalog. " +
	"Answer briefly and clearly."

const (
	defaultMaxToolRounds = 5
	defaultMaxHistory    = 24
)

type Options struct {
	Adapter       llm.LLMAdapter
	Tools         llm.ToolRegistry
	Observer      metrics.Observer
	Logger        *slog.Logger
	BasePrompt    string
	MaxToolRounds int
	MaxHistory    int
}

// Agent resolves user turns against a function-calling model. It is
// single-threaded by design: one turn, including every tool round the model
// requests, fully resolves before the next begins.
type Agent struct {
	adapter llm.LLMAdapter
	tools   llm.ToolRegistry
	obs     metrics.Observer
	log     *slog.Logger
	fsm     *stateMachine

	messages      []map[string]any
	maxToolRounds int
	maxHistory    int
}

func New(opts Options) *Agent {
	if opts.Observer == nil {
		opts.Observer = metrics.NoopObserver{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxToolRounds <= 0 {
		opts.MaxToolRounds = defaultMaxToolRounds
	}
	if opts.MaxHistory <= 0 {
		opts.MaxHistory = defaultMaxHistory
	}
	system := defaultSystemPrompt
	if extra := strings.TrimSpace(opts.BasePrompt); extra != "" {
		system = system + "\n" + extra
	}
	return &Agent{
		adapter:       opts.Adapter,
		tools:         opts.Tools,
		obs:           opts.Observer,
		log:           opts.Logger,
		fsm:           newStateMachine(),
		messages:      []map[string]any{{"role": "system", "content": system}},
		maxToolRounds: opts.MaxToolRounds,
		maxHistory:    opts.MaxHistory,
	}
}

// AddListener registers a listener for turn state changes.
func (a *Agent) AddListener(l StateListener) {
	a.fsm.AddListener(l)
}

// State returns the current turn state.
func (a *Agent) State() TurnState {
	return a.fsm.State()
}

// Ask resolves one user turn, including every tool round the model requests
// before it settles on a textual answer. A failed turn rolls the history
// back to its pre-turn state so it leaves no residue.
func (a *Agent) Ask(ctx context.Context, question string) (string, error) {
	turnID := uuid.NewString()
	log := a.log.With("turn_id", turnID)
	started := time.Now()

	log.Info("turn_started", "input", redact.Text(question))
	a.record(metrics.EventTurnStarted, turnID, nil)

	snapshot := len(a.messages)
	rollback := func() {
		a.messages = a.messages[:snapshot]
		_ = a.fsm.Transition(StateIdle, "turn failed")
	}

	if err := a.fsm.Transition(StateGenerating, "user input"); err != nil {
		return "", err
	}
	a.messages = append(a.messages, map[string]any{"role": "user", "content": question})

	rounds := 0
	for {
		resp, err := a.generate(ctx, turnID)
		if err != nil {
			rollback()
			a.failTurn(log, turnID, err)
			return "", err
		}

		if len(resp.ToolCalls) == 0 {
			a.messages = append(a.messages, map[string]any{"role": "assistant", "content": resp.Text})
			a.messages = pruneHistory(a.messages, a.maxHistory)
			_ = a.fsm.Transition(StateAnswered, "final answer")
			_ = a.fsm.Transition(StateIdle, "turn complete")
			a.record(metrics.EventTurnComplete, turnID, map[string]any{
				"rounds":      rounds,
				"duration_ms": time.Since(started).Milliseconds(),
			})
			log.Info("turn_complete", "rounds", rounds, "duration_ms", time.Since(started).Milliseconds())
			return resp.Text, nil
		}

		rounds++
		if rounds > a.maxToolRounds {
			err := errorsx.Wrap(
				fmt.Errorf("model exceeded %d tool rounds in one turn", a.maxToolRounds),
				errorsx.ReasonTurnLimit,
			)
			rollback()
			a.failTurn(log, turnID, err)
			return "", err
		}

		if err := a.fsm.Transition(StateToolCall, "model requested tools"); err != nil {
			rollback()
			return "", err
		}
		if err := a.execToolRound(ctx, turnID, log, resp.ToolCalls); err != nil {
			rollback()
			a.failTurn(log, turnID, err)
			return "", err
		}
		_ = a.fsm.Transition(StateToolDone, "tool results appended")
		_ = a.fsm.Transition(StateGenerating, "resubmitting with tool results")
	}
}

func (a *Agent) generate(ctx context.Context, turnID string) (llm.Response, error) {
	input := llm.Context{Messages: a.messages, Tools: a.tools.Tools()}
	started := time.Now()
	resp, err := llm.Retry(ctx, llm.RetryConfig{
		MaxAttempts: 2,
		BaseDelay:   200 * time.Millisecond,
		Jitter:      0.2,
		// Rate limits are the breaker's job; retrying them fast makes it worse.
		IsRetryable: func(err error) bool {
			return !resilience.IsRateLimit(err) && llm.DefaultIsRetryable(err)
		},
	}, func(ctx context.Context) (llm.Response, error) {
		return a.adapter.Generate(ctx, input)
	})
	if err != nil {
		reason := errorsx.ReasonLLMGenerate
		if resilience.IsRateLimit(err) {
			reason = errorsx.ReasonLLMRateLimit
		}
		return llm.Response{}, errorsx.Wrap(err, reason)
	}
	a.record(metrics.EventLLMGenerate, turnID, map[string]any{
		"duration_ms":  time.Since(started).Milliseconds(),
		"total_tokens": resp.Usage.TotalTokens,
	})
	return resp, nil
}

// execToolRound validates and executes every call in the round in order,
// then appends the assistant tool-call message and one tool result message
// per call. An unknown tool name is fatal for the turn; argument and store
// failures become tool-error results the model can correct on the next round.
func (a *Agent) execToolRound(ctx context.Context, turnID string, log *slog.Logger, calls []llm.ToolCall) error {
	assistantCalls := make([]map[string]any, 0, len(calls))
	results := make([]map[string]any, 0, len(calls))

	for _, call := range calls {
		argsJSON, _ := json.Marshal(call.Arguments)
		assistantCalls = append(assistantCalls, map[string]any{
			"id":   call.ID,
			"type": "function",
			"function": map[string]any{
				"name":      call.Name,
				"arguments": string(argsJSON),
			},
		})

		started := time.Now()
		result, err := a.tools.HandleTool(ctx, call.Name, call.Arguments)
		status := "ok"
		if err != nil {
			if errorsx.HasReason(err, errorsx.ReasonToolUnknown) {
				a.record(metrics.EventToolCall, turnID, map[string]any{
					"tool":   call.Name,
					"status": "unknown",
				})
				return err
			}
			status = "error"
			payload, _ := json.Marshal(map[string]any{"error": err.Error()})
			result = string(payload)
			log.Warn("tool_error",
				"tool", call.Name,
				"reason_code", string(errorsx.Reason(err)),
				"error", err,
			)
		}
		a.record(metrics.EventToolCall, turnID, map[string]any{
			"tool":        call.Name,
			"status":      status,
			"duration_ms": time.Since(started).Milliseconds(),
		})
		log.Info("tool_call", "tool", call.Name, "status", status)

		results = append(results, map[string]any{
			"role":         "tool",
			"tool_call_id": call.ID,
			"content":      result,
		})
	}

	a.messages = append(a.messages, map[string]any{"role": "assistant", "tool_calls": assistantCalls})
	a.messages = append(a.messages, results...)
	return nil
}

func (a *Agent) failTurn(log *slog.Logger, turnID string, err error) {
	a.record(metrics.EventTurnFailed, turnID, map[string]any{
		"reason": string(errorsx.Reason(err)),
	})
	log.Error("turn_failed", "reason_code", string(errorsx.Reason(err)), "error", err)
}

func (a *Agent) record(name, turnID string, fields map[string]any) {
	a.obs.RecordEvent(metrics.MetricsEvent{
		Name: name,
		Time: time.Now(),
		Tags: map[string]string{
			"component": "agent",
			"turn_id":   turnID,
		},
		Fields: fields,
	})
}

// pruneHistory drops the oldest turns once the history grows past maxHistory
// non-system messages. Whole turns are dropped, never split: a cut inside a
// tool round would strand a tool result without its preceding assistant
// tool_calls message, which chat-completions endpoints reject. System
// messages are always preserved, and the most recent turn is kept even when
// it alone exceeds the budget.
func pruneHistory(messages []map[string]any, maxHistory int) []map[string]any {
	if maxHistory <= 0 {
		return messages
	}
	system := make([]map[string]any, 0, 1)
	rest := make([]map[string]any, 0, len(messages))
	for _, msg := range messages {
		if role, _ := msg["role"].(string); strings.ToLower(role) == "system" {
			system = append(system, msg)
			continue
		}
		rest = append(rest, msg)
	}
	if len(rest) <= maxHistory {
		return messages
	}
	// Advance the cut one user message at a time so it always lands on a
	// turn boundary.
	start := 0
	for len(rest)-start > maxHistory {
		next := start + 1
		for next < len(rest) {
			if role, _ := rest[next]["role"].(string); role == "user" {
				break
			}
			next++
		}
		if next >= len(rest) {
			break
		}
		start = next
	}
	pruned := make([]map[string]any, 0, len(system)+len(rest)-start)
	pruned = append(pruned, system...)
	pruned = append(pruned, rest[start:]...)
	return pruned
}
