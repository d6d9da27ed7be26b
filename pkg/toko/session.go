package toko

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/harunnryd/toko/pkg/agent"
	"github.com/harunnryd/toko/pkg/errorsx"
)

const prompt = "toko> "

// Session is the interactive read-eval-print loop: one line of free text at
// a time, each turn fully resolved before the next line is read. Final
// answers go to out; logs stay on the logger.
type Session struct {
	agent *agent.Agent
	in    io.Reader
	out   io.Writer
	log   *slog.Logger
}

type SessionOptions struct {
	Agent  *agent.Agent
	Input  io.Reader
	Output io.Writer
	Logger *slog.Logger
}

func NewSession(opts SessionOptions) *Session {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Session{
		agent: opts.Agent,
		in:    opts.Input,
		out:   opts.Output,
		log:   opts.Logger,
	}
}

// Run reads lines until EOF, an exit command, or context cancellation.
// A failed turn prints a short reason and the loop continues.
func (s *Session) Run(ctx context.Context) error {
	s.printWelcome()
	scanner := bufio.NewScanner(s.in)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fmt.Fprint(s.out, prompt)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			fmt.Fprintln(s.out)
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			fmt.Fprintln(s.out, "bye")
			return nil
		}
		answer, err := s.agent.Ask(ctx, line)
		if err != nil {
			fmt.Fprintln(s.out, s.errorLine(err))
			continue
		}
		fmt.Fprintln(s.out, answer)
	}
}

func (s *Session) printWelcome() {
	fmt.Fprintln(s.out, "Inventory assistant ready. Try:")
	fmt.Fprintln(s.out, "  - Find the iPhone")
	fmt.Fprintln(s.out, "  - Which products have fewer than 3 units?")
	fmt.Fprintln(s.out, "  - Reduce the stock of product 1 by 2")
	fmt.Fprintln(s.out, "Type 'exit' to quit.")
}

func (s *Session) errorLine(err error) string {
	switch errorsx.Reason(err) {
	case errorsx.ReasonLLMRateLimit:
		return "the model is rate limited right now, try again in a moment"
	case errorsx.ReasonToolUnknown:
		return "the model asked for a tool this agent does not have"
	case errorsx.ReasonTurnLimit:
		return "giving up after too many tool rounds, try rephrasing the question"
	default:
		return "that turn failed: " + err.Error()
	}
}
