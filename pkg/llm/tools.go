package llm

import "context"

// ToolRegistry exposes a static set of tools and executes them by name.
type ToolRegistry interface {
	Tools() []Tool
	HandleTool(ctx context.Context, name string, args map[string]any) (string, error)
}
