// Package mcptool exposes the executor as a Model Context Protocol tool so
// agents can run JavaScript through blitz over stdio.
package mcptool

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sakif/blitz/internal/executor"
)

const (
	ToolName = "run_javascript"

	// maxText bounds the text returned to the model.
	maxText = 8000
)

// NewServer returns an MCP server with the run_javascript tool registered.
func NewServer(exec executor.Executor, version string, logger *slog.Logger) *server.MCPServer {
	s := server.NewMCPServer("blitz", version)
	s.AddTool(Tool(), Handler(exec, logger))
	return s
}

// Tool describes run_javascript.
func Tool() mcp.Tool {
	return mcp.Tool{
		Name: ToolName,
		Description: "Execute JavaScript in a sandbox and return its console output. " +
			"Declare every npm package the code imports in 'packages'. " +
			"Node built-ins such as fs, child_process, os, path and crypto are not available.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "JavaScript source. ES module imports are allowed when packages are declared.",
				},
				"packages": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "npm packages the code imports, e.g. [\"lodash\", \"date-fns@3\"] (optional)",
				},
			},
			Required: []string{"code"},
		},
	}
}

// Handler runs the tool call through exec. Execution failures are reported
// as tool errors, never as protocol errors.
func Handler(exec executor.Executor, logger *slog.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]any)
		if args == nil {
			return errResult("error: invalid arguments"), nil
		}

		code, _ := args["code"].(string)
		if strings.TrimSpace(code) == "" {
			return errResult("error: 'code' is required"), nil
		}

		packages, err := stringList(args["packages"])
		if err != nil {
			return errResult("error: " + err.Error()), nil
		}

		result := exec.Execute(ctx, executor.ExecutionRequest{Code: code, Packages: packages}, nil)
		logger.Debug("tool call finished",
			slog.String("tool", ToolName),
			slog.String("strategy", result.Strategy),
			slog.Bool("success", result.Success),
		)

		if !result.Success {
			return errResult(fmt.Sprintf("%s: %s", result.ErrorKind, result.Error)), nil
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{mcp.TextContent{Type: "text", Text: formatOutput(result.Output)}},
		}, nil
	}
}

func stringList(v any) ([]string, error) {
	if v == nil {
		return nil, nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("'packages' must be an array of strings")
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok || strings.TrimSpace(s) == "" {
			return nil, fmt.Errorf("'packages' must be an array of non-empty strings")
		}
		out = append(out, strings.TrimSpace(s))
	}
	return out, nil
}

// formatOutput renders one line per event. Non-log channels are prefixed so
// the model can tell warnings and errors apart.
func formatOutput(events []executor.OutputEvent) string {
	if len(events) == 0 {
		return "(no output)"
	}

	var b strings.Builder
	for i, ev := range events {
		if i > 0 {
			b.WriteByte('\n')
		}
		if ev.Channel != executor.ChannelLog {
			fmt.Fprintf(&b, "[%s] ", ev.Channel)
		}
		b.WriteString(ev.String())
	}

	text := b.String()
	if len(text) > maxText {
		text = text[:maxText] + "\n... (output truncated)"
	}
	return text
}

func errResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
		IsError: true,
	}
}
