package main

import (
	"context"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/michaelbrown/codeshare/internal/config"
	"github.com/michaelbrown/codeshare/internal/execution"
	"github.com/michaelbrown/codeshare/internal/logging"
	"github.com/michaelbrown/codeshare/internal/protocol"
)

// maxOutput bounds the text returned to the MCP client.
const maxOutput = 4000

func main() {
	cfg, err := config.Load(os.Getenv("CODESHARE_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}
	// Stdout is the MCP transport.
	cfg.Log.OutputPaths = []string{"stderr"}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "building logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	engines, err := execution.NewEngines(cfg.Sandbox.Python, logger)
	if err != nil {
		logger.Fatal("building engines", zap.Error(err))
	}
	r := &runner{handle: execution.NewHandle(execution.InProcess(logger, engines...), logger)}
	defer r.handle.Close()

	s := server.NewMCPServer("codeshare-code-runner", "0.1.0")
	s.AddTool(codeTool("run_js", "Run JavaScript in the codeshare sandbox. The value of the last expression and console output are returned."), r.handler(protocol.JavaScript))
	s.AddTool(codeTool("run_py", "Run Python in the codeshare sandbox. The value of a trailing expression and printed output are returned."), r.handler(protocol.Python))

	if err := server.ServeStdio(s); err != nil {
		logger.Error("server error", zap.Error(err))
	}
}

func codeTool(name, description string) mcp.Tool {
	return mcp.Tool{
		Name:        name,
		Description: description,
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "Source code to execute",
				},
			},
			Required: []string{"code"},
		},
	}
}

type runner struct {
	handle *execution.Handle
}

func (r *runner) handler(lang protocol.Language) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]any)
		if args == nil {
			return errResult("error: invalid arguments"), nil
		}
		code, _ := args["code"].(string)
		if code == "" {
			return errResult("error: 'code' is required"), nil
		}

		resp, err := r.handle.Run(ctx, lang, code)
		if err != nil {
			return errResult(fmt.Sprintf("error: %v", err)), nil
		}

		note := protocol.Present(resp)
		text := note.Text
		if len(text) > maxOutput {
			text = text[:maxOutput] + "\n... (output truncated)"
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
			IsError: note.IsError,
		}, nil
	}
}

func errResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
		IsError: true,
	}
}
