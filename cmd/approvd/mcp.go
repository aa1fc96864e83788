package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/approvd/approvd/pkg/protocol"
)

// mcpCmd exposes the daemon over MCP stdio, for agents that integrate
// through tool calls instead of hooks. Two tools are served:
// request_permission forwards a tool approval, ask_user forwards questions.
func mcpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the daemon as an MCP stdio server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dataDir, _ := cmd.Flags().GetString("data-dir")
			cfgPath, _ := cmd.Flags().GetString("config")
			noSpawn, _ := cmd.Flags().GetBool("no-spawn")

			socketPath, pidPath := clientPaths(dataDir)
			forward := func(ctx context.Context, payload map[string]any) (string, error) {
				line, err := json.Marshal(payload)
				if err != nil {
					return "", fmt.Errorf("marshal request: %w", err)
				}
				if err := ensureDaemon(ctx, socketPath, pidPath, cfgPath, !noSpawn); err != nil {
					return "", err
				}
				reply, err := sendRequest(ctx, socketPath, line, decisionTimeout)
				if err != nil {
					return "", err
				}
				return string(reply), nil
			}

			return server.ServeStdio(newMCPServer(forward))
		},
	}
	cmd.Flags().String("data-dir", "", "Data directory holding the daemon socket")
	cmd.Flags().StringP("config", "c", "", "Config path passed to a spawned daemon")
	cmd.Flags().Bool("no-spawn", false, "Fail instead of spawning a daemon when none is running")
	return cmd
}

// newMCPServer builds the MCP server around a forwarding function, kept
// separate so tests can stub the daemon round-trip.
func newMCPServer(forward func(ctx context.Context, payload map[string]any) (string, error)) *server.MCPServer {
	s := server.NewMCPServer("approvd", version)

	permission := mcp.NewTool("request_permission",
		mcp.WithDescription("Ask the human to approve or deny one tool invocation. Blocks until a decision is made."),
		mcp.WithString("tool_name",
			mcp.Required(),
			mcp.Description("Name of the tool the agent wants to run"),
		),
		mcp.WithObject("tool_input",
			mcp.Description("Arguments of the tool invocation"),
		),
		mcp.WithString("session_id",
			mcp.Description("Agent session identifier"),
		),
	)
	s.AddTool(permission, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		toolName, err := req.RequireString("tool_name")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		args := req.GetArguments()
		payload := map[string]any{
			"tool_name":  toolName,
			"tool_input": args["tool_input"],
			"session_id": req.GetString("session_id", ""),
		}
		reply, err := forward(ctx, payload)
		if err != nil {
			return mcp.NewToolResultText(string(protocol.EncodeDenyFallback())), nil
		}
		return mcp.NewToolResultText(reply), nil
	})

	ask := mcp.NewTool("ask_user",
		mcp.WithDescription("Ask the human one or more multiple-choice questions. Blocks until all questions are answered."),
		mcp.WithArray("questions",
			mcp.Required(),
			mcp.Description("Questions with their candidate options"),
		),
		mcp.WithString("session_id",
			mcp.Description("Agent session identifier"),
		),
	)
	s.AddTool(ask, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		questions, ok := args["questions"]
		if !ok {
			return mcp.NewToolResultError("questions is required"), nil
		}
		payload := map[string]any{
			"type":       "user_question",
			"questions":  questions,
			"session_id": req.GetString("session_id", ""),
		}
		reply, err := forward(ctx, payload)
		if err != nil {
			return mcp.NewToolResultText(string(protocol.EncodeDenyFallback())), nil
		}
		return mcp.NewToolResultText(reply), nil
	})

	return s
}
