package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/datasmith/databench/config"
	"github.com/datasmith/databench/dataset"
	"github.com/datasmith/databench/gateway"
	"github.com/datasmith/databench/scanner"
	"github.com/datasmith/databench/workbench"
)

// MCPServer exposes the execution pipeline as an MCP tool.
type MCPServer struct {
	config    *config.Config
	logger    *zap.Logger
	gateway   *gateway.Gateway
	mcpServer *server.MCPServer
}

// toolResult is the JSON payload returned inside the tool's text content.
// The dataset travels in pandas-style records orient, which is what LLM
// clients most often produce and consume.
type toolResult struct {
	ExecutionID string              `json:"execution_id"`
	Status      workbench.Status    `json:"status"`
	Records     json.RawMessage     `json:"records,omitempty"`
	Diagnostics string              `json:"diagnostics,omitempty"`
	Violations  []scanner.Violation `json:"violations,omitempty"`
}

// New creates the MCP server and registers the transform_dataset tool.
func New(cfg *config.Config, logger *zap.Logger, gw *gateway.Gateway) (*MCPServer, error) {
	s := &MCPServer{
		config:  cfg,
		logger:  logger,
		gateway: gw,
	}

	logger.Info("configuration loaded",
		zap.String("server.transport", cfg.Server.Transport),
		zap.Int("server.http_port", cfg.Server.HTTPPort),
		zap.Int("runner.timeout_sec", cfg.Runner.TimeoutSec),
		zap.Int("runner.memory_mb", cfg.Runner.MemoryMB),
		zap.Int("runner.workers", cfg.Runner.Workers))

	s.mcpServer = server.NewMCPServer("databench", "A restricted dataset transformation runner")
	s.registerTransformDatasetTool()

	return s, nil
}

func (s *MCPServer) registerTransformDatasetTool() {
	tool := mcp.Tool{
		Name:        "transform_dataset",
		Description: "Run a JavaScript transformation against a tabular dataset inside a restricted runtime",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "JavaScript transformation; the dataset is bound as `dataframe`",
				},
				"dataset_json": map[string]any{
					"type":        "string",
					"description": "Dataset as a JSON records array: [{\"col\": value, ...}, ...]",
				},
				"parameters": map[string]any{
					"type":        "object",
					"description": "Scalar parameters exposed to the code as `params` (optional)",
				},
			},
			Required: []string{"code", "dataset_json"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleTransformDataset)
}

func (s *MCPServer) handleTransformDataset(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.logger.Info("dataset transformation requested")

	code, err := request.RequireString("code")
	if err != nil {
		return nil, fmt.Errorf("code parameter is required: %w", err)
	}
	datasetJSON, err := request.RequireString("dataset_json")
	if err != nil {
		return nil, fmt.Errorf("dataset_json parameter is required: %w", err)
	}

	ds, err := dataset.FromRecords([]byte(datasetJSON))
	if err != nil {
		return toolError(fmt.Sprintf("dataset_json is not a valid records array: %v", err)), nil
	}

	params, err := extractParams(request.GetArguments()["parameters"])
	if err != nil {
		return toolError(err.Error()), nil
	}

	resp, err := s.gateway.Handle(ctx, gateway.Request{
		Code:    code,
		Dataset: ds,
		Params:  params,
	})
	if err != nil {
		if errors.Is(err, gateway.ErrBusy) {
			return toolError("all execution workers are busy, retry shortly"), nil
		}
		return nil, err
	}

	s.logger.Info("dataset transformation completed",
		zap.String("execution_id", resp.ID),
		zap.String("status", string(resp.Status)))

	result := toolResult{
		ExecutionID: resp.ID,
		Status:      resp.Status,
		Diagnostics: resp.Diagnostics,
		Violations:  resp.Violations,
	}
	if resp.Dataset != nil {
		records, recErr := resp.Dataset.ToRecords()
		if recErr != nil {
			return nil, fmt.Errorf("encoding result dataset: %w", recErr)
		}
		result.Records = records
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encoding tool result: %w", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: string(payload)},
		},
	}, nil
}

// extractParams normalizes the optional parameters object to canonical
// scalar values.
func extractParams(raw any) (map[string]any, error) {
	if raw == nil {
		return nil, nil
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("parameters must be an object of scalar values")
	}

	params := make(map[string]any, len(obj))
	for key, value := range obj {
		cell, err := dataset.NormalizeCell(value)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %v", key, err)
		}
		params[key] = cell
	}
	return params, nil
}

func toolError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

// ServeStdio starts the server on stdio
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the server on HTTP
func (s *MCPServer) ServeHTTP() error {
	port := s.config.Server.HTTPPort
	s.logger.Info("starting MCP server on HTTP", zap.Int("port", port))

	httpServer := server.NewStreamableHTTPServer(s.mcpServer)
	return httpServer.Start(fmt.Sprintf(":%d", port))
}

// GetMCPServer returns the underlying MCP server for fx
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
