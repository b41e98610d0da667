package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/morphos-dev/morphos/internal/engine"
	"github.com/morphos-dev/morphos/internal/evolution"
	"github.com/morphos-dev/morphos/internal/store"
	"github.com/morphos-dev/morphos/internal/streaming"
	"github.com/morphos-dev/morphos/internal/validation"
)

// MorphosServerDeps holds the dependencies for creating a MorphosServer.
type MorphosServerDeps struct {
	Scheduler *engine.Scheduler
	Store     store.Store
	Applier   *evolution.Applier
	Validator *validation.WorkflowValidator
	Hub       streaming.EventHub
	Logger    *slog.Logger
}

// MorphosServer wraps an MCP server with workflow tool handlers.
type MorphosServer struct {
	scheduler *engine.Scheduler
	store     store.Store
	applier   *evolution.Applier
	validator *validation.WorkflowValidator
	hub       streaming.EventHub
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewMorphosServer creates a MorphosServer with all 6 tools registered.
func NewMorphosServer(deps MorphosServerDeps) *MorphosServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &MorphosServer{
		scheduler: deps.Scheduler,
		store:     deps.Store,
		applier:   deps.Applier,
		validator: deps.Validator,
		hub:       deps.Hub,
		logger:    logger,
	}

	mcpSrv := server.NewMCPServer(
		"morphos",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Morphos is a self-evolving agent workflow engine. Use morphos.create to register workflow graphs, morphos.run to execute them, morphos.status to inspect a run, morphos.evolve to apply mutation batches, morphos.history to read the evolution audit trail, and morphos.validate to check a graph without saving it."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *MorphosServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *MorphosServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// tools returns the registered MCP tools as ServerTool entries.
func (s *MorphosServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: createTool(), Handler: s.handleCreate},
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: evolveTool(), Handler: s.handleEvolve},
		{Tool: historyTool(), Handler: s.handleHistory},
		{Tool: validateTool(), Handler: s.handleValidate},
	}
}

// --- Tool definitions ---

func createTool() mcp.Tool {
	return mcp.NewTool("morphos.create",
		mcp.WithDescription("Register a workflow graph"),
		mcp.WithObject("workflow", mcp.Required(), mcp.Description("Workflow document: id (optional), name, nodes, edges")),
	)
}

func runTool() mcp.Tool {
	return mcp.NewTool("morphos.run",
		mcp.WithDescription("Execute a workflow and wait for the terminal event"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow to run")),
		mcp.WithString("input", mcp.Description("Initial input text for the run's input nodes")),
		mcp.WithString("execution_id", mcp.Description("Resume this execution from its persisted state")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("morphos.status",
		mcp.WithDescription("Get an execution's status, per-node statuses, and outputs"),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the execution to query")),
	)
}

func evolveTool() mcp.Tool {
	return mcp.NewTool("morphos.evolve",
		mcp.WithDescription("Apply a mutation batch to a workflow graph"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow to evolve")),
		mcp.WithObject("evolution", mcp.Required(), mcp.Description("Evolution proposal: reasoning, mutations, expectedImpact")),
		mcp.WithString("mode", mcp.Description("Provenance mode recorded in history (default: manual)")),
	)
}

func historyTool() mcp.Tool {
	return mcp.NewTool("morphos.history",
		mcp.WithDescription("Read a workflow's evolution history"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow")),
	)
}

func validateTool() mcp.Tool {
	return mcp.NewTool("morphos.validate",
		mcp.WithDescription("Validate a workflow graph without saving it"),
		mcp.WithObject("workflow", mcp.Required(), mcp.Description("Workflow document to validate")),
	)
}
