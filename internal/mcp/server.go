package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/meditrek-engine/internal/scheduler"
	"github.com/meditrek-engine/internal/service"
)

// Server exposes the medicine engine as MCP tools, resources and prompts.
type Server struct {
	engine    *service.Engine
	sweeper   *scheduler.Sweeper
	mcpServer *mcp.Server
	logger    *logrus.Logger
}

// ServerInfo contains MCP server metadata
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Option configures a Server
type Option func(*Server)

// WithSweeper registers the run_sweep tool backed by sweeper.
func WithSweeper(sweeper *scheduler.Sweeper) Option {
	return func(s *Server) {
		s.sweeper = sweeper
	}
}

// NewServer creates a new MCP server instance
func NewServer(engine *service.Engine, info ServerInfo, logger *logrus.Logger, opts ...Option) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if info.Name == "" {
		info.Name = "meditrek-mcp-server"
	}
	if info.Version == "" {
		info.Version = "v0.1.0"
	}

	server := &Server{
		engine: engine,
		mcpServer: mcp.NewServer(&mcp.Implementation{
			Name:    info.Name,
			Version: info.Version,
		}, nil),
		logger: logger,
	}
	for _, opt := range opts {
		opt(server)
	}

	if err := server.registerCapabilities(); err != nil {
		return nil, fmt.Errorf("failed to register capabilities: %w", err)
	}

	return server, nil
}

// MCPServer returns the underlying SDK server.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcpServer
}

// Run serves a single session over transport until it ends or ctx is done.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	s.logger.Info("Starting Meditrek MCP Server...")
	if err := s.mcpServer.Run(ctx, transport); err != nil {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}

// RunStdio serves over stdin/stdout.
func (s *Server) RunStdio(ctx context.Context) error {
	return s.Run(ctx, &mcp.StdioTransport{})
}

// registerCapabilities registers all MCP tools, resources, and prompts
func (s *Server) registerCapabilities() error {
	s.logger.Debug("Registering MCP capabilities...")

	s.registerInteractionTools()
	s.registerRegimenTools()
	s.registerScheduleTools()
	s.registerAdherenceTools()
	s.registerResources()
	s.registerPrompts()

	s.logger.Debug("Successfully registered all MCP capabilities")
	return nil
}

func (s *Server) registerInteractionTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "check_interactions",
		Description: "Check a candidate medicine against a patient's active regimen or an explicit list of medicines",
	}, s.handleCheckInteractions)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "scan_regimen",
		Description: "Find every catalog interaction within a patient's regimen or a list of medicines",
	}, s.handleScanRegimen)
}

func (s *Server) registerRegimenTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "add_regimen_entry",
		Description: "Add a medicine to a patient's regimen. Known medicines are checked for interactions first",
	}, s.handleAddRegimenEntry)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "discontinue_regimen_entry",
		Description: "Stop a regimen entry; its schedules stop producing reminders",
	}, s.handleDiscontinueRegimenEntry)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "list_regimen",
		Description: "List a patient's regimen entries",
	}, s.handleListRegimen)
}

func (s *Server) registerScheduleTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "add_schedule",
		Description: "Schedule a daily, weekly or custom-day dose for a regimen entry",
	}, s.handleAddSchedule)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "deactivate_schedule",
		Description: "Deactivate a schedule; its history is kept",
	}, s.handleDeactivateSchedule)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "list_schedules",
		Description: "List a patient's schedules",
	}, s.handleListSchedules)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "list_due_schedules",
		Description: "List active schedules due on the day of as_of, ordered by time of day",
	}, s.handleListDueSchedules)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "record_dose",
		Description: "Record a dose as taken or missed; the latest scheduled slot at or before the time is used, or the next one when the dose is early",
	}, s.handleRecordDose)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "list_dose_history",
		Description: "List a patient's dose events scheduled in [from, to)",
	}, s.handleListDoseHistory)

	if s.sweeper != nil {
		mcp.AddTool(s.mcpServer, &mcp.Tool{
			Name:        "run_sweep",
			Description: "Run one reminder sweep now: send due reminders and auto-mark overdue doses missed",
		}, s.handleRunSweep)
	}
}

func (s *Server) registerAdherenceTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_adherence_state",
		Description: "Return a patient's streaks, points, level, badges and adherence rates",
	}, s.handleGetAdherenceState)
}
