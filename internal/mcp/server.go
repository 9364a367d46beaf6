// Package mcp exposes the portal daemon to MCP clients over stdio.
package mcp

import (
	"context"
	"log/slog"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/1broseidon/deskportal/internal/ipc"
)

const (
	ServerName    = "deskportal"
	ServerVersion = "0.1.0"
)

// Daemon is the part of the IPC client the tools use. *ipc.Client
// implements it.
type Daemon interface {
	GetStatus() (*ipc.StatusData, error)
	ListPortals() ([]ipc.PortalInfo, error)
	CreatePortal(req ipc.CreatePortalPayload) (*ipc.PortalInfo, error)
	RemovePortal(id string) error
	MovePortal(req ipc.MovePortalPayload) error
	SetRolledUp(id string, rolledUp bool) error
	AppStart(id string) error
	AppStop(id string) error
	AppPopOut(id string) error
	AppPopIn(id string) error
	DropFiles(id string, paths []string) (bool, error)
	SaveLayout() error
	ProfileSave(name string) error
	ProfileLoad(name string) error
}

var _ Daemon = (*ipc.Client)(nil)

// ProfileLister enumerates saved profiles.
type ProfileLister interface {
	List() ([]string, error)
}

// Server is the MCP server for portal management.
type Server struct {
	mcpServer *mcpsdk.Server
	daemon    Daemon
	profiles  ProfileLister
	logger    *slog.Logger
}

// NewServer creates an MCP server that forwards tool calls to daemon.
func NewServer(daemon Daemon, profiles ProfileLister, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		daemon:   daemon,
		profiles: profiles,
		logger:   logger,
	}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    ServerName,
			Version: ServerVersion,
		},
		nil,
	)
	s.registerTools()
	return s
}

// Run starts the MCP server on stdio transport, blocking until done.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "daemon_status",
		Description: "Report whether the deskportal daemon is attached to the desktop shell, how many portals exist and how many embedded apps are running.",
	}, s.handleStatus)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "list_portals",
		Description: "List every desktop portal with its id, type, title, geometry, roll-up state and, for app portals, the embedded app's state and pid.",
	}, s.handleListPortals)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "create_portal",
		Description: "Create a portal pinned to the desktop. Folder portals need folder_path, app portals need executable_path, url portals take bookmarks. Returns the new portal including its id.",
	}, s.handleCreatePortal)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "remove_portal",
		Description: "Remove a portal. An embedded app is terminated first.",
	}, s.handleRemovePortal)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "move_portal",
		Description: "Move a portal to new screen coordinates and optionally resize it. Embedded apps follow.",
	}, s.handleMovePortal)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "roll_up_portal",
		Description: "Collapse a portal to its header bar or expand it again.",
	}, s.handleRollUp)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "launch_app",
		Description: "Launch an app portal's program and embed its main window. The launch completes in the background; poll list_portals for app_state.",
	}, s.handleLaunchApp)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "stop_app",
		Description: "Terminate the program embedded in an app portal.",
	}, s.handleStopApp)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "pop_out_app",
		Description: "Return an embedded app window to the desktop as a normal window with its original size and decorations.",
	}, s.handlePopOut)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "pop_in_app",
		Description: "Re-embed a popped out app window into its portal.",
	}, s.handlePopIn)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "drop_files",
		Description: "Move files or directories into a folder portal's directory, as if they were dropped on it.",
	}, s.handleDropFiles)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "save_layout",
		Description: "Persist the current portals now. Saves are refused while a layout is loading or when portals failed to come back at startup.",
	}, s.handleSaveLayout)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "save_profile",
		Description: "Snapshot the current portals under a profile name.",
	}, s.handleSaveProfile)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "load_profile",
		Description: "Replace every portal with those saved in a profile.",
	}, s.handleLoadProfile)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "list_profiles",
		Description: "List saved layout profiles.",
	}, s.handleListProfiles)
}
