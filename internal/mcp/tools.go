package mcp

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/1broseidon/deskportal/internal/ipc"
	"github.com/1broseidon/deskportal/internal/layout"
)

func requireID(id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("id is required")
	}
	return nil
}

func (s *Server) ack(tool, id string, err error) (*mcpsdk.CallToolResult, AckOutput, error) {
	if err != nil {
		s.logger.Warn("tool failed", "tool", tool, "portal", id, "error", err)
		return nil, AckOutput{}, err
	}
	s.logger.Info("tool call", "tool", tool, "portal", id)
	return nil, AckOutput{OK: true}, nil
}

func (s *Server) handleStatus(_ context.Context, _ *mcpsdk.CallToolRequest, _ StatusInput) (*mcpsdk.CallToolResult, ipc.StatusData, error) {
	status, err := s.daemon.GetStatus()
	if err != nil {
		return nil, ipc.StatusData{}, err
	}
	return nil, *status, nil
}

func (s *Server) handleListPortals(_ context.Context, _ *mcpsdk.CallToolRequest, args ListPortalsInput) (*mcpsdk.CallToolResult, ListPortalsOutput, error) {
	portals, err := s.daemon.ListPortals()
	if err != nil {
		return nil, ListPortalsOutput{}, err
	}
	want := strings.ToLower(strings.TrimSpace(args.Type))
	out := make([]ipc.PortalInfo, 0, len(portals))
	for _, p := range portals {
		if want == "" || p.Type == want {
			out = append(out, p)
		}
	}
	return nil, ListPortalsOutput{Portals: out}, nil
}

func (s *Server) handleCreatePortal(_ context.Context, _ *mcpsdk.CallToolRequest, args CreatePortalInput) (*mcpsdk.CallToolResult, PortalOutput, error) {
	req := ipc.CreatePortalPayload{
		Type:           args.Type,
		Title:          args.Title,
		X:              args.X,
		Y:              args.Y,
		Width:          args.Width,
		Height:         args.Height,
		FolderPath:     args.FolderPath,
		SortMode:       args.SortMode,
		ExecutablePath: args.ExecutablePath,
		Args:           args.Args,
		Start:          args.Start,
	}
	if req.FolderPath != "" && !filepath.IsAbs(req.FolderPath) {
		return nil, PortalOutput{}, fmt.Errorf("folder_path must be absolute, got %q", req.FolderPath)
	}
	for _, b := range args.Bookmarks {
		req.Bookmarks = append(req.Bookmarks, ipc.BookmarkPayload{Name: b.Name, URL: b.URL})
	}
	info, err := s.daemon.CreatePortal(req)
	if err != nil {
		s.logger.Warn("tool failed", "tool", "create_portal", "type", args.Type, "error", err)
		return nil, PortalOutput{}, err
	}
	s.logger.Info("tool call", "tool", "create_portal", "portal", info.ID, "type", info.Type)
	return nil, PortalOutput{Portal: *info}, nil
}

func (s *Server) handleRemovePortal(_ context.Context, _ *mcpsdk.CallToolRequest, args PortalIDInput) (*mcpsdk.CallToolResult, AckOutput, error) {
	if err := requireID(args.ID); err != nil {
		return nil, AckOutput{}, err
	}
	return s.ack("remove_portal", args.ID, s.daemon.RemovePortal(args.ID))
}

func (s *Server) handleMovePortal(_ context.Context, _ *mcpsdk.CallToolRequest, args MovePortalInput) (*mcpsdk.CallToolResult, AckOutput, error) {
	if err := requireID(args.ID); err != nil {
		return nil, AckOutput{}, err
	}
	if args.Width < 0 || args.Height < 0 {
		return nil, AckOutput{}, fmt.Errorf("width and height must not be negative")
	}
	err := s.daemon.MovePortal(ipc.MovePortalPayload{ID: args.ID, X: args.X, Y: args.Y, Width: args.Width, Height: args.Height})
	return s.ack("move_portal", args.ID, err)
}

func (s *Server) handleRollUp(_ context.Context, _ *mcpsdk.CallToolRequest, args RollUpInput) (*mcpsdk.CallToolResult, AckOutput, error) {
	if err := requireID(args.ID); err != nil {
		return nil, AckOutput{}, err
	}
	return s.ack("roll_up_portal", args.ID, s.daemon.SetRolledUp(args.ID, args.RolledUp))
}

func (s *Server) handleLaunchApp(_ context.Context, _ *mcpsdk.CallToolRequest, args PortalIDInput) (*mcpsdk.CallToolResult, AckOutput, error) {
	if err := requireID(args.ID); err != nil {
		return nil, AckOutput{}, err
	}
	res, out, err := s.ack("launch_app", args.ID, s.daemon.AppStart(args.ID))
	if err == nil {
		out.Message = "launch started; app_state becomes running once its window appears"
	}
	return res, out, err
}

func (s *Server) handleStopApp(_ context.Context, _ *mcpsdk.CallToolRequest, args PortalIDInput) (*mcpsdk.CallToolResult, AckOutput, error) {
	if err := requireID(args.ID); err != nil {
		return nil, AckOutput{}, err
	}
	return s.ack("stop_app", args.ID, s.daemon.AppStop(args.ID))
}

func (s *Server) handlePopOut(_ context.Context, _ *mcpsdk.CallToolRequest, args PortalIDInput) (*mcpsdk.CallToolResult, AckOutput, error) {
	if err := requireID(args.ID); err != nil {
		return nil, AckOutput{}, err
	}
	return s.ack("pop_out_app", args.ID, s.daemon.AppPopOut(args.ID))
}

func (s *Server) handlePopIn(_ context.Context, _ *mcpsdk.CallToolRequest, args PortalIDInput) (*mcpsdk.CallToolResult, AckOutput, error) {
	if err := requireID(args.ID); err != nil {
		return nil, AckOutput{}, err
	}
	return s.ack("pop_in_app", args.ID, s.daemon.AppPopIn(args.ID))
}

func (s *Server) handleDropFiles(_ context.Context, _ *mcpsdk.CallToolRequest, args DropFilesInput) (*mcpsdk.CallToolResult, DropFilesOutput, error) {
	if err := requireID(args.ID); err != nil {
		return nil, DropFilesOutput{}, err
	}
	if len(args.Paths) == 0 {
		return nil, DropFilesOutput{}, errors.New("paths must not be empty")
	}
	for _, p := range args.Paths {
		if !filepath.IsAbs(p) {
			return nil, DropFilesOutput{}, fmt.Errorf("path %q is not absolute", p)
		}
	}
	handled, err := s.daemon.DropFiles(args.ID, args.Paths)
	if err != nil {
		return nil, DropFilesOutput{}, err
	}
	return nil, DropFilesOutput{Handled: handled}, nil
}

func (s *Server) handleSaveLayout(_ context.Context, _ *mcpsdk.CallToolRequest, _ StatusInput) (*mcpsdk.CallToolResult, AckOutput, error) {
	return s.ack("save_layout", "", s.daemon.SaveLayout())
}

func (s *Server) handleSaveProfile(_ context.Context, _ *mcpsdk.CallToolRequest, args ProfileInput) (*mcpsdk.CallToolResult, AckOutput, error) {
	if err := layout.ValidateName(args.Name); err != nil {
		return nil, AckOutput{}, err
	}
	return s.ack("save_profile", "", s.daemon.ProfileSave(args.Name))
}

func (s *Server) handleLoadProfile(_ context.Context, _ *mcpsdk.CallToolRequest, args ProfileInput) (*mcpsdk.CallToolResult, AckOutput, error) {
	if err := layout.ValidateName(args.Name); err != nil {
		return nil, AckOutput{}, err
	}
	return s.ack("load_profile", "", s.daemon.ProfileLoad(args.Name))
}

func (s *Server) handleListProfiles(_ context.Context, _ *mcpsdk.CallToolRequest, _ StatusInput) (*mcpsdk.CallToolResult, ListProfilesOutput, error) {
	if s.profiles == nil {
		return nil, ListProfilesOutput{Profiles: []string{}}, nil
	}
	names, err := s.profiles.List()
	if err != nil {
		return nil, ListProfilesOutput{}, err
	}
	if names == nil {
		names = []string{}
	}
	return nil, ListProfilesOutput{Profiles: names}, nil
}
