package ipc

import (
	"encoding/json"
	"fmt"
)

// CommandType represents different IPC command types
type CommandType string

const (
	CommandGetStatus      CommandType = "GET_STATUS"
	CommandListPortals    CommandType = "LIST_PORTALS"
	CommandCreatePortal   CommandType = "CREATE_PORTAL"
	CommandRemovePortal   CommandType = "REMOVE_PORTAL"
	CommandMovePortal     CommandType = "MOVE_PORTAL"
	CommandSetRolledUp    CommandType = "SET_ROLLED_UP"
	CommandSetInteracting CommandType = "SET_INTERACTING"
	CommandSetVisible     CommandType = "SET_PORTALS_VISIBLE"
	CommandAppStart       CommandType = "APP_START"
	CommandAppStop        CommandType = "APP_STOP"
	CommandAppPopOut      CommandType = "APP_POP_OUT"
	CommandAppPopIn       CommandType = "APP_POP_IN"
	CommandDropFiles      CommandType = "DROP_FILES"
	CommandSaveLayout     CommandType = "SAVE_LAYOUT"
	CommandProfileSave    CommandType = "PROFILE_SAVE"
	CommandProfileLoad    CommandType = "PROFILE_LOAD"
	CommandReload         CommandType = "RELOAD"
	CommandShutdown       CommandType = "SHUTDOWN"
)

// Request represents an IPC request from client to server
type Request struct {
	Command CommandType     `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response represents an IPC response from server to client
type Response struct {
	Status string          `json:"status"` // "OK" or "ERROR"
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// StatusData represents the data returned by GET_STATUS
type StatusData struct {
	Attached       bool   `json:"attached"`
	RootWindow     uint64 `json:"root_window"`
	IconView       uint64 `json:"icon_view"`
	WorkerWindow   uint64 `json:"worker_window,omitempty"`
	PortalCount    int    `json:"portal_count"`
	RunningApps    int    `json:"running_apps"`
	PortalsVisible bool   `json:"portals_visible"`
	LayoutPath     string `json:"layout_path"`
	UptimeSeconds  int64  `json:"uptime_seconds"`
	DaemonRunning  bool   `json:"daemon_running"`
}

// PortalInfo describes one portal in LIST_PORTALS and CREATE_PORTAL replies.
type PortalInfo struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Title    string `json:"title"`
	X        int    `json:"x"`
	Y        int    `json:"y"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	RolledUp bool   `json:"rolled_up"`
	Attached bool   `json:"attached"`

	FolderPath     string   `json:"folder_path,omitempty"`
	ExecutablePath string   `json:"executable_path,omitempty"`
	Args           []string `json:"args,omitempty"`
	AppState       string   `json:"app_state,omitempty"`
	AppStatus      string   `json:"app_status,omitempty"`
	PID            int      `json:"pid,omitempty"`
	Bookmarks      int      `json:"bookmarks,omitempty"`
}

type PortalsData struct {
	Portals []PortalInfo `json:"portals"`
}

type BookmarkPayload struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type CreatePortalPayload struct {
	Type           string            `json:"type"`
	Title          string            `json:"title"`
	ID             string            `json:"id,omitempty"`
	X              int               `json:"x"`
	Y              int               `json:"y"`
	Width          int               `json:"width,omitempty"`
	Height         int               `json:"height,omitempty"`
	FolderPath     string            `json:"folder_path,omitempty"`
	SortMode       string            `json:"sort_mode,omitempty"`
	ExecutablePath string            `json:"executable_path,omitempty"`
	Args           []string          `json:"args,omitempty"`
	Bookmarks      []BookmarkPayload `json:"bookmarks,omitempty"`
	// Start launches an app portal's executable right after creation.
	Start bool `json:"start,omitempty"`
}

// PortalPayload addresses a single portal by id.
type PortalPayload struct {
	ID string `json:"id"`
}

type MovePortalPayload struct {
	ID     string `json:"id"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

type TogglePayload struct {
	ID    string `json:"id,omitempty"`
	Value bool   `json:"value"`
}

type DropFilesPayload struct {
	ID    string   `json:"id"`
	Paths []string `json:"paths"`
}

type DropData struct {
	Handled bool `json:"handled"`
}

type ProfilePayload struct {
	Name string `json:"name"`
}

// NewOKResponse creates a successful response with optional data
func NewOKResponse(data interface{}) (*Response, error) {
	var dataBytes json.RawMessage
	if data != nil {
		bytes, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal response data: %w", err)
		}
		dataBytes = bytes
	}

	return &Response{
		Status: "OK",
		Data:   dataBytes,
	}, nil
}

// NewErrorResponse creates an error response with a message
func NewErrorResponse(errMsg string) *Response {
	return &Response{
		Status: "ERROR",
		Error:  errMsg,
	}
}

// ParseRequest parses a request from JSON bytes
func ParseRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to parse request: %w", err)
	}
	return &req, nil
}

// Marshal converts a response to JSON bytes
func (r *Response) Marshal() ([]byte, error) {
	return json.Marshal(r)
}
