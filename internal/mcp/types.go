package mcp

import "github.com/1broseidon/deskportal/internal/ipc"

// StatusInput is the input for the daemon_status tool.
type StatusInput struct{}

// ListPortalsInput is the input for the list_portals tool.
type ListPortalsInput struct {
	Type string `json:"type,omitempty" jsonschema:"Only list portals of this type (folder, app or url)"`
}

// ListPortalsOutput is the output for the list_portals tool.
type ListPortalsOutput struct {
	Portals []ipc.PortalInfo `json:"portals"`
}

// BookmarkInput is one URL portal entry.
type BookmarkInput struct {
	Name string `json:"name" jsonschema:"Label shown in the portal"`
	URL  string `json:"url" jsonschema:"Link opened when the entry is activated"`
}

// CreatePortalInput is the input for the create_portal tool.
type CreatePortalInput struct {
	Type           string          `json:"type" jsonschema:"required,Portal type: folder, app or url"`
	Title          string          `json:"title,omitempty" jsonschema:"Header title (default: folder path, executable or Links)"`
	X              int             `json:"x" jsonschema:"Left edge in screen pixels"`
	Y              int             `json:"y" jsonschema:"Top edge in screen pixels"`
	Width          int             `json:"width,omitempty" jsonschema:"Width in pixels (default: 320)"`
	Height         int             `json:"height,omitempty" jsonschema:"Height in pixels including the header (default: 240)"`
	FolderPath     string          `json:"folder_path,omitempty" jsonschema:"Directory shown by a folder portal"`
	SortMode       string          `json:"sort_mode,omitempty" jsonschema:"Folder sort mode, for example name or date"`
	ExecutablePath string          `json:"executable_path,omitempty" jsonschema:"Program embedded by an app portal"`
	Args           []string        `json:"args,omitempty" jsonschema:"Arguments passed to the program"`
	Bookmarks      []BookmarkInput `json:"bookmarks,omitempty" jsonschema:"Links shown by a url portal"`
	Start          bool            `json:"start,omitempty" jsonschema:"Launch an app portal's program right away"`
}

// PortalOutput wraps a single portal.
type PortalOutput struct {
	Portal ipc.PortalInfo `json:"portal"`
}

// PortalIDInput addresses one portal.
type PortalIDInput struct {
	ID string `json:"id" jsonschema:"required,Portal id from list_portals"`
}

// MovePortalInput is the input for the move_portal tool.
type MovePortalInput struct {
	ID     string `json:"id" jsonschema:"required,Portal id from list_portals"`
	X      int    `json:"x" jsonschema:"New left edge in screen pixels"`
	Y      int    `json:"y" jsonschema:"New top edge in screen pixels"`
	Width  int    `json:"width,omitempty" jsonschema:"New width (default: unchanged)"`
	Height int    `json:"height,omitempty" jsonschema:"New height (default: unchanged)"`
}

// RollUpInput is the input for the roll_up_portal tool.
type RollUpInput struct {
	ID       string `json:"id" jsonschema:"required,Portal id from list_portals"`
	RolledUp bool   `json:"rolled_up" jsonschema:"true collapses the portal to its header, false expands it"`
}

// DropFilesInput is the input for the drop_files tool.
type DropFilesInput struct {
	ID    string   `json:"id" jsonschema:"required,Folder portal id"`
	Paths []string `json:"paths" jsonschema:"required,Absolute paths of files or directories to move into the folder"`
}

// DropFilesOutput reports whether the portal accepted the drop.
type DropFilesOutput struct {
	Handled bool `json:"handled"`
}

// ProfileInput names a layout profile.
type ProfileInput struct {
	Name string `json:"name" jsonschema:"required,Profile name (letters, digits, dash, underscore)"`
}

// ListProfilesOutput is the output for the list_profiles tool.
type ListProfilesOutput struct {
	Profiles []string `json:"profiles"`
}

// AckOutput is returned by tools that only change state.
type AckOutput struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}
