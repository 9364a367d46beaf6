package mcp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/1broseidon/deskportal/internal/ipc"
)

type fakeDaemon struct {
	portals []ipc.PortalInfo
	calls   []string
	fail    error
}

func (f *fakeDaemon) record(s string) error {
	f.calls = append(f.calls, s)
	return f.fail
}

func (f *fakeDaemon) GetStatus() (*ipc.StatusData, error) {
	return &ipc.StatusData{Attached: true, PortalCount: len(f.portals), DaemonRunning: true}, nil
}
func (f *fakeDaemon) ListPortals() ([]ipc.PortalInfo, error) { return f.portals, f.fail }
func (f *fakeDaemon) CreatePortal(req ipc.CreatePortalPayload) (*ipc.PortalInfo, error) {
	if err := f.record("create:" + req.Type); err != nil {
		return nil, err
	}
	info := ipc.PortalInfo{ID: "new", Type: req.Type, Title: req.Title, Bookmarks: len(req.Bookmarks)}
	f.portals = append(f.portals, info)
	return &info, nil
}
func (f *fakeDaemon) RemovePortal(id string) error { return f.record("remove:" + id) }
func (f *fakeDaemon) MovePortal(req ipc.MovePortalPayload) error {
	return f.record("move:" + req.ID)
}
func (f *fakeDaemon) SetRolledUp(id string, v bool) error { return f.record("roll:" + id) }
func (f *fakeDaemon) AppStart(id string) error            { return f.record("start:" + id) }
func (f *fakeDaemon) AppStop(id string) error             { return f.record("stop:" + id) }
func (f *fakeDaemon) AppPopOut(id string) error           { return f.record("popout:" + id) }
func (f *fakeDaemon) AppPopIn(id string) error            { return f.record("popin:" + id) }
func (f *fakeDaemon) DropFiles(id string, paths []string) (bool, error) {
	return len(paths) > 0, f.record("drop:" + id)
}
func (f *fakeDaemon) SaveLayout() error             { return f.record("save") }
func (f *fakeDaemon) ProfileSave(name string) error { return f.record("psave:" + name) }
func (f *fakeDaemon) ProfileLoad(name string) error { return f.record("pload:" + name) }

type fakeProfiles []string

func (p fakeProfiles) List() ([]string, error) { return p, nil }

func newTestServer(d *fakeDaemon) *Server {
	return NewServer(d, fakeProfiles{"home", "work"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestListPortalsFiltersByType(t *testing.T) {
	d := &fakeDaemon{portals: []ipc.PortalInfo{
		{ID: "a", Type: "folder"}, {ID: "b", Type: "app"}, {ID: "c", Type: "folder"},
	}}
	s := newTestServer(d)

	_, out, err := s.handleListPortals(context.Background(), nil, ListPortalsInput{Type: "Folder"})
	if err != nil {
		t.Fatalf("handleListPortals: %v", err)
	}
	var ids []string
	for _, p := range out.Portals {
		ids = append(ids, p.ID)
	}
	if diff := cmp.Diff([]string{"a", "c"}, ids); diff != "" {
		t.Fatalf("filtered ids (-want +got):\n%s", diff)
	}
}

func TestCreatePortalValidatesAndForwards(t *testing.T) {
	d := &fakeDaemon{}
	s := newTestServer(d)
	ctx := context.Background()

	if _, _, err := s.handleCreatePortal(ctx, nil, CreatePortalInput{Type: "folder", FolderPath: "relative/dir"}); err == nil {
		t.Fatal("expected error for relative folder path")
	}

	_, out, err := s.handleCreatePortal(ctx, nil, CreatePortalInput{
		Type: "url", Title: "Links",
		Bookmarks: []BookmarkInput{{Name: "Go", URL: "https://go.dev"}},
	})
	if err != nil {
		t.Fatalf("handleCreatePortal: %v", err)
	}
	if out.Portal.ID != "new" || out.Portal.Bookmarks != 1 {
		t.Fatalf("unexpected portal: %+v", out.Portal)
	}
}

func TestPortalToolsRequireID(t *testing.T) {
	s := newTestServer(&fakeDaemon{})
	ctx := context.Background()

	checks := map[string]error{}
	_, _, checks["remove"] = s.handleRemovePortal(ctx, nil, PortalIDInput{})
	_, _, checks["launch"] = s.handleLaunchApp(ctx, nil, PortalIDInput{ID: "  "})
	_, _, checks["move"] = s.handleMovePortal(ctx, nil, MovePortalInput{})
	_, _, checks["roll"] = s.handleRollUp(ctx, nil, RollUpInput{})
	_, _, checks["drop"] = s.handleDropFiles(ctx, nil, DropFilesInput{Paths: []string{"/tmp/x"}})
	for name, err := range checks {
		if err == nil || !strings.Contains(err.Error(), "id is required") {
			t.Errorf("%s: err = %v, want id is required", name, err)
		}
	}
}

func TestAppToolsForwardToDaemon(t *testing.T) {
	d := &fakeDaemon{}
	s := newTestServer(d)
	ctx := context.Background()

	_, out, err := s.handleLaunchApp(ctx, nil, PortalIDInput{ID: "p1"})
	if err != nil || !out.OK || out.Message == "" {
		t.Fatalf("launch = %+v, %v", out, err)
	}
	for _, fn := range []func(context.Context, *mcpsdk.CallToolRequest, PortalIDInput) (*mcpsdk.CallToolResult, AckOutput, error){
		s.handlePopOut, s.handlePopIn, s.handleStopApp, s.handleRemovePortal,
	} {
		if _, _, err := fn(ctx, nil, PortalIDInput{ID: "p1"}); err != nil {
			t.Fatalf("tool failed: %v", err)
		}
	}
	want := []string{"start:p1", "popout:p1", "popin:p1", "stop:p1", "remove:p1"}
	if diff := cmp.Diff(want, d.calls); diff != "" {
		t.Fatalf("daemon calls (-want +got):\n%s", diff)
	}

	d.fail = errors.New("unknown portal: p1")
	if _, _, err := s.handleStopApp(ctx, nil, PortalIDInput{ID: "p1"}); err == nil {
		t.Fatal("expected daemon error to propagate")
	}
}

func TestDropFilesRejectsRelativePaths(t *testing.T) {
	s := newTestServer(&fakeDaemon{})
	ctx := context.Background()

	if _, _, err := s.handleDropFiles(ctx, nil, DropFilesInput{ID: "p1", Paths: []string{"notes.txt"}}); err == nil {
		t.Fatal("expected relative path error")
	}
	if _, _, err := s.handleDropFiles(ctx, nil, DropFilesInput{ID: "p1"}); err == nil {
		t.Fatal("expected empty paths error")
	}
	_, out, err := s.handleDropFiles(ctx, nil, DropFilesInput{ID: "p1", Paths: []string{"/tmp/notes.txt"}})
	if err != nil || !out.Handled {
		t.Fatalf("drop = %+v, %v", out, err)
	}
}

func TestProfileToolsValidateNames(t *testing.T) {
	d := &fakeDaemon{}
	s := newTestServer(d)
	ctx := context.Background()

	if _, _, err := s.handleSaveProfile(ctx, nil, ProfileInput{Name: "../escape"}); err == nil {
		t.Fatal("expected invalid profile name error")
	}
	if _, _, err := s.handleLoadProfile(ctx, nil, ProfileInput{Name: "work"}); err != nil {
		t.Fatalf("load_profile: %v", err)
	}
	_, out, err := s.handleListProfiles(ctx, nil, StatusInput{})
	if err != nil {
		t.Fatalf("list_profiles: %v", err)
	}
	if diff := cmp.Diff([]string{"home", "work"}, out.Profiles); diff != "" {
		t.Fatalf("profiles (-want +got):\n%s", diff)
	}
}

func TestServerOverInMemoryTransport(t *testing.T) {
	d := &fakeDaemon{portals: []ipc.PortalInfo{{ID: "a", Type: "folder", Title: "Docs"}}}
	s := newTestServer(d)
	ctx := context.Background()

	serverT, clientT := mcpsdk.NewInMemoryTransports()
	ss, err := s.mcpServer.Connect(ctx, serverT, nil)
	if err != nil {
		t.Fatalf("server connect: %v", err)
	}
	defer ss.Close()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test", Version: "v0"}, nil)
	cs, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	defer cs.Close()

	tools, err := cs.ListTools(ctx, nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	var names []string
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	sort.Strings(names)
	for _, want := range []string{"create_portal", "launch_app", "list_portals", "load_profile", "pop_out_app", "remove_portal"} {
		if i := sort.SearchStrings(names, want); i >= len(names) || names[i] != want {
			t.Errorf("tool %q not registered; have %v", want, names)
		}
	}

	res, err := cs.CallTool(ctx, &mcpsdk.CallToolParams{Name: "list_portals", Arguments: map[string]any{}})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if res.IsError {
		t.Fatalf("list_portals returned a tool error: %+v", res.Content)
	}

	res, err = cs.CallTool(ctx, &mcpsdk.CallToolParams{Name: "remove_portal", Arguments: map[string]any{"id": ""}})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !res.IsError {
		t.Fatal("remove_portal without id should be a tool error")
	}
}
