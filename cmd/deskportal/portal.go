package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"golang.org/x/term"

	"github.com/1broseidon/deskportal/internal/ipc"
)

func printPortalUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  deskportal portal list [--json]")
	fmt.Fprintln(w, "  deskportal portal add --type folder|app|url [options]")
	fmt.Fprintln(w, "  deskportal portal remove <id>")
	fmt.Fprintln(w, "  deskportal portal move [--width N --height N] <id> <x> <y>")
	fmt.Fprintln(w, "  deskportal portal roll <id> up|down")
	fmt.Fprintln(w, "  deskportal portal drop <id> <path>...")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Run 'deskportal portal <command> --help' for command-specific options.")
}

func runPortal(args []string) int {
	if len(args) == 0 {
		printPortalUsage(os.Stderr)
		return 2
	}

	switch args[0] {
	case "list":
		return runPortalList(args[1:])
	case "add":
		return runPortalAdd(args[1:])
	case "remove":
		return withID("portal remove", args[1:], func(c *ipc.Client, id string) error { return c.RemovePortal(id) })
	case "move":
		return runPortalMove(args[1:])
	case "roll":
		return runPortalRoll(args[1:])
	case "drop":
		return runPortalDrop(args[1:])
	case "help", "-h", "--help":
		printPortalUsage(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown portal command: %s\n\n", args[0])
		printPortalUsage(os.Stderr)
		return 2
	}
}

func runPortalList(args []string) int {
	fs := flag.NewFlagSet("portal list", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	asJSON := fs.Bool("json", false, "Print JSON")
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 2
	}

	portals, err := ipc.NewClient().ListPortals()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if *asJSON || !stdoutIsTerminal() {
		return printJSON(portals)
	}
	writePortalTable(os.Stdout, portals)
	return 0
}

func writePortalTable(w io.Writer, portals []ipc.PortalInfo) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tTITLE\tGEOMETRY\tSTATE")
	for _, p := range portals {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%dx%d+%d+%d\t%s\n", p.ID, p.Type, p.Title, p.Width, p.Height, p.X, p.Y, portalState(p))
	}
	tw.Flush()
}

func portalState(p ipc.PortalInfo) string {
	var parts []string
	if !p.Attached {
		parts = append(parts, "detached")
	}
	if p.RolledUp {
		parts = append(parts, "rolled-up")
	}
	if p.AppState != "" {
		s := p.AppState
		if p.PID > 0 {
			s = fmt.Sprintf("%s(pid %d)", s, p.PID)
		}
		parts = append(parts, s)
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ",")
}

type bookmarkFlags []ipc.BookmarkPayload

func (b *bookmarkFlags) String() string {
	names := make([]string, 0, len(*b))
	for _, bm := range *b {
		names = append(names, bm.Name)
	}
	return strings.Join(names, ",")
}

// Set accepts NAME=URL.
func (b *bookmarkFlags) Set(v string) error {
	name, url, ok := strings.Cut(v, "=")
	if !ok || strings.TrimSpace(name) == "" || strings.TrimSpace(url) == "" {
		return fmt.Errorf("bookmark must be NAME=URL, got %q", v)
	}
	*b = append(*b, ipc.BookmarkPayload{Name: strings.TrimSpace(name), URL: strings.TrimSpace(url)})
	return nil
}

type argFlags []string

func (a *argFlags) String() string     { return strings.Join(*a, " ") }
func (a *argFlags) Set(v string) error { *a = append(*a, v); return nil }

func parsePortalAdd(args []string) (ipc.CreatePortalPayload, error) {
	fs := flag.NewFlagSet("portal add", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	req := ipc.CreatePortalPayload{}
	var bookmarks bookmarkFlags
	var appArgs argFlags
	fs.StringVar(&req.Type, "type", "", "Portal type: folder, app or url")
	fs.StringVar(&req.Title, "title", "", "Header title")
	fs.IntVar(&req.X, "x", 100, "Left edge")
	fs.IntVar(&req.Y, "y", 100, "Top edge")
	fs.IntVar(&req.Width, "width", 0, "Width (default 320)")
	fs.IntVar(&req.Height, "height", 0, "Height (default 240)")
	fs.StringVar(&req.FolderPath, "folder", "", "Directory shown by a folder portal")
	fs.StringVar(&req.SortMode, "sort", "", "Folder sort mode")
	fs.StringVar(&req.ExecutablePath, "exec", "", "Program embedded by an app portal")
	fs.Var(&appArgs, "arg", "Program argument (repeatable)")
	fs.Var(&bookmarks, "bookmark", "NAME=URL entry for a url portal (repeatable)")
	fs.BoolVar(&req.Start, "start", false, "Launch an app portal right away")
	if err := fs.Parse(args); err != nil {
		return req, err
	}
	if fs.NArg() != 0 {
		return req, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	req.Type = strings.ToLower(strings.TrimSpace(req.Type))
	switch req.Type {
	case "folder":
		if req.FolderPath == "" {
			return req, fmt.Errorf("folder portals need --folder")
		}
		abs, err := filepath.Abs(req.FolderPath)
		if err != nil {
			return req, err
		}
		req.FolderPath = abs
	case "app":
		if req.ExecutablePath == "" {
			return req, fmt.Errorf("app portals need --exec")
		}
	case "url":
	case "":
		return req, fmt.Errorf("--type is required")
	default:
		return req, fmt.Errorf("unknown portal type %q", req.Type)
	}
	req.Args = appArgs
	req.Bookmarks = bookmarks
	return req, nil
}

func runPortalAdd(args []string) int {
	req, err := parsePortalAdd(args)
	if err == flag.ErrHelp {
		fmt.Fprintln(os.Stdout, "Usage: deskportal portal add --type folder|app|url [options]")
		fmt.Fprintln(os.Stdout, "")
		fmt.Fprintln(os.Stdout, "  --folder DIR --sort MODE          folder portal")
		fmt.Fprintln(os.Stdout, "  --exec PROGRAM [--arg A]... [--start]  app portal")
		fmt.Fprintln(os.Stdout, "  --bookmark NAME=URL ...           url portal")
		fmt.Fprintln(os.Stdout, "  --title T --x N --y N --width N --height N")
		return 0
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	info, err := ipc.NewClient().CreatePortal(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Println(info.ID)
	return 0
}

func runPortalMove(args []string) int {
	fs := flag.NewFlagSet("portal move", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	width := fs.Int("width", 0, "New width (default: unchanged)")
	height := fs.Int("height", 0, "New height (default: unchanged)")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: deskportal portal move [--width N --height N] <id> <x> <y>")
	}
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 2
	}
	if fs.NArg() != 3 {
		fs.Usage()
		return 2
	}
	var x, y int
	if _, err := fmt.Sscanf(fs.Arg(1)+" "+fs.Arg(2), "%d %d", &x, &y); err != nil {
		fmt.Fprintf(os.Stderr, "invalid coordinates: %v\n", err)
		return 2
	}
	err := ipc.NewClient().MovePortal(ipc.MovePortalPayload{ID: fs.Arg(0), X: x, Y: y, Width: *width, Height: *height})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func runPortalRoll(args []string) int {
	if len(args) != 2 || (args[1] != "up" && args[1] != "down") {
		fmt.Fprintln(os.Stderr, "Usage: deskportal portal roll <id> up|down")
		return 2
	}
	if err := ipc.NewClient().SetRolledUp(args[0], args[1] == "up"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func runPortalDrop(args []string) int {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: deskportal portal drop <id> <path>...")
		return 2
	}
	paths := make([]string, 0, len(args)-1)
	for _, p := range args[1:] {
		abs, err := filepath.Abs(p)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
		paths = append(paths, abs)
	}
	handled, err := ipc.NewClient().DropFiles(args[0], paths)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if !handled {
		fmt.Fprintf(os.Stderr, "portal %s does not accept drops\n", args[0])
		return 1
	}
	return 0
}

func printAppUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: deskportal app start|stop|pop-out|pop-in <id>")
}

func runApp(args []string) int {
	if len(args) == 0 {
		printAppUsage(os.Stderr)
		return 2
	}
	switch args[0] {
	case "start":
		return withID("app start", args[1:], func(c *ipc.Client, id string) error { return c.AppStart(id) })
	case "stop":
		return withID("app stop", args[1:], func(c *ipc.Client, id string) error { return c.AppStop(id) })
	case "pop-out":
		return withID("app pop-out", args[1:], func(c *ipc.Client, id string) error { return c.AppPopOut(id) })
	case "pop-in":
		return withID("app pop-in", args[1:], func(c *ipc.Client, id string) error { return c.AppPopIn(id) })
	case "help", "-h", "--help":
		printAppUsage(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown app command: %s\n\n", args[0])
		printAppUsage(os.Stderr)
		return 2
	}
}

// withID runs a command whose only argument is a portal id.
func withID(name string, args []string, call func(*ipc.Client, string) error) int {
	if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
		fmt.Fprintf(os.Stderr, "Usage: deskportal %s <id>\n", name)
		return 2
	}
	if err := call(ipc.NewClient(), args[0]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func stdoutIsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func printJSON(v any) int {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
