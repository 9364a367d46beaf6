package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/1broseidon/deskportal/internal/config"
	"github.com/1broseidon/deskportal/internal/daemon"
	"github.com/1broseidon/deskportal/internal/ipc"
	"github.com/1broseidon/deskportal/internal/logging"
	"github.com/1broseidon/deskportal/internal/shell"
	"gopkg.in/yaml.v3"
)

func main() {
	if len(os.Args) < 2 {
		printMainUsage(os.Stdout)
		os.Exit(0)
	}

	switch os.Args[1] {
	case "daemon":
		os.Exit(runDaemon(os.Args[2:]))
	case "status":
		os.Exit(runStatus(os.Args[2:]))
	case "portal":
		os.Exit(runPortal(os.Args[2:]))
	case "app":
		os.Exit(runApp(os.Args[2:]))
	case "visible":
		os.Exit(runVisible(os.Args[2:]))
	case "layout":
		os.Exit(runLayout(os.Args[2:]))
	case "profile":
		os.Exit(runProfile(os.Args[2:]))
	case "config":
		os.Exit(runConfig(os.Args[2:]))
	case "reload":
		os.Exit(runSimple("reload", "Reload the daemon configuration.", func(c *ipc.Client) error { return c.Reload() }, os.Args[2:]))
	case "stop":
		os.Exit(runSimple("stop", "Save the layout and stop the daemon.", func(c *ipc.Client) error { return c.Shutdown() }, os.Args[2:]))
	case "mcp":
		os.Exit(runMCP(os.Args[2:]))
	case "help", "-h", "--help":
		printMainUsage(os.Stdout)
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printMainUsage(os.Stderr)
		os.Exit(2)
	}
}

func printMainUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: deskportal <command> [options]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  daemon              Start the deskportal daemon (foreground)")
	fmt.Fprintln(w, "  status              Show daemon status")
	fmt.Fprintln(w, "  reload              Reload configuration")
	fmt.Fprintln(w, "  stop                Save the layout and stop the daemon")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "  portal list         List portals")
	fmt.Fprintln(w, "  portal add          Create a folder, app or url portal")
	fmt.Fprintln(w, "  portal remove       Remove a portal")
	fmt.Fprintln(w, "  portal move         Move or resize a portal")
	fmt.Fprintln(w, "  portal roll         Roll a portal up or down")
	fmt.Fprintln(w, "  portal drop         Move files into a folder portal")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "  app start           Launch and embed an app portal's program")
	fmt.Fprintln(w, "  app stop            Terminate an embedded program")
	fmt.Fprintln(w, "  app pop-out         Return an embedded window to the desktop")
	fmt.Fprintln(w, "  app pop-in          Re-embed a popped out window")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "  visible on|off      Show or hide every portal")
	fmt.Fprintln(w, "  layout save         Persist the current layout now")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "  profile save        Snapshot portals under a name")
	fmt.Fprintln(w, "  profile load        Replace portals with a saved profile")
	fmt.Fprintln(w, "  profile list        List saved profiles")
	fmt.Fprintln(w, "  profile delete      Delete a saved profile")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "  config init         Write the default configuration")
	fmt.Fprintln(w, "  config validate     Validate configuration")
	fmt.Fprintln(w, "  config print        Print configuration")
	fmt.Fprintln(w, "  config explain      Explain a config value")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "  mcp serve           Start MCP server (stdio transport)")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Run 'deskportal <command> --help' for command-specific options.")
}

func runDaemon(args []string) int {
	fs := flag.NewFlagSet("daemon", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	path := fs.String("path", "", "Config file path (default: ~/.config/deskportal/config.yaml)")
	socket := fs.String("socket", "", "IPC socket path (default: $XDG_RUNTIME_DIR/deskportal.sock)")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: deskportal daemon [--path PATH] [--socket PATH]")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Attach to the desktop shell, restore the saved layout and serve IPC")
		fmt.Fprintln(os.Stderr, "requests until stopped.")
		fmt.Fprintln(os.Stderr, "")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "daemon takes no arguments")
		fs.Usage()
		return 2
	}

	configPath := *path
	if configPath == "" {
		p, err := config.DefaultConfigPath()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		configPath = p
	}
	res, err := config.LoadFromPath(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}

	logger := logging.Init(res.Config.GetLoggingConfig())
	defer logger.Close()

	err = daemon.Run(context.Background(), daemon.RunOptions{
		Loaded:        res,
		ConfigPath:    configPath,
		SocketPath:    *socket,
		Logger:        logging.WithComponent("daemon"),
		HandleSignals: true,
	})
	if errors.Is(err, shell.ErrShellNotReady) {
		fmt.Fprintf(os.Stderr, "deskportal: the desktop shell is not running or could not be found: %v\n", err)
		return 1
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func runStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	asJSON := fs.Bool("json", false, "Print JSON")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: deskportal status [--json]")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Show daemon status via IPC.")
	}
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "status takes no arguments")
		fs.Usage()
		return 2
	}

	client := ipc.NewClient()
	status, err := client.GetStatus()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if *asJSON || !stdoutIsTerminal() {
		return printJSON(status)
	}
	fmt.Printf("daemon_running:  %v\n", status.DaemonRunning)
	fmt.Printf("attached:        %v\n", status.Attached)
	fmt.Printf("icon_view:       0x%x\n", status.IconView)
	if status.WorkerWindow != 0 {
		fmt.Printf("worker_window:   0x%x\n", status.WorkerWindow)
	}
	fmt.Printf("portal_count:    %d\n", status.PortalCount)
	fmt.Printf("running_apps:    %d\n", status.RunningApps)
	fmt.Printf("portals_visible: %v\n", status.PortalsVisible)
	fmt.Printf("layout_path:     %s\n", status.LayoutPath)
	fmt.Printf("uptime_seconds:  %d\n", status.UptimeSeconds)
	return 0
}

// runSimple runs a command that takes no arguments and only needs an ack.
func runSimple(name, help string, call func(*ipc.Client) error, args []string) int {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: deskportal %s\n", name)
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, help)
	}
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintf(os.Stderr, "%s takes no arguments\n", name)
		fs.Usage()
		return 2
	}
	if err := call(ipc.NewClient()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func runVisible(args []string) int {
	if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
		if len(args) == 1 && (args[0] == "help" || args[0] == "-h" || args[0] == "--help") {
			fmt.Fprintln(os.Stdout, "Usage: deskportal visible on|off")
			return 0
		}
		fmt.Fprintln(os.Stderr, "Usage: deskportal visible on|off")
		return 2
	}
	if err := ipc.NewClient().SetPortalsVisible(args[0] == "on"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func runLayout(args []string) int {
	if len(args) == 0 || args[0] != "save" {
		if len(args) > 0 && (args[0] == "help" || args[0] == "-h" || args[0] == "--help") {
			fmt.Fprintln(os.Stdout, "Usage: deskportal layout save")
			return 0
		}
		fmt.Fprintln(os.Stderr, "Usage: deskportal layout save")
		return 2
	}
	return runSimple("layout save", "Persist the current portals to the layout file now.",
		func(c *ipc.Client) error { return c.SaveLayout() }, args[1:])
}

func runConfig(args []string) int {
	if len(args) == 0 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		fmt.Fprintln(os.Stderr, "Usage:")
		fmt.Fprintln(os.Stderr, "  deskportal config init [--path PATH] [--force]")
		fmt.Fprintln(os.Stderr, "  deskportal config validate [--path PATH]")
		fmt.Fprintln(os.Stderr, "  deskportal config print [--path PATH] [--effective|--defaults]")
		fmt.Fprintln(os.Stderr, "  deskportal config explain [--path PATH] <yaml.path>")
		return 2
	}

	switch args[0] {
	case "init":
		fs := flag.NewFlagSet("init", flag.ContinueOnError)
		fs.SetOutput(os.Stderr)
		path := fs.String("path", "", "Config file path (default: ~/.config/deskportal/config.yaml)")
		force := fs.Bool("force", false, "Overwrite an existing file")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		return configInit(*path, *force)

	case "validate":
		fs := flag.NewFlagSet("validate", flag.ContinueOnError)
		fs.SetOutput(os.Stderr)
		path := fs.String("path", "", "Config file path (default: ~/.config/deskportal/config.yaml)")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		if _, err := loadConfig(*path); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		fmt.Println("config: ok")
		return 0

	case "print":
		fs := flag.NewFlagSet("print", flag.ContinueOnError)
		fs.SetOutput(os.Stderr)
		path := fs.String("path", "", "Config file path (default: ~/.config/deskportal/config.yaml)")
		printDefaults := fs.Bool("defaults", false, "Print built-in defaults (no files)")
		fs.Bool("effective", true, "Print effective config (default)")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}

		cfg := config.DefaultConfig()
		if !*printDefaults {
			res, err := loadConfig(*path)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				return 1
			}
			cfg = res.Config
		}
		if lp, err := cfg.LayoutPath(); err == nil {
			fmt.Printf("# resolved_layout_file: %s\n", lp)
		}
		data, err := yaml.Marshal(cfg)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		fmt.Print(string(data))
		return 0

	case "explain":
		fs := flag.NewFlagSet("explain", flag.ContinueOnError)
		fs.SetOutput(os.Stderr)
		path := fs.String("path", "", "Config file path (default: ~/.config/deskportal/config.yaml)")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		if fs.NArg() < 1 {
			fmt.Fprintln(os.Stderr, "explain requires <yaml.path>")
			fmt.Fprintln(os.Stderr, "")
			fmt.Fprintln(os.Stderr, "Known paths:")
			for _, p := range config.Paths() {
				fmt.Fprintf(os.Stderr, "  %s\n", p)
			}
			return 2
		}
		queryPath := fs.Arg(0)

		res, err := loadConfig(*path)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		value, src, err := config.Explain(res, queryPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		out, err := yaml.Marshal(value)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}

		fmt.Printf("path: %s\n", queryPath)
		fmt.Printf("source: %s\n", formatSource(src))
		fmt.Printf("value:\n%s", string(out))
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown config subcommand: %s\n", args[0])
		return 2
	}
}

func configInit(path string, force bool) int {
	target := path
	if target == "" {
		p, err := config.DefaultConfigPath()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		target = p
	}
	if _, err := os.Stat(target); err == nil && !force {
		fmt.Fprintf(os.Stderr, "%s already exists (use --force to overwrite)\n", target)
		return 1
	}

	cfg := config.DefaultConfig()
	var err error
	if path == "" {
		err = cfg.Save()
	} else {
		err = cfg.SaveTo(path)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Printf("wrote %s\n", target)
	return 0
}

func loadConfig(path string) (*config.LoadResult, error) {
	if path == "" {
		return config.LoadWithSources()
	}
	return config.LoadFromPath(path)
}

func formatSource(src config.Source) string {
	switch src.Kind {
	case config.SourceFile:
		if src.File == "" {
			return "file"
		}
		if src.Line > 0 {
			return fmt.Sprintf("file:%s:%d:%d", src.File, src.Line, src.Column)
		}
		return "file:" + src.File
	case config.SourceEnv:
		if src.Name != "" {
			return "env:" + src.Name
		}
		return "env"
	case config.SourceDefault:
		if src.Name != "" {
			return "default:" + src.Name
		}
		return "default"
	default:
		return string(src.Kind)
	}
}
