package main

import (
	"fmt"
	"io"
	"os"

	"github.com/1broseidon/deskportal/internal/config"
	"github.com/1broseidon/deskportal/internal/ipc"
	"github.com/1broseidon/deskportal/internal/layout"
)

func printProfileUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  deskportal profile save <name>")
	fmt.Fprintln(w, "  deskportal profile load <name>")
	fmt.Fprintln(w, "  deskportal profile list")
	fmt.Fprintln(w, "  deskportal profile delete <name>")
}

func runProfile(args []string) int {
	if len(args) == 0 {
		printProfileUsage(os.Stderr)
		return 2
	}

	switch args[0] {
	case "save":
		return withProfileName("save", args[1:], func(name string) error { return ipc.NewClient().ProfileSave(name) })
	case "load":
		return withProfileName("load", args[1:], func(name string) error { return ipc.NewClient().ProfileLoad(name) })
	case "delete":
		return withProfileName("delete", args[1:], func(name string) error {
			profiles, err := openProfiles()
			if err != nil {
				return err
			}
			return profiles.Delete(name)
		})
	case "list":
		if len(args) != 1 {
			fmt.Fprintln(os.Stderr, "profile list takes no arguments")
			return 2
		}
		profiles, err := openProfiles()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		names, err := profiles.List()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return 0
	case "help", "-h", "--help":
		printProfileUsage(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown profile command: %s\n\n", args[0])
		printProfileUsage(os.Stderr)
		return 2
	}
}

func withProfileName(cmd string, args []string, fn func(string) error) int {
	if len(args) != 1 {
		fmt.Fprintf(os.Stderr, "Usage: deskportal profile %s <name>\n", cmd)
		return 2
	}
	if err := layout.ValidateName(args[0]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if err := fn(args[0]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func openProfiles() (*layout.Profiles, error) {
	dir, err := config.DefaultProfilesDir()
	if err != nil {
		return nil, err
	}
	return layout.NewProfiles(dir), nil
}
