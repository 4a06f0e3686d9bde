package main

import (
	"fmt"
	"os"
	"time"

	"github.com/tomquist/agentpanel/internal/config"
	"github.com/tomquist/agentpanel/internal/hooks"
	"github.com/tomquist/agentpanel/internal/hookstate"
)

// handleHooks handles the "hooks" CLI subcommand.
func handleHooks(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: agentpanel hooks <install|uninstall|status>")
		os.Exit(1)
	}

	switch args[0] {
	case "install":
		handleHooksInstall()
	case "uninstall":
		handleHooksUninstall()
	case "status":
		handleHooksStatus()
	default:
		fmt.Fprintf(os.Stderr, "Unknown hooks subcommand: %s\n", args[0])
		fmt.Fprintln(os.Stderr, "Usage: agentpanel hooks <install|uninstall|status>")
		os.Exit(1)
	}
}

func handleHooksInstall() {
	configDir := hooks.ConfigDir()
	installed, err := hooks.Install(configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error installing hooks: %v\n", err)
		os.Exit(1)
	}
	if installed {
		fmt.Println("Agent hooks installed successfully.")
		fmt.Printf("Config: %s/settings.json\n", configDir)
	} else {
		fmt.Println("Agent hooks are already installed.")
	}
}

func handleHooksUninstall() {
	configDir := hooks.ConfigDir()
	removed, err := hooks.Remove(configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error removing hooks: %v\n", err)
		os.Exit(1)
	}
	if removed {
		fmt.Println("Agent hooks removed successfully.")
	} else {
		fmt.Println("No agentpanel hooks found to remove.")
	}
}

func handleHooksStatus() {
	configDir := hooks.ConfigDir()

	if hooks.Installed(configDir) {
		fmt.Println("Status: INSTALLED")
		fmt.Printf("Config: %s/settings.json\n", configDir)
	} else {
		fmt.Println("Status: NOT INSTALLED")
		fmt.Println("Run 'agentpanel hooks install' to install.")
	}

	// State file hygiene report.
	statePath := config.StateFilePath()
	records, err := hookstate.Read(statePath)
	if err != nil {
		fmt.Printf("State file: unreadable (%s)\n", statePath)
		return
	}

	cfg, _ := config.Load()
	retention := time.Duration(cfg.Watch.RetentionMinutes) * time.Minute
	cutoff := time.Now().Add(-retention).UnixMilli()

	stale := 0
	for _, rec := range records {
		if rec.Timestamp < cutoff {
			stale++
		}
	}
	fmt.Printf("State file: %s\n", statePath)
	fmt.Printf("Sessions tracked: %d (%d stale)\n", len(records), stale)
}
