package main

import (
	"fmt"
	"os"

	"github.com/tomquist/agentpanel/internal/config"
	"github.com/tomquist/agentpanel/internal/logging"
)

const Version = "0.2.0"

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "hook-handler":
		// Invoked by the agent tool on every lifecycle event. Must never
		// fail or write to stdout.
		handleHookHandler()
	case "hooks":
		handleHooks(args[1:])
	case "run":
		handleRun(args[1:])
	case "list":
		handleList(args[1:])
	case "add":
		handleAdd(args[1:])
	case "close":
		handleClose(args[1:])
	case "version", "--version", "-v":
		fmt.Printf("agentpanel v%s\n", Version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`agentpanel - terminal session panel for AI coding agents

Usage:
  agentpanel run [-debug]          Run the supervisor (watcher + web panel)
  agentpanel list                  List registered terminals
  agentpanel add -title T -cwd D   Register a terminal
  agentpanel close <terminal-id>   Close a registered terminal
  agentpanel hooks <install|uninstall|status>
                                   Manage agent tool hooks
  agentpanel hook-handler          (internal) agent hook entry point
  agentpanel version               Print version`)
}

// initLogging configures the global logger from user config.
func initLogging(debug bool) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	level := cfg.Logs.Level
	if debug {
		level = "debug"
	}

	logging.Init(logging.Config{
		LogDir:     config.LogDir(),
		Level:      level,
		Format:     cfg.Logs.Format,
		MaxSizeMB:  cfg.Logs.MaxSizeMB,
		MaxBackups: cfg.Logs.Backups,
		MaxAgeDays: cfg.Logs.RetentionDays,
		Compress:   cfg.Logs.GetCompress(),
	})
}
