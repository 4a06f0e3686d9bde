package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tomquist/agentpanel/internal/config"
	"github.com/tomquist/agentpanel/internal/git"
	"github.com/tomquist/agentpanel/internal/terminal"
)

// noopLifecycle satisfies the correlation core interface for one-shot CLI
// commands. The running daemon picks up registry changes from the database,
// so these commands have nothing to announce in-process.
type noopLifecycle struct{}

func (noopLifecycle) RegisterTerminal(terminalID, cwd string) {}
func (noopLifecycle) UnregisterTerminal(terminalID string)    {}

// handleAdd registers a terminal for an agent session working directory.
func handleAdd(args []string) {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	title := fs.String("title", "", "display title (default: directory name)")
	cwd := fs.String("cwd", "", "working directory (default: current directory)")
	_ = fs.Parse(args)

	dir := *cwd
	if dir == "" {
		var err error
		dir, err = os.Getwd()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		fmt.Fprintf(os.Stderr, "Error: %s is not a directory\n", dir)
		os.Exit(1)
	}

	name := *title
	if name == "" {
		name = filepath.Base(dir)
	}

	db, err := terminal.Open(config.DBPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening terminal registry: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	mgr := terminal.NewManager(db, noopLifecycle{})

	var row terminal.Row
	if git.IsGitRepo(dir) {
		branch, _ := git.CurrentBranch(dir)
		row, err = mgr.CreateWorktree(name, dir, dir, branch)
	} else {
		row, err = mgr.Create(name, dir)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Registered terminal %s (%s)\n", row.ID, row.Title)
}

// handleClose removes a terminal from the registry. Accepts a full id or an
// unambiguous prefix.
func handleClose(args []string) {
	fs := flag.NewFlagSet("close", flag.ExitOnError)
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: agentpanel close <terminal-id>")
		os.Exit(1)
	}

	db, err := terminal.Open(config.DBPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening terminal registry: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	id, err := resolveID(db, fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	mgr := terminal.NewManager(db, noopLifecycle{})
	if err := mgr.Close(id); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Closed terminal %s\n", id)
}

// resolveID expands a terminal id prefix to the full id, erroring when the
// prefix is unknown or ambiguous.
func resolveID(db *terminal.DB, prefix string) (string, error) {
	rows, err := db.List()
	if err != nil {
		return "", err
	}
	var matches []string
	for _, row := range rows {
		if row.ID == prefix {
			return row.ID, nil
		}
		if strings.HasPrefix(row.ID, prefix) {
			matches = append(matches, row.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no terminal matches %q", prefix)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%q matches %d terminals, use a longer prefix", prefix, len(matches))
	}
}
