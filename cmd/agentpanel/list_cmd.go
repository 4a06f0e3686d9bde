package main

import (
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"golang.org/x/term"

	"github.com/tomquist/agentpanel/internal/config"
	"github.com/tomquist/agentpanel/internal/git"
	"github.com/tomquist/agentpanel/internal/terminal"
)

// handleList prints the terminal registry. With -plain (or when stdout is
// not a terminal) the output is tab-separated for scripting.
func handleList(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	plain := fs.Bool("plain", false, "machine-readable output")
	_ = fs.Parse(args)

	db, err := terminal.Open(config.DBPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening terminal registry: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	rows, err := db.List()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing terminals: %v\n", err)
		os.Exit(1)
	}

	interactive := !*plain && term.IsTerminal(int(os.Stdout.Fd()))
	if len(rows) == 0 {
		if interactive {
			fmt.Println("No terminals registered. Use 'agentpanel add' to register one.")
		}
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	if interactive {
		fmt.Fprintln(w, "ID\tTITLE\tSTATUS\tBRANCH\tCWD")
	}
	for _, row := range rows {
		branch := gitSummary(row)
		status := row.Status
		if status == "" {
			status = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", shortID(row.ID, interactive), row.Title, status, branch, row.Cwd)
	}
	w.Flush()
}

// gitSummary returns "branch" or "branch*" when the working tree is dirty,
// preferring the worktree branch recorded at creation.
func gitSummary(row terminal.Row) string {
	dir := row.Cwd
	if row.WorktreePath != "" {
		dir = row.WorktreePath
	}
	if !git.IsGitRepo(dir) {
		return "-"
	}
	branch, err := git.CurrentBranch(dir)
	if err != nil || branch == "" {
		branch = row.WorktreeBranch
	}
	if branch == "" {
		return "-"
	}
	if n, err := git.DirtyCount(dir); err == nil && n > 0 {
		branch += "*"
	}
	return branch
}

// shortID truncates UUIDs for interactive display; scripts get the full id.
func shortID(id string, interactive bool) string {
	if interactive && len(id) > 8 {
		return id[:8]
	}
	return id
}
