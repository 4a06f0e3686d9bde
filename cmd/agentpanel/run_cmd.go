package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tomquist/agentpanel/internal/config"
	"github.com/tomquist/agentpanel/internal/correlate"
	"github.com/tomquist/agentpanel/internal/logging"
	"github.com/tomquist/agentpanel/internal/terminal"
	"github.com/tomquist/agentpanel/internal/web"
)

// terminalSyncInterval is how often the daemon reconciles the correlation
// registry with the persisted terminal registry, so terminals added or
// closed via the CLI take effect without a restart.
const terminalSyncInterval = 5 * time.Second

// handleRun starts the supervisor: state file watcher, staleness sweeper,
// and (unless disabled) the websocket panel endpoint.
func handleRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(args)

	initLogging(*debug)
	defer logging.Shutdown()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	db, err := terminal.Open(config.DBPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening terminal registry: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	registry := correlate.NewRegistry()

	var hub *web.Hub
	var next terminal.Forwarder
	if cfg.Web.GetEnabled() {
		hub = web.NewHub()
		next = hub
	}
	forwarder := terminal.NewStatusForwarder(db, next)

	watcher, err := correlate.NewWatcher(cfg.Watch.StateFile, registry, forwarder,
		correlate.WithRetention(time.Duration(cfg.Watch.RetentionMinutes)*time.Minute),
		correlate.WithSweepInterval(time.Duration(cfg.Watch.SweepIntervalMinutes)*time.Minute),
		correlate.WithDebounce(time.Duration(cfg.Watch.DebounceMs)*time.Millisecond),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating watcher: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		watcher.Start()
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		watcher.Stop()
		return nil
	})

	g.Go(func() error {
		syncTerminals(ctx, db, watcher)
		return nil
	})

	if hub != nil {
		srv := web.NewServer(hub, cfg.Web.Listen)
		g.Go(func() error {
			hub.Run()
			return nil
		})
		g.Go(srv.ListenAndServe)
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		fmt.Printf("agentpanel v%s watching %s (panel on %s)\n", Version, cfg.Watch.StateFile, cfg.Web.Listen)
	} else {
		fmt.Printf("agentpanel v%s watching %s\n", Version, cfg.Watch.StateFile)
	}

	if err := g.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// syncTerminals reconciles the in-memory registry with the persisted
// terminal registry until ctx is cancelled. New rows become pending
// correlations; removed rows are unregistered.
func syncTerminals(ctx context.Context, db *terminal.DB, watcher *correlate.Watcher) {
	known := make(map[string]bool)

	sync := func() {
		rows, err := db.List()
		if err != nil {
			return
		}
		current := make(map[string]bool, len(rows))
		for _, row := range rows {
			current[row.ID] = true
			if !known[row.ID] {
				watcher.RegisterTerminal(row.ID, row.Cwd)
				known[row.ID] = true
			}
		}
		for id := range known {
			if !current[id] {
				watcher.UnregisterTerminal(id)
				delete(known, id)
			}
		}
	}

	sync()

	ticker := time.NewTicker(terminalSyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sync()
		}
	}
}
