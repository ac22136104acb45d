// Package cli wires configuration, the session manager, the dispatcher,
// and the HTTP surface into the webbridge command tree.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/webbridge/webbridge/internal/config"
	"github.com/webbridge/webbridge/internal/dispatch"
	"github.com/webbridge/webbridge/internal/history"
	"github.com/webbridge/webbridge/internal/mcp"
	"github.com/webbridge/webbridge/internal/server"
	"github.com/webbridge/webbridge/internal/session"
)

// Version is stamped at build time.
var Version = "dev"

// ServerConfig holds the loaded base configuration, set by main before
// Execute.
var ServerConfig *config.Config

var (
	flagConfig  string
	flagHost    string
	flagPort    int
	flagHeadful bool
	flagDebug   bool
)

// SetupRootCmd builds the command tree. Running without a subcommand
// starts the server.
func SetupRootCmd(c *config.Config) *cobra.Command {
	ServerConfig = c

	root := &cobra.Command{
		Use:   "webbridge",
		Short: "Browser automation bridge speaking MCP",
		Long: `webbridge drives isolated browser sessions and exposes them as MCP
tools: navigate, snapshot, click, type, screenshot. Element refs come
from accessibility snapshots and stay valid until the next snapshot.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to a YAML config file")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.Flags().StringVar(&flagHost, "host", "", "Listen host (overrides config)")
	root.Flags().IntVar(&flagPort, "port", 0, "Listen port (overrides config)")
	root.Flags().BoolVar(&flagHeadful, "headful", false, "Run the browser with a visible window")

	root.AddCommand(serveCmd(), DoctorCmd())
	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the bridge server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&flagHost, "host", "", "Listen host (overrides config)")
	cmd.Flags().IntVar(&flagPort, "port", 0, "Listen port (overrides config)")
	cmd.Flags().BoolVar(&flagHeadful, "headful", false, "Run the browser with a visible window")
	return cmd
}

func runServe(parent context.Context) error {
	setupLogging()

	resolved, err := loadResolved()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig.String())
		cancel()
	}()

	var hist *history.Store
	if resolved.HistoryPath != "off" {
		hist, err = history.Open(resolved.HistoryPath)
		if err != nil {
			slog.Warn("history disabled", "error", err)
			hist = nil
		}
	}
	defer hist.Close()

	sessions := session.NewManager(resolved, nil)
	if err := sessions.Start(); err != nil {
		return fmt.Errorf("start session sweeper: %w", err)
	}
	defer sessions.Shutdown()

	registry := dispatch.NewRegistry(resolved.AllowedTools)
	dispatcher := dispatch.NewDispatcher(sessions, registry, hist, resolved.CallTimeout)
	mcpServer := mcp.NewServer(dispatcher, registry, Version)

	// Config file edits update the enabled tool set live; connected MCP
	// clients get tools/list_changed.
	if flagConfig != "" {
		go func() {
			err := config.Watch(ctx, flagConfig, func(rc *config.Resolved) {
				registry.SetAllowed(rc.AllowedTools)
			})
			if err != nil {
				slog.Warn("config watch disabled", "error", err)
			}
		}()
	}

	srv := server.New(resolved, sessions, dispatcher, hist, mcpServer.Handler())
	return srv.Run(ctx)
}

func loadResolved() (*config.Resolved, error) {
	c := *ServerConfig
	if flagConfig != "" {
		loaded, err := config.LoadFile(flagConfig)
		if err != nil {
			return nil, err
		}
		c = loaded
	}

	if flagHost != "" {
		c.Host = flagHost
	}
	if flagPort != 0 {
		c.Port = flagPort
	}
	if flagHeadful {
		headless := false
		c.Headless = &headless
	}

	return config.Resolve(c)
}

func setupLogging() {
	level := slog.LevelInfo
	if flagDebug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
