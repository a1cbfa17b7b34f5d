// Package main provides the aibenefits binary entry point.
// The binary serves the AI benefits tracker API and dashboard, and carries
// the maintenance commands used to bootstrap and operate it.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/c360studio/aibenefits/config"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "aibenefits"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// globalFlags are shared by every command.
type globalFlags struct {
	configPath string
	logLevel   string
}

func rootCmd() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "AI benefits tracker",
		Long: `aibenefits tracks AI initiatives across an organisation: their ROI,
KPIs, risks and roadmaps, with a nightly sync that recomputes roadmap
progress and raises alerts.

Running aibenefits with no subcommand serves the JSON API under /api/
and the dashboard at /.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, flags)
		},
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})
	cmd.AddCommand(migrateCmd(flags), syncCmd(flags), userCmd(flags))

	return cmd
}

// setup installs the logger and loads the layered configuration.
func (f *globalFlags) setup(stderr io.Writer) (*config.Config, *config.Loader, *slog.Logger, error) {
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: parseLevel(f.logLevel)}))
	slog.SetDefault(logger)

	loader := config.NewLoader(logger)
	cfg, err := loader.Load(f.configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, loader, logger, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
