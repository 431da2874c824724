// Package main is the whiteboard command line.
//
// It renders documents to PNG, validates and repairs them, keeps SQLite
// revision history and opens an interactive terminal viewer:
//
//	whiteboard render board.json -o board.png
//	whiteboard validate board.json --fix
//	whiteboard view board.json
//	whiteboard revisions save board.json --db revisions.db
//
// Configuration comes from --config (TOML or YAML) or WHITEBOARD_CONFIG,
// overridden by WHITEBOARD_* environment variables.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/whiteboard/internal/board"
	"github.com/dshills/whiteboard/internal/config"
	"github.com/dshills/whiteboard/internal/logging"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// errIssues is returned when validation leaves error-severity issues.
var errIssues = errors.New("document has errors")

// globals holds the persistent flags.
type globals struct {
	configPath string
	logLevel   string
	logFormat  string
}

// env is what every subcommand runs with.
type env struct {
	cfg     *config.Config
	logger  *slog.Logger
	level   *slog.LevelVar
	cfgPath string
	out     io.Writer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := buildRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errIssues) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:   "whiteboard",
		Short: "Render, validate and view whiteboard documents",
		Long: `whiteboard works on JSON whiteboard documents: it renders them to PNG,
validates and repairs them, keeps revision history in SQLite and opens an
interactive terminal viewer.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "Path to a TOML or YAML configuration file (or set WHITEBOARD_CONFIG)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "", "Log format: text or json")

	root.AddCommand(
		buildRenderCmd(g),
		buildValidateCmd(g),
		buildInfoCmd(g),
		buildConfigCmd(g),
		buildViewCmd(g),
		buildRevisionsCmd(g),
	)
	return root
}

// setup loads the configuration and builds the logger. Logs go to logw.
func (g *globals) setup(cmd *cobra.Command, logw io.Writer) (*env, error) {
	path := g.configPath
	if path == "" {
		path = os.Getenv("WHITEBOARD_CONFIG")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if g.logFormat != "" {
		cfg.Log.Format = g.logFormat
	}
	logger, level, err := logging.New(logw, cfg.Log)
	if err != nil {
		return nil, err
	}
	return &env{
		cfg:     cfg,
		logger:  logger,
		level:   level,
		cfgPath: path,
		out:     cmd.OutOrStdout(),
	}, nil
}

// board creates a board from the environment's config.
func (e *env) board(opts ...board.Option) (*board.Board, error) {
	opts = append([]board.Option{board.WithConfig(e.cfg), board.WithLogger(e.logger)}, opts...)
	return board.New(opts...)
}
