package main

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/dshills/whiteboard/internal/render/raster"
)

// =============================================================================
// Render
// =============================================================================

type renderOptions struct {
	output   string
	width    int
	height   int
	fit      bool
	font     string
	fontSize float64
	watch    bool
	metrics  bool
}

func buildRenderCmd(g *globals) *cobra.Command {
	opts := renderOptions{}
	cmd := &cobra.Command{
		Use:   "render <document.json>",
		Short: "Render a document to PNG",
		Example: `  whiteboard render board.json -o board.png
  whiteboard render board.json -o board.png --fit --width 1920 --height 1080
  whiteboard render board.json -o board.png --watch`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := g.setup(cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return runRender(cmd.Context(), e, args[0], opts)
		},
	}
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "PNG file to write (default: document name with .png)")
	cmd.Flags().IntVar(&opts.width, "width", 0, "Image width in pixels (default: viewport.width)")
	cmd.Flags().IntVar(&opts.height, "height", 0, "Image height in pixels (default: viewport.height)")
	cmd.Flags().BoolVar(&opts.fit, "fit", false, "Fit the viewport to the content before rendering")
	cmd.Flags().StringVar(&opts.font, "font", "", "TrueType font for text elements")
	cmd.Flags().Float64Var(&opts.fontSize, "font-size", raster.DefaultFontSize, "Font size in points")
	cmd.Flags().BoolVarP(&opts.watch, "watch", "w", false, "Re-render whenever the document changes")
	cmd.Flags().BoolVar(&opts.metrics, "metrics", false, "Print renderer counters after rendering")
	return cmd
}

// =============================================================================
// Validate
// =============================================================================

type validateOptions struct {
	fix     bool
	scripts []string
	output  string
}

func buildValidateCmd(g *globals) *cobra.Command {
	opts := validateOptions{}
	cmd := &cobra.Command{
		Use:   "validate <document.json>",
		Short: "Check a document and optionally repair it",
		Long: `Run the built-in validators and any Lua scripts over a document.

With --fix, fixable issues are repaired and the document is written back
(or to --output). The command fails when error-severity issues remain.`,
		Example: `  whiteboard validate board.json
  whiteboard validate board.json --fix
  whiteboard validate board.json --script rules/no_empty_text.lua`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := g.setup(cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return runValidate(e, args[0], opts)
		},
	}
	cmd.Flags().BoolVar(&opts.fix, "fix", false, "Apply fixes and save the document")
	cmd.Flags().StringSliceVar(&opts.scripts, "script", nil, "Additional Lua validator script (repeatable)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Write the fixed document here instead of in place")
	return cmd
}

// =============================================================================
// Info
// =============================================================================

func buildInfoCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "info [document.json]",
		Short: "Show build, configuration and document details",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := g.setup(cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			doc := ""
			if len(args) == 1 {
				doc = args[0]
			}
			return runInfo(e, doc)
		},
	}
}

// =============================================================================
// Config
// =============================================================================

func buildConfigCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}

	var format string
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := g.setup(cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return runConfigShow(e, format)
		},
	}
	show.Flags().StringVarP(&format, "format", "f", "toml", "Output format: toml or yaml")

	env := &cobra.Command{
		Use:   "env",
		Short: "List the recognized environment variables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigEnv(cmd.OutOrStdout())
		},
	}

	cmd.AddCommand(show, env)
	return cmd
}

// =============================================================================
// View
// =============================================================================

type viewOptions struct {
	logFile string
}

func buildViewCmd(g *globals) *cobra.Command {
	opts := viewOptions{}
	cmd := &cobra.Command{
		Use:   "view [document.json]",
		Short: "Open a document in the terminal viewer",
		Long: `Open a document in an interactive terminal viewer.

Keys: arrows pan, +/- zoom, f fit, 0 reset, Tab cycles the selection,
h/j/k/l nudge, d deletes, u undo, r redo, v validate, s save, q quit.
Click selects; shift-click toggles.

A missing document starts empty and is created on save. The config file
is watched; log level and auto-fix follow it.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			return runView(cmd.Context(), g, cmd, path, opts)
		},
	}
	cmd.Flags().StringVar(&opts.logFile, "log-file", "", "Write logs to this file (logs are discarded otherwise)")
	return cmd
}

// =============================================================================
// Revisions
// =============================================================================

type revisionOptions struct {
	db   string
	name string
}

func buildRevisionsCmd(g *globals) *cobra.Command {
	opts := &revisionOptions{}
	cmd := &cobra.Command{
		Use:     "revisions",
		Aliases: []string{"rev"},
		Short:   "Keep document revisions in a SQLite database",
	}
	cmd.PersistentFlags().StringVar(&opts.db, "db", "whiteboard.db", "Revision database")
	cmd.PersistentFlags().StringVar(&opts.name, "name", "", "Revision name (default: document file name)")

	save := &cobra.Command{
		Use:   "save <document.json>",
		Short: "Store the document as a new revision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := g.setup(cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return runRevisionSave(cmd.Context(), e, opts, args[0])
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List revisions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := g.setup(cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return runRevisionList(cmd.Context(), e, opts)
		},
	}

	var output string
	load := &cobra.Command{
		Use:   "load <id>",
		Short: "Write a revision out as a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return err
			}
			e, err := g.setup(cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return runRevisionLoad(cmd.Context(), e, opts, id, output)
		},
	}
	load.Flags().StringVarP(&output, "output", "o", "", "Document file to write")
	_ = load.MarkFlagRequired("output")

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Remove a revision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return err
			}
			e, err := g.setup(cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return runRevisionDelete(cmd.Context(), e, opts, id)
		},
	}

	cmd.AddCommand(save, list, load, del)
	return cmd
}
