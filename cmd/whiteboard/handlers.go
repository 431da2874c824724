package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/gdamore/tcell/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/dshills/whiteboard/internal/board"
	"github.com/dshills/whiteboard/internal/config"
	"github.com/dshills/whiteboard/internal/element"
	"github.com/dshills/whiteboard/internal/logging"
	"github.com/dshills/whiteboard/internal/persist"
	"github.com/dshills/whiteboard/internal/reconcile"
	"github.com/dshills/whiteboard/internal/render/raster"
	"github.com/dshills/whiteboard/internal/render/term"
	"github.com/dshills/whiteboard/internal/validate"
)

// =============================================================================
// Render Command Handler
// =============================================================================

// runRender paints a document to PNG, once or on every change.
func runRender(ctx context.Context, e *env, path string, opts renderOptions) error {
	if opts.output == "" {
		opts.output = strings.TrimSuffix(path, filepath.Ext(path)) + ".png"
	}
	cfg := *e.cfg
	if opts.width > 0 {
		cfg.Viewport.Width = opts.width
	}
	if opts.height > 0 {
		cfg.Viewport.Height = opts.height
	}
	e.cfg = &cfg

	reg := prometheus.NewRegistry()
	b, err := e.board(board.WithMetrics(reconcile.NewMetrics(reg)), board.WithoutScripts())
	if err != nil {
		return err
	}
	defer b.Close()

	rasterOpts := []raster.Option{
		raster.WithBackground(cfg.Render.Background),
		raster.WithLogger(logging.Component(e.logger, "raster")),
	}
	if opts.font != "" {
		rasterOpts = append(rasterOpts, raster.WithFont(opts.font, opts.fontSize))
	}
	painter := raster.New(cfg.Viewport.Width, cfg.Viewport.Height, rasterOpts...)

	render := func() error {
		if err := b.Load(path); err != nil {
			return err
		}
		if opts.fit {
			b.FitToContent()
		}
		b.Flush()
		res, err := painter.SavePNG(opts.output, b.Graph())
		if err != nil {
			return fmt.Errorf("render %s: %w", path, err)
		}
		fmt.Fprintf(e.out, "Wrote %s (%d nodes painted, %d skipped, %d failed)\n",
			opts.output, res.Painted, res.Skipped, res.Failed)
		if opts.metrics {
			printMetrics(e.out, reg)
		}
		return nil
	}

	if err := render(); err != nil {
		return err
	}
	if !opts.watch {
		return nil
	}

	changed := make(chan struct{}, 1)
	w, err := config.WatchFile(path, func(string) {
		select {
		case changed <- struct{}{}:
		default:
		}
	}, config.WithWatchLogger(logging.Component(e.logger, "watch")))
	if err != nil {
		return err
	}
	defer w.Close()

	fmt.Fprintf(e.out, "Watching %s (Ctrl-C to stop)\n", path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changed:
			if err := render(); err != nil {
				e.logger.Error("render failed", "path", path, "error", err)
			}
		}
	}
}

// printMetrics writes every counter gathered from reg, one per line.
func printMetrics(out io.Writer, reg prometheus.Gatherer) {
	families, err := reg.Gather()
	if err != nil {
		fmt.Fprintf(out, "metrics: %v\n", err)
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			labels := make([]string, 0, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			fmt.Fprintf(tw, "%s\t%s\t%.0f\n", mf.GetName(), strings.Join(labels, ","), m.GetCounter().GetValue())
		}
	}
	_ = tw.Flush()
}

// =============================================================================
// Validate Command Handler
// =============================================================================

// runValidate checks a document and writes it back when fixes applied.
func runValidate(e *env, path string, opts validateOptions) error {
	var extra []validate.Validator
	var scripts []*validate.Script
	defer func() {
		for _, s := range scripts {
			_ = s.Close()
		}
	}()
	for _, p := range opts.scripts {
		s, err := validate.LoadScript(p,
			validate.WithScriptTimeout(e.cfg.Validation.ScriptTimeout.Std()),
			validate.WithScriptLogger(logging.Component(e.logger, "lua")))
		if err != nil {
			return err
		}
		scripts = append(scripts, s)
		extra = append(extra, s)
	}

	b, err := e.board(board.WithValidators(extra...))
	if err != nil {
		return err
	}
	defer b.Close()

	if err := b.Load(path); err != nil {
		return err
	}
	b.Flush()
	b.Validator().SetAutoFix(opts.fix)
	rep := b.Validator().ValidateNow()

	out := e.out
	for _, issue := range rep.Fixed {
		fmt.Fprintf(out, "fixed: %s\n", issue)
	}
	for _, issue := range rep.Issues {
		fmt.Fprintln(out, issue)
	}
	for _, err := range rep.FixErrors {
		fmt.Fprintf(out, "fix failed: %v\n", err)
	}
	fmt.Fprintf(out, "%d issues (%d errors, %d warnings), %d fixed\n",
		len(rep.Issues), rep.Count(validate.SeverityError), rep.Count(validate.SeverityWarning), len(rep.Fixed))

	if opts.fix && len(rep.Fixed) > 0 {
		dest := path
		if opts.output != "" {
			dest = opts.output
		}
		if err := b.Save(dest); err != nil {
			return err
		}
		fmt.Fprintf(out, "Wrote %s\n", dest)
	}
	if rep.HasErrors() {
		return errIssues
	}
	return nil
}

// =============================================================================
// Info Command Handler
// =============================================================================

// runInfo prints build and configuration details, plus a document summary
// when a path is given.
func runInfo(e *env, path string) error {
	out := e.out
	fmt.Fprintf(out, "whiteboard %s (commit: %s, built: %s)\n", version, commit, date)
	if e.cfgPath != "" {
		fmt.Fprintf(out, "Config: %s\n", e.cfgPath)
	} else {
		fmt.Fprintln(out, "Config: built-in defaults")
	}
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	fileVersion, err := persist.Version(data)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	snap, err := persist.Unmarshal(data)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	kinds := make(map[element.Kind]int)
	for _, el := range snap.Elements {
		kinds[el.Kind]++
	}
	names := make([]string, 0, len(kinds))
	for k := range kinds {
		names = append(names, string(k))
	}
	sort.Strings(names)

	fmt.Fprintf(out, "\nDocument: %s\n", path)
	fmt.Fprintf(out, "Format version: %d", fileVersion)
	if fileVersion != persist.CurrentVersion {
		fmt.Fprintf(out, " (migrated to %d)", persist.CurrentVersion)
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Elements: %d\n", len(snap.Elements))
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, k := range names {
		fmt.Fprintf(tw, "  %s\t%d\n", k, kinds[element.Kind(k)])
	}
	_ = tw.Flush()

	b, err := e.board(board.WithoutScripts())
	if err != nil {
		return err
	}
	defer b.Close()
	b.Restore(snap)
	if r, ok := b.Store().Doc().Bounds(); ok {
		fmt.Fprintf(out, "Bounds: x=%.1f y=%.1f w=%.1f h=%.1f\n", r.X, r.Y, r.Width, r.Height)
	}
	vs := snap.Viewport
	fmt.Fprintf(out, "Viewport: x=%.1f y=%.1f scale=%.3f [%.2f, %.2f]\n", vs.X, vs.Y, vs.Scale, vs.MinScale, vs.MaxScale)
	return nil
}

// =============================================================================
// Config Command Handlers
// =============================================================================

// runConfigShow prints the effective configuration.
func runConfigShow(e *env, format string) error {
	data, err := config.Encode(e.cfg, config.Format(strings.ToLower(format)))
	if err != nil {
		return err
	}
	_, err = e.out.Write(data)
	return err
}

// runConfigEnv lists the environment overrides.
func runConfigEnv(out io.Writer) error {
	for _, name := range config.EnvVars() {
		fmt.Fprintln(out, name)
	}
	return nil
}

// =============================================================================
// View Command Handler
// =============================================================================

// runView opens the terminal viewer. Logs would corrupt the screen, so
// they go to --log-file or nowhere.
func runView(ctx context.Context, g *globals, cmd *cobra.Command, path string, opts viewOptions) error {
	logw := io.Discard
	if opts.logFile != "" {
		f, err := os.OpenFile(opts.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		defer f.Close()
		logw = f
	}
	e, err := g.setup(cmd, logw)
	if err != nil {
		return err
	}

	b, err := e.board()
	if err != nil {
		return err
	}
	defer b.Close()

	if path != "" {
		err := b.Load(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			e.logger.Info("starting empty document", "path", path)
		case err != nil:
			return err
		}
	}

	if e.cfgPath != "" {
		w, err := config.WatchFile(e.cfgPath, func(p string) {
			reloadConfig(e, b, p)
		}, config.WithWatchLogger(logging.Component(e.logger, "watch")))
		if err != nil {
			return err
		}
		defer w.Close()
	}

	screen, err := tcell.NewScreen()
	if err != nil {
		return fmt.Errorf("create screen: %w", err)
	}
	if err := screen.Init(); err != nil {
		return fmt.Errorf("init screen: %w", err)
	}
	defer screen.Fini()
	screen.EnableMouse()

	viewerOpts := []term.ViewerOption{
		term.WithViewerLogger(logging.Component(e.logger, "viewer")),
	}
	if path != "" {
		viewerOpts = append(viewerOpts, term.WithSavePath(path))
	}
	v := term.NewViewer(b, screen, viewerOpts...)
	if err := v.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// reloadConfig applies the settings that can change while the viewer runs.
func reloadConfig(e *env, b *board.Board, path string) {
	cfg, err := config.Load(path)
	if err != nil {
		e.logger.Warn("config reload failed", "path", path, "error", err)
		return
	}
	if level, err := logging.ParseLevel(cfg.Log.Level); err == nil {
		e.level.Set(level)
	}
	b.Validator().SetAutoFix(cfg.Validation.AutoFix)
	e.logger.Info("config reloaded", "path", path,
		slog.String("level", cfg.Log.Level), slog.Bool("auto_fix", cfg.Validation.AutoFix))
}

// =============================================================================
// Revisions Command Handlers
// =============================================================================

func openRevisions(opts *revisionOptions) (*persist.RevisionStore, error) {
	return persist.OpenRevisions(opts.db)
}

// runRevisionSave stores a document as a new revision.
func runRevisionSave(ctx context.Context, e *env, opts *revisionOptions, path string) error {
	name := opts.name
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	rs, err := openRevisions(opts)
	if err != nil {
		return err
	}
	defer rs.Close()

	b, err := e.board(board.WithoutScripts())
	if err != nil {
		return err
	}
	defer b.Close()
	if err := b.Load(path); err != nil {
		return err
	}
	rev, err := b.SaveRevision(ctx, rs, name)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "Saved revision %d of %q (%d elements, %d bytes)\n", rev.ID, rev.Name, rev.Elements, rev.Bytes)
	return nil
}

// runRevisionList prints revisions newest first.
func runRevisionList(ctx context.Context, e *env, opts *revisionOptions) error {
	rs, err := openRevisions(opts)
	if err != nil {
		return err
	}
	defer rs.Close()

	revs, err := rs.List(ctx, opts.name)
	if err != nil {
		return err
	}
	if len(revs) == 0 {
		fmt.Fprintln(e.out, "No revisions.")
		return nil
	}
	tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCREATED\tELEMENTS\tBYTES")
	for _, r := range revs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\n", r.ID, r.Name, r.CreatedAt.Local().Format("2006-01-02 15:04:05"), r.Elements, r.Bytes)
	}
	return tw.Flush()
}

// runRevisionLoad writes a revision out as a document file.
func runRevisionLoad(ctx context.Context, e *env, opts *revisionOptions, id int64, output string) error {
	rs, err := openRevisions(opts)
	if err != nil {
		return err
	}
	defer rs.Close()

	b, err := e.board(board.WithoutScripts())
	if err != nil {
		return err
	}
	defer b.Close()
	if err := b.LoadRevision(ctx, rs, id); err != nil {
		return err
	}
	if err := b.Save(output); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "Wrote revision %d to %s\n", id, output)
	return nil
}

// runRevisionDelete removes a revision.
func runRevisionDelete(ctx context.Context, e *env, opts *revisionOptions, id int64) error {
	rs, err := openRevisions(opts)
	if err != nil {
		return err
	}
	defer rs.Close()
	if err := rs.Delete(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "Deleted revision %d\n", id)
	return nil
}
