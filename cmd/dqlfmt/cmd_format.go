package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"dqlfmt/internal/config"
	"dqlfmt/internal/diff"
	"dqlfmt/internal/embed"
	"dqlfmt/internal/formatter"
	"dqlfmt/internal/logging"
	"dqlfmt/internal/metrics"
	"dqlfmt/internal/parse"
	"dqlfmt/internal/store"
	"dqlfmt/internal/workspace"

	"github.com/spf13/cobra"
)

// stdinName is how standard input is named in list and check output.
const stdinName = "<stdin>"

var (
	writeFlag     bool
	listFlag      bool
	diffFlag      bool
	checkFlag     bool
	stdinFilepath string
	metricsFile   string
	noCache       bool
)

// formatCmd formats files or standard input
var formatCmd = &cobra.Command{
	Use:   "format [paths...]",
	Short: "Format embedded DQL in files, directories or stdin",
	Long: `Formats every DQL template found in the given files and directories.
Standalone .dql files are formatted as a whole.

With no paths, or the single path "-", the source is read from stdin and the
result written to stdout; --stdin-filepath selects the grammar (a .dql path
formats stdin as plain DQL).

By default formatted sources are printed to stdout. Use -w to rewrite files
in place, -l to list files that would change, -d to print diffs, or --check
to fail when any file is not formatted.`,
	RunE: runFormat,
}

func addFormatFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVarP(&writeFlag, "write", "w", false, "Write result to (source) file instead of stdout")
	cmd.Flags().BoolVarP(&listFlag, "list", "l", false, "List files whose formatting differs")
	cmd.Flags().BoolVarP(&diffFlag, "diff", "d", false, "Display diffs instead of rewriting files")
	cmd.Flags().BoolVar(&checkFlag, "check", false, "Exit with status 1 if any file is not formatted")
	cmd.Flags().StringVar(&stdinFilepath, "stdin-filepath", "stdin.ts", "Path used to pick the grammar for stdin")
	cmd.Flags().StringVar(&metricsFile, "metrics-file", "", "Write Prometheus metrics to this file after the run")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "Do not use the formatter cache")
	cmd.MarkFlagsMutuallyExclusive("write", "list", "diff", "check")
}

// selectedMode maps the mode flags to a runner mode.
func selectedMode() workspace.Mode {
	switch {
	case writeFlag:
		return workspace.ModeWrite
	case listFlag:
		return workspace.ModeList
	case diffFlag:
		return workspace.ModeDiff
	case checkFlag:
		return workspace.ModeCheck
	default:
		return workspace.ModeStdout
	}
}

// toolchain is the formatter stack shared by format and watch.
type toolchain struct {
	engine  *workspace.Engine
	metrics *metrics.Metrics
	cache   *store.FormatCache
}

// newToolchain wires exec formatter, cache, metrics and the embed pipeline
// from configuration. A cache that cannot be opened is logged and skipped.
func newToolchain(ctx context.Context, cfg *config.Config, useCache bool) (*toolchain, error) {
	exec, err := formatter.NewExec(formatter.ExecConfig{
		Command:        cfg.Formatter.Command,
		Args:           cfg.Formatter.Args,
		Timeout:        cfg.GetFormatterTimeout(),
		MaxOutputBytes: cfg.Formatter.MaxOutputBytes,
		Env:            cfg.Formatter.Env,
	})
	if err != nil {
		return nil, err
	}

	tc := &toolchain{metrics: metrics.New()}
	var f formatter.Formatter = tc.metrics.InstrumentFormatter(exec)

	if useCache && cfg.Cache.Enabled {
		if c, err := openCache(ctx, cfg); err != nil {
			logging.StoreWarn("formatter cache disabled: %v", err)
		} else {
			tc.cache = c
			f = formatter.NewCached(f, c, exec.Identity())
		}
	}

	r := embed.NewRecognizer()
	r.TagName = cfg.Markers.TagName
	r.CommentMarker = cfg.Markers.CommentMarker
	r.Proximity = uint32(cfg.Markers.Proximity)

	s := embed.NewSplicer(f)
	s.Placeholder = cfg.Markers.Placeholder

	tc.engine = workspace.NewEngine(embed.NewPipeline(r, s, tc.metrics))
	tc.engine.AllowSyntaxErrors = cfg.Files.AllowSyntaxErrors
	return tc, nil
}

func openCache(ctx context.Context, cfg *config.Config) (*store.FormatCache, error) {
	path, err := store.ResolvePath(cfg.Cache.Path)
	if err != nil {
		return nil, err
	}
	c, err := store.OpenFormatCache(path)
	if err != nil {
		return nil, err
	}
	if _, err := c.Prune(ctx, cfg.GetCacheMaxAge()); err != nil {
		logging.StoreWarn("%v", err)
	}
	return c, nil
}

func (tc *toolchain) Close() {
	if tc.cache == nil {
		return
	}
	if stats, err := tc.cache.Stats(context.Background()); err == nil {
		logging.StoreDebug("cache: %d entries, %d hits, %d misses", stats.Entries, stats.Hits, stats.Misses)
	}
	if err := tc.cache.Close(); err != nil {
		logging.StoreWarn("failed to close cache: %v", err)
	}
}

// runFormat formats the given paths, or stdin when there are none
func runFormat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	tc, err := newToolchain(ctx, cfg, !noCache)
	if err != nil {
		return err
	}
	defer tc.Close()

	if len(args) == 0 || (len(args) == 1 && args[0] == "-") {
		err = formatStdin(ctx, tc.engine, cmd.InOrStdin(), cmd.OutOrStdout())
	} else {
		err = formatPaths(ctx, tc, args, cmd.OutOrStdout(), cmd.ErrOrStderr())
	}

	if metricsFile != "" {
		if werr := tc.metrics.WriteTextfile(metricsFile); werr != nil {
			return errors.Join(err, werr)
		}
	}
	return err
}

func formatPaths(ctx context.Context, tc *toolchain, paths []string, stdout, stderr io.Writer) error {
	runner := workspace.NewRunner(tc.engine, cfg.Files, selectedMode(), stdout)
	runner.Recorder = tc.metrics
	if f, ok := stdout.(*os.File); ok {
		runner.Printer = diff.NewPrinter(diff.ColorEnabled(f))
	}

	report, err := runner.Run(ctx, paths)
	if report != nil {
		for _, ferr := range report.Errors() {
			fmt.Fprintf(stderr, "dqlfmt: %v\n", ferr)
		}
		if report.Failed > 0 && err == nil {
			err = fmt.Errorf("%d of %d files could not be formatted", report.Failed, report.Files)
		}
	}
	return err
}

func formatStdin(ctx context.Context, engine *workspace.Engine, in io.Reader, out io.Writer) error {
	mode := selectedMode()
	if mode == workspace.ModeWrite {
		return errors.New("cannot use -w with standard input")
	}

	src, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("failed to read stdin: %w", err)
	}

	parser := parse.NewParser()
	defer parser.Close()
	formatted, _, err := engine.FormatSource(ctx, parser, stdinFilepath, src)
	if err != nil {
		return err
	}
	changed := string(formatted) != string(src)

	switch mode {
	case workspace.ModeList, workspace.ModeCheck:
		if !changed {
			return nil
		}
		fmt.Fprintln(out, stdinName)
		if mode == workspace.ModeCheck {
			return fmt.Errorf("%s: %w", stdinName, workspace.ErrWouldChange)
		}
		return nil
	case workspace.ModeDiff:
		if !changed {
			return nil
		}
		_, err := io.WriteString(out, diff.Unified(stdinName, string(src), string(formatted)))
		return err
	default:
		_, err := out.Write(formatted)
		return err
	}
}
