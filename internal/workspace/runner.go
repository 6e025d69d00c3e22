package workspace

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"dqlfmt/internal/config"
	"dqlfmt/internal/diff"
	"dqlfmt/internal/embed"
	"dqlfmt/internal/logging"
	"dqlfmt/internal/metrics"
	"dqlfmt/internal/parse"

	"golang.org/x/sync/errgroup"
)

// Mode selects what the runner does with formatted output.
type Mode int

const (
	// ModeStdout prints formatted sources to the output writer.
	ModeStdout Mode = iota
	// ModeWrite rewrites changed files in place.
	ModeWrite
	// ModeList prints the names of files that would change.
	ModeList
	// ModeCheck is ModeList that also fails the run when a file would change.
	ModeCheck
	// ModeDiff prints a unified diff per changed file.
	ModeDiff
)

// ErrWouldChange is returned by a ModeCheck run when at least one file is
// not formatted.
var ErrWouldChange = errors.New("files are not formatted")

// FileRecorder receives one result per processed file.
type FileRecorder interface {
	FileDone(result string)
}

// Result is the outcome for one host file.
type Result struct {
	Path    string
	Changed bool
	Stats   embed.Stats
	Output  []byte
	Err     error

	original []byte
}

// Report summarizes a run.
type Report struct {
	Results []Result
	Files   int
	Changed int
	Failed  int
	Stats   embed.Stats
}

// Errors returns the per-file errors in path order.
func (r *Report) Errors() []error {
	var errs []error
	for _, res := range r.Results {
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
	}
	return errs
}

// Runner processes many host files concurrently.
type Runner struct {
	Engine   *Engine
	Files    config.FilesConfig
	Mode     Mode
	Out      io.Writer
	Printer  *diff.Printer
	Recorder FileRecorder
}

// NewRunner returns a runner writing to out.
func NewRunner(engine *Engine, files config.FilesConfig, mode Mode, out io.Writer) *Runner {
	return &Runner{
		Engine:  engine,
		Files:   files,
		Mode:    mode,
		Out:     out,
		Printer: diff.NewPrinter(false),
	}
}

// Run discovers files under paths and processes them. Per-file failures
// are collected in the report; the returned error is reserved for
// discovery failures, cancellation, output errors and ErrWouldChange.
func (r *Runner) Run(ctx context.Context, paths []string) (*Report, error) {
	timer := logging.StartTimer(logging.CategoryWorkspace, "run")
	defer timer.Stop()

	files, err := Discover(ctx, paths, r.Files)
	if err != nil {
		return nil, err
	}

	results := make([]Result, len(files))
	workers := r.Files.Workers
	if workers <= 0 {
		workers = 4
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, path := range files {
		i, path := i, path
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			parser := parse.NewParser()
			defer parser.Close()
			results[i] = r.processFile(gctx, parser, path)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &Report{Results: results, Files: len(results)}
	for i := range results {
		res := &results[i]
		report.Stats.Add(res.Stats)
		switch {
		case res.Err != nil:
			report.Failed++
			logging.WorkspaceError("%v", res.Err)
		case res.Changed:
			report.Changed++
		}
		if err := r.emit(res); err != nil {
			return report, err
		}
	}

	logging.Workspace("processed %d files: %d changed, %d failed, %d templates formatted",
		report.Files, report.Changed, report.Failed, report.Stats.Formatted)
	if r.Mode == ModeCheck && report.Changed > 0 {
		return report, fmt.Errorf("%d of %d: %w", report.Changed, report.Files, ErrWouldChange)
	}
	return report, nil
}

// processFile formats one file and, in write mode, writes it back.
func (r *Runner) processFile(ctx context.Context, parser *parse.Parser, path string) Result {
	res := Result{Path: path}
	src, err := os.ReadFile(path)
	if err != nil {
		res.Err = fmt.Errorf("failed to read %s: %w", path, err)
		r.record(metrics.FileError)
		return res
	}
	res.original = src

	out, stats, err := r.Engine.FormatSource(ctx, parser, path, src)
	res.Stats = stats
	if err != nil {
		res.Err = err
		if errors.Is(err, ErrSyntax) || errors.Is(err, parse.ErrUnsupported) {
			r.record(metrics.FileSkipped)
		} else {
			r.record(metrics.FileError)
		}
		return res
	}
	res.Output = out
	res.Changed = !bytes.Equal(out, src)

	if res.Changed && r.Mode == ModeWrite {
		if err := writeFileAtomic(path, out); err != nil {
			res.Err = err
			r.record(metrics.FileError)
			return res
		}
		logging.WorkspaceDebug("rewrote %s", path)
	}
	if res.Changed {
		r.record(metrics.FileChanged)
	} else {
		r.record(metrics.FileUnchanged)
	}
	return res
}

func (r *Runner) record(result string) {
	if r.Recorder != nil {
		r.Recorder.FileDone(result)
	}
}

func (r *Runner) emit(res *Result) error {
	if r.Out == nil || res.Err != nil {
		return nil
	}
	switch r.Mode {
	case ModeStdout:
		_, err := r.Out.Write(res.Output)
		return err
	case ModeList, ModeCheck:
		if res.Changed {
			_, err := fmt.Fprintln(r.Out, res.Path)
			return err
		}
	case ModeDiff:
		if res.Changed {
			d := diff.NewEngine().Compute(res.Path, string(res.original), string(res.Output))
			return r.Printer.Print(r.Out, d)
		}
	}
	return nil
}

// writeFileAtomic replaces path with data, keeping its permissions.
func writeFileAtomic(path string, data []byte) error {
	perm := os.FileMode(0644)
	if info, err := os.Stat(path); err == nil {
		perm = info.Mode().Perm()
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".dqlfmt-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to chmod %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
