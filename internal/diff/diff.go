// Package diff renders unified diffs between original and formatted source
// for dqlfmt -d. Line matching is done by sergi/go-diff.
package diff

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// LineType represents the type of diff line
type LineType int

const (
	LineContext LineType = iota // Unchanged context line
	LineAdded                   // Added line
	LineRemoved                 // Removed line
)

// Line is a single line in a hunk.
type Line struct {
	Type    LineType
	Content string
}

// Hunk is a group of changes with surrounding context. Starts are 1-based.
type Hunk struct {
	OldStart int
	OldCount int
	NewStart int
	NewCount int
	Lines    []Line
}

// FileDiff holds the hunks for one file.
type FileDiff struct {
	Path  string
	Hunks []Hunk
}

// Empty reports whether the two sides were identical.
func (d *FileDiff) Empty() bool {
	return len(d.Hunks) == 0
}

// Engine computes line diffs.
type Engine struct {
	dmp     *diffmatchpatch.DiffMatchPatch
	Context int
}

// NewEngine creates an engine with three lines of context.
func NewEngine() *Engine {
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0
	return &Engine{dmp: dmp, Context: 3}
}

// Compute diffs old against new line by line.
func (e *Engine) Compute(path, oldContent, newContent string) *FileDiff {
	d := &FileDiff{Path: path}
	if oldContent == newContent {
		return d
	}
	// Line-level reduction avoids newline boundary artifacts.
	a, b, lineArray := e.dmp.DiffLinesToChars(oldContent, newContent)
	diffs := e.dmp.DiffMain(a, b, false)
	diffs = e.dmp.DiffCharsToLines(diffs, lineArray)

	d.Hunks = group(toOps(diffs), e.Context)
	return d
}

type op struct {
	typ     LineType
	oldLine int // 0-based, -1 for additions
	newLine int // 0-based, -1 for removals
	content string
}

func toOps(diffs []diffmatchpatch.Diff) []op {
	var ops []op
	oldLine, newLine := 0, 0
	for _, d := range diffs {
		text := strings.TrimSuffix(d.Text, "\n")
		if d.Text == "" {
			continue
		}
		for _, line := range strings.Split(text, "\n") {
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				ops = append(ops, op{LineContext, oldLine, newLine, line})
				oldLine++
				newLine++
			case diffmatchpatch.DiffDelete:
				ops = append(ops, op{LineRemoved, oldLine, -1, line})
				oldLine++
			case diffmatchpatch.DiffInsert:
				ops = append(ops, op{LineAdded, -1, newLine, line})
				newLine++
			}
		}
	}
	return ops
}

// group cuts ops into hunks, merging changes whose context would overlap.
func group(ops []op, context int) []Hunk {
	var changes []int
	for i, o := range ops {
		if o.typ != LineContext {
			changes = append(changes, i)
		}
	}
	if len(changes) == 0 {
		return nil
	}

	var hunks []Hunk
	start := max(changes[0]-context, 0)
	end := changes[0]
	flush := func() {
		last := min(end+context, len(ops)-1)
		hunks = append(hunks, makeHunk(ops, start, last))
	}
	for _, c := range changes[1:] {
		if c-end > 2*context {
			flush()
			start = c - context
		}
		end = c
	}
	flush()
	return hunks
}

func makeHunk(ops []op, first, last int) Hunk {
	h := Hunk{}
	oldNext, newNext := 0, 0
	for i := 0; i < first; i++ {
		if ops[i].typ != LineAdded {
			oldNext++
		}
		if ops[i].typ != LineRemoved {
			newNext++
		}
	}
	h.OldStart, h.NewStart = oldNext+1, newNext+1
	for _, o := range ops[first : last+1] {
		h.Lines = append(h.Lines, Line{Type: o.typ, Content: o.content})
		if o.typ != LineAdded {
			h.OldCount++
		}
		if o.typ != LineRemoved {
			h.NewCount++
		}
	}
	// Unified diff convention: an empty side starts at the line before.
	if h.OldCount == 0 {
		h.OldStart--
	}
	if h.NewCount == 0 {
		h.NewStart--
	}
	return h
}

// Printer writes unified diffs, optionally coloured.
type Printer struct {
	header  *color.Color
	hunk    *color.Color
	added   *color.Color
	removed *color.Color
}

// NewPrinter returns a printer. When colored is false escape codes are
// never written.
func NewPrinter(colored bool) *Printer {
	p := &Printer{
		header:  color.New(color.Bold),
		hunk:    color.New(color.FgCyan),
		added:   color.New(color.FgGreen),
		removed: color.New(color.FgRed),
	}
	for _, c := range []*color.Color{p.header, p.hunk, p.added, p.removed} {
		if colored {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// Print writes d in unified format.
func (p *Printer) Print(w io.Writer, d *FileDiff) error {
	if d.Empty() {
		return nil
	}
	if _, err := p.header.Fprintf(w, "--- %s\n+++ %s\n", d.Path, d.Path); err != nil {
		return err
	}
	for _, h := range d.Hunks {
		if _, err := p.hunk.Fprintf(w, "@@ -%d,%d +%d,%d @@\n", h.OldStart, h.OldCount, h.NewStart, h.NewCount); err != nil {
			return err
		}
		for _, l := range h.Lines {
			var err error
			switch l.Type {
			case LineAdded:
				_, err = p.added.Fprintf(w, "+%s\n", l.Content)
			case LineRemoved:
				_, err = p.removed.Fprintf(w, "-%s\n", l.Content)
			default:
				_, err = fmt.Fprintf(w, " %s\n", l.Content)
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// Unified is a convenience wrapper returning the uncoloured diff as text.
func Unified(path, oldContent, newContent string) string {
	var b strings.Builder
	_ = NewPrinter(false).Print(&b, NewEngine().Compute(path, oldContent, newContent))
	return b.String()
}

// ColorEnabled reports whether output to f should be coloured: f must be a
// terminal and NO_COLOR must be unset.
func ColorEnabled(f *os.File) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
