package embed

import (
	"context"
	"strings"
	"time"

	"dqlfmt/internal/ast"
	"dqlfmt/internal/logging"
)

// Event is emitted once per recognized target.
type Event struct {
	Path     string
	Rule     Rule
	Span     ast.Span
	Holes    int
	Outcome  Outcome
	Duration time.Duration
}

// Observer receives splice events. Observers are called synchronously from
// the traversal and must not touch the tree.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

// Stats summarizes one traversal.
type Stats struct {
	Nodes     int
	Matched   int
	Formatted int
	Skipped   int
	ByRule    map[Rule]int
	ByReason  map[Reason]int
}

// Changed reports whether any template was rewritten.
func (s Stats) Changed() bool {
	return s.Formatted > 0
}

// Add folds other into s.
func (s *Stats) Add(other Stats) {
	s.Nodes += other.Nodes
	s.Matched += other.Matched
	s.Formatted += other.Formatted
	s.Skipped += other.Skipped
	for k, v := range other.ByRule {
		if s.ByRule == nil {
			s.ByRule = make(map[Rule]int)
		}
		s.ByRule[k] += v
	}
	for k, v := range other.ByReason {
		if s.ByReason == nil {
			s.ByReason = make(map[Reason]int)
		}
		s.ByReason[k] += v
	}
}

func (s *Stats) record(rule Rule, o Outcome) {
	s.Matched++
	s.ByRule[rule]++
	if o.Status == Formatted {
		s.Formatted++
		return
	}
	s.Skipped++
	s.ByReason[o.Reason]++
}

// Pipeline runs recognition and splicing over one file at a time. A
// Pipeline may be shared between goroutines as long as each Run gets its
// own file and the formatter is safe for concurrent use.
type Pipeline struct {
	Recognizer *Recognizer
	Splicer    *Splicer
	Observer   Observer
}

// NewPipeline wires a recognizer and a splicer. obs may be nil.
func NewPipeline(r *Recognizer, s *Splicer, obs Observer) *Pipeline {
	return &Pipeline{Recognizer: r, Splicer: s, Observer: obs}
}

// Run walks file and splices every recognized template once. Splice
// failures are counted in the returned Stats, never returned as errors.
// When ctx is cancelled the walk stops and the remaining templates are
// left untouched.
func (p *Pipeline) Run(ctx context.Context, file *ast.File) Stats {
	stats := Stats{ByRule: make(map[Rule]int), ByReason: make(map[Reason]int)}
	if file == nil || file.Root == nil {
		return stats
	}
	comments := NewCommentIndex(file.Source, file.Comments)
	handled := make(map[*ast.Node]bool)

	ast.Walk(file.Root, func(n *ast.Node) bool {
		if ctx.Err() != nil {
			return false
		}
		stats.Nodes++
		target, rule := p.Recognizer.Match(n, comments)
		if target == nil || handled[target] {
			return true
		}
		handled[target] = true

		start := time.Now()
		outcome := p.Splicer.Splice(ctx, target)
		ev := Event{
			Path:     file.Path,
			Rule:     rule,
			Span:     target.Span,
			Outcome:  outcome,
			Duration: time.Since(start),
		}
		if exprs, ok := target.List(ast.FieldExpressions); ok {
			ev.Holes = len(exprs)
		}
		stats.record(rule, outcome)
		p.log(ev)
		if p.Observer != nil {
			p.Observer.Observe(ev)
		}
		return true
	})

	if ctx.Err() != nil {
		logging.Get(logging.CategoryEmbed).Warn("%s: traversal cancelled after %d nodes: %v", file.Path, stats.Nodes, ctx.Err())
	}
	logging.EmbedDebug("%s: %d nodes, %d comments, %d matched, %d formatted, %d skipped",
		file.Path, stats.Nodes, comments.Len(), stats.Matched, stats.Formatted, stats.Skipped)
	return stats
}

// RunDocument formats src as one standalone DQL document. There are no
// holes, so the formatter output replaces the whole text. A failing or
// unavailable formatter leaves src as it was and is counted as skipped.
// A trailing newline in src is kept.
func (p *Pipeline) RunDocument(ctx context.Context, path string, src []byte) ([]byte, Stats) {
	stats := Stats{ByRule: make(map[Rule]int), ByReason: make(map[Reason]int)}
	text := string(src)
	if strings.TrimSpace(text) == "" {
		return src, stats
	}

	start := time.Now()
	out, outcome := p.formatDocument(ctx, text)
	ev := Event{
		Path:     path,
		Rule:     RuleDocument,
		Span:     ast.Span{Start: 0, End: uint32(len(src))},
		Outcome:  outcome,
		Duration: time.Since(start),
	}
	stats.Nodes = 1
	stats.record(RuleDocument, outcome)
	p.log(ev)
	if p.Observer != nil {
		p.Observer.Observe(ev)
	}
	if outcome.Status != Formatted {
		return src, stats
	}
	return []byte(out), stats
}

func (p *Pipeline) formatDocument(ctx context.Context, text string) (string, Outcome) {
	if p.Splicer == nil || p.Splicer.Formatter == nil {
		return "", unchanged(ReasonFormatterFailed, errNoFormatter)
	}
	out, err := p.Splicer.Formatter.Format(ctx, text)
	if err != nil {
		return "", unchanged(ReasonFormatterFailed, err)
	}
	if strings.HasSuffix(text, "\n") && !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	if out == text {
		return "", unchanged(ReasonIdentical, nil)
	}
	return out, Outcome{Status: Formatted}
}

func (p *Pipeline) log(ev Event) {
	if ev.Outcome.Status == Formatted {
		logging.EmbedDebug("%s@%s: formatted (%s rule, %d holes)", ev.Path, ev.Span, ev.Rule, ev.Holes)
		return
	}
	if ev.Outcome.Err != nil {
		logging.EmbedDebug("%s@%s: unchanged (%s): %v", ev.Path, ev.Span, ev.Outcome.Reason, ev.Outcome.Err)
		return
	}
	logging.EmbedDebug("%s@%s: unchanged (%s)", ev.Path, ev.Span, ev.Outcome.Reason)
}
