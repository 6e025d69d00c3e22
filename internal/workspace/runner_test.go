package workspace

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"dqlfmt/internal/embed"
	"dqlfmt/internal/formatter"
	"dqlfmt/internal/metrics"
	"dqlfmt/internal/parse"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	unformatted = "const q = dql`select ${cols} from t`;\n"
	formatted   = "const q = dql`SELECT ${cols} FROM t`;\n"
	plain       = "const n = 1;\n"

	dqlDocument  = "select a, b\nfrom t\nwhere a > 1\n"
	dqlFormatted = "SELECT a, b\nFROM t\nWHERE a > 1\n"
)

func TestEngine_FormatSource(t *testing.T) {
	e := newTestEngine(upperFormatter())
	p := parse.NewParser()
	defer p.Close()

	out, stats, err := e.FormatSource(context.Background(), p, "q.ts", []byte(unformatted))
	require.NoError(t, err)
	assert.Equal(t, formatted, string(out))
	assert.Equal(t, 1, stats.Formatted)

	src := []byte(formatted)
	out, stats, err = e.FormatSource(context.Background(), p, "q.ts", src)
	require.NoError(t, err)
	assert.Equal(t, formatted, string(out))
	assert.False(t, stats.Changed())
}

func TestEngine_SyntaxErrors(t *testing.T) {
	src := []byte("const = dql`select 1`;;; {")
	p := parse.NewParser()
	defer p.Close()

	e := newTestEngine(upperFormatter())
	_, _, err := e.FormatSource(context.Background(), p, "bad.js", src)
	assert.ErrorIs(t, err, ErrSyntax)

	e.AllowSyntaxErrors = true
	_, _, err = e.FormatSource(context.Background(), p, "bad.js", src)
	assert.NoError(t, err)
}

func TestEngine_Unsupported(t *testing.T) {
	p := parse.NewParser()
	defer p.Close()
	_, _, err := newTestEngine(upperFormatter()).FormatSource(context.Background(), p, "q.rb", []byte("x"))
	assert.ErrorIs(t, err, parse.ErrUnsupported)
}

func TestEngine_Document(t *testing.T) {
	p := parse.NewParser()
	defer p.Close()
	e := newTestEngine(upperFormatter())

	for _, name := range []string{"q.dql", "Q.DQL"} {
		out, stats, err := e.FormatSource(context.Background(), p, name, []byte(dqlDocument))
		require.NoError(t, err)
		assert.Equal(t, dqlFormatted, string(out))
		assert.Equal(t, 1, stats.ByRule[embed.RuleDocument])
	}

	// Not a host language: backticks and syntax errors do not matter.
	src := []byte("select `a` from {{\n")
	out, _, err := e.FormatSource(context.Background(), p, "raw.dql", src)
	require.NoError(t, err)
	assert.Equal(t, "SELECT `a` FROM {{\n", string(out))
}

func TestIsDocument(t *testing.T) {
	assert.True(t, IsDocument("a/b/q.dql"))
	assert.True(t, IsDocument("q.Dql"))
	assert.False(t, IsDocument("q.ts"))
	assert.False(t, IsDocument("dql"))
}

func TestRunner_DocumentModes(t *testing.T) {
	tests := []struct {
		name    string
		mode    Mode
		wantOut func(path string) string
		wantErr error
		written bool
	}{
		{"list", ModeList, func(p string) string { return p + "\n" }, nil, false},
		{"check", ModeCheck, func(p string) string { return p + "\n" }, ErrWouldChange, false},
		{"write", ModeWrite, func(string) string { return "" }, nil, true},
		{"stdout", ModeStdout, func(string) string { return dqlFormatted }, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			writeTree(t, root, map[string]string{"queries/report.dql": dqlDocument})
			path := filepath.Join(root, "queries", "report.dql")

			var out bytes.Buffer
			r := NewRunner(newTestEngine(upperFormatter()), testFiles(), tt.mode, &out)
			report, err := r.Run(context.Background(), []string{root})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			require.NotNil(t, report)
			assert.Equal(t, 1, report.Files)
			assert.Equal(t, 1, report.Changed)
			assert.Equal(t, tt.wantOut(path), out.String())

			want := dqlDocument
			if tt.written {
				want = dqlFormatted
			}
			assert.Equal(t, want, readFile(t, path))
		})
	}
}

func TestRunner_DocumentDiff(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"q.dql": dqlDocument})

	var out bytes.Buffer
	r := NewRunner(newTestEngine(upperFormatter()), testFiles(), ModeDiff, &out)
	_, err := r.Run(context.Background(), []string{root})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "-from t\n")
	assert.Contains(t, out.String(), "+FROM t\n")
}

func TestRunner_DocumentFormatterFailureLeavesFileAlone(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"q.dql": dqlDocument})
	failing := formatter.Func(func(context.Context, string) (string, error) {
		return "", errors.New("unexpected token")
	})

	r := NewRunner(newTestEngine(failing), testFiles(), ModeWrite, nil)
	report, err := r.Run(context.Background(), []string{root})
	require.NoError(t, err)
	assert.Zero(t, report.Changed)
	assert.Zero(t, report.Failed)
	assert.Equal(t, 1, report.Stats.ByReason[embed.ReasonFormatterFailed])
	assert.Equal(t, dqlDocument, readFile(t, filepath.Join(root, "q.dql")))
}

func TestRunner_Modes(t *testing.T) {
	tests := []struct {
		name    string
		mode    Mode
		wantOut func(root string) string
		wantErr error
		written bool
	}{
		{
			name:    "list",
			mode:    ModeList,
			wantOut: func(root string) string { return filepath.Join(root, "a.js") + "\n" },
		},
		{
			name:    "check",
			mode:    ModeCheck,
			wantOut: func(root string) string { return filepath.Join(root, "a.js") + "\n" },
			wantErr: ErrWouldChange,
		},
		{
			name:    "write",
			mode:    ModeWrite,
			wantOut: func(string) string { return "" },
			written: true,
		},
		{
			name:    "stdout",
			mode:    ModeStdout,
			wantOut: func(string) string { return formatted + plain },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			writeTree(t, root, map[string]string{"a.js": unformatted, "b.ts": plain})

			var out bytes.Buffer
			r := NewRunner(newTestEngine(upperFormatter()), testFiles(), tt.mode, &out)
			report, err := r.Run(context.Background(), []string{root})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			require.NotNil(t, report)
			assert.Equal(t, 2, report.Files)
			assert.Equal(t, 1, report.Changed)
			assert.Zero(t, report.Failed)
			assert.Equal(t, tt.wantOut(root), out.String())

			want := unformatted
			if tt.written {
				want = formatted
			}
			assert.Equal(t, want, readFile(t, filepath.Join(root, "a.js")))
			assert.Equal(t, plain, readFile(t, filepath.Join(root, "b.ts")))
		})
	}
}

func TestRunner_Diff(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.js": unformatted})

	var out bytes.Buffer
	r := NewRunner(newTestEngine(upperFormatter()), testFiles(), ModeDiff, &out)
	_, err := r.Run(context.Background(), []string{root})
	require.NoError(t, err)

	assert.Contains(t, out.String(), "-"+unformatted)
	assert.Contains(t, out.String(), "+"+formatted)
	assert.NotContains(t, out.String(), "\x1b[")
}

func TestRunner_WritePreservesPermissions(t *testing.T) {
	root := t.TempDir()
	p := filepath.Join(root, "script.mjs")
	require.NoError(t, os.WriteFile(p, []byte(unformatted), 0755))

	r := NewRunner(newTestEngine(upperFormatter()), testFiles(), ModeWrite, nil)
	_, err := r.Run(context.Background(), []string{root})
	require.NoError(t, err)

	info, err := os.Stat(p)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0755), info.Mode().Perm())
	assert.Equal(t, formatted, readFile(t, p))

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files are cleaned up")
}

func TestRunner_FailuresAreReportedPerFile(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"good.js": unformatted,
		"bad.js":  "const = dql`select 1`;;; {",
	})
	rec := &countingRecorder{}
	var out bytes.Buffer
	r := NewRunner(newTestEngine(upperFormatter()), testFiles(), ModeList, &out)
	r.Recorder = rec

	report, err := r.Run(context.Background(), []string{root})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Changed)
	require.Len(t, report.Errors(), 1)
	assert.ErrorIs(t, report.Errors()[0], ErrSyntax)
	assert.Equal(t, filepath.Join(root, "good.js")+"\n", out.String())

	assert.Equal(t, 1, rec.get(metrics.FileSkipped))
	assert.Equal(t, 1, rec.get(metrics.FileChanged))
}

func TestRunner_FormatterErrorsLeaveFilesAlone(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.js": unformatted})
	failing := formatter.Func(func(context.Context, string) (string, error) {
		return "", errors.New("formatter crashed")
	})

	r := NewRunner(newTestEngine(failing), testFiles(), ModeWrite, nil)
	report, err := r.Run(context.Background(), []string{root})
	require.NoError(t, err)
	assert.Zero(t, report.Changed)
	assert.Zero(t, report.Failed)
	assert.Equal(t, 1, report.Stats.Skipped)
	assert.Equal(t, unformatted, readFile(t, filepath.Join(root, "a.js")))
}

func TestRunner_ManyFilesInParallel(t *testing.T) {
	root := t.TempDir()
	files := make(map[string]string)
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"} {
		files[name+".ts"] = unformatted
	}
	writeTree(t, root, files)

	var out bytes.Buffer
	r := NewRunner(newTestEngine(upperFormatter()), testFiles(), ModeList, &out)
	report, err := r.Run(context.Background(), []string{root})
	require.NoError(t, err)
	assert.Equal(t, 10, report.Changed)
	assert.Equal(t, 10, report.Stats.Formatted)

	lines := bytes.Split(bytes.TrimSpace(out.Bytes()), []byte("\n"))
	require.Len(t, lines, 10)
	assert.Equal(t, filepath.Join(root, "a.ts"), string(lines[0]))
	assert.Equal(t, filepath.Join(root, "j.ts"), string(lines[9]))
}

func TestRunner_Cancelled(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.js": unformatted})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewRunner(newTestEngine(upperFormatter()), testFiles(), ModeWrite, nil)
	_, err := r.Run(ctx, []string{root})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, unformatted, readFile(t, filepath.Join(root, "a.js")))
}
