package workspace

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"src/a.ts":                  "",
		"src/b.js":                  "",
		"src/c.go":                  "",
		"src/gen/d.tsx":             "",
		"node_modules/lib/index.js": "",
		"dist/bundle.js":            "",
		"web/app.min.js":            "",
		"web/app.mjs":               "",
		"web/report.dql":            "",
	})
	cfg := testFiles()
	cfg.IgnorePatterns = append(cfg.IgnorePatterns, "src/gen")

	files, err := Discover(context.Background(), []string{root}, cfg)
	require.NoError(t, err)

	var rel []string
	for _, f := range files {
		r, err := filepath.Rel(root, f)
		require.NoError(t, err)
		rel = append(rel, filepath.ToSlash(r))
	}
	assert.Equal(t, []string{"src/a.ts", "src/b.js", "web/app.mjs", "web/report.dql"}, rel)
}

func TestDiscover_ExplicitFilesAndDuplicates(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.ts": "", "b.py": ""})
	a := filepath.Join(root, "a.ts")

	files, err := Discover(context.Background(), []string{a, root, filepath.Join(root, "b.py")}, testFiles())
	require.NoError(t, err)
	assert.Equal(t, []string{a}, files)
}

func TestDiscover_SizeLimit(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"small.js": "x",
		"big.js":   strings.Repeat("x", 100),
	})
	cfg := testFiles()
	cfg.MaxFileBytes = 10

	files, err := Discover(context.Background(), []string{root}, cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(root, "small.js")}, files)
}

func TestDiscover_MissingPath(t *testing.T) {
	_, err := Discover(context.Background(), []string{filepath.Join(t.TempDir(), "nope")}, testFiles())
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestIsIgnoredRel(t *testing.T) {
	patterns := []string{"node_modules", "vendor/*", "*.min.js", "src/gen/", "docs/*.md"}
	tests := []struct {
		rel  string
		want bool
	}{
		{"node_modules", true},
		{"a/node_modules", true},
		{"node_modules/x/y.js", true},
		{"vendor/lib.js", true},
		{"vendor/deep/lib.js", true},
		{"app.min.js", true},
		{"web/app.min.js", true},
		{"src/gen", true},
		{"src/gen/x.ts", true},
		{"docs/readme.md", true},
		{"src/app.ts", false},
		{"generated.ts", false},
	}
	for _, tt := range tests {
		t.Run(tt.rel, func(t *testing.T) {
			assert.Equal(t, tt.want, isIgnoredRel(tt.rel, filepath.Base(tt.rel), patterns))
		})
	}
}

func TestHasExtension(t *testing.T) {
	exts := []string{".ts", ".js"}
	assert.True(t, hasExtension("a.TS", exts))
	assert.True(t, hasExtension("dir.v2/a.js", exts))
	assert.False(t, hasExtension("a.tsx", exts))
	assert.False(t, hasExtension("Makefile", exts))
}
