package config

import (
	"fmt"
	"runtime"
	"strings"
)

// FilesConfig controls which host files are processed and how many at once.
type FilesConfig struct {
	// Extensions limits discovery to these file extensions.
	Extensions []string `yaml:"extensions"`
	// IgnorePatterns skips matching paths/dirs (relative to the walk root).
	IgnorePatterns []string `yaml:"ignore_patterns"`
	// MaxFileBytes skips files larger than this.
	MaxFileBytes int64 `yaml:"max_file_bytes"`
	// Workers caps concurrently processed files.
	Workers int `yaml:"workers"`
	// AllowSyntaxErrors formats files the host parser had to recover from.
	AllowSyntaxErrors bool `yaml:"allow_syntax_errors"`
}

// DefaultFilesConfig returns defaults for file discovery.
func DefaultFilesConfig() FilesConfig {
	workers := runtime.NumCPU()
	if workers > 20 {
		workers = 20
	}
	if workers < 4 {
		workers = 4
	}
	return FilesConfig{
		Extensions: []string{".js", ".jsx", ".mjs", ".cjs", ".ts", ".tsx", ".mts", ".cts", ".dql"},
		IgnorePatterns: []string{
			".git",
			"node_modules",
			"vendor",
			"dist",
			"build",
			".next",
			"coverage",
			"*.min.js",
		},
		MaxFileBytes: 2 * 1024 * 1024,
		Workers:      workers,
	}
}

func (f FilesConfig) validate() error {
	for _, ext := range f.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("files: extension %q must start with a dot", ext)
		}
	}
	if f.Workers < 0 {
		return fmt.Errorf("files: workers must not be negative, got %d", f.Workers)
	}
	if f.MaxFileBytes < 0 {
		return fmt.Errorf("files: max_file_bytes must not be negative, got %d", f.MaxFileBytes)
	}
	return nil
}
