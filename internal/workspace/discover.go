// Package workspace applies the embed pipeline to host files on disk: it
// discovers files, formats them in parallel and can keep watching them.
package workspace

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"dqlfmt/internal/config"
	"dqlfmt/internal/logging"
)

// Discover expands paths into the host files to process. Directories are
// walked recursively, skipping ignored entries; files named explicitly are
// kept as long as their extension is supported. The result is sorted and
// free of duplicates.
func Discover(ctx context.Context, paths []string, cfg config.FilesConfig) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}

	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", root, err)
		}
		if !info.IsDir() {
			if hasExtension(root, cfg.Extensions) {
				add(filepath.Clean(root))
			} else {
				logging.WorkspaceDebug("skipping %s: unsupported extension", root)
			}
			continue
		}

		err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			rel, relErr := filepath.Rel(root, p)
			if relErr != nil || rel == "." {
				return nil
			}
			if isIgnoredRel(rel, d.Name(), cfg.IgnorePatterns) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() || !d.Type().IsRegular() {
				return nil
			}
			if !hasExtension(p, cfg.Extensions) {
				return nil
			}
			if cfg.MaxFileBytes > 0 {
				if fi, err := d.Info(); err == nil && fi.Size() > cfg.MaxFileBytes {
					logging.WorkspaceDebug("skipping %s: %d bytes exceeds limit", p, fi.Size())
					return nil
				}
			}
			add(p)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", root, err)
		}
	}

	sort.Strings(out)
	logging.WorkspaceDebug("discovered %d files under %v", len(out), paths)
	return out, nil
}

func hasExtension(p string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(p))
	for _, e := range exts {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}

func normalizePattern(p string) string {
	p = strings.TrimSpace(p)
	p = strings.TrimSuffix(p, "/")
	p = strings.TrimSuffix(p, "\\")
	return filepath.ToSlash(p)
}

// isIgnoredRel reports whether a relative path should be ignored.
// Patterns are plain names ("node_modules"), path prefixes ("src/gen") or
// globs matched against the relative path or the base name ("*.min.js").
func isIgnoredRel(rel, name string, patterns []string) bool {
	rel = filepath.ToSlash(rel)
	for _, raw := range patterns {
		p := normalizePattern(raw)
		if p == "" {
			continue
		}
		if strings.ContainsAny(p, "*?[]") {
			if ok, _ := path.Match(p, rel); ok {
				return true
			}
			if !strings.Contains(p, "/") {
				if ok, _ := path.Match(p, name); ok {
					return true
				}
			}
			if strings.HasSuffix(p, "/*") {
				prefix := strings.TrimSuffix(p, "/*")
				if strings.HasPrefix(rel, prefix+"/") {
					return true
				}
			}
			continue
		}
		if name == p || rel == p {
			return true
		}
		if strings.HasPrefix(rel, p+"/") {
			return true
		}
	}
	return false
}
