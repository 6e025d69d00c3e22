package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileNames are the config file names searched for, in order.
var FileNames = []string{".dqlfmt.yaml", ".dqlfmt.yml"}

// Config holds all dqlfmt configuration.
type Config struct {
	Markers   MarkersConfig   `yaml:"markers"`
	Formatter FormatterConfig `yaml:"formatter"`
	Cache     CacheConfig     `yaml:"cache"`
	Files     FilesConfig     `yaml:"files"`
	Watch     WatchConfig     `yaml:"watch"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// MarkersConfig controls how embedded DQL is recognized.
type MarkersConfig struct {
	// TagName is the tag function name, as in dql`...`.
	TagName string `yaml:"tag_name"`
	// CommentMarker is the comment text that flags a plain template.
	CommentMarker string `yaml:"comment_marker"`
	// Placeholder stands in for interpolation holes while formatting.
	Placeholder string `yaml:"placeholder"`
	// Proximity is the maximum distance in characters, exclusive, between a
	// marker comment and its template.
	Proximity int `yaml:"proximity"`
}

// FormatterConfig configures the external DQL formatter.
type FormatterConfig struct {
	Command        string   `yaml:"command"`
	Args           []string `yaml:"args,omitempty"`
	Timeout        string   `yaml:"timeout"`
	MaxOutputBytes int      `yaml:"max_output_bytes"`
	Env            []string `yaml:"env,omitempty"`
}

// CacheConfig configures the persistent formatter cache.
type CacheConfig struct {
	Enabled bool `yaml:"enabled"`
	// Path defaults to the user cache directory.
	Path   string `yaml:"path,omitempty"`
	MaxAge string `yaml:"max_age"`
}

// WatchConfig configures watch mode.
type WatchConfig struct {
	Debounce string `yaml:"debounce"`
	// MetricsAddr, when set, serves Prometheus metrics while watching.
	MetricsAddr string `yaml:"metrics_addr,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Markers: MarkersConfig{
			TagName:       "dql",
			CommentMarker: "dql",
			Placeholder:   "dql_placeholder",
			Proximity:     20,
		},
		Formatter: FormatterConfig{
			Command:        "pretty-dql",
			Timeout:        "10s",
			MaxOutputBytes: 1 << 20,
		},
		Cache: CacheConfig{
			Enabled: true,
			MaxAge:  "720h",
		},
		Files: DefaultFilesConfig(),
		Watch: WatchConfig{
			Debounce: "200ms",
		},
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "text",
		},
	}
}

// FindConfig searches dir and its parents for a config file. It returns
// "" when none exists.
func FindConfig(dir string) string {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return ""
	}
	for {
		for _, name := range FileNames {
			p := filepath.Join(dir, name)
			if info, err := os.Stat(p); err == nil && !info.IsDir() {
				return p
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults. Environment overrides are applied in both cases.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if cmd := os.Getenv("DQLFMT_FORMATTER"); cmd != "" {
		fields := strings.Fields(cmd)
		c.Formatter.Command = fields[0]
		c.Formatter.Args = fields[1:]
	}
	if v := os.Getenv("DQLFMT_PROXIMITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Markers.Proximity = n
		}
	}
	if v := os.Getenv("DQLFMT_CACHE"); v != "" {
		switch strings.ToLower(v) {
		case "off", "false", "0", "none":
			c.Cache.Enabled = false
		default:
			c.Cache.Enabled = true
			c.Cache.Path = v
		}
	}
	if v := os.Getenv("DQLFMT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("DQLFMT_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Files.Workers = n
		}
	}
}

// GetFormatterTimeout returns the per-call formatter timeout.
func (c *Config) GetFormatterTimeout() time.Duration {
	d, err := time.ParseDuration(c.Formatter.Timeout)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}

// GetCacheMaxAge returns how long unused cache entries are kept.
func (c *Config) GetCacheMaxAge() time.Duration {
	d, err := time.ParseDuration(c.Cache.MaxAge)
	if err != nil || d <= 0 {
		return 30 * 24 * time.Hour
	}
	return d
}

// GetWatchDebounce returns the watch-mode debounce interval.
func (c *Config) GetWatchDebounce() time.Duration {
	d, err := time.ParseDuration(c.Watch.Debounce)
	if err != nil || d <= 0 {
		return 200 * time.Millisecond
	}
	return d
}

// ValidLogLevels lists the accepted logging levels.
var ValidLogLevels = []string{"debug", "info", "warn", "error"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []error
	if c.Markers.TagName == "" && c.Markers.CommentMarker == "" {
		errs = append(errs, errors.New("markers: at least one of tag_name and comment_marker must be set"))
	}
	if c.Markers.Placeholder == "" {
		errs = append(errs, errors.New("markers: placeholder must not be empty"))
	} else if strings.ContainsAny(c.Markers.Placeholder, "`$\\") {
		errs = append(errs, fmt.Errorf("markers: placeholder %q must not contain template syntax", c.Markers.Placeholder))
	}
	if c.Markers.Proximity <= 0 {
		errs = append(errs, fmt.Errorf("markers: proximity must be positive, got %d", c.Markers.Proximity))
	}
	if strings.TrimSpace(c.Formatter.Command) == "" {
		errs = append(errs, errors.New("formatter: command is required"))
	}
	if c.Formatter.Timeout != "" {
		if _, err := time.ParseDuration(c.Formatter.Timeout); err != nil {
			errs = append(errs, fmt.Errorf("formatter: invalid timeout %q: %w", c.Formatter.Timeout, err))
		}
	}
	if c.Watch.Debounce != "" {
		if _, err := time.ParseDuration(c.Watch.Debounce); err != nil {
			errs = append(errs, fmt.Errorf("watch: invalid debounce %q: %w", c.Watch.Debounce, err))
		}
	}
	if err := c.Files.validate(); err != nil {
		errs = append(errs, err)
	}

	validLevel := c.Logging.Level == ""
	for _, l := range ValidLogLevels {
		if strings.EqualFold(c.Logging.Level, l) {
			validLevel = true
			break
		}
	}
	if !validLevel {
		errs = append(errs, fmt.Errorf("logging: invalid level %s (valid: %v)", c.Logging.Level, ValidLogLevels))
	}
	return errors.Join(errs...)
}
