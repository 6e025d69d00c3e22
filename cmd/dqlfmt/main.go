package main

import (
	"errors"
	"fmt"
	"os"

	"dqlfmt/internal/config"
	"dqlfmt/internal/logging"
	"dqlfmt/internal/workspace"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	// Global flags
	configPath string
	verbose    bool
	logJSON    bool

	// Resolved configuration, loaded in PersistentPreRunE.
	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "dqlfmt [paths...]",
	Short: "Format DQL embedded in JavaScript and TypeScript template literals",
	Long: `dqlfmt finds DQL queries embedded in template literals and reformats
them with an external DQL formatter, leaving the surrounding code untouched.

A template is treated as DQL when it is tagged (dql` + "`...`" + `) or preceded by a
/* dql */ marker comment. Interpolations are preserved exactly.

Run without a subcommand to format the given paths (same as "dqlfmt format").`,
	Args:              cobra.ArbitraryArgs,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logging.Sync()
	},
	RunE: runFormat,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the dqlfmt version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "dqlfmt %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: nearest .dqlfmt.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Log in JSON format")

	addFormatFlags(rootCmd)
	addFormatFlags(formatCmd)

	rootCmd.AddCommand(formatCmd, watchCmd, configCmd, cacheCmd, versionCmd)
}

// setup loads configuration and initializes logging for every command.
func setup(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		if cwd, err := os.Getwd(); err == nil {
			path = config.FindConfig(cwd)
		}
	}

	loaded, err := config.Load(path)
	if err != nil {
		return err
	}
	if verbose {
		loaded.Logging.Level = "debug"
	}
	if logJSON {
		loaded.Logging.Format = "json"
	}
	if err := loaded.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	cfg = loaded

	if err := logging.Initialize(logging.Options{
		Level:      cfg.Logging.Level,
		JSON:       cfg.Logging.JSON(),
		Categories: cfg.Logging.Categories,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logging.SetRunID(uuid.NewString())
	if path != "" {
		logging.BootDebug("loaded config from %s", path)
	} else {
		logging.BootDebug("no config file found, using defaults")
	}
	return nil
}

// exitCode maps a command error to the process exit status: 1 when
// --check found unformatted files, 2 for everything else.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, workspace.ErrWouldChange):
		return 1
	default:
		return 2
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "dqlfmt: %v\n", err)
		os.Exit(exitCode(err))
	}
}
