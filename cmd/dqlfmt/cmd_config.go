package main

import (
	"fmt"
	"os"
	"path/filepath"

	"dqlfmt/internal/config"
	"dqlfmt/internal/store"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var forceInit bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or create the dqlfmt configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init [dir]",
	Short: "Write a default .dqlfmt.yaml",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the formatter cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show formatter cache location and size",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCacheForCmd()
		if err != nil {
			return err
		}
		defer c.Close()
		stats, err := c.Stats(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "path:    %s\nentries: %d\n", c.Path(), stats.Entries)
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cached formatter result",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCacheForCmd()
		if err != nil {
			return err
		}
		defer c.Close()
		if err := c.Clear(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "cache cleared")
		return nil
	},
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove cached results not used within cache.max_age",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCacheForCmd()
		if err != nil {
			return err
		}
		defer c.Close()
		n, err := c.Prune(cmd.Context(), cfg.GetCacheMaxAge())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "pruned %d entries\n", n)
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVarP(&forceInit, "force", "f", false, "Overwrite an existing config file")
	configCmd.AddCommand(configInitCmd, configShowCmd)
	cacheCmd.AddCommand(cacheStatsCmd, cacheClearCmd, cachePruneCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}
	path := filepath.Join(dir, config.FileNames[0])
	if _, err := os.Stat(path); err == nil && !forceInit {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := config.DefaultConfig().Save(path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
	return nil
}

func openCacheForCmd() (*store.FormatCache, error) {
	path, err := store.ResolvePath(cfg.Cache.Path)
	if err != nil {
		return nil, err
	}
	return store.OpenFormatCache(path)
}
