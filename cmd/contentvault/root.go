// SPDX-License-Identifier: MPL-2.0

// Package cmd contains all CLI commands for contentvault.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/contentvault/contentvault/internal/config"
	"github.com/contentvault/contentvault/internal/pipeline"
	"github.com/contentvault/contentvault/internal/store"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"

	// verbose enables verbose output.
	verbose bool
	// cfgFile allows specifying a custom config file.
	cfgFile string

	// rootCmd represents the base command when called without any subcommands.
	rootCmd = &cobra.Command{
		Use:   "contentvault",
		Short: "Release ingestion for a voxel-game content catalog",
		Long: TitleStyle.Render("contentvault") + SubtitleStyle.Render(" - release ingestion for a voxel-game content catalog") + `

contentvault validates and publishes releases of mods, games, and
texture packs. A release comes from an uploaded zip or a git ref; it is
safely extracted, its content tree parsed and validated, its provided
names and dependencies reconciled against the catalog, and its
game-support verdicts recomputed - all committed as one transaction.

` + SubtitleStyle.Render("Examples:") + `
  contentvault submit alice/mymod --zip mymod.zip
  contentvault submit alice/mymod --repo https://github.com/alice/mymod --ref v1.2.0
  contentvault status 42
  contentvault watch
  contentvault config`,
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/contentvault/config.yaml)")

	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(configCmd)
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

// app bundles the collaborators every subcommand needs.
type app struct {
	cfg      *config.Config
	store    *store.Store
	pipeline *pipeline.Pipeline
}

// openApp loads configuration, prepares directories, and opens the
// database. Callers must Close.
func openApp() (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}
	s, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", cfg.DatabasePath, err)
	}
	if verbose {
		fmt.Println(SubtitleStyle.Render("database: " + cfg.DatabasePath))
	}

	p := pipeline.New(s, cfg.UploadDir, cfg.ScratchDir)
	p.MaxArchiveSize = cfg.MaxArchiveSize
	p.MaxGeneratedSize = cfg.MaxGeneratedSize
	p.CloneTimeout = cfg.CloneTimeout

	return &app{
		cfg:      cfg,
		store:    s,
		pipeline: p,
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		fmt.Fprintln(os.Stderr, WarningStyle.Render("Warning: ")+err.Error())
	}
}
