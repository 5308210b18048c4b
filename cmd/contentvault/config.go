// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/contentvault/contentvault/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the resolved configuration",
	Long: `Print the configuration the other commands would run with, after
merging defaults, the config file, and CONTENTVAULT_* environment
variables.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		fmt.Println(TitleStyle.Render("contentvault configuration"))
		printSetting("database_path", cfg.DatabasePath)
		printSetting("upload_dir", cfg.UploadDir)
		printSetting("inbox_dir", cfg.InboxDir)
		printSetting("scratch_dir", cfg.ScratchDir)
		printSetting("max_archive_size", fmt.Sprintf("%d", cfg.MaxArchiveSize))
		printSetting("max_generated_size", fmt.Sprintf("%d", cfg.MaxGeneratedSize))
		printSetting("clone_timeout", cfg.CloneTimeout.String())
		printSetting("sweep_interval", cfg.SweepInterval.String())
		printSetting("sweep_runs_per_minute", fmt.Sprintf("%d", cfg.SweepRunsPerMinute))
		return nil
	},
}

func printSetting(key, value string) {
	fmt.Printf("  %s %s\n", SubtitleStyle.Render(key+":"), value)
}
