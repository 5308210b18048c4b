// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/contentvault/contentvault/internal/pipeline"
	"github.com/contentvault/contentvault/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status <release-id>",
	Short: "Show the validation state of a release",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid release id %q", args[0])
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		status, err := a.pipeline.Status(uint(id))
		if err != nil {
			return err
		}
		printStatus(uint(id), status)
		return nil
	},
}

func printStatus(releaseID uint, status *pipeline.RunStatus) {
	line := fmt.Sprintf("Release %d: %s", releaseID, status.State)
	switch status.State {
	case store.ReleaseApproved:
		fmt.Println(SuccessStyle.Render(line))
	case store.ReleaseFailed:
		fmt.Println(ErrorStyle.Render(line))
		if status.Error != "" {
			fmt.Println(ErrorStyle.Render("  " + status.Error))
		}
	case store.ReleaseArchived:
		fmt.Println(WarningStyle.Render(line))
	default:
		fmt.Println(SubtitleStyle.Render(line))
	}
}
