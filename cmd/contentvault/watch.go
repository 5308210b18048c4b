// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/contentvault/contentvault/internal/pipeline"
	"github.com/contentvault/contentvault/internal/store"
	"github.com/contentvault/contentvault/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch repositories and the inbox for new releases",
	Long: `Run the background watchers: the sweeper polls the git repositories
of packages with update configs and creates releases when new commits
or tags appear, and the inbox ingests zip files dropped into the inbox
directory. Inbox files are named <author>-<name>.zip.

Runs until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	sweeper := watch.NewSweeper(a.store, a.pipeline)
	if a.cfg.SweepRunsPerMinute > 0 {
		sweeper.RunsPerMinute = a.cfg.SweepRunsPerMinute
	}
	sweeper.CloneTimeout = a.cfg.CloneTimeout
	inbox := watch.NewInbox(a.cfg.InboxDir, func(ctx context.Context, zipPath string) error {
		return submitInboxZip(ctx, a, zipPath)
	})

	fmt.Println(TitleStyle.Render("contentvault watch"))
	fmt.Println(SubtitleStyle.Render(fmt.Sprintf("sweeping every %s, inbox at %s", a.cfg.SweepInterval, a.cfg.InboxDir)))

	g, ctx := errgroup.WithContext(cmd.Context())
	g.Go(func() error {
		return sweeper.Run(ctx, a.cfg.SweepInterval)
	})
	g.Go(func() error {
		return inbox.Run(ctx)
	})
	return g.Wait()
}

// submitInboxZip ingests a dropped archive. The file name carries the
// target package as <author>-<name>.zip.
func submitInboxZip(ctx context.Context, a *app, zipPath string) error {
	base := strings.TrimSuffix(filepath.Base(zipPath), filepath.Ext(zipPath))
	parts := strings.SplitN(base, "-", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("inbox file %q is not named <author>-<name>.zip", filepath.Base(zipPath))
	}

	pkg, err := store.GetPackage(a.store.DB(), parts[0], parts[1])
	if err != nil {
		return fmt.Errorf("no package %s/%s for inbox file: %w", parts[0], parts[1], err)
	}

	release := &store.Release{PackageID: pkg.ID, Title: base, State: store.ReleasePending}
	if err := a.store.DB().Create(release).Error; err != nil {
		return err
	}
	return a.pipeline.Run(ctx, release.ID, pipeline.Source{ZipPath: zipPath})
}
