// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jinzhu/gorm"
	"github.com/spf13/cobra"

	"github.com/contentvault/contentvault/internal/pipeline"
	"github.com/contentvault/contentvault/internal/store"
)

var (
	submitZip     string
	submitRepo    string
	submitRef     string
	submitTitle   string
	submitKind    string
	submitLenient bool

	submitCmd = &cobra.Command{
		Use:   "submit <author>/<name>",
		Short: "Submit a release for validation",
		Long: `Submit a release of a package from a zip file or a git repository.

The release is validated synchronously: the archive is extracted, the
content tree parsed, names and dependencies reconciled, and the result
reported. The package record is created on first submission.`,
		Args: cobra.ExactArgs(1),
		RunE: runSubmit,
	}
)

func init() {
	submitCmd.Flags().StringVar(&submitZip, "zip", "", "path to a release zip file")
	submitCmd.Flags().StringVar(&submitRepo, "repo", "", "git repository URL")
	submitCmd.Flags().StringVar(&submitRef, "ref", "", "git branch, tag, or commit (with --repo)")
	submitCmd.Flags().StringVar(&submitTitle, "title", "", "release title (defaults to the ref or file name)")
	submitCmd.Flags().StringVar(&submitKind, "kind", store.KindMod, "package kind for first submission: MOD, GAME, or TXP")
	submitCmd.Flags().BoolVar(&submitLenient, "lenient", false, "relax name-pattern checks on dependency and game lists")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	author, name, err := splitPackageRef(args[0])
	if err != nil {
		return err
	}
	if (submitZip == "") == (submitRepo == "") {
		return fmt.Errorf("exactly one of --zip and --repo is required")
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	pkg, err := findOrCreatePackage(a.store, author, name)
	if err != nil {
		return err
	}

	title := submitTitle
	if title == "" {
		if submitRef != "" {
			title = submitRef
		} else if submitZip != "" {
			title = strings.TrimSuffix(filepath.Base(submitZip), ".zip")
		} else {
			title = "HEAD"
		}
	}

	release := &store.Release{PackageID: pkg.ID, Title: title, State: store.ReleasePending}
	if err := a.store.DB().Create(release).Error; err != nil {
		return err
	}
	fmt.Printf("Created release %d for %s/%s\n", release.ID, author, name)

	a.pipeline.Lenient = submitLenient
	src := pipeline.Source{ZipPath: submitZip, RepoURL: submitRepo, Ref: submitRef}
	if verbose {
		fmt.Println(SubtitleStyle.Render(fmt.Sprintf("source: zip=%q repo=%q ref=%q", submitZip, submitRepo, submitRef)))
	}
	runErr := a.pipeline.Run(cmd.Context(), release.ID, src)

	status, err := a.pipeline.Status(release.ID)
	if err != nil {
		return err
	}
	printStatus(release.ID, status)

	if runErr != nil {
		return &ExitError{Code: 1, Err: runErr}
	}
	return nil
}

// findOrCreatePackage resolves the target package, creating a
// work-in-progress record on first submission.
func findOrCreatePackage(s *store.Store, author, name string) (*store.Package, error) {
	pkg, err := store.GetPackage(s.DB(), author, name)
	if err == nil {
		return pkg, nil
	}
	if !gorm.IsRecordNotFoundError(err) {
		return nil, err
	}

	kind := strings.ToUpper(submitKind)
	switch kind {
	case store.KindMod, store.KindGame, store.KindTexturePack:
	default:
		return nil, fmt.Errorf("unknown package kind %q (want MOD, GAME, or TXP)", submitKind)
	}

	pkg = &store.Package{
		Author: author,
		Name:   name,
		Kind:   kind,
		Title:  name,
		State:  store.PackageWIP,
		Repo:   submitRepo,
	}
	if err := s.DB().Create(pkg).Error; err != nil {
		return nil, err
	}
	fmt.Println(SubtitleStyle.Render(fmt.Sprintf("Created package %s/%s (%s)", author, name, kind)))
	return pkg, nil
}

func splitPackageRef(ref string) (author, name string, err error) {
	parts := strings.SplitN(ref, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("package must be given as <author>/<name>")
	}
	return parts[0], parts[1], nil
}
