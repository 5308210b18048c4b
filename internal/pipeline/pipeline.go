// SPDX-License-Identifier: MPL-2.0

// Package pipeline orchestrates a release ingestion run: fetch, extract,
// parse, validate, then commit one consistent metadata snapshot or record
// a typed failure. Runs for the same release are serialized by a claim
// token; runs for different releases are independent.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/jinzhu/gorm"

	"github.com/contentvault/contentvault/internal/archive"
	"github.com/contentvault/contentvault/internal/dag"
	"github.com/contentvault/contentvault/internal/gamesupport"
	"github.com/contentvault/contentvault/internal/namegraph"
	"github.com/contentvault/contentvault/internal/notify"
	"github.com/contentvault/contentvault/internal/store"
	"github.com/contentvault/contentvault/internal/vcs"
	"github.com/contentvault/contentvault/pkg/contenttree"
)

// failureMarker is appended to a release title when validation fails, if
// not already present.
const failureMarker = " (Fails validation)"

// releaseNotesLimit caps how many commit subjects a VCS release imports.
const releaseNotesLimit = 10

// Source locates the content for one run: either a zip on disk or a
// remote repository and ref. Exactly one of ZipPath and RepoURL is set.
type Source struct {
	ZipPath string
	RepoURL string
	Ref     string
}

// RunStatus is the poll result for a release: the pipeline state plus
// the stored failure reason, if any.
type RunStatus struct {
	State string
	Error string
}

// Pipeline runs release ingestion against a store.
type Pipeline struct {
	store    *store.Store
	notifier *notify.Notifier
	fetcher  *vcs.Fetcher

	// UploadDir receives generated archives for VCS-sourced releases.
	UploadDir string
	// ScratchDir hosts per-run scratch directories.
	ScratchDir string
	// Lenient relaxes name-pattern enforcement for auxiliary re-scans.
	Lenient bool
	// MaxArchiveSize caps the summed uncompressed size of uploaded zips.
	// Zero means archive.MaxUncompressedSize.
	MaxArchiveSize int64
	// MaxGeneratedSize caps generated VCS archives. Zero means
	// archive.MaxGeneratedSize.
	MaxGeneratedSize int64
	// CloneTimeout bounds git clones when positive.
	CloneTimeout time.Duration

	logger *log.Logger
}

// New creates a pipeline. uploadDir and scratchDir must exist.
func New(s *store.Store, uploadDir, scratchDir string) *Pipeline {
	return &Pipeline{
		store:      s,
		notifier:   notify.New(s.DB()),
		fetcher:    vcs.NewFetcher(),
		UploadDir:  uploadDir,
		ScratchDir: scratchDir,
		logger: log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "pipeline",
		}),
	}
}

// Status reports the current state of a release.
func (p *Pipeline) Status(releaseID uint) (*RunStatus, error) {
	var release store.Release
	if err := p.store.DB().First(&release, releaseID).Error; err != nil {
		return nil, err
	}
	return &RunStatus{State: release.State, Error: release.Error}, nil
}

// Run processes one release from the given source. It claims the
// release, materializes and validates the content, and either commits
// the metadata snapshot (APPROVED) or records a failure (FAILED). A
// commit hash already carried by an approved release of the same package
// short-circuits to success without re-processing.
func (p *Pipeline) Run(ctx context.Context, releaseID uint, src Source) error {
	db := p.store.DB()

	var release store.Release
	if err := db.First(&release, releaseID).Error; err != nil {
		return &InternalError{Err: err}
	}
	var pkg store.Package
	if err := db.First(&pkg, release.PackageID).Error; err != nil {
		return &InternalError{Err: err}
	}

	token := uuid.NewString()
	claimed, err := store.ClaimRelease(db, release.ID, token)
	if err != nil {
		return &InternalError{Err: err}
	}
	if !claimed {
		return &ErrAlreadyClaimed{ReleaseID: release.ID}
	}
	p.logger.Info("claimed release",
		"package", pkg.Author+"/"+pkg.Name, "release", release.ID, "token", token)

	scratch, err := archive.NewScratch(p.ScratchDir)
	if err != nil {
		return p.internal(&release, &pkg, err)
	}
	defer scratch.Remove()

	contentDir, commit, err := p.materialize(ctx, scratch, &release, &pkg, src)
	if err != nil {
		var remoteErr *vcs.RemoteError
		if errors.As(err, &remoteErr) || errors.Is(err, context.DeadlineExceeded) {
			return p.retryable(&release, err)
		}
		var unsafeErr *archive.UnsafeError
		if errors.As(err, &unsafeErr) || errors.Is(err, archive.ErrGeneratedTooLarge) {
			return p.fail(&release, &pkg, err)
		}
		return p.internal(&release, &pkg, err)
	}

	if commit != "" {
		dup, err := store.HasApprovedReleaseWithCommit(db, pkg.ID, commit, release.ID)
		if err != nil {
			return p.internal(&release, &pkg, err)
		}
		if dup {
			p.logger.Info("commit already released, archiving duplicate",
				"package", pkg.Author+"/"+pkg.Name, "commit", commit)
			err := db.Model(&release).Updates(map[string]interface{}{
				"state":       store.ReleaseArchived,
				"commit_hash": commit,
				"task_id":     "",
			}).Error
			if err != nil {
				return &InternalError{Err: err}
			}
			return nil
		}
	}

	tree, err := contenttree.Parse(contentDir, contenttree.Options{
		ExpectedKind: expectedKind(pkg.Kind),
		Author:       pkg.Author,
		Name:         pkg.Name,
		Lenient:      p.Lenient,
	})
	if err != nil {
		return p.validationOutcome(&release, &pkg, err)
	}

	if err := p.validate(tree, &pkg); err != nil {
		return p.validationOutcome(&release, &pkg, err)
	}

	if err := p.approve(tree, &release, &pkg, commit, contentDir); err != nil {
		return p.validationOutcome(&release, &pkg, err)
	}
	return nil
}

// materialize places the release content into the scratch directory and
// returns its path plus the source commit hash (empty for zip uploads).
// VCS sources also get a generated archive under UploadDir; zip sources
// record the upload itself.
func (p *Pipeline) materialize(ctx context.Context, scratch *archive.Scratch, release *store.Release, pkg *store.Package, src Source) (string, string, error) {
	if src.ZipPath != "" {
		dest := filepath.Join(scratch.Dir, "content")
		extractor := archive.Extractor{MaxTotalSize: p.MaxArchiveSize}
		if err := extractor.Extract(src.ZipPath, dest); err != nil {
			return "", "", err
		}
		release.URL = src.ZipPath
		if info, err := os.Stat(src.ZipPath); err == nil {
			release.SizeBytes = info.Size()
		}
		return dest, "", nil
	}

	repoDir := filepath.Join(scratch.Dir, "repo")
	if p.CloneTimeout > 0 {
		p.fetcher.CloneTimeout = p.CloneTimeout
	}
	commit, err := p.fetcher.Clone(ctx, src.RepoURL, src.Ref, repoDir)
	if err != nil {
		return "", "", err
	}

	short := commit
	if len(short) > 8 {
		short = short[:8]
	}
	zipPath := filepath.Join(p.UploadDir,
		fmt.Sprintf("%s_%s_%s.zip", pkg.Author, pkg.Name, short))
	err = archive.Create(zipPath, repoDir, pkg.Name, p.MaxGeneratedSize)
	if err != nil {
		return "", "", err
	}

	release.URL = zipPath
	if info, err := os.Stat(zipPath); err == nil {
		release.SizeBytes = info.Size()
	}
	if notes := p.releaseNotes(repoDir, pkg); notes != "" {
		release.ReleaseNotes = notes
	}
	return repoDir, commit, nil
}

// releaseNotes summarizes commits since the package's last approved
// release. Best-effort: note generation never fails a run.
func (p *Pipeline) releaseNotes(repoDir string, pkg *store.Package) string {
	var last store.Release
	err := p.store.DB().
		Where("package_id = ? AND state = ?", pkg.ID, store.ReleaseApproved).
		Order("id desc").First(&last).Error
	since := ""
	if err == nil {
		since = last.CommitHash
	}
	subjects, err := vcs.ReleaseNotes(repoDir, since, releaseNotesLimit)
	if err != nil {
		return ""
	}
	return strings.Join(subjects, "\n")
}

// validate runs the content checks that need package context.
func (p *Pipeline) validate(tree *contenttree.ContentUnit, pkg *store.Package) error {
	if pkg.Kind == store.KindMod && tree.Name != "" && tree.Name != pkg.Name {
		return &contenttree.CheckError{
			Message: fmt.Sprintf("Technical name %q does not match the package name %q", tree.Name, pkg.Name),
			Path:    tree.RelPath,
		}
	}
	if pkg.State != store.PackageApproved && tree.FindLicenseFile() == "" {
		return &contenttree.CheckError{
			Message: "Unable to find a license file, please add one (for example LICENSE.txt or COPYING)",
			Path:    tree.RelPath,
		}
	}
	if pkg.Kind != store.KindMod && pkg.State != store.PackageApproved {
		taken, err := store.IsPackageNameTaken(p.store.DB(), pkg.Name, pkg.ID)
		if err != nil {
			return &InternalError{Err: err}
		}
		if taken {
			return &contenttree.CheckError{
				Message: fmt.Sprintf("The name %q is already in use by another package", pkg.Name),
				Path:    tree.RelPath,
			}
		}
	}
	return nil
}

// approve commits the whole metadata snapshot in one transaction:
// provides and dependency edges, game-support verdicts (including
// transitive re-inference of dependers), package description fields, and
// the release record itself.
func (p *Pipeline) approve(tree *contenttree.ContentUnit, release *store.Release, pkg *store.Package, commit, contentDir string) error {
	db := p.store.DB()

	oldProvides, err := currentProvides(db, pkg)
	if err != nil {
		return &InternalError{Err: err}
	}

	provides := tree.ModNames()
	hard, soft := tree.ExternalDepends()

	tx := p.store.Begin()
	if tx.Error != nil {
		return &InternalError{Err: tx.Error}
	}

	commitErr := func() error {
		if err := namegraph.SetProvides(tx, pkg, provides); err != nil {
			return &InternalError{Err: err}
		}
		if err := namegraph.ReplaceDependencies(tx, pkg, hard, soft); err != nil {
			return &InternalError{Err: err}
		}

		unresolved, err := namegraph.UnresolvedHardDependencies(tx, pkg)
		if err != nil {
			return &InternalError{Err: err}
		}
		if len(unresolved) > 0 && pkg.Kind == store.KindGame {
			// A game must ship with every hard dependency published.
			return &DependencyError{Names: unresolved}
		}

		if err := p.applyGameSupport(tx, tree, pkg); err != nil {
			return err
		}
		if err := p.updatePackageMeta(tx, tree, pkg); err != nil {
			return &InternalError{Err: err}
		}

		updates := map[string]interface{}{
			"state":              store.ReleaseApproved,
			"commit_hash":        commit,
			"url":                release.URL,
			"size_bytes":         release.SizeBytes,
			"release_notes":      release.ReleaseNotes,
			"min_engine_version": tree.Meta.MinEngineVersion,
			"max_engine_version": tree.Meta.MaxEngineVersion,
			"languages":          languageList(tree),
			"error":              "",
			"task_id":            "",
		}
		if err := tx.Model(release).Updates(updates).Error; err != nil {
			return &InternalError{Err: err}
		}
		return nil
	}()
	if commitErr != nil {
		tx.Rollback()
		return commitErr
	}
	if err := tx.Commit().Error; err != nil {
		return &InternalError{Err: err}
	}

	p.logger.Info("release approved",
		"package", pkg.Author+"/"+pkg.Name, "release", release.ID, "commit", commit)
	p.afterApprove(pkg, release, oldProvides, provides)
	return nil
}

// afterApprove posts notifications and audit entries. These are
// best-effort after the snapshot is committed.
func (p *Pipeline) afterApprove(pkg *store.Package, release *store.Release, oldProvides, provides map[string]bool) {
	added := map[string]bool{}
	for name := range provides {
		if !oldProvides[name] {
			added[name] = true
		}
	}
	if err := p.notifier.ModsAdded(pkg, added); err != nil {
		p.logger.Warn("audit entry failed", "err", err)
	}

	conflicts, err := namegraph.Conflicts(p.store.DB(), pkg)
	if err == nil && len(conflicts) > 0 {
		messages := make([]string, 0, len(conflicts))
		for _, conflict := range conflicts {
			messages = append(messages, conflict.String())
		}
		if err := p.notifier.ConflictAdvisory(pkg, messages); err != nil {
			p.logger.Warn("conflict advisory failed", "err", err)
		}
	}

	if err := p.notifier.ReleaseApproved(pkg, release); err != nil {
		p.logger.Warn("approval notification failed", "err", err)
	}
}

// applyGameSupport records declared verdicts at confidence 10, infers
// confidence-1 verdicts from the hard-dependency closure, and re-infers
// every package that hard-depends, directly or transitively, on a name
// this package provides. Inference problems fail the release.
func (p *Pipeline) applyGameSupport(tx *gorm.DB, tree *contenttree.ContentUnit, pkg *store.Package) error {
	if pkg.Kind == store.KindGame {
		return nil
	}

	declared := map[uint]bool{}
	wildcard := false
	supported, err := gamesupport.GamesFromList(tx, tree.Meta.SupportedGames)
	if err != nil {
		return &InternalError{Err: err}
	}
	for _, game := range supported {
		declared[game.ID] = true
	}
	for _, name := range tree.Meta.SupportedGames {
		if name == "*" {
			wildcard = true
		}
	}
	unsupported, err := gamesupport.GamesFromList(tx, tree.Meta.UnsupportedGames)
	if err != nil {
		return &InternalError{Err: err}
	}
	for _, game := range unsupported {
		declared[game.ID] = false
	}

	err = gamesupport.Set(tx, pkg, declared, store.ConfidenceDeclared)
	if err != nil {
		return &InternalError{Err: err}
	}
	if wildcard {
		// Texture packs never get the wildcard.
		if pkg.Kind == store.KindTexturePack {
			return &contenttree.CheckError{
				Message: "The package depends on a game-specific mod, and so cannot support all games.",
				Path:    tree.RelPath,
			}
		}
		if err := gamesupport.SetSupportsAll(tx, pkg); err != nil {
			var conflict *gamesupport.WildcardConflictError
			if errors.As(err, &conflict) {
				return &contenttree.CheckError{Message: conflict.Error(), Path: tree.RelPath}
			}
			return &InternalError{Err: err}
		}
	}

	// Only mods get inferred verdicts; texture packs are game-agnostic.
	if pkg.Kind != store.KindMod {
		return nil
	}

	problems, err := gamesupport.Infer(tx, pkg)
	if err != nil {
		return &InternalError{Err: err}
	}
	if len(problems) > 0 {
		return gameSupportError(problems)
	}
	return p.reinferDependers(tx, pkg)
}

// reinferDependers walks every package that reaches this one through hard
// dependency edges and re-infers its verdicts, ordered so each package is
// processed after the packages it depends on.
func (p *Pipeline) reinferDependers(tx *gorm.DB, pkg *store.Package) error {
	graph := dag.New()
	graph.AddNode(packageKey(pkg.ID))

	dependers := map[string]*store.Package{}
	var discovered []string
	queue := []*store.Package{pkg}
	seen := map[uint]bool{pkg.ID: true}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		ids, err := namegraph.HardDependerIDs(tx, current)
		if err != nil {
			return &InternalError{Err: err}
		}
		for _, id := range ids {
			graph.AddEdge(packageKey(id), packageKey(current.ID))
			if seen[id] {
				continue
			}
			seen[id] = true
			var depender store.Package
			if err := tx.First(&depender, id).Error; err != nil {
				return &InternalError{Err: err}
			}
			dependers[packageKey(id)] = &depender
			discovered = append(discovered, packageKey(id))
			queue = append(queue, &depender)
		}
	}

	order, err := graph.TopologicalSort()
	if err != nil {
		// Dependency cycles get breadth-first discovery order instead.
		order = discovered
	}
	for _, key := range order {
		depender, ok := dependers[key]
		if !ok {
			continue
		}
		problems, err := gamesupport.Infer(tx, depender)
		if err != nil {
			return &InternalError{Err: err}
		}
		if len(problems) > 0 {
			return gameSupportError(problems)
		}
	}
	return nil
}

func packageKey(id uint) string {
	return fmt.Sprintf("pkg:%d", id)
}

// gameSupportError turns inference problems into a validation failure.
func gameSupportError(problems []string) error {
	lines := make([]string, 0, len(problems))
	for _, problem := range problems {
		lines = append(lines, "- "+problem)
	}
	return &contenttree.CheckError{
		Message: "Error validating game support:\n\n" + strings.Join(lines, "\n"),
	}
}

// updatePackageMeta imports title, descriptions, and the readme onto the
// package record.
func (p *Pipeline) updatePackageMeta(tx *gorm.DB, tree *contenttree.ContentUnit, pkg *store.Package) error {
	updates := map[string]interface{}{}
	if tree.Meta.Title != "" {
		updates["title"] = tree.Meta.Title
	}
	if tree.Meta.ShortDescription != "" {
		updates["short_desc"] = tree.Meta.ShortDescription
	}
	if readme := tree.ReadmePath(); readme != "" {
		content, err := os.ReadFile(readme)
		if err == nil && len(content) > 0 {
			updates["long_description"] = string(content)
		}
	}
	if len(updates) == 0 {
		return nil
	}
	return tx.Model(pkg).Updates(updates).Error
}

// validationOutcome classifies an error from parsing or approval into
// the failure taxonomy and records the outcome.
func (p *Pipeline) validationOutcome(release *store.Release, pkg *store.Package, err error) error {
	var checkErr *contenttree.CheckError
	var confErr *contenttree.ConfSyntaxError
	var depErr *DependencyError
	switch {
	case errors.As(err, &checkErr), errors.As(err, &confErr), errors.As(err, &depErr):
		return p.fail(release, pkg, err)
	default:
		return p.internal(release, pkg, err)
	}
}

// fail records a validation failure: annotate the title, store the
// reason, clear the claim token so a corrected resubmission can
// re-claim, and notify the maintainers.
func (p *Pipeline) fail(release *store.Release, pkg *store.Package, cause error) error {
	title := release.Title
	if !strings.Contains(title, failureMarker) {
		title += failureMarker
	}
	err := p.store.DB().Model(release).Updates(map[string]interface{}{
		"title":   title,
		"state":   store.ReleaseFailed,
		"error":   cause.Error(),
		"task_id": "",
	}).Error
	if err != nil {
		return &InternalError{Err: err}
	}
	if err := p.notifier.ReleaseFailed(pkg, release, cause.Error()); err != nil {
		p.logger.Warn("failure notification failed", "err", err)
	}
	return cause
}

// retryable returns the release to PENDING with the token cleared so the
// scheduling layer can retry.
func (p *Pipeline) retryable(release *store.Release, cause error) error {
	err := p.store.DB().Model(release).Updates(map[string]interface{}{
		"state":   store.ReleasePending,
		"task_id": "",
	}).Error
	if err != nil {
		return &InternalError{Err: err}
	}
	return &NetworkError{Err: cause}
}

// internal records an unexpected failure without leaking its detail to
// the maintainers.
func (p *Pipeline) internal(release *store.Release, pkg *store.Package, cause error) error {
	p.logger.Error("internal pipeline failure",
		"package", pkg.Author+"/"+pkg.Name, "release", release.ID, "err", cause)
	title := release.Title
	if !strings.Contains(title, failureMarker) {
		title += failureMarker
	}
	err := p.store.DB().Model(release).Updates(map[string]interface{}{
		"title":   title,
		"state":   store.ReleaseFailed,
		"error":   "an internal error occurred while processing this release",
		"task_id": "",
	}).Error
	if err != nil {
		p.logger.Error("failed to record internal failure", "err", err)
	}
	return &InternalError{Err: cause}
}

func currentProvides(db *gorm.DB, pkg *store.Package) (map[string]bool, error) {
	var entities []store.NameEntity
	err := db.Model(pkg).Association("Provides").Find(&entities).Error
	if err != nil {
		return nil, err
	}
	provides := map[string]bool{}
	for _, entity := range entities {
		provides[entity.Name] = true
	}
	return provides, nil
}

func languageList(tree *contenttree.ContentUnit) string {
	languages := tree.SupportedLanguages()
	sorted := make([]string, 0, len(languages))
	for lang := range languages {
		sorted = append(sorted, lang)
	}
	if len(sorted) == 0 {
		return ""
	}
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

func expectedKind(kind string) contenttree.ContentKind {
	switch kind {
	case store.KindMod:
		return contenttree.KindMod
	case store.KindGame:
		return contenttree.KindGame
	case store.KindTexturePack:
		return contenttree.KindTexturePack
	default:
		return contenttree.KindUnknown
	}
}
