// SPDX-License-Identifier: MPL-2.0

// Package vcs fetches package sources from Git hosting. Clones are
// bounded by a timeout so a misbehaving remote cannot wedge an ingestion
// worker, and remote probes (latest commit, latest tag) avoid a full
// clone where the transport allows it.
package vcs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"
)

// DefaultCloneTimeout bounds a single clone. Sources are small; a clone
// that takes longer than this is stuck, not slow.
const DefaultCloneTimeout = 5 * time.Minute

var commitHashPattern = regexp.MustCompile(`^[0-9a-f]{7,40}$`)

// RemoteError wraps a failure to reach or read from a Git remote so
// callers can distinguish network trouble from bad package content.
type RemoteError struct {
	URL string
	Err error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("unable to reach git remote %s: %v", e.URL, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// TagInfo describes a remote tag.
type TagInfo struct {
	Name   string
	Commit string
	// When is the committer date of the tagged commit, used to pick the
	// most recent tag.
	When time.Time
}

// Fetcher performs Git operations against package repositories.
type Fetcher struct {
	// CloneTimeout bounds each clone; zero means DefaultCloneTimeout.
	CloneTimeout time.Duration

	auth transport.AuthMethod
}

// NewFetcher creates a fetcher, picking up an access token from the
// environment for private repositories.
func NewFetcher() *Fetcher {
	f := &Fetcher{CloneTimeout: DefaultCloneTimeout}
	if token := os.Getenv("GIT_TOKEN"); token != "" {
		f.auth = &http.BasicAuth{Username: "git", Password: token}
	}
	return f
}

func (f *Fetcher) timeout() time.Duration {
	if f.CloneTimeout > 0 {
		return f.CloneTimeout
	}
	return DefaultCloneTimeout
}

// Clone clones repoURL into destPath and checks out ref, which may be a
// branch, a tag, or a commit hash. An empty ref leaves the remote's
// default branch checked out. Returns the resulting HEAD commit hash.
func (f *Fetcher) Clone(ctx context.Context, repoURL, ref, destPath string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout())
	defer cancel()

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return "", fmt.Errorf("failed to create clone parent directory: %w", err)
	}

	repo, err := git.PlainCloneContext(ctx, destPath, false, &git.CloneOptions{
		URL:               repoURL,
		Auth:              f.auth,
		RecurseSubmodules: git.DefaultSubmoduleRecursionDepth,
	})
	if err != nil {
		_ = os.RemoveAll(destPath)
		return "", &RemoteError{URL: repoURL, Err: err}
	}

	if ref != "" {
		hash, err := resolveRef(repo, ref)
		if err != nil {
			return "", err
		}
		worktree, err := repo.Worktree()
		if err != nil {
			return "", fmt.Errorf("failed to get worktree: %w", err)
		}
		err = worktree.Checkout(&git.CheckoutOptions{Hash: hash, Force: true})
		if err != nil {
			return "", fmt.Errorf("failed to checkout %q: %w", ref, err)
		}
		return hash.String(), nil
	}

	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to read HEAD: %w", err)
	}
	return head.Hash().String(), nil
}

// resolveRef resolves a branch name, tag name, or commit hash to a
// commit. Annotated tags are dereferenced to their target.
func resolveRef(repo *git.Repository, ref string) (plumbing.Hash, error) {
	candidates := []plumbing.ReferenceName{
		plumbing.NewRemoteReferenceName("origin", ref),
		plumbing.NewBranchReferenceName(ref),
		plumbing.NewTagReferenceName(ref),
	}
	for _, name := range candidates {
		resolved, err := repo.Reference(name, true)
		if err != nil {
			continue
		}
		if tagObj, err := repo.TagObject(resolved.Hash()); err == nil {
			return tagObj.Target, nil
		}
		return resolved.Hash(), nil
	}

	if commitHashPattern.MatchString(ref) {
		hash := plumbing.NewHash(ref)
		if _, err := repo.CommitObject(hash); err == nil {
			return hash, nil
		}
	}
	return plumbing.ZeroHash, fmt.Errorf("ref %q not found in repository", ref)
}

// LatestCommit returns the remote's current commit for ref (a branch
// name), or for the default branch when ref is empty, without cloning.
func (f *Fetcher) LatestCommit(ctx context.Context, repoURL, ref string) (string, error) {
	refs, err := f.listRemote(ctx, repoURL)
	if err != nil {
		return "", err
	}

	want := plumbing.HEAD
	if ref != "" {
		want = plumbing.NewBranchReferenceName(ref)
	}

	// ls-remote reports HEAD as a symref; resolve it through the target.
	var headTarget plumbing.ReferenceName
	for _, remoteRef := range refs {
		if remoteRef.Name() == plumbing.HEAD && remoteRef.Type() == plumbing.SymbolicReference {
			headTarget = remoteRef.Target()
		}
	}
	for _, remoteRef := range refs {
		name := remoteRef.Name()
		if name == want && remoteRef.Type() == plumbing.HashReference {
			return remoteRef.Hash().String(), nil
		}
		if want == plumbing.HEAD && headTarget != "" && name == headTarget {
			return remoteRef.Hash().String(), nil
		}
	}
	return "", fmt.Errorf("ref %q not found on remote %s", ref, repoURL)
}

// LatestTag returns the most recently created tag of the repository.
// Tag creation order requires commit dates, so this clones into memory
// rather than using ls-remote. Returns a nil TagInfo without error when
// the repository has no tags.
func (f *Fetcher) LatestTag(ctx context.Context, repoURL string) (*TagInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout())
	defer cancel()

	repo, err := git.CloneContext(ctx, memory.NewStorage(), nil, &git.CloneOptions{
		URL:        repoURL,
		Auth:       f.auth,
		NoCheckout: true,
		Tags:       git.AllTags,
	})
	if err != nil {
		return nil, &RemoteError{URL: repoURL, Err: err}
	}

	tags, err := repo.Tags()
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}

	var latest *TagInfo
	err = tags.ForEach(func(ref *plumbing.Reference) error {
		hash := ref.Hash()
		if tagObj, err := repo.TagObject(hash); err == nil {
			hash = tagObj.Target
		}
		commit, err := repo.CommitObject(hash)
		if err != nil {
			return nil
		}
		if latest == nil || commit.Committer.When.After(latest.When) {
			latest = &TagInfo{
				Name:   ref.Name().Short(),
				Commit: hash.String(),
				When:   commit.Committer.When,
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return latest, nil
}

// ReleaseNotes collects the commit subjects in a checked-out clone from
// HEAD back to (and excluding) sinceCommit, newest first. An empty or
// unknown sinceCommit yields at most limit subjects from HEAD. Merge
// bookkeeping subjects are skipped.
func ReleaseNotes(repoPath, sinceCommit string, limit int) ([]string, error) {
	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open repository: %w", err)
	}
	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to read HEAD: %w", err)
	}
	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("failed to walk history: %w", err)
	}
	defer iter.Close()

	stop := plumbing.NewHash(sinceCommit)
	var subjects []string
	err = iter.ForEach(func(commit *object.Commit) error {
		if commit.Hash == stop {
			return storer.ErrStop
		}
		if limit > 0 && len(subjects) >= limit {
			return storer.ErrStop
		}
		subject := strings.SplitN(commit.Message, "\n", 2)[0]
		if strings.HasPrefix(subject, "Merge ") {
			return nil
		}
		subjects = append(subjects, strings.TrimSpace(subject))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return subjects, nil
}

func (f *Fetcher) listRemote(ctx context.Context, repoURL string) ([]*plumbing.Reference, error) {
	remote := git.NewRemote(memory.NewStorage(), &config.RemoteConfig{
		Name: "origin",
		URLs: []string{repoURL},
	})
	refs, err := remote.ListContext(ctx, &git.ListOptions{Auth: f.auth})
	if err != nil {
		return nil, &RemoteError{URL: repoURL, Err: err}
	}
	return refs, nil
}
