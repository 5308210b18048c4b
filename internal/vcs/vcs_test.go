// SPDX-License-Identifier: MPL-2.0

package vcs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// testRepo builds a local repository the fetcher can clone by path.
type testRepo struct {
	t    *testing.T
	dir  string
	repo *git.Repository
	// clock advances per commit so tag recency is deterministic.
	clock time.Time
}

func newTestRepo(t *testing.T) *testRepo {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("init repository: %v", err)
	}
	return &testRepo{
		t:     t,
		dir:   dir,
		repo:  repo,
		clock: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (r *testRepo) commit(message, file, content string) string {
	r.t.Helper()
	worktree, err := r.repo.Worktree()
	if err != nil {
		r.t.Fatalf("worktree: %v", err)
	}
	path := filepath.Join(r.dir, file)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		r.t.Fatalf("write %s: %v", file, err)
	}
	if _, err := worktree.Add(file); err != nil {
		r.t.Fatalf("add %s: %v", file, err)
	}

	r.clock = r.clock.Add(time.Hour)
	signature := &object.Signature{Name: "Test", Email: "test@example.com", When: r.clock}
	hash, err := worktree.Commit(message, &git.CommitOptions{Author: signature, Committer: signature})
	if err != nil {
		r.t.Fatalf("commit: %v", err)
	}
	return hash.String()
}

func (r *testRepo) tag(name, commitHash string) {
	r.t.Helper()
	var target plumbing.Hash
	if commitHash != "" {
		target = plumbing.NewHash(commitHash)
	} else {
		head, err := r.repo.Head()
		if err != nil {
			r.t.Fatalf("head: %v", err)
		}
		target = head.Hash()
	}
	if _, err := r.repo.CreateTag(name, target, nil); err != nil {
		r.t.Fatalf("tag %s: %v", name, err)
	}
}

func TestClone_DefaultBranch(t *testing.T) {
	t.Parallel()
	source := newTestRepo(t)
	want := source.commit("initial", "mod.conf", "name = mymod\n")

	fetcher := NewFetcher()
	got, err := fetcher.Clone(context.Background(), source.dir, "", filepath.Join(t.TempDir(), "clone"))
	if err != nil {
		t.Fatalf("clone: %v", err)
	}
	if got != want {
		t.Errorf("head commit = %s, want %s", got, want)
	}
}

func TestClone_TagRef(t *testing.T) {
	t.Parallel()
	source := newTestRepo(t)
	tagged := source.commit("first", "mod.conf", "name = mymod\n")
	source.tag("v1.0.0", "")
	source.commit("second", "init.lua", "-- later work\n")

	fetcher := NewFetcher()
	dest := filepath.Join(t.TempDir(), "clone")
	got, err := fetcher.Clone(context.Background(), source.dir, "v1.0.0", dest)
	if err != nil {
		t.Fatalf("clone: %v", err)
	}
	if got != tagged {
		t.Errorf("checked-out commit = %s, want tagged %s", got, tagged)
	}
	if _, err := os.Stat(filepath.Join(dest, "init.lua")); !os.IsNotExist(err) {
		t.Error("worktree must reflect the tagged commit, not a later one")
	}
}

func TestClone_CommitHashRef(t *testing.T) {
	t.Parallel()
	source := newTestRepo(t)
	first := source.commit("first", "mod.conf", "name = mymod\n")
	source.commit("second", "init.lua", "-- later work\n")

	fetcher := NewFetcher()
	got, err := fetcher.Clone(context.Background(), source.dir, first, filepath.Join(t.TempDir(), "clone"))
	if err != nil {
		t.Fatalf("clone: %v", err)
	}
	if got != first {
		t.Errorf("checked-out commit = %s, want %s", got, first)
	}
}

func TestClone_UnknownRef(t *testing.T) {
	t.Parallel()
	source := newTestRepo(t)
	source.commit("initial", "mod.conf", "name = mymod\n")

	fetcher := NewFetcher()
	_, err := fetcher.Clone(context.Background(), source.dir, "no-such-ref", filepath.Join(t.TempDir(), "clone"))
	if err == nil {
		t.Fatal("want error for unknown ref")
	}
}

func TestClone_BadRemote(t *testing.T) {
	t.Parallel()
	fetcher := NewFetcher()
	_, err := fetcher.Clone(context.Background(), filepath.Join(t.TempDir(), "missing"), "", filepath.Join(t.TempDir(), "clone"))
	var remoteErr *RemoteError
	if !errors.As(err, &remoteErr) {
		t.Fatalf("want RemoteError, got %v", err)
	}
}

func TestLatestCommit(t *testing.T) {
	t.Parallel()
	source := newTestRepo(t)
	source.commit("first", "mod.conf", "name = mymod\n")
	want := source.commit("second", "init.lua", "-- work\n")

	fetcher := NewFetcher()
	got, err := fetcher.LatestCommit(context.Background(), source.dir, "")
	if err != nil {
		t.Fatalf("latest commit: %v", err)
	}
	if got != want {
		t.Errorf("latest commit = %s, want %s", got, want)
	}
}

func TestLatestTag_PicksMostRecent(t *testing.T) {
	t.Parallel()
	source := newTestRepo(t)
	source.commit("first", "mod.conf", "name = mymod\n")
	source.tag("v1.0.0", "")
	want := source.commit("second", "init.lua", "-- work\n")
	source.tag("v1.1.0", "")

	fetcher := NewFetcher()
	tag, err := fetcher.LatestTag(context.Background(), source.dir)
	if err != nil {
		t.Fatalf("latest tag: %v", err)
	}
	if tag == nil || tag.Name != "v1.1.0" || tag.Commit != want {
		t.Errorf("latest tag = %+v, want v1.1.0 at %s", tag, want)
	}
}

func TestLatestTag_NoTags(t *testing.T) {
	t.Parallel()
	source := newTestRepo(t)
	source.commit("first", "mod.conf", "name = mymod\n")

	fetcher := NewFetcher()
	tag, err := fetcher.LatestTag(context.Background(), source.dir)
	if err != nil {
		t.Fatalf("latest tag: %v", err)
	}
	if tag != nil {
		t.Errorf("want nil for untagged repository, got %+v", tag)
	}
}

func TestReleaseNotes(t *testing.T) {
	t.Parallel()
	source := newTestRepo(t)
	base := source.commit("first", "mod.conf", "name = mymod\n")
	source.commit("Add desert biome", "init.lua", "-- biome\n")
	source.commit("Merge branch 'feature'", "merge.txt", "x\n")
	source.commit("Fix node placement", "fix.lua", "-- fix\n")

	notes, err := ReleaseNotes(source.dir, base, 0)
	if err != nil {
		t.Fatalf("release notes: %v", err)
	}
	want := []string{"Fix node placement", "Add desert biome"}
	if len(notes) != len(want) {
		t.Fatalf("notes = %v, want %v", notes, want)
	}
	for i := range want {
		if notes[i] != want[i] {
			t.Errorf("notes[%d] = %q, want %q", i, notes[i], want[i])
		}
	}
}

func TestReleaseNotes_Limit(t *testing.T) {
	t.Parallel()
	source := newTestRepo(t)
	source.commit("first", "mod.conf", "name = mymod\n")
	source.commit("second", "a.lua", "-- a\n")
	source.commit("third", "b.lua", "-- b\n")

	notes, err := ReleaseNotes(source.dir, "", 2)
	if err != nil {
		t.Fatalf("release notes: %v", err)
	}
	if len(notes) != 2 {
		t.Fatalf("want 2 notes, got %v", notes)
	}
}
