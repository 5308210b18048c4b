// SPDX-License-Identifier: MPL-2.0

package namegraph

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/contentvault/contentvault/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func createPackage(t *testing.T, s *store.Store, author, name, state string) *store.Package {
	t.Helper()
	pkg := &store.Package{Author: author, Name: name, Kind: store.KindMod, State: state}
	if err := s.DB().Create(pkg).Error; err != nil {
		t.Fatalf("create package %s/%s: %v", author, name, err)
	}
	return pkg
}

func names(values ...string) map[string]bool {
	m := map[string]bool{}
	for _, v := range values {
		m[v] = true
	}
	return m
}

func TestGetOrCreate_Lazy(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	first, err := GetOrCreate(s.DB(), "default")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := GetOrCreate(s.DB(), "default")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("same name must resolve to the same entity: %d vs %d", first.ID, second.ID)
	}
}

func TestSetProvides_Replaces(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	pkg := createPackage(t, s, "alice", "mymod", store.PackageWIP)

	if err := SetProvides(s.DB(), pkg, names("alpha", "beta")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := SetProvides(s.DB(), pkg, names("beta", "gamma")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var provides []store.NameEntity
	if err := s.DB().Model(pkg).Association("Provides").Find(&provides).Error; err != nil {
		t.Fatalf("load provides: %v", err)
	}
	got := map[string]bool{}
	for _, entity := range provides {
		got[entity.Name] = true
	}
	if len(got) != 2 || !got["beta"] || !got["gamma"] {
		t.Errorf("provides = %v, want beta+gamma", got)
	}
}

func TestConflicts_OnlyApprovedOthers(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	mine := createPackage(t, s, "alice", "mymod", store.PackageWIP)
	approved := createPackage(t, s, "bob", "othermod", store.PackageApproved)
	wip := createPackage(t, s, "carol", "wipmod", store.PackageWIP)

	for _, pkg := range []*store.Package{mine, approved, wip} {
		if err := SetProvides(s.DB(), pkg, names("contested")); err != nil {
			t.Fatalf("set provides: %v", err)
		}
	}

	conflicts, err := Conflicts(s.DB(), mine)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(conflicts) != 1 {
		t.Fatalf("conflicts = %v, want exactly one", conflicts)
	}
	if conflicts[0].Name != "contested" || len(conflicts[0].Others) != 1 || conflicts[0].Others[0].ID != approved.ID {
		t.Errorf("conflict = %+v, want only the approved provider", conflicts[0])
	}
}

func TestResolveProvider(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	// Unknown name.
	_, err := ResolveProvider(s.DB(), "ghost")
	var unprovided *UnprovidedError
	if !errors.As(err, &unprovided) {
		t.Fatalf("expected UnprovidedError, got %v", err)
	}

	// Single approved provider resolves.
	pkg := createPackage(t, s, "alice", "mymod", store.PackageApproved)
	if err := SetProvides(s.DB(), pkg, names("unique_name")); err != nil {
		t.Fatalf("set provides: %v", err)
	}
	got, err := ResolveProvider(s.DB(), "unique_name")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != pkg.ID {
		t.Errorf("resolved %d, want %d", got.ID, pkg.ID)
	}

	// Two approved providers is ambiguous, never a guess.
	other := createPackage(t, s, "bob", "othermod", store.PackageApproved)
	if err := SetProvides(s.DB(), other, names("unique_name")); err != nil {
		t.Fatalf("set provides: %v", err)
	}
	_, err = ResolveProvider(s.DB(), "unique_name")
	var ambiguous *AmbiguousProviderError
	if !errors.As(err, &ambiguous) {
		t.Fatalf("expected AmbiguousProviderError, got %v", err)
	}
	if len(ambiguous.Candidates) != 2 {
		t.Errorf("candidates = %d, want 2", len(ambiguous.Candidates))
	}
}

func TestUnresolvedHardDependencies(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	provider := createPackage(t, s, "bob", "base", store.PackageApproved)
	if err := SetProvides(s.DB(), provider, names("default")); err != nil {
		t.Fatalf("set provides: %v", err)
	}

	pkg := createPackage(t, s, "alice", "mymod", store.PackageWIP)
	err := ReplaceDependencies(s.DB(), pkg, names("default", "pending_thing"), names("soft_thing"))
	if err != nil {
		t.Fatalf("replace deps: %v", err)
	}

	unresolved, err := UnresolvedHardDependencies(s.DB(), pkg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(unresolved) != 1 || unresolved[0] != "pending_thing" {
		t.Errorf("unresolved = %v, want [pending_thing]", unresolved)
	}
}

func TestHardDependerIDs(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	base := createPackage(t, s, "bob", "base", store.PackageApproved)
	if err := SetProvides(s.DB(), base, names("default")); err != nil {
		t.Fatalf("set provides: %v", err)
	}

	hardUser := createPackage(t, s, "alice", "usermod", store.PackageApproved)
	if err := ReplaceDependencies(s.DB(), hardUser, names("default"), nil); err != nil {
		t.Fatalf("replace deps: %v", err)
	}
	softUser := createPackage(t, s, "carol", "softmod", store.PackageApproved)
	if err := ReplaceDependencies(s.DB(), softUser, nil, names("default")); err != nil {
		t.Fatalf("replace deps: %v", err)
	}

	ids, err := HardDependerIDs(s.DB(), base)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 1 || ids[0] != hardUser.ID {
		t.Errorf("ids = %v, want just the hard depender %d", ids, hardUser.ID)
	}
}
