// SPDX-License-Identifier: MPL-2.0

package notify

import (
	"path/filepath"
	"strings"
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

func createPackage(t *testing.T, s *store.Store) *store.Package {
	t.Helper()
	pkg := &store.Package{Author: "alice", Name: "mymod", Kind: store.KindMod, State: store.PackageWIP}
	if err := s.DB().Create(pkg).Error; err != nil {
		t.Fatalf("create package: %v", err)
	}
	return pkg
}

func TestReleaseFailed_WritesNotification(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	pkg := createPackage(t, s)
	release := &store.Release{PackageID: pkg.ID, Title: "1.0", State: store.ReleaseFailed}
	if err := s.DB().Create(release).Error; err != nil {
		t.Fatalf("create release: %v", err)
	}

	notifier := New(s.DB())
	err := notifier.ReleaseFailed(pkg, release, "mod.conf missing name")
	if err != nil {
		t.Fatalf("notify: %v", err)
	}

	var notes []store.Notification
	if err := s.DB().Where("package_id = ?", pkg.ID).Find(&notes).Error; err != nil {
		t.Fatalf("load notifications: %v", err)
	}
	if len(notes) != 1 {
		t.Fatalf("want one notification, got %d", len(notes))
	}
	if notes[0].Body != "mod.conf missing name" {
		t.Errorf("body = %q", notes[0].Body)
	}
	if !strings.Contains(notes[0].URL, "alice/mymod") {
		t.Errorf("url = %q, want package link", notes[0].URL)
	}
}

func TestModsAdded_SortsNames(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	pkg := createPackage(t, s)

	notifier := New(s.DB())
	err := notifier.ModsAdded(pkg, map[string]bool{"zlib": true, "awards": true})
	if err != nil {
		t.Fatalf("audit: %v", err)
	}

	var entries []store.AuditLogEntry
	if err := s.DB().Where("package_id = ?", pkg.ID).Find(&entries).Error; err != nil {
		t.Fatalf("load audit log: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("want one entry, got %d", len(entries))
	}
	if entries[0].Title != "Added mods: awards, zlib" {
		t.Errorf("title = %q", entries[0].Title)
	}
	if entries[0].Severity != SeverityEditor {
		t.Errorf("severity = %q", entries[0].Severity)
	}
}

func TestModsAdded_EmptyIsNoop(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	pkg := createPackage(t, s)

	notifier := New(s.DB())
	if err := notifier.ModsAdded(pkg, nil); err != nil {
		t.Fatalf("audit: %v", err)
	}

	var count int
	err := s.DB().Model(&store.AuditLogEntry{}).Where("package_id = ?", pkg.ID).Count(&count).Error
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Errorf("no entry expected for an empty mod set, got %d", count)
	}
}
