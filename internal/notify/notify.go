// SPDX-License-Identifier: MPL-2.0

// Package notify records user-facing notifications and moderation audit
// entries for pipeline outcomes. Writes go to the catalog database;
// operational detail goes to the structured logger.
package notify

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/jinzhu/gorm"

	"github.com/contentvault/contentvault/internal/store"
)

// Audit severities, in increasing order of reviewer attention.
const (
	SeverityNormal     = "NORMAL"
	SeverityEditor     = "EDITOR"
	SeverityModeration = "MODERATION"
)

// Notifier writes notifications and audit log entries for a package.
type Notifier struct {
	db     *gorm.DB
	logger *log.Logger
}

// New creates a Notifier on the given database handle.
func New(db *gorm.DB) *Notifier {
	return &Notifier{
		db: db,
		logger: log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "notify",
		}),
	}
}

// ReleaseFailed notifies the package maintainers that a release failed
// validation, with the reason in the body.
func (n *Notifier) ReleaseFailed(pkg *store.Package, release *store.Release, reason string) error {
	n.logger.Warn("release failed validation",
		"package", pkg.Author+"/"+pkg.Name, "release", release.ID, "reason", reason)
	title := fmt.Sprintf("Release %s failed validation", release.Title)
	return store.AddNotification(n.db, pkg.ID, title, reason, packageURL(pkg))
}

// ReleaseApproved notifies the package maintainers of a new release.
func (n *Notifier) ReleaseApproved(pkg *store.Package, release *store.Release) error {
	n.logger.Info("release approved",
		"package", pkg.Author+"/"+pkg.Name, "release", release.ID)
	title := fmt.Sprintf("Release %s approved", release.Title)
	return store.AddNotification(n.db, pkg.ID, title, "", packageURL(pkg))
}

// ModsAdded records an editor-visible audit entry listing the mod names a
// release introduced to the name graph.
func (n *Notifier) ModsAdded(pkg *store.Package, names map[string]bool) error {
	if len(names) == 0 {
		return nil
	}
	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)
	title := "Added mods: " + strings.Join(sorted, ", ")
	return store.AddAuditLog(n.db, SeverityEditor, title, packageURL(pkg), pkg.ID)
}

// ConflictAdvisory records an audit entry about mod name conflicts with
// other approved packages. Conflicts are advisory for mods; they only
// block package approval, not the release itself.
func (n *Notifier) ConflictAdvisory(pkg *store.Package, conflicts []string) error {
	if len(conflicts) == 0 {
		return nil
	}
	title := "Release has name conflicts: " + strings.Join(conflicts, "; ")
	return store.AddAuditLog(n.db, SeverityEditor, title, packageURL(pkg), pkg.ID)
}

// Audit records a generic audit entry for the package.
func (n *Notifier) Audit(severity, title string, pkg *store.Package) error {
	return store.AddAuditLog(n.db, severity, title, packageURL(pkg), pkg.ID)
}

func packageURL(pkg *store.Package) string {
	return fmt.Sprintf("/packages/%s/%s/", pkg.Author, pkg.Name)
}
