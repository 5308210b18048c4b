// SPDX-License-Identifier: MPL-2.0

// Package store provides sqlite-backed persistence for the catalog.
// Components never reach for ambient globals: mutating operations take an
// explicit *gorm.DB handle, which is a transaction during pipeline runs
// and is committed exactly once at the end of a successful run.
package store

import (
	"fmt"

	"github.com/jinzhu/gorm"
	// sqlite driver for gorm.
	_ "github.com/jinzhu/gorm/dialects/sqlite"
)

// Store owns the database connection.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if needed) the sqlite database at path and migrates
// the schema.
func Open(path string) (*Store, error) {
	db, err := gorm.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %s: %w", path, err)
	}

	db.AutoMigrate(
		&Package{}, &NameEntity{}, &Dependency{}, &Release{},
		&GameSupport{}, &Notification{}, &AuditLogEntry{}, &UpdateConfig{},
	)
	if errs := db.GetErrors(); len(errs) > 0 {
		_ = db.Close()
		return nil, fmt.Errorf("schema migration failed: %v", errs[0])
	}

	return &Store{db: db}, nil
}

// DB returns the raw handle for read-only queries outside a transaction.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Begin starts a transaction. The caller must Commit or Rollback it.
func (s *Store) Begin() *gorm.DB {
	return s.db.Begin()
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ClaimRelease atomically claims a release for processing by writing the
// run token and moving it to PROCESSING. It succeeds only when no other
// live token holds the release; re-claiming with the same token is a
// no-op success. Returns false when another run already holds the claim.
func ClaimRelease(db *gorm.DB, releaseID uint, token string) (bool, error) {
	res := db.Model(&Release{}).
		Where("id = ? AND (task_id = '' OR task_id IS NULL OR task_id = ?)", releaseID, token).
		Updates(map[string]interface{}{"task_id": token, "state": ReleaseProcessing})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ReleaseClaim clears a release's claim token so a corrected resubmission
// can re-claim it.
func ReleaseClaim(db *gorm.DB, releaseID uint) error {
	return db.Model(&Release{}).
		Where("id = ?", releaseID).
		Update("task_id", "").Error
}

// HasApprovedReleaseWithCommit reports whether the package already has a
// successfully ingested release for the given commit hash, excluding the
// release identified by excludeID. This is the idempotent-dedup check.
func HasApprovedReleaseWithCommit(db *gorm.DB, packageID uint, commit string, excludeID uint) (bool, error) {
	if commit == "" {
		return false, nil
	}
	var count int
	err := db.Model(&Release{}).
		Where("package_id = ? AND commit_hash = ? AND state = ? AND id <> ?",
			packageID, commit, ReleaseApproved, excludeID).
		Count(&count).Error
	return count > 0, err
}

// GetPackage fetches a package by author and technical name.
func GetPackage(db *gorm.DB, author, name string) (*Package, error) {
	var pkg Package
	err := db.Where("author = ? AND name = ?", author, name).First(&pkg).Error
	if err != nil {
		return nil, err
	}
	return &pkg, nil
}

// GetGame resolves a game name against approved game packages, also
// accepting the conventional "_game" suffix form.
func GetGame(db *gorm.DB, name string) (*Package, error) {
	var pkg Package
	err := db.Where("kind = ? AND state = ? AND (name = ? OR name = ?)",
		KindGame, PackageApproved, name, name+"_game").First(&pkg).Error
	if err != nil {
		return nil, err
	}
	return &pkg, nil
}

// IsPackageNameTaken reports whether an approved package already claims
// the normalized name or its "_game" variant. Used at approval time for
// non-mod packages.
func IsPackageNameTaken(db *gorm.DB, name string, excludeID uint) (bool, error) {
	var count int
	err := db.Model(&Package{}).
		Where("state = ? AND (name = ? OR name = ?) AND id <> ?",
			PackageApproved, name, name+"_game", excludeID).
		Count(&count).Error
	return count > 0, err
}

// AddNotification records a bot message for the package's maintainers.
func AddNotification(db *gorm.DB, packageID uint, title, body, url string) error {
	return db.Create(&Notification{
		PackageID: packageID,
		Title:     title,
		Body:      body,
		URL:       url,
	}).Error
}

// AddAuditLog records a metadata-changing transition for moderator review.
func AddAuditLog(db *gorm.DB, severity, title, url string, packageID uint) error {
	return db.Create(&AuditLogEntry{
		Severity:  severity,
		Title:     title,
		URL:       url,
		PackageID: packageID,
	}).Error
}
