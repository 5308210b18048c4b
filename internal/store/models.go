// SPDX-License-Identifier: MPL-2.0

package store

import (
	"time"

	"github.com/jinzhu/gorm"
)

// Package states.
const (
	PackageWIP      = "WIP"
	PackageApproved = "APPROVED"
	PackageDeleted  = "DELETED"
)

// Package kinds.
const (
	KindMod         = "MOD"
	KindGame        = "GAME"
	KindTexturePack = "TXP"
)

// Release ingestion states.
const (
	ReleasePending    = "PENDING"
	ReleaseProcessing = "PROCESSING"
	ReleaseApproved   = "APPROVED"
	ReleaseFailed     = "FAILED"
	ReleaseArchived   = "ARCHIVED"
)

// Game-support confidence levels; the highest wins.
const (
	// ConfidenceInferred marks verdicts derived from the hard-dependency
	// closure.
	ConfidenceInferred = 1
	// ConfidenceDeclared marks verdicts from the package's own metadata.
	ConfidenceDeclared = 10
	// ConfidenceOverride marks explicit maintainer/moderator overrides.
	ConfidenceOverride = 11
)

// Update watcher triggers.
const (
	TriggerCommit = "COMMIT"
	TriggerTag    = "TAG"
)

// Package is a catalog entry: a mod, game or texture pack owned by an
// author. Provides lists the technical names its content supplies.
type Package struct {
	gorm.Model
	Author           string `gorm:"index"`
	Name             string `gorm:"index"`
	Kind             string
	Title            string
	ShortDesc        string
	LongDescription  string `gorm:"type:text"`
	Repo             string
	State            string `gorm:"index"`
	SupportsAllGames bool

	Provides []NameEntity `gorm:"many2many:package_provides;"`
}

// NameEntity is a vertex of the shared naming graph: a canonical technical
// name that packages provide and depend on. Created lazily on first
// reference and never deleted while referenced.
type NameEntity struct {
	gorm.Model
	Name string `gorm:"unique_index"`

	Packages []Package `gorm:"many2many:package_provides;"`
}

// Dependency is an edge from a package to a named capability. Optional
// marks soft dependencies.
type Dependency struct {
	gorm.Model
	PackageID    uint `gorm:"index"`
	NameEntityID uint `gorm:"index"`
	Optional     bool
}

// Release is a single submitted version of a package, carrying the
// ingestion state machine and the claim token that serializes runs.
type Release struct {
	gorm.Model
	PackageID        uint   `gorm:"index"`
	Title            string
	URL              string
	CommitHash       string `gorm:"index"`
	TaskID           string `gorm:"index"`
	State            string `gorm:"index"`
	SizeBytes        int64
	MinEngineVersion string
	MaxEngineVersion string
	ReleaseNotes     string `gorm:"type:text"`
	Languages        string
	Error            string `gorm:"type:text"`
}

// GameSupport is a confidence-ranked verdict on whether a package supports
// a game. At most one row per (package, game) pair is retained.
type GameSupport struct {
	gorm.Model
	PackageID  uint `gorm:"index"`
	GameID     uint `gorm:"index"`
	Supports   bool
	Confidence int
}

// Notification is a bot message addressed to a package's maintainers.
type Notification struct {
	gorm.Model
	PackageID uint `gorm:"index"`
	Title     string
	Body      string `gorm:"type:text"`
	URL       string
}

// AuditLogEntry records a state transition that changed published metadata,
// with context for moderator review.
type AuditLogEntry struct {
	gorm.Model
	Severity  string
	Title     string
	URL       string
	PackageID uint `gorm:"index"`
}

// UpdateConfig configures the update watcher for one package: which
// trigger to poll and what was last seen.
type UpdateConfig struct {
	gorm.Model
	PackageID   uint `gorm:"unique_index"`
	Trigger     string
	Ref         string
	LastCommit  string
	LastTag     string
	MakeRelease bool
	OutdatedAt  *time.Time
}
