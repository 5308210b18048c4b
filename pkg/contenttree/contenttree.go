// SPDX-License-Identifier: MPL-2.0

// Package contenttree builds and validates the content tree of an unpacked
// package directory. A content unit is a directory classified as a mod,
// modpack, game or texture pack by its marker files; games and modpacks
// contain further units as children. The tree is built once per ingestion
// run, folded into aggregate attribute sets, and discarded.
package contenttree

import (
	"fmt"
	"regexp"
)

// ContentKind classifies a content unit by its marker files.
type ContentKind int

const (
	// KindUnknown is a directory with no recognized marker file.
	KindUnknown ContentKind = iota
	// KindMod is a single mod (contains init.lua).
	KindMod
	// KindModpack is a collection of mods (contains modpack.conf or modpack.txt).
	KindModpack
	// KindGame is a game with a mods/ directory (contains game.conf).
	KindGame
	// KindTexturePack is a texture pack (contains texture_pack.conf).
	KindTexturePack
)

// KindAny is a sentinel used by Fold to disable kind filtering.
const KindAny ContentKind = -1

func (k ContentKind) String() string {
	switch k {
	case KindMod:
		return "mod"
	case KindModpack:
		return "modpack"
	case KindGame:
		return "game"
	case KindTexturePack:
		return "texture pack"
	default:
		return "unknown"
	}
}

// IsModLike reports whether the kind may appear as a child of a game or
// modpack.
func (k ContentKind) IsModLike() bool {
	return k == KindMod || k == KindModpack
}

// ValidateSame checks that found is an acceptable kind where k is expected.
// A mod expectation also accepts a modpack; a texture pack expectation also
// accepts an unknown directory (marker file optional).
func (k ContentKind) ValidateSame(found ContentKind) error {
	switch {
	case k == KindMod:
		if !found.IsModLike() {
			return &CheckError{Message: fmt.Sprintf("Expected a mod or modpack, found %s", found)}
		}
	case k == KindTexturePack:
		if found != KindUnknown && found != KindTexturePack {
			return &CheckError{Message: fmt.Sprintf("Expected a %s, found a %s", k, found)}
		}
	case k != found:
		return &CheckError{Message: fmt.Sprintf("Expected a %s, found a %s", k, found)}
	}
	return nil
}

// technicalNamePattern is the allowed form of technical names: mod names,
// dependency names and game names.
var technicalNamePattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// reservedNames are engine and runtime identifiers that mods must not claim.
var reservedNames = map[string]bool{
	"core": true, "minetest": true, "group": true, "table": true,
	"string": true, "lua": true, "luajit": true, "assert": true,
	"debug": true, "error": true, "next": true, "pairs": true,
	"print": true, "select": true, "type": true, "pack": true,
	"unpack": true, "builtin": true,
}

// IsValidName reports whether name is a well-formed technical name.
func IsValidName(name string) bool {
	return technicalNamePattern.MatchString(name)
}

// IsReservedName reports whether name is reserved for engine use.
func IsReservedName(name string) bool {
	return reservedNames[name]
}

// CheckError reports a content defect found while building or validating the
// tree. It is fatal to the current ingestion run but the release may be
// resubmitted after a fix; it is never retried automatically.
type CheckError struct {
	// Message is the human-readable description of the defect.
	Message string
	// Path is the relative path of the offending unit or file, when known.
	Path string
}

func (e *CheckError) Error() string {
	return "Error validating package: " + e.Message
}

// Metadata holds the declared metadata of a content unit. Recognized keys
// are parsed into fields; anything else is preserved in Extra so newer
// engine keys pass through untouched.
type Metadata struct {
	Title            string
	Description      string
	ShortDescription string
	Depends          []string
	OptionalDepends  []string
	SupportedGames   []string
	UnsupportedGames []string
	MinEngineVersion string
	MaxEngineVersion string
	Textdomain       string

	// Extra holds unrecognized keys verbatim.
	Extra map[string]string
}

// Get returns the value of a recognized scalar key or an Extra key.
func (m *Metadata) Get(key string) string {
	switch key {
	case "title":
		return m.Title
	case "description":
		return m.Description
	case "short_description":
		return m.ShortDescription
	case "min_minetest_version":
		return m.MinEngineVersion
	case "max_minetest_version":
		return m.MaxEngineVersion
	case "textdomain":
		return m.Textdomain
	default:
		return m.Extra[key]
	}
}

// ContentUnit is a node of the content tree. Children is non-empty only for
// games and modpacks. Name is empty only when neither the directory entry,
// the metadata, nor the caller supplied one.
type ContentUnit struct {
	Kind     ContentKind
	Name     string
	RelPath  string
	Dir      string
	Meta     Metadata
	Children []*ContentUnit
}
