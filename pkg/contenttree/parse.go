// SPDX-License-Identifier: MPL-2.0

package contenttree

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Options controls how Parse builds and validates the tree.
type Options struct {
	// ExpectedKind validates the root unit's kind when not KindUnknown.
	// A mod expectation also accepts a modpack.
	ExpectedKind ContentKind
	// Author is the declared package author, recorded for error context.
	Author string
	// Name is the declared technical name; used for the root unit when its
	// metadata does not supply one.
	Name string
	// Lenient skips naming-pattern enforcement on dependency and game
	// lists. Used by auxiliary re-scans (e.g. translation imports); kind
	// and structural checks always run.
	Lenient bool
}

// casedDirs are subdirectory names that must be lowercase inside a mod.
var casedDirs = map[string]bool{
	"textures": true, "media": true, "sounds": true, "models": true, "locale": true,
}

var (
	licenseFilePattern = regexp.MustCompile(`(?i)^(licen[sc]e|copying)(\.[^/\n]+)?$`)
	legacyDependLine   = regexp.MustCompile(`^([a-z0-9_]+)\??$`)
)

// Parse builds the content tree rooted at rootDir. A redundant wrapper
// directory (exactly one subdirectory, no files) is collapsed before
// classification, accommodating archives with a top-level folder.
func Parse(rootDir string, opts Options) (*ContentUnit, error) {
	base, err := resolveBaseDir(rootDir)
	if err != nil {
		return nil, err
	}

	root, err := buildUnit(base, "/", opts.Name, opts.Lenient)
	if err != nil {
		return nil, err
	}

	if opts.ExpectedKind != KindUnknown {
		if err := opts.ExpectedKind.ValidateSame(root.Kind); err != nil {
			return nil, err
		}
	}

	return root, nil
}

// resolveBaseDir descends through single-subdirectory wrappers until it
// reaches a directory that has files or multiple subdirectories.
func resolveBaseDir(dir string) (string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("expected a directory at %s", dir)
	}

	subdirs, files, err := listDir(dir)
	if err != nil {
		return "", err
	}
	if len(subdirs) == 1 && len(files) == 0 {
		return resolveBaseDir(filepath.Join(dir, subdirs[0]))
	}
	return dir, nil
}

// listDir returns the sorted subdirectory and file names of dir.
func listDir(dir string) (subdirs, files []string, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			subdirs = append(subdirs, entry.Name())
		} else {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(subdirs)
	sort.Strings(files)
	return subdirs, files, nil
}

// DetectKind classifies a directory by marker-file presence, in priority
// order: game.conf, init.lua, modpack.txt/modpack.conf, texture_pack.conf.
func DetectKind(dir string) ContentKind {
	switch {
	case isFile(filepath.Join(dir, "game.conf")):
		return KindGame
	case isFile(filepath.Join(dir, "init.lua")):
		return KindMod
	case isFile(filepath.Join(dir, "modpack.txt")), isFile(filepath.Join(dir, "modpack.conf")):
		return KindModpack
	case isFile(filepath.Join(dir, "texture_pack.conf")):
		return KindTexturePack
	default:
		return KindUnknown
	}
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func buildUnit(dir, relative, name string, lenient bool) (*ContentUnit, error) {
	unit := &ContentUnit{
		Kind:    DetectKind(dir),
		Name:    name,
		RelPath: relative,
		Dir:     dir,
	}

	if err := unit.readMeta(lenient); err != nil {
		return nil, err
	}

	switch unit.Kind {
	case KindGame:
		if !isDir(filepath.Join(dir, "mods")) {
			return nil, &CheckError{
				Message: fmt.Sprintf("Game at %s does not have a mods/ folder", relative),
				Path:    relative,
			}
		}
		if err := unit.addChildren("mods", lenient); err != nil {
			return nil, err
		}

	case KindMod:
		if unit.Name != "" && !lenient && !IsValidName(unit.Name) {
			return nil, &CheckError{
				Message: fmt.Sprintf("Invalid base name for mod %s at %s, names must only contain a-z0-9_.", unit.Name, relative),
				Path:    relative,
			}
		}
		if unit.Name != "" && IsReservedName(unit.Name) {
			return nil, &CheckError{
				Message: fmt.Sprintf("Forbidden mod name '%s' used at %s", unit.Name, relative),
				Path:    relative,
			}
		}
		if err := unit.checkDirCasing(); err != nil {
			return nil, err
		}

	case KindModpack:
		if err := unit.addChildren("", lenient); err != nil {
			return nil, err
		}
	}

	return unit, nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// readMeta parses the kind-appropriate .conf file and applies the legacy
// fallbacks: description.txt when no description key exists, depends.txt
// when no depends/optional_depends keys exist.
func (u *ContentUnit) readMeta(lenient bool) error {
	meta := Metadata{Extra: map[string]string{}}

	confName := u.metaFileName()
	raw := map[string]string{}
	if confName != "" {
		confRel := u.RelPath + confName
		data, err := os.ReadFile(filepath.Join(u.Dir, confName))
		if err == nil {
			raw, err = parseConf(string(data))
			if err != nil {
				return &CheckError{
					Message: fmt.Sprintf("Error while reading %s: %s", confRel, err),
					Path:    confRel,
				}
			}
		}

		// The release counter is assigned by the catalog, never declared.
		if _, ok := raw["release"]; ok {
			return &CheckError{
				Message: fmt.Sprintf("%s should not contain 'release' key, as this is for use by the content catalog only.", confRel),
				Path:    confRel,
			}
		}
	}

	// Games historically used "name" to mean the display title.
	if u.Kind == KindGame {
		if v, ok := raw["name"]; ok {
			raw["title"] = v
			delete(raw, "name")
		}
	}

	name := raw["name"]
	meta.Title = raw["title"]
	meta.Description = raw["description"]
	meta.MinEngineVersion = raw["min_minetest_version"]
	meta.MaxEngineVersion = raw["max_minetest_version"]
	meta.Textdomain = raw["textdomain"]

	if meta.Description == "" {
		if data, err := os.ReadFile(filepath.Join(u.Dir, "description.txt")); err == nil {
			meta.Description = string(data)
		}
	}

	_, hasDepends := raw["depends"]
	_, hasOptional := raw["optional_depends"]
	switch {
	case hasDepends || hasOptional:
		// The legacy '?' optional marker still shows up in conf depends
		// lists in the wild; honor it instead of failing the name check.
		for _, dep := range splitList(raw["depends"]) {
			if strings.HasSuffix(dep, "?") {
				meta.OptionalDepends = append(meta.OptionalDepends, strings.TrimSuffix(dep, "?"))
			} else {
				meta.Depends = append(meta.Depends, dep)
			}
		}
		for _, dep := range splitList(raw["optional_depends"]) {
			meta.OptionalDepends = append(meta.OptionalDepends, strings.TrimSuffix(dep, "?"))
		}
	default:
		hard, soft := u.readLegacyDepends()
		meta.Depends = hard
		meta.OptionalDepends = soft
	}

	meta.SupportedGames = splitList(raw["supported_games"])
	meta.UnsupportedGames = splitList(raw["unsupported_games"])

	if !lenient {
		for _, check := range []struct {
			key       string
			values    []string
			allowStar bool
		}{
			{"depends", meta.Depends, false},
			{"optional_depends", meta.OptionalDepends, false},
			{"supported_games", meta.SupportedGames, true},
			{"unsupported_games", meta.UnsupportedGames, false},
		} {
			if err := checkNameList(check.key, check.values, u.RelPath, check.allowStar); err != nil {
				return err
			}
		}
	}

	if meta.Title == "" && name != "" {
		meta.Title = titleFromName(name)
	}
	meta.ShortDescription = deriveShortDescription(meta.Description)

	for key, value := range raw {
		switch key {
		case "name", "title", "description", "depends", "optional_depends",
			"supported_games", "unsupported_games",
			"min_minetest_version", "max_minetest_version", "textdomain":
		default:
			meta.Extra[key] = value
		}
	}

	if name != "" {
		u.Name = name
	}
	u.Meta = meta
	return nil
}

func (u *ContentUnit) metaFileName() string {
	switch u.Kind {
	case KindGame:
		return "game.conf"
	case KindMod:
		return "mod.conf"
	case KindModpack:
		return "modpack.conf"
	case KindTexturePack:
		return "texture_pack.conf"
	default:
		return ""
	}
}

// readLegacyDepends parses the newline-delimited depends.txt format, where
// a trailing '?' marks an optional dependency. Unparseable lines are
// skipped, matching the engine's own tolerance for this legacy file.
func (u *ContentUnit) readLegacyDepends() (hard, soft []string) {
	data, err := os.ReadFile(filepath.Join(u.Dir, "depends.txt"))
	if err != nil {
		return nil, nil
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if !legacyDependLine.MatchString(line) {
			continue
		}
		if strings.HasSuffix(line, "?") {
			soft = append(soft, strings.TrimSuffix(line, "?"))
		} else {
			hard = append(hard, line)
		}
	}
	return hard, soft
}

// addChildren builds a child unit for every immediate subdirectory, using
// the directory entry name as the child's technical name unless its own
// metadata overrides it. Hidden directories are skipped.
func (u *ContentUnit) addChildren(subdir string, lenient bool) error {
	dir := u.Dir
	relative := u.RelPath
	if subdir != "" {
		dir = filepath.Join(dir, subdir)
		relative += subdir + "/"
	}

	subdirs, _, err := listDir(dir)
	if err != nil {
		return err
	}

	for _, entry := range subdirs {
		if strings.HasPrefix(entry, ".") {
			continue
		}

		child, err := buildUnit(filepath.Join(dir, entry), relative+entry+"/", entry, lenient)
		if err != nil {
			return err
		}
		if !child.Kind.IsModLike() {
			return &CheckError{
				Message: fmt.Sprintf("Expecting mod or modpack, found %s at %s inside %s", child.Kind, child.RelPath, u.Kind),
				Path:    child.RelPath,
			}
		}
		if child.Name == "" {
			return &CheckError{
				Message: fmt.Sprintf("Missing base name for mod at %s", u.RelPath),
				Path:    u.RelPath,
			}
		}

		u.Children = append(u.Children, child)
	}
	return nil
}

// checkDirCasing rejects conventional subdirectories whose name differs
// from the canonical lowercase form.
func (u *ContentUnit) checkDirCasing() error {
	subdirs, _, err := listDir(u.Dir)
	if err != nil {
		return err
	}

	for _, name := range subdirs {
		lower := strings.ToLower(name)
		if lower != name && casedDirs[lower] {
			return &CheckError{
				Message: fmt.Sprintf("Incorrect case, %s should be %s at %s%s", name, lower, u.RelPath, name),
				Path:    u.RelPath + name,
			}
		}
	}
	return nil
}

// FindLicenseFile returns the path of a LICENSE/COPYING file in the unit's
// directory, or the empty string when none exists.
func (u *ContentUnit) FindLicenseFile() string {
	_, files, err := listDir(u.Dir)
	if err != nil {
		return ""
	}
	for _, name := range files {
		if licenseFilePattern.MatchString(name) {
			return filepath.Join(u.Dir, name)
		}
	}
	return ""
}

// ReadmePath returns the path of a readme.* file in the unit's directory,
// or the empty string when none exists.
func (u *ContentUnit) ReadmePath() string {
	_, files, err := listDir(u.Dir)
	if err != nil {
		return ""
	}
	for _, name := range files {
		if strings.HasPrefix(strings.ToLower(name), "readme.") {
			return filepath.Join(u.Dir, name)
		}
	}
	return ""
}

// SupportedLanguages scans locale directories anywhere under the unit for
// translation files named <textdomain>.<language>.tr and returns the set
// of language codes found.
func (u *ContentUnit) SupportedLanguages() map[string]bool {
	languages := map[string]bool{}

	_ = filepath.WalkDir(u.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil //nolint:nilerr // unreadable entries are skipped
		}
		if filepath.Base(filepath.Dir(path)) != "locale" {
			return nil
		}
		parts := strings.Split(d.Name(), ".")
		if len(parts) >= 3 && parts[len(parts)-1] == "tr" {
			languages[parts[len(parts)-2]] = true
		}
		return nil
	})

	return languages
}

// titleFromName converts a technical name into a display title:
// underscores become spaces and each word is capitalized.
func titleFromName(name string) string {
	words := strings.Split(strings.ReplaceAll(name, "_", " "), " ")
	for i, word := range words {
		if word != "" {
			words[i] = strings.ToUpper(word[:1]) + word[1:]
		}
	}
	return strings.Join(words, " ")
}

// deriveShortDescription takes the long description up to and including its
// first sentence terminator, or the first 200 bytes when the terminator is
// absent or suspiciously early.
func deriveShortDescription(desc string) string {
	if desc == "" {
		return ""
	}

	idx := strings.Index(desc, ".") + 1
	cut := 200
	if idx >= 5 {
		cut = idx
	}
	if cut > len(desc) {
		cut = len(desc)
	}
	return desc[:cut]
}
