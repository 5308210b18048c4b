// SPDX-License-Identifier: MPL-2.0

// Package namegraph maintains the shared cross-package naming graph: which
// technical names each package provides and which names it depends on.
// Name entities are created lazily on first reference and never deleted
// while referenced. Two approved packages providing the same name is a
// conflict, advisory at ingestion and blocking at final approval.
package namegraph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jinzhu/gorm"

	"github.com/contentvault/contentvault/internal/store"
)

// Conflict reports a provided name that at least one other approved
// package also provides.
type Conflict struct {
	// Name is the contested technical name.
	Name string
	// Others are the approved packages, other than the subject, that
	// provide it.
	Others []store.Package
}

func (c Conflict) String() string {
	ids := make([]string, 0, len(c.Others))
	for _, pkg := range c.Others {
		ids = append(ids, pkg.Author+"/"+pkg.Name)
	}
	return fmt.Sprintf("%s (also provided by %s)", c.Name, strings.Join(ids, ", "))
}

// AmbiguousProviderError is returned when a name has more than one
// approved provider; the caller must surface all candidates rather than
// guess.
type AmbiguousProviderError struct {
	Name       string
	Candidates []store.Package
}

func (e *AmbiguousProviderError) Error() string {
	return fmt.Sprintf("name %q has %d approved providers", e.Name, len(e.Candidates))
}

// UnprovidedError is returned when a name has no approved provider.
type UnprovidedError struct {
	Name string
}

func (e *UnprovidedError) Error() string {
	return fmt.Sprintf("name %q has no approved provider", e.Name)
}

// GetOrCreate looks up a name entity, creating it on first reference.
func GetOrCreate(db *gorm.DB, name string) (*store.NameEntity, error) {
	var entity store.NameEntity
	err := db.Where(store.NameEntity{Name: name}).FirstOrCreate(&entity).Error
	if err != nil {
		return nil, err
	}
	return &entity, nil
}

// SetProvides replaces the set of names the package provides. Names are
// sorted first so repeated calls with the same set touch rows in a stable
// order.
func SetProvides(db *gorm.DB, pkg *store.Package, names map[string]bool) error {
	sorted := sortedNames(names)

	entities := make([]store.NameEntity, 0, len(sorted))
	for _, name := range sorted {
		entity, err := GetOrCreate(db, name)
		if err != nil {
			return err
		}
		entities = append(entities, *entity)
	}

	return db.Model(pkg).Association("Provides").Replace(entities).Error
}

// ReplaceDependencies deletes the package's name-bound dependency edges and
// records the given hard and soft sets in their place.
func ReplaceDependencies(db *gorm.DB, pkg *store.Package, hard, soft map[string]bool) error {
	if err := db.Where("package_id = ?", pkg.ID).Delete(&store.Dependency{}).Error; err != nil {
		return err
	}

	add := func(names map[string]bool, optional bool) error {
		for _, name := range sortedNames(names) {
			entity, err := GetOrCreate(db, name)
			if err != nil {
				return err
			}
			dep := store.Dependency{PackageID: pkg.ID, NameEntityID: entity.ID, Optional: optional}
			if err := db.Create(&dep).Error; err != nil {
				return err
			}
		}
		return nil
	}

	if err := add(hard, false); err != nil {
		return err
	}
	return add(soft, true)
}

// Conflicts returns the package's provided names that another approved
// package also provides. These are advisory at submission time and block
// only final approval.
func Conflicts(db *gorm.DB, pkg *store.Package) ([]Conflict, error) {
	var provides []store.NameEntity
	if err := db.Model(pkg).Association("Provides").Find(&provides).Error; err != nil {
		return nil, err
	}

	var conflicts []Conflict
	for _, entity := range provides {
		others, err := approvedProviders(db, entity.ID, pkg.ID)
		if err != nil {
			return nil, err
		}
		if len(others) > 0 {
			conflicts = append(conflicts, Conflict{Name: entity.Name, Others: others})
		}
	}
	return conflicts, nil
}

// ResolveProvider resolves a name to its unique approved provider.
// Returns UnprovidedError when nobody provides it and
// AmbiguousProviderError when more than one approved package does.
func ResolveProvider(db *gorm.DB, name string) (*store.Package, error) {
	var entity store.NameEntity
	if err := db.Where("name = ?", name).First(&entity).Error; err != nil {
		if gorm.IsRecordNotFoundError(err) {
			return nil, &UnprovidedError{Name: name}
		}
		return nil, err
	}

	providers, err := approvedProviders(db, entity.ID, 0)
	if err != nil {
		return nil, err
	}
	switch len(providers) {
	case 0:
		return nil, &UnprovidedError{Name: name}
	case 1:
		return &providers[0], nil
	default:
		return nil, &AmbiguousProviderError{Name: name, Candidates: providers}
	}
}

// UnresolvedHardDependencies returns the names of the package's hard
// dependencies that have no approved provider. A non-empty result blocks
// approval but not ingestion.
func UnresolvedHardDependencies(db *gorm.DB, pkg *store.Package) ([]string, error) {
	var deps []store.Dependency
	err := db.Where("package_id = ? AND optional = ?", pkg.ID, false).Find(&deps).Error
	if err != nil {
		return nil, err
	}

	var unresolved []string
	for _, dep := range deps {
		var entity store.NameEntity
		if err := db.First(&entity, dep.NameEntityID).Error; err != nil {
			return nil, err
		}
		providers, err := approvedProviders(db, entity.ID, 0)
		if err != nil {
			return nil, err
		}
		if len(providers) == 0 {
			unresolved = append(unresolved, entity.Name)
		}
	}
	sort.Strings(unresolved)
	return unresolved, nil
}

// HardDependerIDs returns the IDs of packages that hard-depend on any of
// the names the given package provides. Used to trigger re-inference of
// game support on transitive updates.
func HardDependerIDs(db *gorm.DB, pkg *store.Package) ([]uint, error) {
	var provides []store.NameEntity
	if err := db.Model(pkg).Association("Provides").Find(&provides).Error; err != nil {
		return nil, err
	}
	if len(provides) == 0 {
		return nil, nil
	}

	entityIDs := make([]uint, 0, len(provides))
	for _, entity := range provides {
		entityIDs = append(entityIDs, entity.ID)
	}

	var deps []store.Dependency
	err := db.Where("name_entity_id IN (?) AND optional = ? AND package_id <> ?",
		entityIDs, false, pkg.ID).Find(&deps).Error
	if err != nil {
		return nil, err
	}

	seen := map[uint]bool{}
	var ids []uint
	for _, dep := range deps {
		if !seen[dep.PackageID] {
			seen[dep.PackageID] = true
			ids = append(ids, dep.PackageID)
		}
	}
	return ids, nil
}

// approvedProviders returns approved packages providing the name entity,
// excluding excludeID (zero excludes nothing).
func approvedProviders(db *gorm.DB, entityID, excludeID uint) ([]store.Package, error) {
	var packages []store.Package
	err := db.Joins("JOIN package_provides ON package_provides.package_id = packages.id").
		Where("package_provides.name_entity_id = ? AND packages.state = ? AND packages.id <> ?",
			entityID, store.PackageApproved, excludeID).
		Find(&packages).Error
	if err != nil {
		return nil, err
	}
	return packages, nil
}

func sortedNames(names map[string]bool) []string {
	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)
	return sorted
}
