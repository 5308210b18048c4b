// SPDX-License-Identifier: MPL-2.0

// Package gamesupport computes and stores confidence-ranked verdicts on
// which games a package supports. Explicit declarations (confidence 10)
// and maintainer overrides (11) are authoritative; confidence-1 verdicts
// are inferred from the hard-dependency closure and recomputed whenever
// the dependency set or an upstream verdict changes. At most one verdict
// per (package, game) pair is ever retained.
package gamesupport

import (
	"fmt"
	"sort"

	"github.com/jinzhu/gorm"

	"github.com/contentvault/contentvault/internal/dag"
	"github.com/contentvault/contentvault/internal/namegraph"
	"github.com/contentvault/contentvault/internal/store"
)

// WildcardConflictError is returned when a package claims to support all
// games while its dependency closure already pins or denies specific ones.
type WildcardConflictError struct {
	Games []string
}

func (e *WildcardConflictError) Error() string {
	return "The package depends on a game-specific mod, and so cannot support all games."
}

// Set applies a verdict map at the given confidence. An existing verdict
// with higher confidence is left alone; equal or lower confidence is
// replaced, so a declared (10) or override (11) write removes any
// inferred (1) verdict for the same pair.
func Set(db *gorm.DB, pkg *store.Package, verdicts map[uint]bool, confidence int) error {
	gameIDs := make([]uint, 0, len(verdicts))
	for gameID := range verdicts {
		gameIDs = append(gameIDs, gameID)
	}
	sort.Slice(gameIDs, func(i, j int) bool { return gameIDs[i] < gameIDs[j] })

	for _, gameID := range gameIDs {
		supports := verdicts[gameID]

		var existing store.GameSupport
		err := db.Where("package_id = ? AND game_id = ?", pkg.ID, gameID).First(&existing).Error
		switch {
		case gorm.IsRecordNotFoundError(err):
			row := store.GameSupport{
				PackageID:  pkg.ID,
				GameID:     gameID,
				Supports:   supports,
				Confidence: confidence,
			}
			if err := db.Create(&row).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		case existing.Confidence > confidence:
			// Higher-confidence verdicts are never overwritten.
		default:
			err := db.Model(&existing).
				Updates(map[string]interface{}{"supports": supports, "confidence": confidence}).Error
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// SetSupportsAll records the wildcard claim after checking it against
// inferred game-specific verdicts: a package whose hard dependencies
// already pin or deny specific games cannot claim universal support.
func SetSupportsAll(db *gorm.DB, pkg *store.Package) error {
	var rows []store.GameSupport
	err := db.Where("package_id = ? AND confidence = ?", pkg.ID, store.ConfidenceInferred).
		Find(&rows).Error
	if err != nil {
		return err
	}

	if len(rows) > 0 {
		names := make([]string, 0, len(rows))
		for _, row := range rows {
			var game store.Package
			if err := db.First(&game, row.GameID).Error; err == nil {
				names = append(names, game.Name)
			}
		}
		sort.Strings(names)
		return &WildcardConflictError{Games: names}
	}

	pkg.SupportsAllGames = true
	return db.Model(pkg).Update("supports_all_games", true).Error
}

// Infer recomputes the package's confidence-1 verdicts from its hard
// dependency closure using intersection semantics: the package supports a
// game only if every resolvable hard dependency either supports it or is
// silent, and any explicit denial propagates. The recompute replaces all
// previous confidence-1 rows, so unchanged inputs produce an identical
// verdict set. Returns human-readable validation problems (not I/O
// errors) for the caller to surface.
func Infer(db *gorm.DB, pkg *store.Package) ([]string, error) {
	closure, err := hardDependencyClosure(db, pkg)
	if err != nil {
		return nil, err
	}

	// Intersection of the positive sets of constraining dependencies,
	// minus every denied game.
	var constrained map[uint]bool
	denied := map[uint]bool{}
	for _, depID := range closure {
		var verdicts []store.GameSupport
		if err := db.Where("package_id = ?", depID).Find(&verdicts).Error; err != nil {
			return nil, err
		}

		positives := map[uint]bool{}
		for _, verdict := range verdicts {
			if verdict.Supports {
				positives[verdict.GameID] = true
			} else {
				denied[verdict.GameID] = true
			}
		}
		if len(positives) == 0 {
			continue
		}
		if constrained == nil {
			constrained = positives
			continue
		}
		for gameID := range constrained {
			if !positives[gameID] {
				delete(constrained, gameID)
			}
		}
	}

	result := map[uint]bool{}
	for gameID := range constrained {
		if !denied[gameID] {
			result[gameID] = true
		}
	}
	for gameID := range denied {
		result[gameID] = false
	}

	// Replace previous inferred rows wholesale; declared and override
	// verdicts keep precedence via Set.
	err = db.Where("package_id = ? AND confidence = ?", pkg.ID, store.ConfidenceInferred).
		Delete(&store.GameSupport{}).Error
	if err != nil {
		return nil, err
	}
	if err := Set(db, pkg, result, store.ConfidenceInferred); err != nil {
		return nil, err
	}

	var problems []string
	if pkg.SupportsAllGames && len(result) > 0 {
		names := make([]string, 0, len(result))
		for gameID := range result {
			var game store.Package
			if err := db.First(&game, gameID).Error; err == nil {
				names = append(names, game.Name)
			}
		}
		sort.Strings(names)
		problems = append(problems, fmt.Sprintf(
			"%s/%s claims to support all games, but its hard dependencies constrain it to specific games: %v",
			pkg.Author, pkg.Name, names))
	}
	return problems, nil
}

// Remove deletes every verdict involving the package, as subject or as
// game. Called when a package is deleted so no orphaned rows remain.
func Remove(db *gorm.DB, packageID uint) error {
	return db.Where("package_id = ? OR game_id = ?", packageID, packageID).
		Delete(&store.GameSupport{}).Error
}

// Verdicts returns the package's current verdicts, one per game.
func Verdicts(db *gorm.DB, packageID uint) ([]store.GameSupport, error) {
	var rows []store.GameSupport
	err := db.Where("package_id = ?", packageID).
		Order("game_id").Find(&rows).Error
	return rows, err
}

// GamesFromList resolves declared game names to approved game packages.
// Unknown names are skipped: a mod may declare support for a game that is
// not catalogued here.
func GamesFromList(db *gorm.DB, names []string) ([]store.Package, error) {
	var games []store.Package
	for _, name := range names {
		if name == "*" {
			continue
		}
		game, err := store.GetGame(db, name)
		if err != nil {
			if gorm.IsRecordNotFoundError(err) {
				continue
			}
			return nil, err
		}
		games = append(games, *game)
	}
	return games, nil
}

// hardDependencyClosure resolves the package's hard dependencies to
// unique approved providers, transitively, and returns the reachable
// package IDs. Unprovided and ambiguous names contribute nothing.
func hardDependencyClosure(db *gorm.DB, pkg *store.Package) ([]uint, error) {
	graph := dag.New()
	idFor := map[string]uint{}

	var walk func(p *store.Package) error
	walk = func(p *store.Package) error {
		key := fmt.Sprintf("pkg:%d", p.ID)
		idFor[key] = p.ID

		var deps []store.Dependency
		err := db.Where("package_id = ? AND optional = ?", p.ID, false).Find(&deps).Error
		if err != nil {
			return err
		}

		for _, dep := range deps {
			var entity store.NameEntity
			if err := db.First(&entity, dep.NameEntityID).Error; err != nil {
				return err
			}
			provider, err := namegraph.ResolveProvider(db, entity.Name)
			if err != nil {
				// Pending or contested names cannot constrain support.
				continue
			}
			depKey := fmt.Sprintf("pkg:%d", provider.ID)
			_, known := idFor[depKey]
			graph.AddEdge(key, depKey)
			if !known {
				idFor[depKey] = provider.ID
				if err := walk(provider); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if err := walk(pkg); err != nil {
		return nil, err
	}

	reachable := graph.Reachable(fmt.Sprintf("pkg:%d", pkg.ID))
	ids := make([]uint, 0, len(reachable))
	for _, key := range reachable {
		ids = append(ids, idFor[key])
	}
	return ids, nil
}
