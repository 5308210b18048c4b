// SPDX-License-Identifier: MPL-2.0

package contenttree

// Fold accumulates the values selected by pick across the subtree, bottom-up.
// Children are always visited; a unit whose kind does not match filter
// contributes nothing of its own. Pass KindAny to disable filtering. The
// result is a set, so sibling iteration order never affects it.
func (u *ContentUnit) Fold(filter ContentKind, pick func(*ContentUnit) []string) map[string]bool {
	result := map[string]bool{}
	u.fold(filter, pick, result)
	return result
}

func (u *ContentUnit) fold(filter ContentKind, pick func(*ContentUnit) []string, into map[string]bool) {
	for _, child := range u.Children {
		child.fold(filter, pick, into)
	}

	if filter != KindAny && filter != u.Kind {
		return
	}
	for _, value := range pick(u) {
		if value != "" {
			into[value] = true
		}
	}
}

// ModNames returns the technical names of every mod anywhere in the tree.
// These are the names the package provides.
func (u *ContentUnit) ModNames() map[string]bool {
	return u.Fold(KindMod, func(unit *ContentUnit) []string {
		if unit.Name == "" {
			return nil
		}
		return []string{unit.Name}
	})
}

// HardDepends returns the union of declared hard dependencies across the
// tree, including names the package itself provides.
func (u *ContentUnit) HardDepends() map[string]bool {
	return u.Fold(KindAny, func(unit *ContentUnit) []string { return unit.Meta.Depends })
}

// OptionalDepends returns the union of declared optional dependencies
// across the tree, including names the package itself provides.
func (u *ContentUnit) OptionalDepends() map[string]bool {
	return u.Fold(KindAny, func(unit *ContentUnit) []string { return unit.Meta.OptionalDepends })
}

// ExternalDepends returns the folded hard and optional dependency sets with
// the package's own mod names subtracted: a unit's siblings and children
// never count as external dependencies.
func (u *ContentUnit) ExternalDepends() (hard, soft map[string]bool) {
	provides := u.ModNames()
	hard = u.HardDepends()
	soft = u.OptionalDepends()
	for name := range provides {
		delete(hard, name)
		delete(soft, name)
	}
	return hard, soft
}
