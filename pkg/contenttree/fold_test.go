// SPDX-License-Identifier: MPL-2.0

package contenttree

import (
	"testing"
)

func leaf(kind ContentKind, name string, meta Metadata) *ContentUnit {
	return &ContentUnit{Kind: kind, Name: name, Meta: meta}
}

func TestFold_FiltersByKind(t *testing.T) {
	t.Parallel()

	root := leaf(KindModpack, "pack", Metadata{})
	root.Children = []*ContentUnit{
		leaf(KindMod, "alpha", Metadata{}),
		leaf(KindMod, "beta", Metadata{}),
	}

	names := root.ModNames()
	if len(names) != 2 || !names["alpha"] || !names["beta"] {
		t.Errorf("ModNames() = %v", names)
	}
	// The modpack's own name is excluded by the kind filter.
	if names["pack"] {
		t.Errorf("modpack name leaked into mod names: %v", names)
	}
}

func TestFold_OrderIndependent(t *testing.T) {
	t.Parallel()

	build := func(order []string) map[string]bool {
		root := leaf(KindModpack, "pack", Metadata{})
		for _, name := range order {
			root.Children = append(root.Children, leaf(KindMod, name, Metadata{
				Depends: []string{"dep_" + name},
			}))
		}
		return root.HardDepends()
	}

	forward := build([]string{"a", "b", "c"})
	backward := build([]string{"c", "b", "a"})

	if len(forward) != len(backward) {
		t.Fatalf("fold size differs: %v vs %v", forward, backward)
	}
	for name := range forward {
		if !backward[name] {
			t.Errorf("fold differs on %q", name)
		}
	}
}

func TestExternalDepends_SelfProvidesSubtracted(t *testing.T) {
	t.Parallel()

	root := leaf(KindModpack, "pack", Metadata{})
	root.Children = []*ContentUnit{
		leaf(KindMod, "alpha", Metadata{Depends: []string{"beta", "default"}}),
		leaf(KindMod, "beta", Metadata{OptionalDepends: []string{"alpha", "farming"}}),
	}

	hard, soft := root.ExternalDepends()

	if hard["beta"] || soft["alpha"] {
		t.Errorf("own mod names must not appear as external deps: hard=%v soft=%v", hard, soft)
	}
	if !hard["default"] {
		t.Errorf("missing external hard dep: %v", hard)
	}
	if !soft["farming"] {
		t.Errorf("missing external soft dep: %v", soft)
	}
}

func TestFold_DeepNesting(t *testing.T) {
	t.Parallel()

	inner := leaf(KindModpack, "inner", Metadata{})
	inner.Children = []*ContentUnit{
		leaf(KindMod, "deep", Metadata{Depends: []string{"x"}}),
	}
	root := leaf(KindGame, "mygame", Metadata{})
	root.Children = []*ContentUnit{
		leaf(KindMod, "shallow", Metadata{}),
		inner,
	}

	names := root.ModNames()
	if !names["deep"] || !names["shallow"] || len(names) != 2 {
		t.Errorf("ModNames() = %v", names)
	}
	if !root.HardDepends()["x"] {
		t.Errorf("nested depends not folded: %v", root.HardDepends())
	}
}
