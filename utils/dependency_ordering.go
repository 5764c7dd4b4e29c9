package utils

import (
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	ld "github.com/gor-st/go-server-sdk"
)

// transformUnorderedDataToOrderedData rearranges a full data set into an ordering suitable
// for feature stores that cannot write the whole set atomically: within each kind, an item
// always appears after the items it depends on, and segments are written before flags
// because flag rules can reference segments.
//
// The ordering is produced with Kahn's topological sort. If the dependency graph contains a
// cycle (which can only come from a file or test fixture), the items in the cycle are still
// included, appended in key order; evaluation of such flags fails safely at runtime.
func transformUnorderedDataToOrderedData(allData map[ld.VersionedDataKind]map[string]ld.VersionedData) []StoreCollection {
	colls := make([]StoreCollection, 0, len(allData))
	for kind, itemsMap := range allData {
		coll := StoreCollection{Kind: kind}
		if doesDataKindSupportDependencies(kind) {
			coll.Items = sortItemsInDependencyOrder(itemsMap)
		} else {
			coll.Items = itemsInKeyOrder(itemsMap)
		}
		colls = append(colls, coll)
	}
	slices.SortStableFunc(colls, func(a, b StoreCollection) bool {
		return dataKindPriority(a.Kind) < dataKindPriority(b.Kind)
	})
	return colls
}

func doesDataKindSupportDependencies(kind ld.VersionedDataKind) bool {
	return kind.GetNamespace() == ld.Features.GetNamespace()
}

// Logic for ensuring that segments are processed before features; if we get any other data
// kinds, they are put after both of these in alphabetical order.
func dataKindPriority(kind ld.VersionedDataKind) int {
	switch kind.GetNamespace() {
	case ld.Segments.GetNamespace():
		return 0
	case ld.Features.GetNamespace():
		return 1
	default:
		return len(kind.GetNamespace()) + 2
	}
}

func itemsInKeyOrder(itemsMap map[string]ld.VersionedData) []ld.VersionedData {
	keys := maps.Keys(itemsMap)
	slices.Sort(keys)
	items := make([]ld.VersionedData, 0, len(keys))
	for _, key := range keys {
		items = append(items, itemsMap[key])
	}
	return items
}

func getDependencyKeys(item ld.VersionedData) []string {
	if flag, ok := item.(*ld.FeatureFlag); ok {
		if len(flag.Prerequisites) == 0 {
			return nil
		}
		keys := make([]string, 0, len(flag.Prerequisites))
		for _, p := range flag.Prerequisites {
			keys = append(keys, p.Key)
		}
		return keys
	}
	return nil
}

// sortItemsInDependencyOrder is Kahn's algorithm: repeatedly emit an item whose remaining
// dependencies have all been emitted. Ties are broken by key so the output is deterministic.
func sortItemsInDependencyOrder(itemsMap map[string]ld.VersionedData) []ld.VersionedData {
	// dependents[x] = items that have x as a prerequisite; inDegree counts only
	// prerequisites that actually exist in this data set.
	dependents := make(map[string][]string, len(itemsMap))
	inDegree := make(map[string]int, len(itemsMap))
	for key := range itemsMap {
		inDegree[key] = 0
	}
	for key, item := range itemsMap {
		for _, depKey := range getDependencyKeys(item) {
			if _, found := itemsMap[depKey]; found {
				dependents[depKey] = append(dependents[depKey], key)
				inDegree[key]++
			}
		}
	}

	ready := make([]string, 0, len(itemsMap))
	for key, degree := range inDegree {
		if degree == 0 {
			ready = append(ready, key)
		}
	}
	slices.Sort(ready)

	items := make([]ld.VersionedData, 0, len(itemsMap))
	emitted := make(map[string]bool, len(itemsMap))
	for len(ready) > 0 {
		key := ready[0]
		ready = ready[1:]
		items = append(items, itemsMap[key])
		emitted[key] = true

		newlyReady := make([]string, 0, len(dependents[key]))
		for _, depKey := range dependents[key] {
			inDegree[depKey]--
			if inDegree[depKey] == 0 {
				newlyReady = append(newlyReady, depKey)
			}
		}
		if len(newlyReady) > 0 {
			slices.Sort(newlyReady)
			ready = mergeSorted(ready, newlyReady)
		}
	}

	// Any items not yet emitted are part of a dependency cycle. Emit them anyway, in key
	// order, so no data is dropped.
	if len(items) < len(itemsMap) {
		remainder := make([]string, 0, len(itemsMap)-len(items))
		for key := range itemsMap {
			if !emitted[key] {
				remainder = append(remainder, key)
			}
		}
		slices.Sort(remainder)
		for _, key := range remainder {
			items = append(items, itemsMap[key])
		}
	}
	return items
}

func mergeSorted(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i] <= b[j] {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}
