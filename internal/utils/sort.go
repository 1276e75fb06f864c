package utils

import (
	"cmp"
	"sort"
)

// SortBy orders items by key, keeping the input order of equal keys.
func SortBy[T any, K cmp.Ordered](items []T, key func(T) K) []T {
	sort.SliceStable(items, func(i, j int) bool {
		return key(items[i]) < key(items[j])
	})
	return items
}

func GetSortedKeys[K cmp.Ordered, T any](m map[K]T, asc bool) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if asc {
			return keys[i] < keys[j]
		}
		return keys[i] > keys[j]
	})
	return keys
}
