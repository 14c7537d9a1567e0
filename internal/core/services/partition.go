package services

import "fmt"

// Partition splits items into exactly k contiguous groups whose sizes differ
// by at most one. Each step takes floor(remaining/groupsLeft) items, so the
// larger groups end up last and the final group always takes the remainder.
// Groups are capacity-clipped: appending to one never overwrites the next.
func Partition[T any](items []T, k int) [][]T {
	if k < 1 {
		panic(fmt.Sprintf("partition: group count must be positive, got %d", k))
	}

	groups := make([][]T, 0, k)
	rest := items
	for left := k; left > 0; left-- {
		n := len(rest) / left
		groups = append(groups, rest[:n:n])
		rest = rest[n:]
	}
	return groups
}
