// Package preview picks the handful of images shown for a gallery in listings.
package preview

// Select returns up to four representatives of items, in this order: the
// first item; for four or more items the items at (n/4)*2-1 and (n/4)*3-1,
// for exactly three the middle one; the last item when there is more than
// one. Indices come from the original length, so small inputs may repeat an
// item. items is not modified.
func Select[T any](items []T) []T {
	n := len(items)
	if n == 0 {
		return []T{}
	}

	out := make([]T, 0, 4)
	out = append(out, items[0])

	switch {
	case n >= 4:
		out = append(out, items[(n/4)*2-1], items[(n/4)*3-1])
	case n == 3:
		out = append(out, items[1])
	}

	if n > 1 {
		out = append(out, items[n-1])
	}

	return out
}

// Indices reports which positions Select picks for a sequence of length n.
func Indices(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}

	return Select(idx)
}
