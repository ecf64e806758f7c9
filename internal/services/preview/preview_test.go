package preview

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelect(t *testing.T) {
	tests := []struct {
		name  string
		items []string
		want  []string
	}{
		{name: "empty", items: nil, want: []string{}},
		{name: "one", items: []string{"a"}, want: []string{"a"}},
		{name: "two", items: []string{"a", "b"}, want: []string{"a", "b"}},
		{name: "three", items: []string{"a", "b", "c"}, want: []string{"a", "b", "c"}},
		{name: "four", items: []string{"a", "b", "c", "d"}, want: []string{"a", "b", "c", "d"}},
		{name: "five", items: []string{"a", "b", "c", "d", "e"}, want: []string{"a", "b", "c", "e"}},
		{name: "eight", items: []string{"a", "b", "c", "d", "e", "f", "g", "h"}, want: []string{"a", "d", "f", "h"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Select(tt.items))
		})
	}
}

func TestIndices(t *testing.T) {
	tests := []struct {
		n    int
		want []int
	}{
		{0, []int{}},
		{1, []int{0}},
		{2, []int{0, 1}},
		{3, []int{0, 1, 2}},
		{4, []int{0, 1, 2, 3}},
		{7, []int{0, 1, 2, 6}},
		{8, []int{0, 3, 5, 7}},
		{12, []int{0, 5, 8, 11}},
		{100, []int{0, 49, 74, 99}},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Indices(tt.n), "n=%d", tt.n)
	}
}

func TestSelect_Properties(t *testing.T) {
	for n := 0; n <= 64; n++ {
		items := make([]int, n)
		for i := range items {
			items[i] = i * 10
		}
		before := append([]int(nil), items...)

		got := Select(items)

		assert.Equal(t, before, items, "input must not change")
		assert.LessOrEqual(t, len(got), 4)
		if n == 0 {
			assert.Empty(t, got)
			continue
		}

		assert.Equal(t, items[0], got[0])
		if n > 1 {
			assert.Equal(t, items[n-1], got[len(got)-1])
		}
		for i := 1; i < len(got); i++ {
			assert.LessOrEqual(t, got[i-1], got[i], "order must follow the input")
		}
	}
}
