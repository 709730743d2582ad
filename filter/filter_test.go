package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterRange(t *testing.T) {
	kept, dropped := Filter([]int{0, 3, 4, -1, 2}, []Filterer{&FilterRange{CoarseChans: 2}})
	assert.Equal(t, []int{0, 3, 2}, kept)
	assert.Len(t, dropped, 2)
	assert.Contains(t, dropped[4], "out of range [0, 4)")
	assert.Contains(t, dropped, -1)
}

func TestFilterAvailable(t *testing.T) {
	f := &FilterAvailable{Source: "capture.fc", Available: []int{1, 3}}
	kept := Drop([]int{3, 2, 1}, f)
	assert.Equal(t, []int{3, 1}, kept)
	assert.Contains(t, f.Reason(2), "capture.fc")
}

func TestFilterFirstMatchWins(t *testing.T) {
	filters := []Filterer{
		&FilterRange{CoarseChans: 1},
		&FilterAvailable{Source: "file", Available: []int{0, 1, 5}},
	}
	kept, dropped := Filter([]int{0, 1, 5, 7}, filters)
	assert.Equal(t, []int{0, 1}, kept)
	assert.Contains(t, dropped[5], "out of range")
	assert.Contains(t, dropped[7], "out of range")
}

func TestFilterNoFilters(t *testing.T) {
	kept, dropped := Filter([]int{2, 1}, nil)
	assert.Equal(t, []int{2, 1}, kept)
	assert.Empty(t, dropped)

	assert.Empty(t, Drop(nil))
}
