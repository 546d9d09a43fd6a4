package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCooccurrence(t *testing.T) {
	descs := []Descriptor{
		{TrackID: 1, Frames: []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}},
		{TrackID: 2, Frames: []int{5, 6, 7, 8, 9, 10, 11, 12, 13, 14}},
		{TrackID: 3, Frames: []int{20, 21}},
	}

	m := BuildCooccurrence(descs)
	require.Equal(t, 3, m.SymmetricDim())

	assert.Equal(t, 5, CommonFrames(m, 0, 1))
	assert.Equal(t, 0, CommonFrames(m, 0, 2))
	assert.Equal(t, 0, CommonFrames(m, 1, 2))
	assert.Equal(t, 10, CommonFrames(m, 0, 0))
	assert.Equal(t, 2, CommonFrames(m, 2, 2))

	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			assert.Equal(t, m.At(i, j), m.At(j, i), "(%d, %d)", i, j)
			assert.GreaterOrEqual(t, m.At(i, j), 0.0)
		}
	}
}

func TestBuildCooccurrence_Empty(t *testing.T) {
	assert.Equal(t, 0, BuildCooccurrence(nil).SymmetricDim())
}

func TestIntersectCount(t *testing.T) {
	tests := []struct {
		name string
		a, b []int
		want int
	}{
		{"disjoint", []int{1, 2}, []int{3, 4}, 0},
		{"nested", []int{1, 2, 3, 4}, []int{2, 3}, 2},
		{"interleaved", []int{1, 3, 5, 7}, []int{2, 3, 4, 7}, 2},
		{"empty", nil, []int{1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, intersectCount(tt.a, tt.b))
			assert.Equal(t, tt.want, intersectCount(tt.b, tt.a))
		})
	}
}

func TestCooccurrenceKey(t *testing.T) {
	a := []Descriptor{{TrackID: 1, Frames: []int{0, 1}}, {TrackID: 2, Frames: []int{1, 2}}}
	b := []Descriptor{{TrackID: 1, Frames: []int{0, 1}}, {TrackID: 2, Frames: []int{1, 3}}}
	swapped := []Descriptor{a[1], a[0]}

	key := CooccurrenceKey(a)
	assert.Len(t, key, 32)
	assert.Equal(t, key, CooccurrenceKey(a))
	assert.NotEqual(t, key, CooccurrenceKey(b))
	assert.NotEqual(t, key, CooccurrenceKey(swapped))
}

func TestParseCacheMode(t *testing.T) {
	for _, mode := range []CacheMode{CacheOff, CacheReuse, CacheRefresh} {
		assert.Equal(t, mode, ParseCacheMode(mode.String()))
	}
	assert.Equal(t, CacheOff, ParseCacheMode("bogus"))
}
