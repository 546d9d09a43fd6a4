package cluster

// TrackIndex maps tracker track ids to dense positions and back. Positions
// follow descriptor order (first frame ascending) and every stage after
// aggregation addresses tracks by position.
type TrackIndex struct {
	ids []int
	pos map[int]int
}

// NewTrackIndex builds the mapping from ids given in position order.
func NewTrackIndex(ids []int) *TrackIndex {
	idx := &TrackIndex{
		ids: make([]int, len(ids)),
		pos: make(map[int]int, len(ids)),
	}
	copy(idx.ids, ids)
	for i, id := range ids {
		idx.pos[id] = i
	}
	return idx
}

// Len returns the number of indexed tracks.
func (x *TrackIndex) Len() int { return len(x.ids) }

// ID returns the track id at position i.
func (x *TrackIndex) ID(i int) int { return x.ids[i] }

// Pos returns the position of a track id.
func (x *TrackIndex) Pos(trackID int) (int, bool) {
	i, ok := x.pos[trackID]
	return i, ok
}

// IDs returns a copy of the ids in position order.
func (x *TrackIndex) IDs() []int {
	out := make([]int, len(x.ids))
	copy(out, x.ids)
	return out
}
