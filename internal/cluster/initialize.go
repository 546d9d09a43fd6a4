package cluster

import (
	"sort"

	"github.com/your-org/reid/internal/models"
)

// ReferenceFrame returns the frame showing the most distinct indexed tracks
// and the positions of those tracks, ascending. Ties go to the lowest frame
// id. Detections of tracks missing from idx are ignored. frame is -1 when no
// detection is indexed.
func ReferenceFrame(dets []models.Detection, idx *TrackIndex) (frame int, seeds []int) {
	byFrame := make(map[int]map[int]struct{})
	for _, d := range dets {
		pos, ok := idx.Pos(d.TrackID)
		if !ok {
			continue
		}
		set, ok := byFrame[d.FrameID]
		if !ok {
			set = make(map[int]struct{})
			byFrame[d.FrameID] = set
		}
		set[pos] = struct{}{}
	}

	frame, best := -1, 0
	for f, set := range byFrame {
		if len(set) > best || (len(set) == best && f < frame) {
			frame, best = f, len(set)
		}
	}
	if frame < 0 {
		return -1, nil
	}

	seeds = make([]int, 0, best)
	for pos := range byFrame[frame] {
		seeds = append(seeds, pos)
	}
	sort.Ints(seeds)
	return frame, seeds
}

// EffectiveK clamps the requested cluster count to the number of tracks.
func EffectiveK(requested, nTracks int) (k int, clamped bool) {
	if requested > nTracks {
		return nTracks, true
	}
	return requested, false
}
