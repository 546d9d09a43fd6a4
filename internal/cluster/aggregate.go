package cluster

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/your-org/reid/internal/models"
)

// DefaultMinTrackLength is the minimum number of detections a track needs to
// take part in clustering.
const DefaultMinTrackLength = 10

// Descriptor is the aggregate appearance of one track.
type Descriptor struct {
	FirstFrame int
	TrackID    int
	Length     int       // detection count
	Frames     []int     // distinct frames, ascending
	Vector     []float64 // unit mean feature scaled by Length
}

// FilterReport describes what FilterDetections removed.
type FilterReport struct {
	InputRows       int
	MaxTracksFrame  int // most distinct tracks seen on a single frame
	DroppedFrames   []int
	DroppedTracks   []int
	SurvivingTracks int
	MeanTrackLength float64
}

// FilterDetections applies the two data quality rules: frames showing more
// distinct tracks than nClusters are dropped entirely, then tracks left with
// fewer than minTrackLen detections are dropped entirely. Row order of the
// survivors is preserved.
func FilterDetections(dets []models.Detection, nClusters, minTrackLen int) ([]models.Detection, FilterReport) {
	report := FilterReport{InputRows: len(dets)}

	tracksByFrame := make(map[int]map[int]struct{})
	for _, d := range dets {
		set, ok := tracksByFrame[d.FrameID]
		if !ok {
			set = make(map[int]struct{})
			tracksByFrame[d.FrameID] = set
		}
		set[d.TrackID] = struct{}{}
	}

	crowded := make(map[int]bool)
	for frame, set := range tracksByFrame {
		if len(set) > report.MaxTracksFrame {
			report.MaxTracksFrame = len(set)
		}
		if len(set) > nClusters {
			crowded[frame] = true
			report.DroppedFrames = append(report.DroppedFrames, frame)
		}
	}
	sort.Ints(report.DroppedFrames)

	counts := make(map[int]int)
	for _, d := range dets {
		if !crowded[d.FrameID] {
			counts[d.TrackID]++
		}
	}

	short := make(map[int]bool)
	total := 0
	for id, n := range counts {
		if n < minTrackLen {
			short[id] = true
			report.DroppedTracks = append(report.DroppedTracks, id)
			continue
		}
		total += n
		report.SurvivingTracks++
	}
	sort.Ints(report.DroppedTracks)
	if report.SurvivingTracks > 0 {
		report.MeanTrackLength = float64(total) / float64(report.SurvivingTracks)
	}

	kept := make([]models.Detection, 0, total)
	for _, d := range dets {
		if crowded[d.FrameID] || short[d.TrackID] {
			continue
		}
		kept = append(kept, d)
	}
	return kept, report
}

// Aggregate collapses detections into one Descriptor per track, ordered by
// first frame then track id, and returns the matching TrackIndex.
func Aggregate(dets []models.Detection) ([]Descriptor, *TrackIndex, error) {
	if len(dets) == 0 {
		return nil, nil, ErrNoTracks
	}
	dim := len(dets[0].Feature)
	if dim == 0 {
		return nil, nil, fmt.Errorf("%w: zero-length feature", ErrMalformedInput)
	}

	byTrack := make(map[int]*Descriptor)
	seen := make(map[int]map[int]struct{})
	for _, d := range dets {
		if len(d.Feature) != dim {
			return nil, nil, fmt.Errorf("%w: track %d frame %d has %d features, want %d",
				ErrMalformedInput, d.TrackID, d.FrameID, len(d.Feature), dim)
		}
		desc, ok := byTrack[d.TrackID]
		if !ok {
			desc = &Descriptor{
				FirstFrame: d.FrameID,
				TrackID:    d.TrackID,
				Vector:     make([]float64, dim),
			}
			byTrack[d.TrackID] = desc
			seen[d.TrackID] = make(map[int]struct{})
		}
		if d.FrameID < desc.FirstFrame {
			desc.FirstFrame = d.FrameID
		}
		desc.Length++
		floats.Add(desc.Vector, d.Feature)
		if _, dup := seen[d.TrackID][d.FrameID]; !dup {
			seen[d.TrackID][d.FrameID] = struct{}{}
			desc.Frames = append(desc.Frames, d.FrameID)
		}
	}

	descs := make([]Descriptor, 0, len(byTrack))
	for _, desc := range byTrack {
		sort.Ints(desc.Frames)
		// The mean and the sum share a direction, so normalizing the sum is
		// enough. A zero sum is left as is.
		if norm := floats.Norm(desc.Vector, 2); norm > 0 {
			floats.Scale(float64(desc.Length)/norm, desc.Vector)
		}
		descs = append(descs, *desc)
	}
	sort.Slice(descs, func(i, j int) bool {
		if descs[i].FirstFrame != descs[j].FirstFrame {
			return descs[i].FirstFrame < descs[j].FirstFrame
		}
		return descs[i].TrackID < descs[j].TrackID
	})

	ids := make([]int, len(descs))
	for i, d := range descs {
		ids[i] = d.TrackID
	}
	return descs, NewTrackIndex(ids), nil
}

// Vectors returns the descriptor vectors in index order. The slices are
// shared, not copied.
func Vectors(descs []Descriptor) [][]float64 {
	out := make([][]float64, len(descs))
	for i := range descs {
		out[i] = descs[i].Vector
	}
	return out
}
