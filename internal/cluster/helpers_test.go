package cluster

import (
	"testing"

	"github.com/your-org/reid/internal/models"
)

// track emits one detection per frame in [from, to) for trackID, all with
// the same feature.
func track(trackID, from, to int, feature ...float64) []models.Detection {
	dets := make([]models.Detection, 0, to-from)
	for f := from; f < to; f++ {
		d := models.Detection{
			FrameID: f,
			TrackID: trackID,
			BBox:    [4]float64{float64(f), float64(trackID), 10, 20},
			Extra:   [4]float64{-1, -1, -1, float64(f)},
			Feature: append([]float64(nil), feature...),
		}
		dets = append(dets, d)
	}
	return dets
}

func concat(parts ...[]models.Detection) []models.Detection {
	var out []models.Detection
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// clusterOf returns the cluster id assigned to every row of trackID, or -1 if
// the rows disagree.
func clusterOf(t testing.TB, dets []models.Detection, rows []models.OutputRow, trackID int) int {
	t.Helper()
	c := -2
	for i, d := range dets {
		if d.TrackID != trackID {
			continue
		}
		if c == -2 {
			c = rows[i].ClusterID
		} else if c != rows[i].ClusterID {
			return -1
		}
	}
	return c
}
