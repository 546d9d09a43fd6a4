package cluster

import (
	"fmt"

	"github.com/your-org/reid/internal/models"
)

// MapResults rewrites every detection's track id to the cluster of its track.
// labels is indexed by track position in idx.
func MapResults(dets []models.Detection, idx *TrackIndex, labels []int) ([]models.OutputRow, error) {
	if len(labels) != idx.Len() {
		return nil, fmt.Errorf("%w: %d labels for %d tracks", ErrMalformedInput, len(labels), idx.Len())
	}
	rows := make([]models.OutputRow, len(dets))
	for i, d := range dets {
		pos, ok := idx.Pos(d.TrackID)
		if !ok {
			return nil, fmt.Errorf("%w: track %d has no cluster", ErrMalformedInput, d.TrackID)
		}
		rows[i] = models.OutputRow{
			FrameID:   d.FrameID,
			ClusterID: labels[pos],
			BBox:      d.BBox,
			Extra:     d.Extra,
		}
	}
	return rows, nil
}
