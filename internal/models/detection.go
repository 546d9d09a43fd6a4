package models

// Leading column layout of a tracker output row. Appearance features start at
// FeatureOffset and run to the end of the row.
const (
	ColFrame      = 0
	ColTrack      = 1
	ColBBox       = 2
	ColExtra      = 6
	FeatureOffset = 10
	OutputColumns = 10
)

// Detection is one tracker output row: a box on a frame with its tracker
// assigned track id and appearance feature.
type Detection struct {
	FrameID int
	TrackID int
	BBox    [4]float64 // x, y, w, h
	Extra   [4]float64 // unused tracker columns, passed through untouched
	Feature []float64
}

// OutputRow is a Detection with its track id replaced by a cluster id and the
// feature dropped.
type OutputRow struct {
	FrameID   int
	ClusterID int
	BBox      [4]float64
	Extra     [4]float64
}

// Values returns the row in output column order.
func (r OutputRow) Values() []float64 {
	v := make([]float64, OutputColumns)
	v[ColFrame] = float64(r.FrameID)
	v[ColTrack] = float64(r.ClusterID)
	copy(v[ColBBox:ColExtra], r.BBox[:])
	copy(v[ColExtra:OutputColumns], r.Extra[:])
	return v
}
