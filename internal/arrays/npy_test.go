package arrays

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/sbinet/npyio/npy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/your-org/reid/internal/cluster"
	"github.com/your-org/reid/internal/models"
)

func encode(t *testing.T, v any) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, npy.Write(&buf, v))
	return &buf
}

func TestDecodeDetections(t *testing.T) {
	data := []float64{
		3, 7, 1, 2, 3, 4, -1, -1, -1, 0, 0.5, 0.25,
		4, 8, 5, 6, 7, 8, -1, -1, -1, 1, 1.5, 2.5,
	}
	buf := encode(t, mat.NewDense(2, 12, data))

	dets, err := DecodeDetections(buf)
	require.NoError(t, err)
	require.Len(t, dets, 2)

	assert.Equal(t, models.Detection{
		FrameID: 3,
		TrackID: 7,
		BBox:    [4]float64{1, 2, 3, 4},
		Extra:   [4]float64{-1, -1, -1, 0},
		Feature: []float64{0.5, 0.25},
	}, dets[0])
	assert.Equal(t, 8, dets[1].TrackID)
	assert.Equal(t, []float64{1.5, 2.5}, dets[1].Feature)
}

func TestDecodeDetections_OneDimensional(t *testing.T) {
	buf := encode(t, []float32{1, 2, 0, 0, 1, 1, 0, 0, 0, 0, 0.5})

	_, err := DecodeDetections(buf)
	assert.ErrorIs(t, err, cluster.ErrMalformedInput)
}

func TestDecodeDetections_Rejects(t *testing.T) {
	tests := []struct {
		name string
		rows int
		cols int
		data []float64
	}{
		{"no feature columns", 1, 10, []float64{0, 1, 0, 0, 0, 0, 0, 0, 0, 0}},
		{"fractional track id", 1, 11, []float64{0, 1.5, 0, 0, 0, 0, 0, 0, 0, 0, 1}},
		{"negative frame id", 1, 11, []float64{-2, 1, 0, 0, 0, 0, 0, 0, 0, 0, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeDetections(encode(t, mat.NewDense(tt.rows, tt.cols, tt.data)))
			assert.ErrorIs(t, err, cluster.ErrMalformedInput)
		})
	}
}

func TestDecodeDetections_Garbage(t *testing.T) {
	_, err := DecodeDetections(bytes.NewReader([]byte("not an npy file")))
	assert.Error(t, err)
}

func TestEncodeRows(t *testing.T) {
	rows := []models.OutputRow{
		{FrameID: 1, ClusterID: 0, BBox: [4]float64{1, 2, 3, 4}, Extra: [4]float64{-1, -1, -1, 1}},
		{FrameID: 2, ClusterID: 1, BBox: [4]float64{5, 6, 7, 8}, Extra: [4]float64{-1, -1, -1, 2}},
	}
	var buf bytes.Buffer
	require.NoError(t, EncodeRows(&buf, rows))

	m, err := ReadMatrix(&buf)
	require.NoError(t, err)
	r, c := m.Dims()
	assert.Equal(t, 2, r)
	assert.Equal(t, models.OutputColumns, c)
	assert.Equal(t, rows[1].Values(), m.RawRowView(1))

	assert.Error(t, EncodeRows(&buf, nil))
}

func TestMatrixCodec(t *testing.T) {
	m := mat.NewSymDense(3, []float64{
		10, 4, 0,
		4, 8, 1,
		0, 1, 2,
	})
	var buf bytes.Buffer
	require.NoError(t, EncodeMatrix(&buf, m))

	got, err := DecodeMatrix(&buf)
	require.NoError(t, err)
	assert.True(t, mat.Equal(m, got))
}

func TestDecodeMatrix_UpperTriangle(t *testing.T) {
	upper := mat.NewDense(3, 3, []float64{
		10, 4, 0,
		0, 8, 1,
		0, 0, 2,
	})

	got, err := DecodeMatrix(encode(t, upper))
	require.NoError(t, err)

	assert.Equal(t, 4.0, got.At(1, 0))
	assert.Equal(t, 1.0, got.At(2, 1))
	assert.Equal(t, 8.0, got.At(1, 1))
}

func TestDecodeMatrix_NotSquare(t *testing.T) {
	_, err := DecodeMatrix(encode(t, mat.NewDense(2, 3, nil)))
	assert.ErrorIs(t, err, cluster.ErrMalformedInput)
}

func TestFiles(t *testing.T) {
	dir := t.TempDir()
	rows := []models.OutputRow{{FrameID: 9, ClusterID: 2}}
	out := filepath.Join(dir, "out.npy")

	require.NoError(t, WriteRowsFile(out, rows))

	// an output array has no feature columns, so it is not valid input
	_, err := ReadDetectionsFile(out)
	assert.ErrorIs(t, err, cluster.ErrMalformedInput)

	_, err = ReadDetectionsFile(filepath.Join(dir, "missing.npy"))
	assert.Error(t, err)
}
