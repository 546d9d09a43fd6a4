// Package arrays converts between NumPy .npy files and the clustering
// pipeline's detection, output and matrix types.
package arrays

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/sbinet/npyio/npy"
	"gonum.org/v1/gonum/mat"

	"github.com/your-org/reid/internal/cluster"
	"github.com/your-org/reid/internal/models"
)

// ReadMatrix reads a 2-D numeric array of any float or integer dtype.
func ReadMatrix(r io.Reader) (*mat.Dense, error) {
	rd, err := npy.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("read npy header: %w", err)
	}
	shape := rd.Header.Descr.Shape
	if len(shape) != 2 {
		return nil, fmt.Errorf("%w: want a 2-D array, got shape %v", cluster.ErrMalformedInput, shape)
	}
	rows, cols := shape[0], shape[1]

	var data []float64
	switch rd.Header.Descr.Type {
	case "<f8", "f8", "float64":
		err = rd.Read(&data)
	case "<f4", "f4", "float32":
		var v []float32
		if err = rd.Read(&v); err == nil {
			data = make([]float64, len(v))
			for i, x := range v {
				data[i] = float64(x)
			}
		}
	case "<i8", "i8", "int64":
		var v []int64
		if err = rd.Read(&v); err == nil {
			data = make([]float64, len(v))
			for i, x := range v {
				data[i] = float64(x)
			}
		}
	case "<i4", "i4", "int32":
		var v []int32
		if err = rd.Read(&v); err == nil {
			data = make([]float64, len(v))
			for i, x := range v {
				data[i] = float64(x)
			}
		}
	default:
		return nil, fmt.Errorf("%w: unsupported dtype %q", cluster.ErrMalformedInput, rd.Header.Descr.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("read npy data: %w", err)
	}
	if len(data) != rows*cols {
		return nil, fmt.Errorf("%w: %d values for shape %v", cluster.ErrMalformedInput, len(data), shape)
	}
	if rows == 0 || cols == 0 {
		return nil, cluster.ErrEmptyInput
	}

	if rd.Header.Descr.Fortran {
		m := mat.NewDense(cols, rows, data)
		return mat.DenseCopyOf(m.T()), nil
	}
	return mat.NewDense(rows, cols, data), nil
}

// DecodeDetections reads a tracker output array
// [frame, track, x, y, w, h, u0..u3, feature...].
func DecodeDetections(r io.Reader) ([]models.Detection, error) {
	m, err := ReadMatrix(r)
	if err != nil {
		return nil, err
	}
	rows, cols := m.Dims()
	if cols <= models.FeatureOffset {
		return nil, fmt.Errorf("%w: %d columns, need at least %d", cluster.ErrMalformedInput, cols, models.FeatureOffset+1)
	}

	dets := make([]models.Detection, rows)
	for i := 0; i < rows; i++ {
		row := m.RawRowView(i)
		frame, ok := asID(row[models.ColFrame])
		if !ok {
			return nil, fmt.Errorf("%w: row %d frame id %v", cluster.ErrMalformedInput, i, row[models.ColFrame])
		}
		track, ok := asID(row[models.ColTrack])
		if !ok {
			return nil, fmt.Errorf("%w: row %d track id %v", cluster.ErrMalformedInput, i, row[models.ColTrack])
		}
		d := models.Detection{
			FrameID: frame,
			TrackID: track,
			Feature: make([]float64, cols-models.FeatureOffset),
		}
		copy(d.BBox[:], row[models.ColBBox:models.ColExtra])
		copy(d.Extra[:], row[models.ColExtra:models.FeatureOffset])
		copy(d.Feature, row[models.FeatureOffset:])
		dets[i] = d
	}
	return dets, nil
}

func asID(v float64) (int, bool) {
	if v < 0 || v != math.Trunc(v) || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, false
	}
	return int(v), true
}

// EncodeRows writes output rows as an N x 10 float64 array.
func EncodeRows(w io.Writer, rows []models.OutputRow) error {
	if len(rows) == 0 {
		return errors.New("no output rows")
	}
	data := make([]float64, 0, len(rows)*models.OutputColumns)
	for _, r := range rows {
		data = append(data, r.Values()...)
	}
	if err := npy.Write(w, mat.NewDense(len(rows), models.OutputColumns, data)); err != nil {
		return fmt.Errorf("write npy: %w", err)
	}
	return nil
}

// EncodeMatrix writes a co-occurrence matrix as a square float64 array.
func EncodeMatrix(w io.Writer, m *mat.SymDense) error {
	if m.SymmetricDim() == 0 {
		return errors.New("empty matrix")
	}
	if err := npy.Write(w, mat.DenseCopyOf(m)); err != nil {
		return fmt.Errorf("write npy: %w", err)
	}
	return nil
}

// DecodeMatrix reads a square array into a symmetric matrix. Arrays holding
// only one triangle are accepted: each entry takes the larger of (i, j) and
// (j, i).
func DecodeMatrix(r io.Reader) (*mat.SymDense, error) {
	d, err := ReadMatrix(r)
	if err != nil {
		return nil, err
	}
	rows, cols := d.Dims()
	if rows != cols {
		return nil, fmt.Errorf("%w: matrix is %dx%d, want square", cluster.ErrMalformedInput, rows, cols)
	}
	s := mat.NewSymDense(rows, nil)
	for i := 0; i < rows; i++ {
		for j := i; j < rows; j++ {
			s.SetSym(i, j, math.Max(d.At(i, j), d.At(j, i)))
		}
	}
	return s, nil
}

// ReadDetectionsFile decodes a tracker output array from path.
func ReadDetectionsFile(path string) ([]models.Detection, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()
	return DecodeDetections(bufio.NewReader(f))
}

// WriteRowsFile encodes output rows to path.
func WriteRowsFile(path string, rows []models.OutputRow) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	bw := bufio.NewWriter(f)
	if err := EncodeRows(bw, rows); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flush output: %w", err)
	}
	return f.Close()
}
