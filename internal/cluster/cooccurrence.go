package cluster

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"gonum.org/v1/gonum/mat"
)

// BuildCooccurrence counts, for every pair of tracks, the frames both appear
// in. The diagonal holds each track's number of distinct frames.
func BuildCooccurrence(descs []Descriptor) *mat.SymDense {
	n := len(descs)
	if n == 0 {
		return &mat.SymDense{}
	}
	m := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			m.SetSym(i, j, float64(intersectCount(descs[i].Frames, descs[j].Frames)))
		}
	}
	return m
}

// CommonFrames returns the shared frame count of tracks i and j.
func CommonFrames(m mat.Symmetric, i, j int) int {
	return int(m.At(i, j))
}

// intersectCount counts common values of two ascending, duplicate free slices.
func intersectCount(a, b []int) int {
	n, i, j := 0, 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			i++
		case a[i] > b[j]:
			j++
		default:
			n++
			i++
			j++
		}
	}
	return n
}

// CooccurrenceKey fingerprints the track ids and lifespans a co-occurrence
// matrix was computed from, so a cached matrix is only reused for the same
// tracks in the same order.
func CooccurrenceKey(descs []Descriptor) string {
	h := sha256.New()
	var buf [8]byte
	put := func(v int) {
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		h.Write(buf[:])
	}
	put(len(descs))
	for _, d := range descs {
		put(d.TrackID)
		put(len(d.Frames))
		for _, f := range d.Frames {
			put(f)
		}
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// CacheMode selects how the co-occurrence cache is used by Run.
type CacheMode int

const (
	// CacheOff always recomputes and never touches the cache.
	CacheOff CacheMode = iota
	// CacheReuse loads a cached matrix when present and stores a freshly
	// computed one otherwise.
	CacheReuse
	// CacheRefresh always recomputes and overwrites the cache.
	CacheRefresh
)

func (m CacheMode) String() string {
	switch m {
	case CacheReuse:
		return "reuse"
	case CacheRefresh:
		return "refresh"
	default:
		return "off"
	}
}

// ParseCacheMode accepts "off", "reuse" or "refresh". Anything else is off.
func ParseCacheMode(s string) CacheMode {
	switch s {
	case "reuse":
		return CacheReuse
	case "refresh":
		return CacheRefresh
	default:
		return CacheOff
	}
}

// MatrixCache persists co-occurrence matrices between runs. Load returns a
// nil matrix and nil error on a miss.
type MatrixCache interface {
	Load(ctx context.Context, key string) (*mat.SymDense, error)
	Store(ctx context.Context, key string, m *mat.SymDense) error
}
