package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/your-org/reid/internal/models"
	"github.com/your-org/reid/internal/observability"
)

// Options configures Run.
type Options struct {
	NClusters       int
	MaxCommonFrames int
	MinTrackLength  int
	MaxIterations   int
	// AcceptNonConverged returns a non-converged clustering with a warning
	// instead of failing with ErrNotConverged.
	AcceptNonConverged bool
	CacheMode          CacheMode
	Cache              MatrixCache
	Logger             *slog.Logger
}

// Output is everything Run derived for one input.
type Output struct {
	Rows        []models.OutputRow
	Descriptors []Descriptor
	Index       *TrackIndex
	Cooccur     *mat.SymDense
	Constraints Constraints
	Result      *Result
	KRequested  int
	// KEffective is the k k-means ran with: KRequested clamped to the
	// number of tracks. Result.K() counts the clusters that ended non-empty
	// and is never larger.
	KEffective int
	KClamped   bool
	RefFrame   int
	Seeds      []int
	Filter     FilterReport
	CacheHit   bool
}

// Run resolves detections to identity clusters: filter, aggregate tracks,
// derive cannot-link constraints from co-occurrence, seed from the reference
// frame and run constrained spherical k-means. Fatal errors are *StageError.
func Run(ctx context.Context, dets []models.Detection, opts Options) (*Output, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.MinTrackLength <= 0 {
		opts.MinTrackLength = DefaultMinTrackLength
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}

	if err := Validate(dets, opts.NClusters); err != nil {
		return nil, stageErr(StageValidate, err)
	}
	log.Info("clustering input", "detections", len(dets), "features", len(dets[0].Feature),
		"n_clusters", opts.NClusters, "max_common_frames", opts.MaxCommonFrames)

	out := &Output{KRequested: opts.NClusters}

	start := time.Now()
	kept, report := FilterDetections(dets, opts.NClusters, opts.MinTrackLength)
	out.Filter = report
	log.Info("filtered detections",
		"max_tracks_per_frame", report.MaxTracksFrame,
		"dropped_frames", len(report.DroppedFrames),
		"dropped_tracks", len(report.DroppedTracks),
		"min_track_length", opts.MinTrackLength,
		"remaining", len(kept),
		"mean_track_length", report.MeanTrackLength,
	)
	if len(kept) == 0 {
		return nil, stageErr(StageFilter, ErrNoTracks)
	}
	observe(StageFilter, start)

	start = time.Now()
	descs, idx, err := Aggregate(kept)
	if err != nil {
		return nil, stageErr(StageAggregate, err)
	}
	out.Descriptors, out.Index = descs, idx
	observe(StageAggregate, start)

	start = time.Now()
	out.Cooccur, out.CacheHit = cooccurrence(ctx, descs, opts, log)
	observe(StageCooccur, start)

	start = time.Now()
	out.Constraints = DeriveConstraints(out.Cooccur, opts.MaxCommonFrames)
	log.Info("derived constraints", "cannot_link", len(out.Constraints.CannotLink),
		"max_common_frames", opts.MaxCommonFrames)
	observability.ConstraintsDerived.Observe(float64(len(out.Constraints.CannotLink)))
	observe(StageConstraints, start)

	start = time.Now()
	out.RefFrame, out.Seeds = ReferenceFrame(kept, idx)
	out.KEffective, out.KClamped = EffectiveK(opts.NClusters, idx.Len())
	if out.KClamped {
		log.Warn("fewer tracks than requested clusters, clamping k",
			"requested", opts.NClusters, "k", out.KEffective)
	}
	log.Info("reference frame selected", "frame", out.RefFrame, "seeds", len(out.Seeds))
	observe(StageInitialize, start)

	if err := ctx.Err(); err != nil {
		return nil, stageErr(StageKMeans, err)
	}

	start = time.Now()
	res, err := KMeans(Vectors(descs), out.KEffective, out.Constraints, KMeansOptions{
		Seeds:         out.Seeds,
		MaxIterations: opts.MaxIterations,
		Spherical:     true,
	})
	observe(StageKMeans, start)
	if err != nil {
		var inf *InfeasibleError
		if errors.As(err, &inf) {
			inf.TrackID = idx.ID(inf.Index)
		}
		return nil, stageErr(StageKMeans, err)
	}
	out.Result = res
	observability.KMeansIterations.Observe(float64(res.Iterations))
	observability.TracksClustered.Add(float64(idx.Len()))

	if res.Status == StatusNotConverged {
		if !opts.AcceptNonConverged {
			return nil, stageErr(StageKMeans,
				fmt.Errorf("%w after %d iterations", ErrNotConverged, res.Iterations))
		}
		log.Warn("k-means reached the iteration cap, keeping best assignment",
			"iterations", res.Iterations)
	}
	if res.K() < out.KEffective {
		log.Warn("k-means left clusters empty", "k_effective", out.KEffective, "clusters", res.K())
	}
	log.Info("clustered tracks", "tracks", idx.Len(), "clusters", res.K(),
		"iterations", res.Iterations, "status", res.Status.String())

	start = time.Now()
	out.Rows, err = MapResults(kept, idx, res.Labels)
	if err != nil {
		return nil, stageErr(StageMap, err)
	}
	observe(StageMap, start)

	return out, nil
}

// Validate rejects input the pipeline cannot work on before any clustering
// is attempted.
func Validate(dets []models.Detection, nClusters int) error {
	if len(dets) == 0 {
		return ErrEmptyInput
	}
	if nClusters < 1 {
		return fmt.Errorf("%w: n_clusters must be positive, got %d", ErrMalformedInput, nClusters)
	}
	dim := len(dets[0].Feature)
	if dim == 0 {
		return fmt.Errorf("%w: no feature columns", ErrMalformedInput)
	}
	for i, d := range dets {
		if d.FrameID < 0 || d.TrackID < 0 {
			return fmt.Errorf("%w: row %d has negative frame or track id", ErrMalformedInput, i)
		}
		if len(d.Feature) != dim {
			return fmt.Errorf("%w: row %d has %d features, want %d", ErrMalformedInput, i, len(d.Feature), dim)
		}
	}
	return nil
}

// cooccurrence returns the co-occurrence matrix, going through the cache
// according to opts.CacheMode. Cache failures only cost a recomputation.
func cooccurrence(ctx context.Context, descs []Descriptor, opts Options, log *slog.Logger) (*mat.SymDense, bool) {
	if opts.Cache == nil || opts.CacheMode == CacheOff {
		log.Info("computing common frames matrix", "tracks", len(descs))
		return BuildCooccurrence(descs), false
	}

	key := CooccurrenceKey(descs)
	if opts.CacheMode == CacheReuse {
		m, err := opts.Cache.Load(ctx, key)
		switch {
		case err != nil:
			log.Warn("load common frames matrix, recomputing", "key", key, "error", err)
			observability.CacheLookups.WithLabelValues("error").Inc()
		case m == nil:
			observability.CacheLookups.WithLabelValues("miss").Inc()
		case m.SymmetricDim() != len(descs):
			log.Warn("cached common frames matrix has wrong size, recomputing",
				"key", key, "size", m.SymmetricDim(), "tracks", len(descs))
			observability.CacheLookups.WithLabelValues("miss").Inc()
		default:
			log.Info("loaded common frames matrix", "key", key)
			observability.CacheLookups.WithLabelValues("hit").Inc()
			return m, true
		}
	}

	log.Info("computing common frames matrix", "tracks", len(descs))
	m := BuildCooccurrence(descs)
	if err := opts.Cache.Store(ctx, key, m); err != nil {
		log.Warn("save common frames matrix", "key", key, "error", err)
	} else {
		log.Info("saved common frames matrix", "key", key)
	}
	return m, false
}

func observe(stage string, start time.Time) {
	observability.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
