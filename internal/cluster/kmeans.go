package cluster

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// DefaultMaxIterations caps the assign/update passes of KMeans.
const DefaultMaxIterations = 300

// Status is the outcome of a KMeans call.
type Status int

const (
	StatusConverged Status = iota
	StatusNotConverged
	StatusInfeasible
)

func (s Status) String() string {
	switch s {
	case StatusConverged:
		return "converged"
	case StatusNotConverged:
		return "not_converged"
	case StatusInfeasible:
		return "infeasible"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// KMeansOptions configures KMeans.
type KMeansOptions struct {
	// Seeds are positions whose vectors become the initial centroids. Extra
	// seeds beyond k are ignored; missing ones are filled farthest-first.
	Seeds         []int
	MaxIterations int
	// Spherical ranks clusters by cosine similarity and keeps centroids at
	// unit length. Otherwise squared Euclidean distance and plain means are
	// used.
	Spherical bool
}

// Result is the clustering of a KMeans call.
type Result struct {
	Labels     []int       // cluster of each point, in [0, len(Centroids))
	Centroids  [][]float64 // one per non-empty cluster
	Sizes      []int
	Iterations int
	Status     Status
	// Objective is the summed similarity of every point to its centroid.
	Objective float64
}

// K returns the number of clusters in the result.
func (r *Result) K() int { return len(r.Centroids) }

// better prefers more non-empty clusters, then a higher objective.
func (r *Result) better(o *Result) bool {
	if r.K() != o.K() {
		return r.K() > o.K()
	}
	return r.Objective > o.Objective
}

// reseed records that cluster was emptied and restarted from point.
type reseed struct {
	cluster, point int
}

// KMeans partitions data into k clusters so that no cannot-link pair shares
// a cluster and every must-link component stays together.
//
// Points are visited in index order and take the most similar cluster that
// does not already hold one of their cannot-link partners; equal scores keep
// a point in its previous cluster. A point picked to restart an empty
// cluster is moved into it on the next pass. When a point has no allowed
// cluster the call fails with an *InfeasibleError and a result whose Status
// is StatusInfeasible. Reaching MaxIterations without a stable assignment
// returns the best assignment seen (see Result.better) with
// StatusNotConverged and a nil error.
func KMeans(data [][]float64, k int, cons Constraints, opts KMeansOptions) (*Result, error) {
	n := len(data)
	if n == 0 {
		return nil, ErrNoTracks
	}
	if k < 1 || k > n {
		return nil, fmt.Errorf("%w: k=%d for %d points", ErrMalformedInput, k, n)
	}
	dim := len(data[0])
	for i, v := range data {
		if len(v) != dim {
			return nil, fmt.Errorf("%w: point %d has dimension %d, want %d", ErrMalformedInput, i, len(v), dim)
		}
	}
	if err := cons.Validate(n); err != nil {
		return nil, err
	}
	cl, err := buildClosure(n, cons)
	if err != nil {
		return nil, err
	}

	maxIter := opts.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}

	centers := initCentroids(data, k, opts.Seeds, opts.Spherical)

	var (
		prev []int
		pins []reseed
		best *Result
	)
	for iter := 1; iter <= maxIter; iter++ {
		labels, err := assign(data, centers, cl, prev, pins, opts.Spherical)
		if err != nil {
			return &Result{Iterations: iter, Status: StatusInfeasible}, err
		}

		centers, pins = updateCentroids(data, labels, centers, opts.Spherical)

		stable := prev != nil && equalLabels(prev, labels) && len(pins) == 0
		prev = labels
		if stable {
			return finish(data, labels, k, iter, StatusConverged, opts.Spherical), nil
		}
		// Constrained assignment can cycle, so the last pass is not
		// necessarily the best one.
		if cand := finish(data, labels, k, maxIter, StatusNotConverged, opts.Spherical); best == nil || cand.better(best) {
			best = cand
		}
	}
	return best, nil
}

func initCentroids(data [][]float64, k int, seeds []int, spherical bool) [][]float64 {
	n := len(data)
	used := make([]bool, n)
	chosen := make([]int, 0, k)
	for _, s := range seeds {
		if len(chosen) == k {
			break
		}
		if s < 0 || s >= n || used[s] {
			continue
		}
		used[s] = true
		chosen = append(chosen, s)
	}

	// Farthest-first fill: take the point least similar to its closest
	// chosen point. With nothing chosen yet this starts from point 0.
	for len(chosen) < k {
		pick, pickScore := -1, 0.0
		for i := 0; i < n; i++ {
			if used[i] {
				continue
			}
			if len(chosen) == 0 {
				pick = i
				break
			}
			best := similarity(data[i], data[chosen[0]], spherical)
			for _, c := range chosen[1:] {
				if s := similarity(data[i], data[c], spherical); s > best {
					best = s
				}
			}
			if pick < 0 || best < pickScore {
				pick, pickScore = i, best
			}
		}
		used[pick] = true
		chosen = append(chosen, pick)
	}

	centers := make([][]float64, k)
	for j, idx := range chosen {
		centers[j] = seedCentroid(data[idx], spherical)
	}
	return centers
}

func seedCentroid(v []float64, spherical bool) []float64 {
	c := make([]float64, len(v))
	copy(c, v)
	if spherical {
		if norm := floats.Norm(c, 2); norm > 0 {
			floats.Scale(1/norm, c)
		}
	}
	return c
}

// similarity is higher for closer vectors: cosine similarity in spherical
// mode, negative squared Euclidean distance otherwise.
func similarity(a, b []float64, spherical bool) float64 {
	if spherical {
		na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
		if na == 0 || nb == 0 {
			return 0
		}
		return floats.Dot(a, b) / (na * nb)
	}
	d := floats.Distance(a, b, 2)
	return -d * d
}

// rankClusters orders cluster ids by decreasing similarity to v. Ties go to
// prefer, then to the lowest id; prefer < 0 means no preference.
func rankClusters(v []float64, centers [][]float64, spherical bool, prefer int) []int {
	scores := make([]float64, len(centers))
	order := make([]int, len(centers))
	for c := range centers {
		scores[c] = similarity(v, centers[c], spherical)
		order[c] = c
	}
	sort.SliceStable(order, func(a, b int) bool {
		sa, sb := scores[order[a]], scores[order[b]]
		if sa != sb {
			return sa > sb
		}
		return order[a] == prefer && order[b] != prefer
	})
	return order
}

// assign labels every point. Pinned points go first into the clusters they
// restart; prev, when set, breaks score ties in favour of the old label.
func assign(data [][]float64, centers [][]float64, cl *closure, prev []int, pins []reseed, spherical bool) ([]int, error) {
	labels := make([]int, len(data))
	for i := range labels {
		labels[i] = -1
	}
	for _, p := range pins {
		if labels[p.point] != -1 {
			continue
		}
		group := cl.members[cl.comp[p.point]]
		if violates(group, p.cluster, labels, cl) {
			continue
		}
		for _, m := range group {
			labels[m] = p.cluster
		}
	}
	for i := range data {
		if labels[i] != -1 {
			continue // pinned, or placed with its must-link component
		}
		group := cl.members[cl.comp[i]]
		prefer := -1
		if prev != nil {
			prefer = prev[i]
		}
		order := rankClusters(data[i], centers, spherical, prefer)
		placed := false
		for _, c := range order {
			if violates(group, c, labels, cl) {
				continue
			}
			for _, m := range group {
				labels[m] = c
			}
			placed = true
			break
		}
		if !placed {
			return nil, &InfeasibleError{Index: i, TrackID: -1, Exhausted: order}
		}
	}
	return labels, nil
}

func violates(group []int, c int, labels []int, cl *closure) bool {
	for _, m := range group {
		for _, other := range cl.cl[m] {
			if labels[other] == c {
				return true
			}
		}
	}
	return false
}

// updateCentroids recomputes centroids from labels. Clusters left empty are
// reseeded from the least central member of the largest cluster; the
// returned reseeds pin those points for the next pass.
func updateCentroids(data [][]float64, labels []int, old [][]float64, spherical bool) ([][]float64, []reseed) {
	k := len(old)
	dim := len(data[0])
	sums := make([][]float64, k)
	for c := range sums {
		sums[c] = make([]float64, dim)
	}
	sizes := make([]int, k)
	for i, c := range labels {
		floats.Add(sums[c], data[i])
		sizes[c]++
	}

	centers := make([][]float64, k)
	var empty []int
	for c := 0; c < k; c++ {
		switch {
		case sizes[c] == 0:
			empty = append(empty, c)
		case spherical:
			if norm := floats.Norm(sums[c], 2); norm > 0 {
				floats.Scale(1/norm, sums[c])
				centers[c] = sums[c]
			} else {
				centers[c] = old[c]
			}
		default:
			floats.Scale(1/float64(sizes[c]), sums[c])
			centers[c] = sums[c]
		}
	}
	if len(empty) == 0 {
		return centers, nil
	}

	largest := 0
	for c := 1; c < k; c++ {
		if sizes[c] > sizes[largest] {
			largest = c
		}
	}
	taken := make(map[int]bool)
	pins := make([]reseed, 0, len(empty))
	for _, c := range empty {
		pick := leastCentral(data, labels, centers[largest], largest, taken, spherical)
		if pick < 0 {
			pick = leastCentral(data, labels, centers[largest], -1, taken, spherical)
		}
		taken[pick] = true
		centers[c] = seedCentroid(data[pick], spherical)
		pins = append(pins, reseed{cluster: c, point: pick})
	}
	return centers, pins
}

// leastCentral returns the point of cluster c (any cluster when c < 0) with
// the lowest similarity to center, skipping taken points. Ties go to the
// lowest index. -1 means no candidate.
func leastCentral(data [][]float64, labels []int, center []float64, c int, taken map[int]bool, spherical bool) int {
	pick, pickScore := -1, 0.0
	for i, l := range labels {
		if (c >= 0 && l != c) || taken[i] {
			continue
		}
		s := similarity(data[i], center, spherical)
		if pick < 0 || s < pickScore {
			pick, pickScore = i, s
		}
	}
	return pick
}

func equalLabels(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// finish compacts cluster ids to 0..k'-1 keeping their relative order and
// computes the final centroids from the labels.
func finish(data [][]float64, labels []int, k, iterations int, status Status, spherical bool) *Result {
	sizes := make([]int, k)
	for _, c := range labels {
		sizes[c]++
	}
	remap := make([]int, k)
	next := 0
	for c := 0; c < k; c++ {
		if sizes[c] == 0 {
			remap[c] = -1
			continue
		}
		remap[c] = next
		next++
	}

	res := &Result{
		Labels:     make([]int, len(labels)),
		Centroids:  make([][]float64, next),
		Sizes:      make([]int, next),
		Iterations: iterations,
		Status:     status,
	}
	dim := len(data[0])
	for c := range res.Centroids {
		res.Centroids[c] = make([]float64, dim)
	}
	for i, c := range labels {
		nc := remap[c]
		res.Labels[i] = nc
		res.Sizes[nc]++
		floats.Add(res.Centroids[nc], data[i])
	}
	for c, sum := range res.Centroids {
		if spherical {
			if norm := floats.Norm(sum, 2); norm > 0 {
				floats.Scale(1/norm, sum)
			}
		} else {
			floats.Scale(1/float64(res.Sizes[c]), sum)
		}
	}
	for i, c := range res.Labels {
		res.Objective += similarity(data[i], res.Centroids[c], spherical)
	}
	return res
}
