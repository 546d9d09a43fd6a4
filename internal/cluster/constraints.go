package cluster

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Pair is an unordered pair of track positions stored with I < J.
type Pair struct {
	I, J int
}

// NewPair orders a and b.
func NewPair(a, b int) Pair {
	if a > b {
		a, b = b, a
	}
	return Pair{I: a, J: b}
}

// Constraints holds pairwise clustering constraints over track positions.
type Constraints struct {
	MustLink   []Pair
	CannotLink []Pair
}

// DeriveConstraints marks (i, j) cannot-link when the tracks share more than
// maxCommonFrames frames. Must-link is never derived.
func DeriveConstraints(m mat.Symmetric, maxCommonFrames int) Constraints {
	var c Constraints
	n := m.SymmetricDim()
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if CommonFrames(m, i, j) > maxCommonFrames {
				c.CannotLink = append(c.CannotLink, Pair{I: i, J: j})
			}
		}
	}
	return c
}

// Validate checks that all pairs reference distinct positions below n and
// that no pair is both must-link and cannot-link.
func (c Constraints) Validate(n int) error {
	ml := make(map[Pair]bool, len(c.MustLink))
	for _, p := range c.MustLink {
		if err := checkPair(p, n); err != nil {
			return err
		}
		ml[NewPair(p.I, p.J)] = true
	}
	for _, p := range c.CannotLink {
		if err := checkPair(p, n); err != nil {
			return err
		}
		if ml[NewPair(p.I, p.J)] {
			return fmt.Errorf("%w: (%d, %d)", ErrConflictingConstraints, p.I, p.J)
		}
	}
	return nil
}

func checkPair(p Pair, n int) error {
	if p.I < 0 || p.J < 0 || p.I >= n || p.J >= n || p.I == p.J {
		return fmt.Errorf("%w: constraint pair (%d, %d) out of range for %d tracks",
			ErrMalformedInput, p.I, p.J, n)
	}
	return nil
}

// closure expands must-link into connected components and lifts cannot-link
// onto them. comp[i] is the component of i, members lists the positions of
// each component and cl[i] the positions i may not share a cluster with.
type closure struct {
	comp    []int
	members [][]int
	cl      [][]int
}

func buildClosure(n int, c Constraints) (*closure, error) {
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	for _, p := range c.MustLink {
		a, b := find(p.I), find(p.J)
		if a < b {
			parent[b] = a
		} else if b < a {
			parent[a] = b
		}
	}

	cl := &closure{comp: make([]int, n), cl: make([][]int, n)}
	roots := make(map[int]int)
	for i := 0; i < n; i++ {
		r := find(i)
		ci, ok := roots[r]
		if !ok {
			ci = len(cl.members)
			roots[r] = ci
			cl.members = append(cl.members, nil)
		}
		cl.comp[i] = ci
		cl.members[ci] = append(cl.members[ci], i)
	}

	compCL := make([]map[int]bool, len(cl.members))
	for _, p := range c.CannotLink {
		a, b := cl.comp[p.I], cl.comp[p.J]
		if a == b {
			return nil, fmt.Errorf("%w: (%d, %d) are must-linked transitively",
				ErrConflictingConstraints, p.I, p.J)
		}
		if compCL[a] == nil {
			compCL[a] = make(map[int]bool)
		}
		if compCL[b] == nil {
			compCL[b] = make(map[int]bool)
		}
		compCL[a][b] = true
		compCL[b][a] = true
	}
	for i := 0; i < n; i++ {
		for other := range compCL[cl.comp[i]] {
			cl.cl[i] = append(cl.cl[i], cl.members[other]...)
		}
		sort.Ints(cl.cl[i])
	}
	return cl, nil
}
