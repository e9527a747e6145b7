package keypoints

import (
	"math"
	"runtime"
	"sort"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"
	"go.viam.com/utils"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
)

// NoMatch marks a source keypoint without a correspondence.
const NoMatch = -1

// parallelMinSources is the number of source keypoints above which matching fans out over goroutines.
const parallelMinSources = 512

// Matches holds one entry per source keypoint: the index of its match in the target set, or NoMatch.
// Every target index appears at most once.
type Matches []int

// NewMatches returns n unmatched entries.
func NewMatches(n int) Matches {
	m := make(Matches, n)
	for i := range m {
		m[i] = NoMatch
	}
	return m
}

// Count returns the number of matched source keypoints.
func (m Matches) Count() int {
	return lo.CountBy(m, func(idx int) bool { return idx != NoMatch })
}

// DescriptorMatch contains the index of a match in the first and second set of descriptors.
type DescriptorMatch struct {
	Idx1 int
	Idx2 int
}

// Pairs lists the matched (source, target) index pairs in source order.
func (m Matches) Pairs() []DescriptorMatch {
	pairs := make([]DescriptorMatch, 0, len(m))
	for i, j := range m {
		if j != NoMatch {
			pairs = append(pairs, DescriptorMatch{Idx1: i, Idx2: j})
		}
	}
	return pairs
}

// MatchingConfig contains the parameters for matching descriptors.
type MatchingConfig struct {
	// MaxEpipolarDist is the largest row difference, in pixels, between stereo candidates.
	// It is ignored by temporal matching.
	MaxEpipolarDist float64 `json:"max_epipolar_dist_px"`
	// MinDistanceRatio is the ratio test threshold: the best distance must be strictly lower
	// than this fraction of the second best.
	MinDistanceRatio float64 `json:"min_distance_ratio"`
	// MaxDist rejects matches whose hamming distance is not below it. 0 disables the check.
	MaxDist int `json:"max_dist"`
	// RequirePositiveDisparity drops stereo candidates that are not left of the left keypoint.
	RequirePositiveDisparity bool `json:"require_positive_disparity"`
}

// Validate ensures all parts of the MatchingConfig are valid.
func (cfg *MatchingConfig) Validate(path string) error {
	var err error
	if cfg.MaxEpipolarDist < 0 || math.IsNaN(cfg.MaxEpipolarDist) {
		err = multierr.Append(err, utils.NewConfigValidationError(path,
			errors.New("max_epipolar_dist_px should be >= 0")))
	}
	if !(cfg.MinDistanceRatio > 0 && cfg.MinDistanceRatio <= 1) {
		err = multierr.Append(err, utils.NewConfigValidationError(path,
			errors.New("min_distance_ratio should be in (0, 1]")))
	}
	if cfg.MaxDist < 0 {
		err = multierr.Append(err, utils.NewConfigValidationError(path,
			errors.New("max_dist should be >= 0")))
	}
	return err
}

// ranking keeps the best and second best distance seen for one source descriptor.
type ranking struct {
	best       int
	bestDist   int
	secondDist int
}

func newRanking() ranking {
	return ranking{best: NoMatch, bestDist: math.MaxInt, secondDist: math.MaxInt}
}

// add ranks candidate j; equal distances go to the lowest candidate index.
func (r *ranking) add(j, dist int) {
	if dist < r.bestDist || (dist == r.bestDist && j < r.best) {
		r.secondDist = r.bestDist
		r.best, r.bestDist = j, dist
		return
	}
	if dist < r.secondDist {
		r.secondDist = dist
	}
}

func (r *ranking) accept(cfg *MatchingConfig) bool {
	if r.best == NoMatch {
		return false
	}
	if cfg.MaxDist > 0 && r.bestDist >= cfg.MaxDist {
		return false
	}
	if r.secondDist == math.MaxInt {
		// a lone candidate is unambiguous
		return true
	}
	return float64(r.bestDist) < cfg.MinDistanceRatio*float64(r.secondDist)
}

// StereoMatch matches every left keypoint to a right keypoint on (nearly) the same image row.
// Candidates are right keypoints whose row differs by at most MaxEpipolarDist; among them the
// descriptor ratio test picks the winner. The result has one entry per left keypoint.
func StereoMatch(left, right FeatureSet, cfg *MatchingConfig) (Matches, error) {
	if err := checkInputs(left, right); err != nil {
		return nil, err
	}
	matches := NewMatches(left.Len())
	if left.Len() == 0 || right.Len() == 0 {
		return matches, nil
	}

	// right keypoints sorted by row so each left keypoint only visits its epipolar band
	rows := make([]float64, right.Len())
	for j, pt := range right.Points {
		rows[j] = pt.Y
	}
	order := make([]int, len(rows))
	floats.Argsort(rows, order)

	dists := make([]int, left.Len())
	rankRange(left.Len(), func(i int) {
		yl := left.Points[i].Y
		r := newRanking()
		for k := sort.SearchFloat64s(rows, yl-cfg.MaxEpipolarDist); k < len(rows); k++ {
			if rows[k] > yl+cfg.MaxEpipolarDist {
				break
			}
			j := order[k]
			if cfg.RequirePositiveDisparity && left.Points[i].X-right.Points[j].X <= 0 {
				continue
			}
			r.add(j, hamming(left.Descriptors[i], right.Descriptors[j]))
		}
		if r.accept(cfg) {
			matches[i], dists[i] = r.best, r.bestDist
		}
	})
	enforceUnique(matches, dists, right.Len())
	return matches, nil
}

// TemporalMatch matches every keypoint of the previous frame against all keypoints of the
// current frame with the descriptor ratio test. The result has one entry per previous keypoint.
func TemporalMatch(prev, curr FeatureSet, cfg *MatchingConfig) (Matches, error) {
	if err := checkInputs(prev, curr); err != nil {
		return nil, err
	}
	matches := NewMatches(prev.Len())
	if prev.Len() == 0 || curr.Len() == 0 {
		return matches, nil
	}

	dists := make([]int, prev.Len())
	rankRange(prev.Len(), func(i int) {
		r := newRanking()
		for j, desc := range curr.Descriptors {
			r.add(j, hamming(prev.Descriptors[i], desc))
		}
		if r.accept(cfg) {
			matches[i], dists[i] = r.best, r.bestDist
		}
	})
	enforceUnique(matches, dists, curr.Len())
	return matches, nil
}

func checkInputs(src, dst FeatureSet) error {
	if err := src.Validate(); err != nil {
		return errors.Wrap(err, "invalid source features")
	}
	if err := dst.Validate(); err != nil {
		return errors.Wrap(err, "invalid target features")
	}
	_, err := descriptorWidth(src, dst)
	return err
}

// rankRange runs fn for every source index. Each call only writes its own index, so large
// inputs are split across goroutines without changing the result.
func rankRange(n int, fn func(i int)) {
	if n < parallelMinSources {
		for i := 0; i < n; i++ {
			fn(i)
		}
		return
	}
	workers := runtime.GOMAXPROCS(0)
	chunk := (n + workers - 1) / workers
	var group errgroup.Group
	for from := 0; from < n; from += chunk {
		to := from + chunk
		if to > n {
			to = n
		}
		group.Go(func() error {
			for i := from; i < to; i++ {
				fn(i)
			}
			return nil
		})
	}
	//nolint:errcheck
	group.Wait()
}

// enforceUnique keeps, for every target claimed by several sources, only the source with the
// smallest distance (lowest source index on ties).
func enforceUnique(matches Matches, dists []int, nTargets int) {
	owner := make([]int, nTargets)
	for j := range owner {
		owner[j] = NoMatch
	}
	for i, j := range matches {
		if j == NoMatch {
			continue
		}
		if o := owner[j]; o == NoMatch || dists[i] < dists[o] {
			owner[j] = i
		}
	}
	for i, j := range matches {
		if j != NoMatch && owner[j] != i {
			matches[i] = NoMatch
		}
	}
}
