// Package keypoints contains the keypoint and descriptor types produced by an external
// feature detector, and the descriptor matching used to track them.
package keypoints

import (
	"context"
	"image"
	"math/bits"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
)

// Descriptor is a binary feature descriptor packed into 64 bit words (e.g. 4 words for ORB).
type Descriptor []uint64

// FeatureSet holds the keypoints of one image and their descriptors, index aligned.
type FeatureSet struct {
	Points      []r2.Point   `json:"points"`
	Descriptors []Descriptor `json:"descriptors"`
}

// Detector finds keypoints and computes their descriptors on a single image.
type Detector interface {
	Detect(ctx context.Context, img image.Image) (FeatureSet, error)
}

// DetectorFunc adapts a function to the Detector interface.
type DetectorFunc func(ctx context.Context, img image.Image) (FeatureSet, error)

// Detect calls f.
func (f DetectorFunc) Detect(ctx context.Context, img image.Image) (FeatureSet, error) {
	return f(ctx, img)
}

// Len returns the number of keypoints.
func (fs FeatureSet) Len() int {
	return len(fs.Points)
}

// Validate checks that every keypoint has a descriptor and that all descriptors have the same width.
func (fs FeatureSet) Validate() error {
	if len(fs.Points) != len(fs.Descriptors) {
		return errors.Errorf("got %d keypoints but %d descriptors", len(fs.Points), len(fs.Descriptors))
	}
	_, err := descriptorWidth(fs)
	return err
}

// Subset returns the features at the given indices, in that order.
func (fs FeatureSet) Subset(indices []int) FeatureSet {
	out := FeatureSet{
		Points:      make([]r2.Point, len(indices)),
		Descriptors: make([]Descriptor, len(indices)),
	}
	for i, idx := range indices {
		out.Points[i] = fs.Points[idx]
		out.Descriptors[i] = fs.Descriptors[idx]
	}
	return out
}

// HammingDistance counts the differing bits of two descriptors.
func HammingDistance(d1, d2 Descriptor) (int, error) {
	if len(d1) != len(d2) {
		return -1, errors.New("descriptors must have same length")
	}
	return hamming(d1, d2), nil
}

func hamming(d1, d2 Descriptor) int {
	distance := 0
	for i := range d1 {
		distance += bits.OnesCount64(d1[i] ^ d2[i])
	}
	return distance
}

// descriptorWidth returns the common descriptor width of the sets, or 0 if they are all empty.
func descriptorWidth(sets ...FeatureSet) (int, error) {
	width := -1
	for _, fs := range sets {
		for _, d := range fs.Descriptors {
			switch {
			case width < 0:
				width = len(d)
			case len(d) != width:
				return 0, errors.Errorf("descriptor widths differ: %d != %d words", len(d), width)
			}
		}
	}
	if width < 0 {
		return 0, nil
	}
	return width, nil
}
