// Package odometry implements stereo visual odometry: features are matched across the two
// cameras of a frame and against the previous frame, and the relative camera motion is
// refined with Levenberg-Marquardt.
package odometry

import (
	"context"

	"github.com/pkg/errors"

	"go.viam.com/stereovo/spatialmath"
	"go.viam.com/stereovo/vision/keypoints"
)

// StereoFrame holds the left keypoints of a frame that found a stereo match with a positive
// disparity, together with those disparities. Left keeps every left keypoint, matched or not,
// since tracking into a frame only needs pixels. It is never modified after creation.
type StereoFrame struct {
	Features    keypoints.FeatureSet
	Disparities []float64
	Left        keypoints.FeatureSet
	// Detected is the number of left keypoints before stereo matching.
	Detected int
}

// Len returns the number of stereo matched keypoints.
func (sf *StereoFrame) Len() int {
	return sf.Features.Len()
}

// Compact drops the unmatched left keypoints. Only the stereo matched part is needed once the
// frame becomes the previous one.
func (sf *StereoFrame) Compact() *StereoFrame {
	return &StereoFrame{Features: sf.Features, Disparities: sf.Disparities, Detected: sf.Detected}
}

// trackable is the keypoint set the next frame's keypoints are matched into.
func (sf *StereoFrame) trackable() keypoints.FeatureSet {
	if sf.Left.Len() == 0 {
		return sf.Features
	}
	return sf.Left
}

// NewStereoFrame stereo matches the left and right features and keeps only the matched left
// keypoints, compacted, with their disparities.
func NewStereoFrame(left, right keypoints.FeatureSet, cfg *Config) (*StereoFrame, error) {
	matches, err := keypoints.StereoMatch(left, right, &cfg.StereoMatching)
	if err != nil {
		return nil, errors.Wrap(err, "stereo matching failed")
	}
	kept := make([]int, 0, matches.Count())
	disparities := make([]float64, 0, matches.Count())
	for i, j := range matches {
		if j == keypoints.NoMatch {
			continue
		}
		d := cfg.Camera.Disparity(left.Points[i], right.Points[j])
		if !(d > 0) {
			continue
		}
		kept = append(kept, i)
		disparities = append(disparities, d)
	}
	return &StereoFrame{
		Features:    left.Subset(kept),
		Disparities: disparities,
		Left:        left,
		Detected:    left.Len(),
	}, nil
}

// Motion3D is the estimated motion between two stereo frames along with the number of
// correspondences that went into it.
type Motion3D struct {
	Estimate        *PoseEstimate
	TemporalMatches int
	Landmarks       int
}

// EstimateMotion matches the stereo keypoints of prev against all left keypoints of curr,
// builds landmarks from the disparities of prev and optimizes the transform taking points from
// the prev camera frame into the curr one. curr needs no stereo matches of its own.
// The returned Motion3D carries the match counts even when the optimization fails.
func EstimateMotion(
	ctx context.Context,
	prev, curr *StereoFrame,
	cfg *Config,
	seed *spatialmath.Pose,
) (*Motion3D, error) {
	target := curr.trackable()
	temporal, err := keypoints.TemporalMatch(prev.Features, target, &cfg.TemporalMatching)
	if err != nil {
		return nil, errors.Wrap(err, "temporal matching failed")
	}
	landmarks := AssembleLandmarks(
		prev.Features.Points, prev.Disparities, temporal, target.Points, cfg.Camera, cfg.Landmarks)
	motion := &Motion3D{TemporalMatches: temporal.Count(), Landmarks: len(landmarks)}

	est, err := OptimizePose(ctx, landmarks, cfg.Camera.Intrinsics, cfg.Optimizer, seed)
	if err != nil {
		return motion, err
	}
	motion.Estimate = est
	return motion, nil
}
