package odometry

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"

	"go.viam.com/stereovo/rimage/transform"
	"go.viam.com/stereovo/vision/keypoints"
)

// Landmark is a 3D point in the previous camera frame paired with the pixel where it was
// observed in the current frame.
type Landmark struct {
	Point r3.Vector
	Pixel r2.Point
	// Sigma is the pixel noise of the observation; residuals are divided by it.
	Sigma float64
}

// usable reports whether the landmark can constrain a pose.
func (lm Landmark) usable() bool {
	return isFinite(lm.Point.X) && isFinite(lm.Point.Y) && isFinite(lm.Point.Z) && lm.Point.Z > 0 &&
		isFinite(lm.Pixel.X) && isFinite(lm.Pixel.Y) &&
		isFinite(lm.Sigma) && lm.Sigma > 0
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// AssembleLandmarks pairs the previous keypoints that have both a stereo disparity and a
// temporal match with their pixel in the current frame. prevDisparities is index aligned with
// prevKps, and temporal has one entry per previous keypoint. Keypoints without a positive
// disparity, without a match, or farther than cfg.MaxDepth are skipped.
func AssembleLandmarks(
	prevKps []r2.Point,
	prevDisparities []float64,
	temporal keypoints.Matches,
	currKps []r2.Point,
	stereo *transform.StereoCameraModel,
	cfg LandmarkConfig,
) []Landmark {
	var landmarks []Landmark
	for i, j := range temporal {
		if j == keypoints.NoMatch || j < 0 || j >= len(currKps) || i >= len(prevKps) || i >= len(prevDisparities) {
			continue
		}
		disparity := prevDisparities[i]
		if !(disparity > 0) || math.IsInf(disparity, 0) {
			continue
		}
		depth := stereo.DepthFromDisparity(disparity)
		if depth > cfg.MaxDepth {
			continue
		}
		curr := currKps[j]
		landmarks = append(landmarks, Landmark{
			Point: stereo.Intrinsics.PixelToPoint(prevKps[i], depth),
			Pixel: r2.Point{X: curr.X, Y: curr.Y},
			Sigma: cfg.PixelSigma,
		})
	}
	return landmarks
}
