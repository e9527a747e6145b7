package transform

import (
	"fmt"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// MinDisparityEpsilon bounds the disparity used for depth recovery away from zero.
const MinDisparityEpsilon = 1e-3

// StereoCameraModel is a rectified stereo pair. Both cameras share the same intrinsics and
// the right camera sits Baseline meters along the +X axis of the left one.
type StereoCameraModel struct {
	Intrinsics *PinholeCameraIntrinsics `json:"intrinsic_parameters"`
	Baseline   float64                  `json:"baseline_m"`
}

// NewStereoCameraModel returns a validated stereo model.
func NewStereoCameraModel(intrinsics *PinholeCameraIntrinsics, baseline float64) (*StereoCameraModel, error) {
	cam := &StereoCameraModel{Intrinsics: intrinsics, Baseline: baseline}
	if err := cam.CheckValid(); err != nil {
		return nil, err
	}
	return cam, nil
}

// CheckValid checks the intrinsics and the baseline.
func (cam *StereoCameraModel) CheckValid() error {
	if cam == nil {
		return NewNoIntrinsicsError("stereo camera does not exist")
	}
	if err := cam.Intrinsics.CheckValid(); err != nil {
		return err
	}
	if cam.Baseline <= 0 || math.IsInf(cam.Baseline, 0) || math.IsNaN(cam.Baseline) {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid baseline = %#v", cam.Baseline))
	}
	return nil
}

// Disparity is the horizontal offset between the left and the right projection of the same point.
func (cam *StereoCameraModel) Disparity(left, right r2.Point) float64 {
	return left.X - right.X
}

// DepthFromDisparity recovers depth as fx * baseline / disparity. Disparities below
// MinDisparityEpsilon are clamped, so tiny disparities yield very large depths that callers
// are expected to discard.
func (cam *StereoCameraModel) DepthFromDisparity(disparity float64) float64 {
	return cam.Intrinsics.Fx * cam.Baseline / math.Max(disparity, MinDisparityEpsilon)
}

// DisparityFromDepth is the inverse of DepthFromDisparity for depths in front of the rig.
func (cam *StereoCameraModel) DisparityFromDepth(depth float64) (float64, error) {
	if depth <= 0 {
		return 0, errors.Wrapf(ErrPointBehindCamera, "depth %v", depth)
	}
	return cam.Intrinsics.Fx * cam.Baseline / depth, nil
}

// Triangulate returns the 3D point in the left camera frame seen at the left pixel with the given disparity.
func (cam *StereoCameraModel) Triangulate(left r2.Point, disparity float64) r3.Vector {
	return cam.Intrinsics.PixelToPoint(left, cam.DepthFromDisparity(disparity))
}

// ProjectStereo projects a point in the left camera frame into both images.
func (cam *StereoCameraModel) ProjectStereo(pt r3.Vector) (r2.Point, r2.Point, error) {
	left, err := cam.Intrinsics.PointToPixel(pt)
	if err != nil {
		return r2.Point{}, r2.Point{}, err
	}
	right, err := cam.Intrinsics.PointToPixel(r3.Vector{X: pt.X - cam.Baseline, Y: pt.Y, Z: pt.Z})
	if err != nil {
		return r2.Point{}, r2.Point{}, err
	}
	return left, right, nil
}
