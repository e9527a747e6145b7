package odometry

import (
	"math"
	"math/rand"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/stereovo/rimage/transform"
	"go.viam.com/stereovo/spatialmath"
	"go.viam.com/stereovo/vision/keypoints"
)

func testCamera(t *testing.T) *transform.StereoCameraModel {
	t.Helper()
	cam, err := transform.NewStereoCameraModel(&transform.PinholeCameraIntrinsics{
		Width:  752,
		Height: 480,
		Fx:     500,
		Fy:     500,
		Ppx:    320,
		Ppy:    240,
	}, 0.2)
	test.That(t, err, test.ShouldBeNil)
	return cam
}

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Camera = testCamera(t)
	return cfg
}

// yawPose rotates by deg degrees about the vertical (y) axis of the camera, then translates.
func yawPose(t *testing.T, deg float64, trans r3.Vector) spatialmath.Pose {
	t.Helper()
	aa := &spatialmath.R4AA{Theta: deg * math.Pi / 180, RY: 1}
	rot, err := aa.RotationMatrix()
	test.That(t, err, test.ShouldBeNil)
	return spatialmath.NewPose(rot, trans)
}

func randomPoint(rng *rand.Rand) r3.Vector {
	return r3.Vector{
		X: (rng.Float64()*2 - 1) * 4,
		Y: (rng.Float64()*2 - 1) * 2,
		Z: 4 + rng.Float64()*8,
	}
}

// syntheticLandmarks projects random points through truth; noise is the pixel noise standard deviation.
func syntheticLandmarks(
	t *testing.T,
	rng *rand.Rand,
	n int,
	truth spatialmath.Pose,
	cam *transform.PinholeCameraIntrinsics,
	noise float64,
) []Landmark {
	t.Helper()
	landmarks := make([]Landmark, 0, n)
	for len(landmarks) < n {
		pt := randomPoint(rng)
		pixel, err := cam.PointToPixel(truth.Transform(pt))
		if err != nil || !cam.Contains(pixel) {
			continue
		}
		pixel.X += rng.NormFloat64() * noise
		pixel.Y += rng.NormFloat64() * noise
		landmarks = append(landmarks, Landmark{Point: pt, Pixel: pixel, Sigma: 2})
	}
	return landmarks
}

// world is a static scene of points with one fixed descriptor each.
type world struct {
	points      []r3.Vector
	descriptors []keypoints.Descriptor
}

func newWorld(rng *rand.Rand, n int) *world {
	w := &world{}
	for i := 0; i < n; i++ {
		w.points = append(w.points, randomPoint(rng))
		w.descriptors = append(w.descriptors, keypoints.Descriptor{rng.Uint64(), rng.Uint64(), rng.Uint64(), rng.Uint64()})
	}
	return w
}

// observe returns the features seen by a camera whose pose in the world is global. The right
// features are shuffled.
func (w *world) observe(rng *rand.Rand, cam *transform.StereoCameraModel, global spatialmath.Pose) (keypoints.FeatureSet, keypoints.FeatureSet) {
	var left, right keypoints.FeatureSet
	toCamera := global.Invert()
	for i, pt := range w.points {
		l, r, err := cam.ProjectStereo(toCamera.Transform(pt))
		if err != nil || !cam.Intrinsics.Contains(l) || !cam.Intrinsics.Contains(r) {
			continue
		}
		left.Points = append(left.Points, l)
		left.Descriptors = append(left.Descriptors, w.descriptors[i])
		right.Points = append(right.Points, r)
		right.Descriptors = append(right.Descriptors, w.descriptors[i])
	}
	rng.Shuffle(right.Len(), func(i, j int) {
		right.Points[i], right.Points[j] = right.Points[j], right.Points[i]
		right.Descriptors[i], right.Descriptors[j] = right.Descriptors[j], right.Descriptors[i]
	})
	return left, right
}

// constantVelocityRun returns n camera poses moving by step each frame, starting at the identity.
func constantVelocityRun(n int, step spatialmath.Pose) []spatialmath.Pose {
	poses := []spatialmath.Pose{spatialmath.NewZeroPose()}
	for len(poses) < n {
		poses = append(poses, spatialmath.Compose(poses[len(poses)-1], step))
	}
	return poses
}

func pixelsEqual(t *testing.T, got, want r2.Point) {
	t.Helper()
	test.That(t, got.X, test.ShouldEqual, want.X)
	test.That(t, got.Y, test.ShouldEqual, want.Y)
}

func testPoint(x, y, z float64) r3.Vector {
	return r3.Vector{X: x, Y: y, Z: z}
}
