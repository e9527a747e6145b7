package transform

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func testIntrinsics() *PinholeCameraIntrinsics {
	return &PinholeCameraIntrinsics{Width: 752, Height: 480, Fx: 500, Fy: 500, Ppx: 320, Ppy: 240}
}

func TestPinholeProjectionRoundTrip(t *testing.T) {
	params := testIntrinsics()
	pt := r3.Vector{X: 0.4, Y: -0.3, Z: 5}
	px, err := params.PointToPixel(pt)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, px.X, test.ShouldAlmostEqual, 360)
	test.That(t, px.Y, test.ShouldAlmostEqual, 210)

	back := params.PixelToPoint(px, 5)
	test.That(t, back.X, test.ShouldAlmostEqual, pt.X)
	test.That(t, back.Y, test.ShouldAlmostEqual, pt.Y)
	test.That(t, back.Z, test.ShouldAlmostEqual, pt.Z)

	// sub-pixel values survive projection
	px, err = params.PointToPixel(r3.Vector{X: 0.001, Y: 0.0007, Z: 1})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, px.X, test.ShouldAlmostEqual, 320.5)
	test.That(t, px.Y, test.ShouldAlmostEqual, 240.35)
}

func TestPointBehindCamera(t *testing.T) {
	params := testIntrinsics()
	_, err := params.PointToPixel(r3.Vector{X: 1, Y: 1, Z: 0})
	test.That(t, err, test.ShouldWrap, ErrPointBehindCamera)
	_, err = params.PointToPixel(r3.Vector{X: 1, Y: 1, Z: -2})
	test.That(t, err, test.ShouldWrap, ErrPointBehindCamera)
}

func TestCheckValid(t *testing.T) {
	var nilParams *PinholeCameraIntrinsics
	test.That(t, nilParams.CheckValid(), test.ShouldWrap, ErrNoIntrinsics)

	params := testIntrinsics()
	test.That(t, params.CheckValid(), test.ShouldBeNil)

	params.Fx = 0
	test.That(t, params.CheckValid(), test.ShouldWrap, ErrNoIntrinsics)

	params = testIntrinsics()
	params.Width = 0
	test.That(t, params.CheckValid(), test.ShouldWrap, ErrNoIntrinsics)

	params = testIntrinsics()
	test.That(t, params.CheckImageSize(752, 480), test.ShouldBeNil)
	test.That(t, params.CheckImageSize(480, 752), test.ShouldNotBeNil)
}

func TestContains(t *testing.T) {
	params := testIntrinsics()
	test.That(t, params.Contains(r2.Point{X: 0, Y: 0}), test.ShouldBeTrue)
	test.That(t, params.Contains(r2.Point{X: 751.9, Y: 479.9}), test.ShouldBeTrue)
	test.That(t, params.Contains(r2.Point{X: 752, Y: 10}), test.ShouldBeFalse)
	test.That(t, params.Contains(r2.Point{X: 10, Y: -0.1}), test.ShouldBeFalse)
}

func TestCameraMatrix(t *testing.T) {
	k := testIntrinsics().GetCameraMatrix()
	test.That(t, k.At(0, 0), test.ShouldEqual, 500.)
	test.That(t, k.At(1, 1), test.ShouldEqual, 500.)
	test.That(t, k.At(0, 2), test.ShouldEqual, 320.)
	test.That(t, k.At(1, 2), test.ShouldEqual, 240.)
	test.That(t, k.At(2, 2), test.ShouldEqual, 1.)

	var nilParams *PinholeCameraIntrinsics
	test.That(t, nilParams.GetCameraMatrix(), test.ShouldBeNil)
}

func TestIntrinsicsFromJSONFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "intrinsics.json")
	b, err := json.Marshal(testIntrinsics())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, os.WriteFile(path, b, 0o600), test.ShouldBeNil)

	params, err := NewPinholeCameraIntrinsicsFromJSONFile(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, params, test.ShouldResemble, testIntrinsics())

	_, err = NewPinholeCameraIntrinsicsFromJSONFile(filepath.Join(dir, "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)

	test.That(t, os.WriteFile(path, []byte(`{"width_px": 10}`), 0o600), test.ShouldBeNil)
	_, err = NewPinholeCameraIntrinsicsFromJSONFile(path)
	test.That(t, err, test.ShouldWrap, ErrNoIntrinsics)
}

func TestDepthFromDisparity(t *testing.T) {
	cam, err := NewStereoCameraModel(testIntrinsics(), 0.2)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, cam.DepthFromDisparity(20), test.ShouldAlmostEqual, 5)
	test.That(t, cam.DepthFromDisparity(100), test.ShouldAlmostEqual, 1)
	// clamped at the epsilon instead of dividing by zero
	test.That(t, cam.DepthFromDisparity(0), test.ShouldAlmostEqual, 500*0.2/MinDisparityEpsilon)
	test.That(t, cam.DepthFromDisparity(-3), test.ShouldAlmostEqual, 500*0.2/MinDisparityEpsilon)

	d, err := cam.DisparityFromDepth(5)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, d, test.ShouldAlmostEqual, 20)
	_, err = cam.DisparityFromDepth(0)
	test.That(t, err, test.ShouldWrap, ErrPointBehindCamera)
}

func TestStereoProjectTriangulate(t *testing.T) {
	cam, err := NewStereoCameraModel(testIntrinsics(), 0.2)
	test.That(t, err, test.ShouldBeNil)

	pt := r3.Vector{X: -0.7, Y: 0.25, Z: 4}
	left, right, err := cam.ProjectStereo(pt)
	test.That(t, err, test.ShouldBeNil)
	// rectified: same row in both images
	test.That(t, left.Y, test.ShouldAlmostEqual, right.Y)

	disparity := cam.Disparity(left, right)
	test.That(t, disparity, test.ShouldAlmostEqual, 25)

	back := cam.Triangulate(left, disparity)
	test.That(t, back.X, test.ShouldAlmostEqual, pt.X)
	test.That(t, back.Y, test.ShouldAlmostEqual, pt.Y)
	test.That(t, back.Z, test.ShouldAlmostEqual, pt.Z)
}

func TestStereoCheckValid(t *testing.T) {
	_, err := NewStereoCameraModel(testIntrinsics(), 0)
	test.That(t, err, test.ShouldWrap, ErrNoIntrinsics)
	_, err = NewStereoCameraModel(nil, 0.2)
	test.That(t, err, test.ShouldWrap, ErrNoIntrinsics)

	var cam *StereoCameraModel
	test.That(t, cam.CheckValid(), test.ShouldWrap, ErrNoIntrinsics)
}
