package odometry

import (
	"context"
	"math/rand"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.viam.com/test"

	"go.viam.com/stereovo/logging"
	"go.viam.com/stereovo/vision/keypoints"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	test.That(t, err, test.ShouldBeNil)

	// collectors can only be registered once per registry
	_, err = NewMetrics(reg)
	test.That(t, err, test.ShouldNotBeNil)

	rng := rand.New(rand.NewSource(1))
	w := newWorld(rng, 200)
	frames := recordRun(t, rng, w, constantVelocityRun(4, yawPose(t, 1, r3.Vector{Z: 0.1})))

	driver, err := NewFrameDriver(testConfig(t), nil, logging.NewTestLogger(t), WithMetrics(metrics))
	test.That(t, err, test.ShouldBeNil)
	err = driver.RunFeatures(context.Background(), &FeatureRecording{Frames: frames}, nil)
	test.That(t, err, test.ShouldBeNil)
	_, err = driver.ProcessFeatures(context.Background(), keypoints.FeatureSet{}, keypoints.FeatureSet{})
	test.That(t, err, test.ShouldBeNil)

	test.That(t, testutil.ToFloat64(metrics.FramesTotal.WithLabelValues("initialized")), test.ShouldEqual, 1.)
	test.That(t, testutil.ToFloat64(metrics.FramesTotal.WithLabelValues("tracked")), test.ShouldEqual, 3.)
	test.That(t, testutil.ToFloat64(metrics.FramesTotal.WithLabelValues("failed")), test.ShouldEqual, 1.)
	test.That(t, testutil.ToFloat64(metrics.LandmarksInLast), test.ShouldEqual, 0.)
	test.That(t, testutil.CollectAndCount(metrics.Iterations), test.ShouldEqual, 1)

	count, err := testutil.GatherAndCount(reg, "stereo_vo_frames_total")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, count, test.ShouldEqual, 3)
}
