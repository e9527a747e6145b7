package odometry

import (
	"context"
	"image"
	"io"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereovo/logging"
	"go.viam.com/stereovo/spatialmath"
	"go.viam.com/stereovo/vision/keypoints"
)

// FrameStatus tells what a frame did to the trajectory.
type FrameStatus int

const (
	// FrameInitialized is the first frame; it anchors the trajectory at the identity.
	FrameInitialized FrameStatus = iota
	// FrameTracked means the optimizer converged and the pose was committed.
	FrameTracked
	// FrameLowConfidence means the optimizer ran out of iterations; the pose was still committed.
	FrameLowConfidence
	// FrameFailed means no pose could be estimated. The global pose is unchanged but the
	// frame still replaces the previous one for tracking.
	FrameFailed
)

func (s FrameStatus) String() string {
	switch s {
	case FrameInitialized:
		return "initialized"
	case FrameTracked:
		return "tracked"
	case FrameLowConfidence:
		return "low_confidence"
	case FrameFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// FrameResult is produced for every processed frame.
type FrameResult struct {
	Index  int
	Status FrameStatus
	// RelativePose maps points from the previous camera frame into this one.
	RelativePose spatialmath.Pose
	// GlobalPose is the pose of this camera in the frame of the first camera.
	GlobalPose       spatialmath.Pose
	Covariance       *mat.SymDense
	Error            float64
	MedianPixelError float64
	Iterations       int

	Detected        int
	StereoMatches   int
	TemporalMatches int
	Landmarks       int

	// Err is the reason of a FrameFailed status.
	Err error
}

// Moved reports whether the frame committed a pose to the trajectory.
func (r *FrameResult) Moved() bool {
	return r.Status == FrameTracked || r.Status == FrameLowConfidence
}

// FrameSource supplies stereo image pairs in order and returns io.EOF after the last one.
type FrameSource interface {
	Next(ctx context.Context) (left, right image.Image, err error)
}

// FeatureSource supplies already detected stereo features in order and returns io.EOF after
// the last frame.
type FeatureSource interface {
	NextFeatures(ctx context.Context) (left, right keypoints.FeatureSet, err error)
}

// frameState is the cache carried from one frame to the next. It is replaced as a whole.
type frameState struct {
	index        int
	frame        *StereoFrame
	global       spatialmath.Pose
	lastRelative *spatialmath.Pose
	// trajectory has one global pose per frame. Later states may append past its length but
	// never overwrite the entries it covers.
	trajectory []spatialmath.Pose
}

// Option configures a FrameDriver.
type Option func(*FrameDriver)

// WithMetrics reports every frame to m.
func WithMetrics(m *Metrics) Option {
	return func(d *FrameDriver) {
		d.metrics = m
	}
}

// WithConstantVelocitySeed starts each optimization at the previous relative motion instead of
// the identity.
func WithConstantVelocitySeed() Option {
	return func(d *FrameDriver) {
		d.constantVelocity = true
	}
}

// FrameDriver runs stereo visual odometry over a sequence of frames. Frames are processed one
// at a time; Pose and Trajectory may be called concurrently with processing.
type FrameDriver struct {
	cfg              *Config
	detector         keypoints.Detector
	logger           logging.Logger
	metrics          *Metrics
	constantVelocity bool

	mu    sync.Mutex
	state atomic.Pointer[frameState]
}

// NewFrameDriver validates cfg and returns a driver. detector is only needed by ProcessImages
// and Run and may be nil when features are supplied directly.
func NewFrameDriver(cfg *Config, detector keypoints.Detector, logger logging.Logger, opts ...Option) (*FrameDriver, error) {
	if cfg == nil {
		return nil, newConfigurationError(errors.New("no config"))
	}
	if err := cfg.Validate(""); err != nil {
		return nil, newConfigurationError(err)
	}
	if logger == nil {
		logger = logging.NewBlankLogger("odometry")
	}
	d := &FrameDriver{cfg: cfg, detector: detector, logger: logger}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// ProcessImages detects features on both images concurrently and processes them. Images whose
// size does not match the camera are a configuration error.
func (d *FrameDriver) ProcessImages(ctx context.Context, left, right image.Image) (*FrameResult, error) {
	if d.detector == nil {
		return nil, newConfigurationError(errors.New("no feature detector"))
	}
	for _, img := range []image.Image{left, right} {
		if img == nil {
			return nil, errors.New("missing image")
		}
		bounds := img.Bounds()
		if err := d.cfg.Camera.Intrinsics.CheckImageSize(bounds.Dx(), bounds.Dy()); err != nil {
			return nil, newConfigurationError(err)
		}
	}

	var leftFeatures, rightFeatures keypoints.FeatureSet
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		leftFeatures, err = d.detector.Detect(groupCtx, left)
		return errors.Wrap(err, "left image detection failed")
	})
	group.Go(func() error {
		var err error
		rightFeatures, err = d.detector.Detect(groupCtx, right)
		return errors.Wrap(err, "right image detection failed")
	})
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return d.ProcessFeatures(ctx, leftFeatures, rightFeatures)
}

// ProcessFeatures processes one frame of detected stereo features. Optimizer failures are
// reported in the result, not as an error; the returned error is reserved for invalid input
// and cancellation, in which case the cached frame is left untouched.
func (d *FrameDriver) ProcessFeatures(ctx context.Context, left, right keypoints.FeatureSet) (*FrameResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	frame, err := NewStereoFrame(left, right, d.cfg)
	if err != nil {
		return nil, err
	}
	prev := d.state.Load()
	if prev == nil {
		global := spatialmath.NewZeroPose()
		d.state.Store(&frameState{frame: frame.Compact(), global: global, trajectory: []spatialmath.Pose{global}})
		res := &FrameResult{
			Status:        FrameInitialized,
			RelativePose:  spatialmath.NewZeroPose(),
			GlobalPose:    global,
			Detected:      frame.Detected,
			StereoMatches: frame.Len(),
		}
		d.report(res)
		return res, nil
	}

	res := &FrameResult{
		Index:         prev.index + 1,
		RelativePose:  spatialmath.NewZeroPose(),
		GlobalPose:    prev.global,
		Detected:      frame.Detected,
		StereoMatches: frame.Len(),
	}
	var seed *spatialmath.Pose
	if d.constantVelocity {
		seed = prev.lastRelative
	}
	motion, err := EstimateMotion(ctx, prev.frame, frame, d.cfg, seed)
	if motion != nil {
		res.TemporalMatches = motion.TemporalMatches
		res.Landmarks = motion.Landmarks
	}
	next := &frameState{index: res.Index, frame: frame.Compact(), global: prev.global}
	switch {
	case errors.Is(err, ErrDegenerateInput) || errors.Is(err, ErrNonConvergence):
		res.Status = FrameFailed
		res.Err = err
	case err != nil:
		return nil, err
	default:
		est := motion.Estimate
		rel := est.Pose
		res.Status = FrameTracked
		if est.LowConfidence() {
			res.Status = FrameLowConfidence
		}
		res.RelativePose = rel
		res.GlobalPose = spatialmath.Compose(prev.global, rel.Invert())
		res.Covariance = est.Covariance
		res.Error = est.Error
		res.MedianPixelError = est.MedianPixelError
		res.Iterations = est.Iterations
		next.global = res.GlobalPose
		next.lastRelative = &rel
	}
	next.trajectory = append(prev.trajectory, next.global)
	d.state.Store(next)
	d.report(res)
	return res, nil
}

func (d *FrameDriver) report(res *FrameResult) {
	d.metrics.observe(res)
	if res.Status == FrameFailed {
		d.logger.Warnw("frame not tracked", "frame", res.Index, "landmarks", res.Landmarks, "error", res.Err)
		return
	}
	d.logger.Debugw("frame processed",
		"frame", res.Index,
		"status", res.Status.String(),
		"stereo_matches", res.StereoMatches,
		"temporal_matches", res.TemporalMatches,
		"landmarks", res.Landmarks,
		"iterations", res.Iterations,
		"error", res.Error,
		"position", res.GlobalPose.Point(),
	)
}

// Run processes frames from source until it is exhausted, passing every result to sink.
// It stops early on configuration errors, sink errors and context cancellation.
func (d *FrameDriver) Run(ctx context.Context, source FrameSource, sink func(*FrameResult) error) error {
	return d.run(ctx, sink, func(ctx context.Context) (*FrameResult, error) {
		left, right, err := source.Next(ctx)
		if err != nil {
			return nil, err
		}
		return d.ProcessImages(ctx, left, right)
	})
}

// RunFeatures is Run for pre-detected features.
func (d *FrameDriver) RunFeatures(ctx context.Context, source FeatureSource, sink func(*FrameResult) error) error {
	return d.run(ctx, sink, func(ctx context.Context) (*FrameResult, error) {
		left, right, err := source.NextFeatures(ctx)
		if err != nil {
			return nil, err
		}
		return d.ProcessFeatures(ctx, left, right)
	})
}

func (d *FrameDriver) run(
	ctx context.Context,
	sink func(*FrameResult) error,
	next func(ctx context.Context) (*FrameResult, error),
) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if sink == nil {
			continue
		}
		if err := sink(res); err != nil {
			return err
		}
	}
}

// Pose returns the current global pose, the identity before the first frame.
func (d *FrameDriver) Pose() spatialmath.Pose {
	if state := d.state.Load(); state != nil {
		return state.global
	}
	return spatialmath.NewZeroPose()
}

// Trajectory returns a copy of the global pose of every processed frame.
func (d *FrameDriver) Trajectory() []spatialmath.Pose {
	state := d.state.Load()
	if state == nil {
		return nil
	}
	out := make([]spatialmath.Pose, len(state.trajectory))
	copy(out, state.trajectory)
	return out
}

// Reset forgets the previous frame and the trajectory; the next frame starts a new one.
func (d *FrameDriver) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state.Store(nil)
}
