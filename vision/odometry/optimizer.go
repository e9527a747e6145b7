package odometry

import (
	"context"
	"math"

	"github.com/golang/geo/r3"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereovo/rimage/transform"
	"go.viam.com/stereovo/spatialmath"
)

// twistDim is the number of parameters of a pose perturbation.
const twistDim = 6

const (
	minLambda = 1e-12
	maxLambda = 1e12
)

// Status tells how the optimizer stopped.
type Status int

const (
	// StatusConverged means the error or its change fell below the configured thresholds.
	StatusConverged Status = iota
	// StatusMaxIterations means the iteration budget ran out first. The pose is the best one
	// found but should be trusted less.
	StatusMaxIterations
)

func (s Status) String() string {
	switch s {
	case StatusConverged:
		return "converged"
	case StatusMaxIterations:
		return "max_iterations_exceeded"
	default:
		return "unknown"
	}
}

// PoseEstimate is the result of OptimizePose.
type PoseEstimate struct {
	// Pose maps points from the previous camera frame into the current one.
	Pose spatialmath.Pose
	// Covariance is inv(JᵗJ) at Pose, over the twist [phi, rho] of a right perturbation.
	Covariance *mat.SymDense
	// Error is the weighted sum of squared reprojection residuals at Pose.
	Error float64
	// MedianPixelError is the median unweighted reprojection distance at Pose, in pixels.
	MedianPixelError float64
	// ErrorHistory holds the error of the starting pose followed by that of every accepted step.
	ErrorHistory []float64
	Iterations   int
	Landmarks    int
	Status       Status
}

// LowConfidence is true when the estimate was cut short by the iteration budget.
func (est *PoseEstimate) LowConfidence() bool {
	return est.Status == StatusMaxIterations
}

// normalSystem is JᵗJ, Jᵗr and rᵗr at a given pose.
type normalSystem struct {
	jtj [twistDim * twistDim]float64
	jtr [twistDim]float64
	err float64
}

// OptimizePose finds the transform T minimizing the sum over landmarks of
// ((project(T * point) - pixel) / sigma)^2 with Levenberg-Marquardt. T starts at seed, or at
// the identity when seed is nil, and is only ever updated as T * exp(delta).
func OptimizePose(
	ctx context.Context,
	landmarks []Landmark,
	cam *transform.PinholeCameraIntrinsics,
	cfg OptimizerConfig,
	seed *spatialmath.Pose,
) (*PoseEstimate, error) {
	need := cfg.requiredLandmarks()
	if len(landmarks) < need {
		return nil, errors.Wrapf(ErrDegenerateInput, "got %d landmarks, need %d", len(landmarks), need)
	}
	if err := cfg.Validate("optimizer"); err != nil {
		return nil, newConfigurationError(err)
	}
	if err := cam.CheckValid(); err != nil {
		return nil, err
	}
	usable, distinct := usableLandmarks(landmarks)
	if distinct < need {
		return nil, errors.Wrapf(ErrDegenerateInput, "got %d distinct usable landmarks, need %d", distinct, need)
	}

	pose := spatialmath.NewZeroPose()
	if seed != nil {
		pose = *seed
	}
	sys, ok := linearize(usable, cam, pose)
	if !ok {
		return nil, errors.Wrap(ErrDegenerateInput, "landmarks are behind the camera at the starting pose")
	}

	est := &PoseEstimate{
		ErrorHistory: []float64{sys.err},
		Landmarks:    len(usable),
		Status:       StatusMaxIterations,
	}
	lambda := cfg.InitialLambda
	solved := false
	for est.Iterations < cfg.MaxIterations {
		if sys.err < cfg.MinError {
			est.Status = StatusConverged
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		est.Iterations++

		delta, ok := solveDamped(sys, lambda)
		if !ok {
			lambda = math.Min(lambda*cfg.LambdaUp, maxLambda)
			continue
		}
		solved = true
		candidate := pose.Retract(delta)
		next, ok := linearize(usable, cam, candidate)
		if !ok || !(next.err < sys.err) {
			lambda = math.Min(lambda*cfg.LambdaUp, maxLambda)
			continue
		}

		change := sys.err - next.err
		pose, sys = candidate, next
		est.ErrorHistory = append(est.ErrorHistory, sys.err)
		lambda = math.Max(lambda*cfg.LambdaDown, minLambda)
		if change < cfg.MinErrorDelta {
			est.Status = StatusConverged
			break
		}
	}
	if sys.err < cfg.MinError {
		est.Status = StatusConverged
	}
	if !solved && est.Status != StatusConverged {
		return nil, errors.Wrapf(ErrNonConvergence, "normal equations singular for %d iterations", est.Iterations)
	}

	cov, err := covariance(sys)
	if err != nil {
		return nil, err
	}
	est.Pose = pose
	est.Covariance = cov
	est.Error = sys.err
	est.MedianPixelError = medianPixelError(usable, cam, pose)
	return est, nil
}

// usableLandmarks drops landmarks that cannot constrain the pose and counts the distinct 3D
// points among the rest.
func usableLandmarks(landmarks []Landmark) ([]Landmark, int) {
	usable := make([]Landmark, 0, len(landmarks))
	points := make(map[r3.Vector]struct{}, len(landmarks))
	for _, lm := range landmarks {
		if !lm.usable() {
			continue
		}
		usable = append(usable, lm)
		points[lm.Point] = struct{}{}
	}
	return usable, len(points)
}

// linearize accumulates the normal equations at pose. The Jacobian is taken with respect to a
// right perturbation T * exp([phi, rho]): for q = R*p + t, dq/dphi_k = R*(e_k x p) and
// dq/drho = R. It returns false if any point lands behind the camera.
func linearize(landmarks []Landmark, cam *transform.PinholeCameraIntrinsics, pose spatialmath.Pose) (normalSystem, bool) {
	var sys normalSystem
	rot := pose.Rotation()
	axes := [3]r3.Vector{{X: 1}, {Y: 1}, {Z: 1}}
	for _, lm := range landmarks {
		q := pose.Transform(lm.Point)
		pixel, err := cam.PointToPixel(q)
		if err != nil {
			return sys, false
		}
		ru := (pixel.X - lm.Pixel.X) / lm.Sigma
		rv := (pixel.Y - lm.Pixel.Y) / lm.Sigma

		// derivative of the projection with respect to q, scaled by the weight
		invZ := 1 / q.Z
		du := r3.Vector{X: cam.Fx * invZ, Z: -cam.Fx * q.X * invZ * invZ}.Mul(1 / lm.Sigma)
		dv := r3.Vector{Y: cam.Fy * invZ, Z: -cam.Fy * q.Y * invZ * invZ}.Mul(1 / lm.Sigma)

		var ju, jv [twistDim]float64
		for k, axis := range axes {
			dqdphi := rot.Apply(axis.Cross(lm.Point))
			dqdrho := rot.Apply(axis)
			ju[k], jv[k] = du.Dot(dqdphi), dv.Dot(dqdphi)
			ju[k+3], jv[k+3] = du.Dot(dqdrho), dv.Dot(dqdrho)
		}
		for a := 0; a < twistDim; a++ {
			for b := a; b < twistDim; b++ {
				sys.jtj[a*twistDim+b] += ju[a]*ju[b] + jv[a]*jv[b]
			}
			sys.jtr[a] += ju[a]*ru + jv[a]*rv
		}
		sys.err += ru*ru + rv*rv
	}
	for a := 0; a < twistDim; a++ {
		for b := 0; b < a; b++ {
			sys.jtj[a*twistDim+b] = sys.jtj[b*twistDim+a]
		}
	}
	return sys, !math.IsNaN(sys.err) && !math.IsInf(sys.err, 0)
}

// solveDamped solves (JᵗJ + lambda*diag(JᵗJ)) delta = -Jᵗr, with Cholesky and an LU fallback.
func solveDamped(sys normalSystem, lambda float64) (spatialmath.Twist, bool) {
	data := make([]float64, len(sys.jtj))
	copy(data, sys.jtj[:])
	for i := 0; i < twistDim; i++ {
		data[i*twistDim+i] *= 1 + lambda
	}
	damped := mat.NewSymDense(twistDim, data)
	b := mat.NewVecDense(twistDim, nil)
	for i, v := range sys.jtr {
		b.SetVec(i, -v)
	}

	var delta mat.VecDense
	var chol mat.Cholesky
	if ok := chol.Factorize(damped); !ok || chol.SolveVecTo(&delta, b) != nil {
		var lu mat.LU
		lu.Factorize(damped)
		if err := lu.SolveVecTo(&delta, false, b); err != nil {
			return spatialmath.Twist{}, false
		}
	}
	for i := 0; i < twistDim; i++ {
		if v := delta.AtVec(i); math.IsNaN(v) || math.IsInf(v, 0) {
			return spatialmath.Twist{}, false
		}
	}
	tw, err := spatialmath.NewTwist(delta.RawVector().Data)
	if err != nil {
		return spatialmath.Twist{}, false
	}
	return tw, true
}

// covariance inverts the undamped JᵗJ.
func covariance(sys normalSystem) (*mat.SymDense, error) {
	data := make([]float64, len(sys.jtj))
	copy(data, sys.jtj[:])
	var chol mat.Cholesky
	if ok := chol.Factorize(mat.NewSymDense(twistDim, data)); !ok {
		return nil, errors.Wrap(ErrNonConvergence, "information matrix is not positive definite")
	}
	var cov mat.SymDense
	if err := chol.InverseTo(&cov); err != nil {
		return nil, errors.Wrap(ErrNonConvergence, err.Error())
	}
	return &cov, nil
}

func medianPixelError(landmarks []Landmark, cam *transform.PinholeCameraIntrinsics, pose spatialmath.Pose) float64 {
	dists := make(stats.Float64Data, 0, len(landmarks))
	for _, lm := range landmarks {
		pixel, err := cam.PointToPixel(pose.Transform(lm.Point))
		if err != nil {
			continue
		}
		dists = append(dists, pixel.Sub(lm.Pixel).Norm())
	}
	median, err := stats.Median(dists)
	if err != nil {
		return math.NaN()
	}
	return median
}
