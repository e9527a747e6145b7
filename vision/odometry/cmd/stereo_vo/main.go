// Package main replays recorded stereo features through the visual odometry front end and
// prints the estimated trajectory.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.viam.com/utils"

	"go.viam.com/stereovo/logging"
	"go.viam.com/stereovo/vision/odometry"
)

var (
	logger = logging.NewLogger("stereo_vo")
	output io.Writer = os.Stdout
)

func main() {
	utils.ContextualMain(mainWithArgs, logger.AsZap())
}

// Arguments for the command.
type Arguments struct {
	Config           string `flag:"config,required,usage=path to a JSON or YAML odometry config"`
	Features         string `flag:"features,required,usage=path to a JSON feature recording"`
	ConstantVelocity bool   `flag:"constant_velocity,usage=seed each frame with the previous motion"`
	Debug            bool   `flag:"debug,usage=log every frame"`
}

func mainWithArgs(ctx context.Context, args []string, _ *zap.SugaredLogger) error {
	var argsParsed Arguments
	if err := utils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}
	if argsParsed.Debug {
		logger.SetLevel(logging.DEBUG)
	}
	return runOdometry(ctx, argsParsed)
}

func runOdometry(ctx context.Context, args Arguments) error {
	cfg, err := odometry.LoadConfig(args.Config)
	if err != nil {
		return err
	}
	recording, err := odometry.LoadFeatureRecording(args.Features)
	if err != nil {
		return err
	}

	metrics, err := odometry.NewMetrics(prometheus.NewRegistry())
	if err != nil {
		return err
	}
	opts := []odometry.Option{odometry.WithMetrics(metrics)}
	if args.ConstantVelocity {
		opts = append(opts, odometry.WithConstantVelocitySeed())
	}
	driver, err := odometry.NewFrameDriver(cfg, nil, logger.Sublogger("driver"), opts...)
	if err != nil {
		return err
	}

	var failed int
	if err := driver.RunFeatures(ctx, recording, func(res *odometry.FrameResult) error {
		if res.Status == odometry.FrameFailed {
			failed++
		}
		return printFrame(output, res)
	}); err != nil {
		return err
	}

	trajectory := driver.Trajectory()
	logger.Infow("replay finished",
		"frames", len(trajectory),
		"failed", failed,
		"position", driver.Pose().Point(),
	)
	return nil
}

func printFrame(w io.Writer, res *odometry.FrameResult) error {
	pt := res.GlobalPose.Point()
	_, err := fmt.Fprintf(w, "%d %s %.6f %.6f %.6f landmarks=%d error=%.4g\n",
		res.Index, res.Status, pt.X, pt.Y, pt.Z, res.Landmarks, res.Error)
	return err
}
