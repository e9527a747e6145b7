package odometry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors updated by a FrameDriver.
type Metrics struct {
	FramesTotal     *prometheus.CounterVec
	Iterations      prometheus.Histogram
	FinalError      prometheus.Histogram
	LandmarksInLast prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		FramesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stereo_vo_frames_total",
				Help: "Total number of processed stereo frames by status.",
			},
			[]string{"status"},
		),
		Iterations: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "stereo_vo_optimizer_iterations",
				Help:    "Levenberg-Marquardt iterations per tracked frame.",
				Buckets: []float64{1, 2, 3, 5, 8, 13, 20, 50},
			},
		),
		FinalError: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "stereo_vo_final_error",
				Help:    "Weighted reprojection error at the optimized pose.",
				Buckets: prometheus.ExponentialBuckets(1e-8, 10, 12),
			},
		),
		LandmarksInLast: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "stereo_vo_landmarks",
				Help: "Number of landmarks used by the last frame.",
			},
		),
	}
	for _, c := range []prometheus.Collector{m.FramesTotal, m.Iterations, m.FinalError, m.LandmarksInLast} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observe(res *FrameResult) {
	if m == nil {
		return
	}
	m.FramesTotal.WithLabelValues(res.Status.String()).Inc()
	m.LandmarksInLast.Set(float64(res.Landmarks))
	if res.Moved() {
		m.Iterations.Observe(float64(res.Iterations))
		m.FinalError.Observe(res.Error)
	}
}
