// Package metrics exports pipeline and capture counters to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/smazurov/screenglow/internal/pipeline"
)

const namespace = "screenglow"

var (
	framesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "frames_total",
		Help:      "Packets written to the controller",
	})

	bytesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "bytes_written_total",
		Help:      "Bytes written to the controller",
	})

	frameDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "frame_duration_seconds",
		Help:      "Time from requesting colors to the packet being written",
		Buckets:   []float64{.001, .0025, .005, .01, .0166, .025, .0333, .05, .1, .25, .5, 1},
	})

	pipelineState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "state",
		Help:      "1 for the current pipeline state, 0 otherwise",
	}, []string{"state"})

	transportReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "transport",
		Name:      "reconnects_total",
		Help:      "Serial reopen attempts by result",
	}, []string{"result"})

	captureFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "capture",
		Name:      "failures_total",
		Help:      "Recoverable capture failures",
	})

	captureWidth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "capture",
		Name:      "width_pixels",
		Help:      "Width of the captured output",
	})

	captureHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "capture",
		Name:      "height_pixels",
		Help:      "Height of the captured output",
	})
)

var states = []pipeline.State{
	pipeline.StateIdle,
	pipeline.StateRunning,
	pipeline.StateReconnecting,
	pipeline.StateStopped,
	pipeline.StateError,
}

// Observer records pipeline notifications.
type Observer struct{}

var _ pipeline.Observer = Observer{}

// StateChanged implements pipeline.Observer.
func (Observer) StateChanged(_, to pipeline.State, _ error) {
	for _, s := range states {
		v := 0.0
		if s == to {
			v = 1
		}
		pipelineState.WithLabelValues(string(s)).Set(v)
	}
}

// FrameSent implements pipeline.Observer.
func (Observer) FrameSent(n int, took time.Duration) {
	framesTotal.Inc()
	bytesWritten.Add(float64(n))
	frameDuration.Observe(took.Seconds())
}

// Reconnected implements pipeline.Observer.
func (Observer) Reconnected(_ int, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	transportReconnects.WithLabelValues(result).Inc()
}

// CaptureFailed matches capture.Options.OnFailure.
func (Observer) CaptureFailed(error, int) {
	captureFailures.Inc()
}

// GeometryChanged matches capture.Options.OnGeometry.
func (Observer) GeometryChanged(width, height uint32) {
	captureWidth.Set(float64(width))
	captureHeight.Set(float64(height))
}
