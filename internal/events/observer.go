package events

import (
	"time"

	"github.com/smazurov/screenglow/internal/pipeline"
)

// Observer publishes pipeline and capture notifications on a bus.
type Observer struct {
	bus *Bus
	now func() time.Time
}

var _ pipeline.Observer = (*Observer)(nil)

// NewObserver returns an Observer publishing on bus.
func NewObserver(bus *Bus) *Observer {
	return &Observer{bus: bus, now: time.Now}
}

func (o *Observer) stamp() string {
	return o.now().UTC().Format(time.RFC3339)
}

// StateChanged implements pipeline.Observer.
func (o *Observer) StateChanged(from, to pipeline.State, err error) {
	ev := PipelineStateChangedEvent{From: string(from), To: string(to), Timestamp: o.stamp()}
	if err != nil {
		ev.Error = err.Error()
	}
	o.bus.Publish(ev)
}

// FrameSent implements pipeline.Observer. Frames are too frequent for the
// bus and are only counted by metrics.
func (o *Observer) FrameSent(int, time.Duration) {}

// Reconnected implements pipeline.Observer.
func (o *Observer) Reconnected(attempt int, err error) {
	ev := TransportErrorEvent{Attempt: attempt, Timestamp: o.stamp()}
	if err != nil {
		ev.Error = err.Error()
	}
	o.bus.Publish(ev)
}

// CaptureFailed matches capture.Options.OnFailure.
func (o *Observer) CaptureFailed(err error, consecutive int) {
	o.bus.Publish(CaptureFailedEvent{Consecutive: consecutive, Error: err.Error(), Timestamp: o.stamp()})
}

// GeometryChanged matches capture.Options.OnGeometry.
func (o *Observer) GeometryChanged(width, height uint32) {
	o.bus.Publish(GeometryChangedEvent{Width: width, Height: height, Timestamp: o.stamp()})
}
