package events

// Event type constants for kelindar/event.
const (
	TypePipelineStateChanged uint32 = iota + 1
	TypeCaptureFailed
	TypeTransportError
	TypeGeometryChanged
	TypeLayoutReloaded
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// PipelineStateChangedEvent is published on every pipeline state transition.
type PipelineStateChangedEvent struct {
	From      string `json:"from" example:"running" doc:"Previous state"`
	To        string `json:"to" example:"error" doc:"New state"`
	Error     string `json:"error,omitempty" example:"TRANSPORT_ERROR: write /dev/ttyACM0: i/o error" doc:"Error that caused the transition"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for PipelineStateChangedEvent.
func (e PipelineStateChangedEvent) Type() uint32 { return TypePipelineStateChanged }

// Streaming reports whether the pipeline entered the running state.
func (e PipelineStateChangedEvent) Streaming() bool { return e.To == "running" }

// Failed reports whether the pipeline stopped on an error.
func (e PipelineStateChangedEvent) Failed() bool { return e.To == "error" }

// CaptureFailedEvent is published for each recoverable capture failure.
type CaptureFailedEvent struct {
	Consecutive int    `json:"consecutive" example:"2" doc:"Consecutive failures including this one"`
	Error       string `json:"error" doc:"Failure reason"`
	Timestamp   string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for CaptureFailedEvent.
func (e CaptureFailedEvent) Type() uint32 { return TypeCaptureFailed }

// TransportErrorEvent is published when a serial write fails and a reopen
// is attempted.
type TransportErrorEvent struct {
	Attempt   int    `json:"attempt" example:"1" doc:"Reconnect attempt number"`
	Error     string `json:"error,omitempty" doc:"Reopen error, empty when the reopen succeeded"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for TransportErrorEvent.
func (e TransportErrorEvent) Type() uint32 { return TypeTransportError }

// GeometryChangedEvent is published when the captured output changes size.
type GeometryChangedEvent struct {
	Width     uint32 `json:"width" example:"2560" doc:"Capture width in pixels"`
	Height    uint32 `json:"height" example:"1440" doc:"Capture height in pixels"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for GeometryChangedEvent.
func (e GeometryChangedEvent) Type() uint32 { return TypeGeometryChanged }

// LayoutReloadedEvent is published after the strip layout file changed and
// the pipeline restarted with it.
type LayoutReloadedEvent struct {
	Lights    int    `json:"lights" example:"120" doc:"Configured light count"`
	Regions   int    `json:"regions" example:"120" doc:"Configured region count"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for LayoutReloadedEvent.
func (e LayoutReloadedEvent) Type() uint32 { return TypeLayoutReloaded }
