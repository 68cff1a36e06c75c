package process

import "time"

// State of the supervised generation.
type State string

// Supervisor states.
const (
	StateIdle       State = "idle"       // Not started
	StateRunning    State = "running"    // Generation active
	StateRestarting State = "restarting" // Waiting for the old generation to return
	StateStopped    State = "stopped"    // Context cancelled
	StateError      State = "error"      // Generation failed
)

// Info is a snapshot of the supervisor.
type Info struct {
	State        State
	Generation   int
	StartedAt    time.Time
	RestartCount int
	LastError    error
}
