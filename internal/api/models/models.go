// Package models holds the request and response bodies of the HTTP API.
package models

import "time"

// Health check models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"Pipeline is running" doc:"Status message"`
}

type HealthResponse struct {
	Body HealthData
}

// Version models
type VersionData struct {
	Version   string `json:"version" example:"dev" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"abc1234" doc:"Git commit SHA"`
	BuildDate string `json:"build_date" example:"2026-01-27 10:30" doc:"Build timestamp"`
	GoVersion string `json:"go_version" example:"go1.24.11" doc:"Go compiler version"`
	Platform  string `json:"platform" example:"linux/arm64" doc:"Platform"`
}

type VersionResponse struct {
	Body VersionData
}

// PipelineData mirrors the loop counters.
type PipelineData struct {
	State        string    `json:"state" example:"running" enum:"idle,running,reconnecting,stopped,error" doc:"Loop state"`
	Frames       uint64    `json:"frames" example:"1042" doc:"Packets written since start"`
	BytesWritten uint64    `json:"bytes_written" example:"378246" doc:"Bytes written to the serial port"`
	Reconnects   uint64    `json:"reconnects" example:"0" doc:"Successful transport reconnects"`
	Lights       int       `json:"lights" example:"120" doc:"Lights per packet"`
	StartedAt    time.Time `json:"started_at,omitzero" doc:"When the loop started"`
	LastFrameAt  time.Time `json:"last_frame_at,omitzero" doc:"When the last packet was written"`
	LastError    string    `json:"last_error,omitempty" doc:"Most recent error"`
}

// OutputData describes a compositor output.
type OutputData struct {
	Name        string `json:"name" example:"HDMI-A-1" doc:"Output name"`
	Description string `json:"description,omitempty" example:"Dell Inc. U2720Q" doc:"Output description"`
	Width       int    `json:"width" example:"2560" doc:"Current mode width in pixels"`
	Height      int    `json:"height" example:"1440" doc:"Current mode height in pixels"`
	RefreshMHz  int    `json:"refresh_mhz" example:"60000" doc:"Refresh rate in mHz"`
}

// LayoutData summarizes the strip layout in effect.
type LayoutData struct {
	Lights  int    `json:"lights" example:"120" doc:"Lights on the strip"`
	Regions int    `json:"regions" example:"120" doc:"Sample regions configured"`
	Source  string `json:"source" example:"capture" doc:"Color source type"`
}

type StatusData struct {
	Pipeline PipelineData `json:"pipeline"`
	Layout   LayoutData   `json:"layout"`
	Outputs  []OutputData `json:"outputs" doc:"Outputs seen on the compositor; empty when not capturing"`
}

type StatusResponse struct {
	Body StatusData
}

// LED models
type LEDRequest struct {
	Body struct {
		Pattern string `json:"pattern" enum:"off,solid,blink" example:"blink" doc:"Pattern to show until the next pipeline state change"`
	}
}

type LEDData struct {
	Name string `json:"name" example:"ACT" doc:"Status LED name, empty when the board has none"`
}

type LEDResponse struct {
	Body LEDData
}
