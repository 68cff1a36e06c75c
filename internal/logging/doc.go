// Package logging provides structured logging with per-module log levels.
//
// Loggers come from Go's slog package. Output is routed automatically:
// stdout when a terminal, pipe or file is attached, and the systemd journal
// when journald is reachable (both when both are available).
//
// Initialize once at startup, then get a logger per module:
//
//	logging.Initialize(logging.Config{
//		Level:  "info",
//		Format: "text",
//		Modules: map[string]string{
//			"capture": "debug",
//			"serial":  "warn",
//		},
//	})
//
//	logger := logging.GetLogger("pipeline")
//	logger.Info("Streaming", "leds", 120)
//
// Journal entries carry SYSLOG_IDENTIFIER=screenglow and every attribute as an
// upper-case field:
//
//	journalctl -t screenglow MODULE=capture
//
// Example TOML configuration:
//
//	[logging]
//	level = "info"
//	format = "text"
//
//	[logging.modules]
//	capture = "debug"
package logging
