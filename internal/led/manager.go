package led

import (
	"log/slog"

	"github.com/smazurov/screenglow/internal/events"
)

// Manager mirrors pipeline state on the status LED: solid while
// streaming, blinking while reconnecting or failed, off when stopped.
type Manager struct {
	controller  Controller
	bus         *events.Bus
	unsubscribe func()
	logger      *slog.Logger
}

// NewManager creates a manager; call Start to subscribe.
func NewManager(controller Controller, bus *events.Bus, logger *slog.Logger) *Manager {
	return &Manager{controller: controller, bus: bus, logger: logger}
}

// Start subscribes to pipeline state changes.
func (m *Manager) Start() {
	m.unsubscribe = m.bus.Subscribe(m.handle)
	m.logger.Info("LED manager started", "led", m.controller.Name())
}

// Stop unsubscribes and turns the LED off.
func (m *Manager) Stop() {
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
	if err := m.controller.Set(PatternOff); err != nil {
		m.logger.Warn("Failed to turn status LED off", "error", err)
	}
	m.logger.Info("LED manager stopped")
}

func (m *Manager) handle(e events.PipelineStateChangedEvent) {
	p := PatternFor(e.To)
	m.logger.Debug("Pipeline state changed", "from", e.From, "to", e.To, "pattern", p)
	if err := m.controller.Set(p); err != nil {
		m.logger.Warn("Failed to set status LED", "pattern", p, "error", err)
	}
}

// PatternFor maps a pipeline state name to an LED pattern.
func PatternFor(state string) Pattern {
	switch state {
	case "running":
		return PatternSolid
	case "reconnecting", "error":
		return PatternBlink
	default:
		return PatternOff
	}
}
