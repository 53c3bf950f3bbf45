package led

import (
	"log/slog"
	"sync"

	"github.com/smazurov/capturewatch/internal/events"
)

// Manager subscribes to capture state events and drives the system LED:
// solid while streaming, heartbeat while input is present but the pipeline
// is down, blink without input.
type Manager struct {
	controller  Controller
	eventBus    *events.Bus
	unsubscribe func()
	logger      *slog.Logger

	mu      sync.Mutex
	pattern string // last pattern applied
}

// NewManager creates a new LED manager that reacts to capture state changes
func NewManager(controller Controller, eventBus *events.Bus, logger *slog.Logger) *Manager {
	return &Manager{
		controller: controller,
		eventBus:   eventBus,
		logger:     logger,
	}
}

// Start sets the no-input pattern and begins listening for state changes
func (m *Manager) Start() {
	m.apply(PatternBlink)
	m.unsubscribe = m.eventBus.Subscribe(m.handleEvent)
	m.logger.Info("LED manager started")
}

// Stop unsubscribes from events and turns the LED off
func (m *Manager) Stop() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}

	// A delivery may still be in flight after unsubscribe
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.controller.Set("system", false, PatternSolid); err != nil {
		m.logger.Warn("Failed to turn off system LED", "error", err)
	}
	m.pattern = ""
	m.logger.Info("LED manager stopped")
}

// handleEvent processes a single capture state changed event
func (m *Manager) handleEvent(e events.CaptureStateChangedEvent) {
	m.logger.Debug("Capture state changed", "state", e.State, "streaming", e.Streaming)
	m.apply(patternFor(e))
}

func patternFor(e events.CaptureStateChangedEvent) string {
	switch {
	case !e.HasInput():
		return PatternBlink
	case e.Streaming:
		return PatternSolid
	default:
		return PatternHeartbeat
	}
}

// apply sets the system LED unless it already shows pattern
func (m *Manager) apply(pattern string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pattern == pattern {
		return
	}
	if err := m.controller.Set("system", true, pattern); err != nil {
		m.logger.Warn("Failed to set system LED", "pattern", pattern, "error", err)
		return
	}
	m.pattern = pattern
	m.logger.Debug("System LED updated", "pattern", pattern)
}

// Pattern returns the pattern currently shown.
func (m *Manager) Pattern() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pattern
}
