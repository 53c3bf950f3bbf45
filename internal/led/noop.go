package led

import "log/slog"

// noop stands in on boards without a known status LED. It remembers the
// last request so repeated state changes are logged once.
type noop struct {
	logger *slog.Logger
	last   string
}

func newNoop(logger *slog.Logger) *noop {
	return &noop{logger: logger}
}

func (n *noop) Set(ledType string, enabled bool, pattern string) error {
	state := pattern
	if !enabled {
		state = "off"
	}
	if state == n.last {
		return nil
	}
	n.last = state
	n.logger.Debug("No controllable LED on this board", "led", ledType, "state", state)
	return nil
}

func (n *noop) Available() []string { return []string{} }

func (n *noop) Patterns() []string { return []string{} }
