package probe

import (
	"context"
	"log/slog"
	"strings"

	"github.com/smazurov/capturewatch/internal/process"
)

// ProcessConsumerProbe looks for the consumer in the process table.
type ProcessConsumerProbe struct {
	token  string
	list   process.Lister
	logger *slog.Logger
}

// NewProcessConsumerProbe matches any process whose command line contains
// token. A nil list uses process.ListProcesses.
func NewProcessConsumerProbe(token string, list process.Lister, logger *slog.Logger) *ProcessConsumerProbe {
	if list == nil {
		list = process.ListProcesses
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessConsumerProbe{token: token, list: list, logger: logger}
}

// Alive reports whether a consumer process is running. Processes exiting
// during the scan are skipped by the lister; a failed scan counts as not
// running.
func (p *ProcessConsumerProbe) Alive(ctx context.Context) bool {
	entries, err := p.list(ctx)
	if err != nil {
		p.logger.Warn("Failed to list processes", "error", err)
		return false
	}
	for _, e := range entries {
		if strings.Contains(e.Cmdline, p.token) {
			return true
		}
	}
	return false
}

// UnitStatusGetter reads a systemd unit's ActiveState.
type UnitStatusGetter interface {
	GetServiceStatus(ctx context.Context, unit string) (string, error)
}

// UnitConsumerProbe treats the consumer as alive while its systemd unit is
// active.
type UnitConsumerProbe struct {
	unit   string
	status UnitStatusGetter
	logger *slog.Logger
}

// NewUnitConsumerProbe creates a probe for unit.
func NewUnitConsumerProbe(unit string, status UnitStatusGetter, logger *slog.Logger) *UnitConsumerProbe {
	if logger == nil {
		logger = slog.Default()
	}
	return &UnitConsumerProbe{unit: unit, status: status, logger: logger}
}

// Alive reports whether the unit is in the "active" state.
func (p *UnitConsumerProbe) Alive(ctx context.Context) bool {
	state, err := p.status.GetServiceStatus(ctx, p.unit)
	if err != nil {
		p.logger.Warn("Failed to read consumer unit state", "unit", p.unit, "error", err)
		return false
	}
	return state == "active"
}
