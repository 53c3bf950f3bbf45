package process

import (
	"context"
	"log/slog"
	"strings"
)

// Sweeper kills every process whose command line contains one of its
// tokens. Matching is a plain substring test, so tokens should be specific
// enough not to hit unrelated processes.
type Sweeper struct {
	tokens []string
	list   Lister
	kill   Killer
	logger *slog.Logger
}

// NewSweeper creates a sweeper. Nil list or kill fall back to the real
// process table and SIGKILL.
func NewSweeper(tokens []string, list Lister, kill Killer, logger *slog.Logger) *Sweeper {
	if list == nil {
		list = ListProcesses
	}
	if kill == nil {
		kill = KillPID
	}
	clean := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t = strings.TrimSpace(t); t != "" {
			clean = append(clean, t)
		}
	}
	return &Sweeper{tokens: clean, list: list, kill: kill, logger: logger}
}

// Matches reports whether cmdline carries any sweep token.
func (s *Sweeper) Matches(cmdline string) bool {
	for _, t := range s.tokens {
		if strings.Contains(cmdline, t) {
			return true
		}
	}
	return false
}

// Sweep kills every matching process except self and returns how many
// kills were delivered. Kill failures are expected races and are only
// logged at debug.
func (s *Sweeper) Sweep(ctx context.Context, self int) int {
	if len(s.tokens) == 0 {
		return 0
	}

	entries, err := s.list(ctx)
	if err != nil {
		s.logger.Warn("Failed to list processes for sweep", "error", err)
		return 0
	}

	killed := 0
	for _, e := range entries {
		if e.PID == self || !s.Matches(e.Cmdline) {
			continue
		}
		if err := s.kill(e.PID); err != nil {
			s.logger.Debug("Sweep kill skipped", "pid", e.PID, "error", err)
			continue
		}
		s.logger.Info("Swept stray pipeline process", "pid", e.PID, "cmdline", e.Cmdline)
		killed++
	}
	return killed
}
