// Package logging provides structured logging with per-module log level configuration.
//
// # Overview
//
// The logging system uses Go's slog package with automatic output routing:
//   - Logs to systemd journal when available (journald on the capture board)
//   - Logs to stdout when a terminal, pipe, or file is connected
//   - Logs to both when both are available
//
// # Usage
//
// Initialize the logging system once at startup:
//
//	logging.Initialize(logging.Config{
//		Level:  "info",      // Global log level: debug, info, warn, error
//		Format: "text",      // Output format: text or json
//		Modules: map[string]string{
//			"process":  "debug",  // Per-module overrides
//			"pipeline": "warn",
//		},
//	})
//
// Get a logger for your module:
//
//	logger := logging.GetLogger("watch")
//	logger.Info("Starting up", "interval", interval)
//	logger.Debug("Details", "config", cfg)
//	logger.Warn("Something unusual", "error", err)
//	logger.Error("Failed", "error", err)
//
// Add contextual attributes:
//
//	logger := logging.GetLogger("process").With("pid", pid)
//	logger.Info("Child started")  // Includes pid in all logs
//
// # Log Levels
//
//	debug - Verbose debugging information
//	info  - General operational messages
//	warn  - Warning conditions
//	error - Error conditions
//
// # Output Destinations
//
// The system automatically detects available outputs:
//
//	Journal available + stdout available → MultiHandler (both)
//	Journal available only              → JournalHandler
//	Stdout available only               → TextHandler or JSONHandler
//
// Journal availability is checked via [github.com/coreos/go-systemd/v22/journal.Enabled].
//
// # Viewing Logs
//
// When running as a systemd service or on a system with journald:
//
//	journalctl -t capturewatch              # All capturewatch logs
//	journalctl -t capturewatch -f           # Follow live
//	journalctl -t capturewatch --since "5m" # Last 5 minutes
//	journalctl -t capturewatch -p err       # Errors only
//
// Filter by structured fields:
//
//	journalctl -t capturewatch MODULE=watch
//	journalctl -t capturewatch MODULE=pipeline
//
// # Configuration
//
// Log levels can be set globally or per-module. Module-specific levels
// override the global level for that module only. [SetLevels] changes
// levels at runtime when the configuration file is edited.
//
// Example TOML configuration:
//
//	[logging]
//	level = "info"
//	format = "text"
//
//	[logging.modules]
//	process = "debug"
//	pipeline = "warn"
package logging
