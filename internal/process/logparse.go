package process

import "strings"

// LogParser parses a log line and returns the log level and message.
// Used to extract structured log info from pipeline output.
type LogParser func(line string) (level, msg string)

// ParseLogLevel classifies pipeline output. It understands the GStreamer
// debug format ("0:00:01.2 1234 0x55c0 WARN v4l2src ...") and the
// "Error:"/"Warning:" prefixes printed by the push script.
func ParseLogLevel(line string) (level, msg string) {
	trimmed := strings.TrimSpace(line)
	lower := strings.ToLower(trimmed)

	switch {
	case strings.HasPrefix(lower, "error"):
		return "error", trimmed
	case strings.HasPrefix(lower, "warning"):
		return "warning", trimmed
	}

	fields := strings.Fields(trimmed)
	if len(fields) >= 4 && strings.Count(fields[0], ":") == 2 {
		if lvl, ok := gstLevel(fields[3]); ok {
			return lvl, trimmed
		}
	}

	return "info", trimmed
}

func gstLevel(s string) (string, bool) {
	switch s {
	case "ERROR":
		return "error", true
	case "WARN", "FIXME":
		return "warning", true
	case "INFO":
		return "info", true
	case "DEBUG", "LOG", "TRACE", "MEMDUMP":
		return "debug", true
	}
	return "", false
}
