package led

import (
	"log/slog"
	"os"
	"strings"
)

const deviceTreeModelPath = "/proc/device-tree/model"

// boardLEDs maps a device-tree model substring to the status LED, always
// exposed as the "system" LED type.
var boardLEDs = []struct {
	model string
	led   string
}{
	{"NanoPC-T6", "sys_led"},
	{"Radxa ZERO 3", "radxa-zero3:green"},
	{"Orange Pi 3B", "status_led"},
	{"Orange Pi", "green_led"},
	{"LubanCat", "sys_status_led"},
	{"Raspberry Pi", "ACT"},
}

// New creates a new LED controller based on board detection
// Falls back to no-op controller if LEDs are not available.
func New(logger *slog.Logger) Controller {
	return newForModel(detectBoard(deviceTreeModelPath), logger)
}

func newForModel(boardModel string, logger *slog.Logger) Controller {
	if logger == nil {
		logger = slog.Default()
	}

	for _, b := range boardLEDs {
		if strings.Contains(boardModel, b.model) {
			logger.Info("Detected board, using sysfs LED controller", "board_model", boardModel, "led", b.led)
			return newSysfs(map[string]string{"system": b.led})
		}
	}

	logger.Info("No LED support detected, using no-op controller", "board_model", boardModel)
	return newNoop(logger)
}

// detectBoard reads the device tree model to identify the board.
func detectBoard(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return "unknown"
	}

	// Device tree model contains null bytes, trim them
	return strings.TrimRight(string(data), "\x00")
}
