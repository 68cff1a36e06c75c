package led

import (
	"log/slog"
	"os"
	"strings"
)

const deviceTreeModelPath = "/proc/device-tree/model"

// boardLEDs maps device tree model substrings to their user-facing LED.
var boardLEDs = []struct {
	model string
	led   string
}{
	{"Raspberry Pi", "ACT"},
	{"NanoPC-T6", "usr_led"},
	{"Orange Pi", "green_led"},
}

// New returns a controller for the named LED under /sys/class/leds. With
// an empty name the board is detected from the device tree; unknown boards
// get a no-op controller.
func New(name string, logger *slog.Logger) Controller {
	if name != "" {
		logger.Info("Using configured status LED", "led", name)
		return newSysfs("", name)
	}

	model := detectBoard()
	for _, b := range boardLEDs {
		if strings.Contains(model, b.model) {
			logger.Info("Detected board status LED", "board_model", model, "led", b.led)
			return newSysfs("", b.led)
		}
	}
	logger.Info("No status LED for board, using no-op controller", "board_model", model)
	return newNoop(logger)
}

func detectBoard() string {
	data, err := os.ReadFile(deviceTreeModelPath)
	if err != nil {
		return "unknown"
	}
	return strings.TrimRight(string(data), "\x00")
}
