package watch

import "github.com/smazurov/capturewatch/internal/events"

// CaptureState is the last observed readiness of device and consumer.
type CaptureState int

const (
	NoInput CaptureState = iota
	Input
)

func (s CaptureState) String() string {
	if s == Input {
		return events.StateInput
	}
	return events.StateNoInput
}
