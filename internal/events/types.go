package events

// Event type constants for kelindar/event.
const (
	TypeCaptureStateChanged uint32 = iota + 1
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// Capture states carried in CaptureStateChangedEvent.
const (
	StateNoInput = "NO_INPUT"
	StateInput   = "INPUT"
)

// CaptureStateChangedEvent is published whenever the capture state or the
// pipeline's running state changes. It is a full snapshot so subscribers
// never need to combine several events.
type CaptureStateChangedEvent struct {
	State      string `json:"state" example:"INPUT"`
	Streaming  bool   `json:"streaming"`
	Resolution string `json:"resolution,omitempty" example:"1920x1080"`
	FPS        string `json:"fps,omitempty" example:"60.00"`
	Reason     string `json:"reason,omitempty" example:"signal lost"`
	Timestamp  string `json:"timestamp" example:"2025-01-27T10:30:00Z"`
}

// Type returns the event type identifier for CaptureStateChangedEvent.
func (e CaptureStateChangedEvent) Type() uint32 { return TypeCaptureStateChanged }

// HasInput reports whether the device had a signal and the consumer was up.
func (e CaptureStateChangedEvent) HasInput() bool { return e.State == StateInput }
