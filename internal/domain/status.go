package domain

type TransportState int

const (
	TransportIdle TransportState = iota
	TransportConnecting
	TransportOpen
	TransportClosed
	TransportErrored
)

func (s TransportState) String() string {
	switch s {
	case TransportIdle:
		return "idle"
	case TransportConnecting:
		return "connecting"
	case TransportOpen:
		return "open"
	case TransportClosed:
		return "closed"
	case TransportErrored:
		return "errored"
	default:
		return "unknown"
	}
}

type CaptureState int

const (
	CaptureIdle CaptureState = iota
	CaptureCapturing
	CaptureStopped
)

func (s CaptureState) String() string {
	switch s {
	case CaptureIdle:
		return "idle"
	case CaptureCapturing:
		return "capturing"
	case CaptureStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Status is the state a UI observes. AudioLevel is on a 0-100 scale.
type Status struct {
	Loading        bool    `json:"is_loading"`
	Playing        bool    `json:"is_playing"`
	WebSocketReady bool    `json:"is_websocket_ready"`
	AudioLevel     float64 `json:"audio_level"`
}
