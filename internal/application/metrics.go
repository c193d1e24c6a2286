package application

import "time"

// Drop reasons reported to Recorder.FrameDropped.
const (
	DropNotReady   = "not_ready"
	DropSendFailed = "send_failed"
	DropEncode     = "encode_failed"
	DropQueueFull  = "decode_queue_full"
	DropEmpty      = "empty_payload"
	DropDecode     = "decode_failed"
	DropStale      = "stale"
	DropNotAudio   = "not_audio"
	DropMalformed  = "malformed"
)

// Recorder receives pipeline counters. Implementations must be safe for
// concurrent use.
type Recorder interface {
	FrameSent(bytes int)
	FrameDropped(reason string)
	FrameReceived(bytes int)
	PlaybackReset()
	BufferScheduled(lead time.Duration)
	AudioLevel(level float64)
}

type NoopRecorder struct{}

func (NoopRecorder) FrameSent(int)                 {}
func (NoopRecorder) FrameDropped(string)           {}
func (NoopRecorder) FrameReceived(int)             {}
func (NoopRecorder) PlaybackReset()                {}
func (NoopRecorder) BufferScheduled(time.Duration) {}
func (NoopRecorder) AudioLevel(float64)            {}
