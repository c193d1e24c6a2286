package domain

import "time"

const (
	DefaultSampleRate = 16000
	DefaultChannels   = 1
	DefaultBlockSize  = 512
)

// PlaybackBuffer is decoded audio ready to be scheduled: interleaved float32
// samples in [-1, 1].
type PlaybackBuffer struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

// Frames returns the number of sample frames (samples per channel).
func (b *PlaybackBuffer) Frames() int {
	if b == nil || b.Channels <= 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

func (b *PlaybackBuffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.SampleRate)
}
