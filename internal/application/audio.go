package application

import (
	"context"
	"time"

	"voicestream/internal/domain"
)

// CaptureConstraints is what the pipeline asks of an input device.
type CaptureConstraints struct {
	SampleRate       int
	Channels         int
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

func DefaultCaptureConstraints() CaptureConstraints {
	return CaptureConstraints{
		SampleRate:       domain.DefaultSampleRate,
		Channels:         domain.DefaultChannels,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	}
}

// BlockHandler receives one block of float32 samples. The slice may be reused
// by the device after the call returns.
type BlockHandler func(block []float32)

// InputDevice acquires a capture stream. ctx bounds acquisition only; the
// returned stream runs until closed.
type InputDevice interface {
	Name() string
	Open(ctx context.Context, c CaptureConstraints, blockSize int, onBlock BlockHandler) (InputStream, error)
}

// InputStream is an open device tap. Close stops delivery and releases the
// device.
type InputStream interface {
	Close() error
}

// AudioClock is the monotonic clock of the output device.
type AudioClock interface {
	Now() time.Duration
}

type Output interface {
	AudioClock
	Play(at time.Duration, buf *domain.PlaybackBuffer)
	Clear()
}

type PayloadDecoder interface {
	Decode(ctx context.Context, frame *domain.AudioFrame) (*domain.PlaybackBuffer, error)
}
