//go:build portaudio
// +build portaudio

package audio

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gordonklaus/portaudio"

	"voicestream/internal/domain"
)

// Speaker pulls the timeline from the default output device. The device's
// own pace drives the audio clock.
type Speaker struct {
	*Timeline
	bufferSize int
	logger     *slog.Logger
}

func NewSpeaker(sampleRate, bufferSize int, logger *slog.Logger) *Speaker {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if sampleRate <= 0 {
		sampleRate = domain.DefaultSampleRate
	}
	return &Speaker{
		Timeline:   NewTimeline(sampleRate),
		bufferSize: bufferSize,
		logger:     logger,
	}
}

func (s *Speaker) Name() string {
	return "speaker"
}

func (s *Speaker) Run(ctx context.Context) error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("initializing portaudio: %w", err)
	}
	defer portaudio.Terminate()

	var scratch [][2]float64
	stream, err := portaudio.OpenDefaultStream(
		0,
		2,
		float64(s.rate),
		s.bufferSize,
		func(out []float32) {
			frames := len(out) / 2
			if cap(scratch) < frames {
				scratch = make([][2]float64, frames)
			}
			scratch = scratch[:frames]
			s.Stream(scratch)
			for i, f := range scratch {
				out[2*i] = float32(f[0])
				out[2*i+1] = float32(f[1])
			}
		},
	)
	if err != nil {
		return fmt.Errorf("opening output stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("starting output stream: %w", err)
	}
	s.logger.Info("speaker started", "sampleRate", int(s.rate), "bufferSize", s.bufferSize)

	<-ctx.Done()

	if err := stream.Stop(); err != nil {
		return fmt.Errorf("stopping output stream: %w", err)
	}
	return nil
}
