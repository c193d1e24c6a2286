//go:build portaudio
// +build portaudio

package audio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"

	"voicestream/internal/application"
	"voicestream/internal/domain"
)

type Microphone struct {
	logger *slog.Logger
}

func NewMicrophone(logger *slog.Logger) *Microphone {
	return &Microphone{logger: logger}
}

func (m *Microphone) Name() string {
	return "microphone"
}

func (m *Microphone) Open(ctx context.Context, c application.CaptureConstraints, blockSize int, onBlock application.BlockHandler) (application.InputStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: initializing portaudio: %w", domain.ErrDeviceUnavailable, err)
	}

	if c.EchoCancellation || c.NoiseSuppression || c.AutoGainControl {
		// PortAudio host APIs expose no voice processing; input is raw.
		m.logger.Warn("voice processing constraints not supported by portaudio, capturing raw input",
			"echoCancellation", c.EchoCancellation,
			"noiseSuppression", c.NoiseSuppression,
			"autoGainControl", c.AutoGainControl,
		)
	}

	stream, err := portaudio.OpenDefaultStream(
		c.Channels,
		0,
		float64(c.SampleRate),
		blockSize,
		func(in []float32) { onBlock(in) },
	)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("%w: opening input stream: %w", domain.ErrDeviceUnavailable, err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("%w: starting input stream: %w", domain.ErrDeviceUnavailable, err)
	}

	m.logger.Info("microphone started", "sampleRate", c.SampleRate, "blockSize", blockSize)
	return &micStream{stream: stream}, nil
}

type micStream struct {
	stream    *portaudio.Stream
	closeOnce sync.Once
	err       error
}

func (s *micStream) Close() error {
	s.closeOnce.Do(func() {
		if err := s.stream.Stop(); err != nil {
			s.err = fmt.Errorf("stopping input stream: %w", err)
		}
		if err := s.stream.Close(); err != nil && s.err == nil {
			s.err = fmt.Errorf("closing input stream: %w", err)
		}
		portaudio.Terminate()
	})
	return s.err
}
