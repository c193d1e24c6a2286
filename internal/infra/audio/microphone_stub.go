//go:build !portaudio
// +build !portaudio

package audio

import (
	"context"
	"fmt"
	"log/slog"

	"voicestream/internal/application"
	"voicestream/internal/domain"
)

// Microphone stub when portaudio is not available
type Microphone struct {
	logger *slog.Logger
}

func NewMicrophone(logger *slog.Logger) *Microphone {
	return &Microphone{logger: logger}
}

func (m *Microphone) Name() string {
	return "microphone"
}

func (m *Microphone) Open(_ context.Context, _ application.CaptureConstraints, _ int, _ application.BlockHandler) (application.InputStream, error) {
	return nil, fmt.Errorf("%w: microphone not available: rebuild with -tags portaudio", domain.ErrDeviceUnavailable)
}
