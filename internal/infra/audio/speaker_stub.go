//go:build !portaudio
// +build !portaudio

package audio

import (
	"context"
	"fmt"
	"log/slog"

	"voicestream/internal/domain"
)

// Speaker stub when portaudio is not available
type Speaker struct {
	*Timeline
	logger *slog.Logger
}

func NewSpeaker(sampleRate, _ int, logger *slog.Logger) *Speaker {
	if sampleRate <= 0 {
		sampleRate = domain.DefaultSampleRate
	}
	return &Speaker{Timeline: NewTimeline(sampleRate), logger: logger}
}

func (s *Speaker) Name() string {
	return "speaker"
}

func (s *Speaker) Run(_ context.Context) error {
	return fmt.Errorf("speaker output not available: rebuild with -tags portaudio")
}
