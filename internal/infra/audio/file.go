package audio

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"voicestream/internal/application"
	"voicestream/internal/domain"
)

// FileDevice replays a WAV file as if it were a microphone, one block per
// block duration.
type FileDevice struct {
	path   string
	loop   bool
	logger *slog.Logger
}

func NewFileDevice(path string, loop bool, logger *slog.Logger) *FileDevice {
	return &FileDevice{
		path:   path,
		loop:   loop,
		logger: logger,
	}
}

func (f *FileDevice) Name() string {
	return "file"
}

func (f *FileDevice) Open(ctx context.Context, c application.CaptureConstraints, blockSize int, onBlock application.BlockHandler) (application.InputStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.Channels < 1 || c.Channels > 2 {
		return nil, fmt.Errorf("%w: file device supports 1 or 2 channels, got %d", domain.ErrDeviceUnavailable, c.Channels)
	}
	if c.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: invalid sample rate %d", domain.ErrDeviceUnavailable, c.SampleRate)
	}
	if blockSize <= 0 {
		blockSize = domain.DefaultBlockSize
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", domain.ErrDeviceUnavailable, f.path, err)
	}
	buf, err := decodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %w", domain.ErrDeviceUnavailable, f.path, err)
	}
	samples := conform(buf, c.SampleRate, c.Channels)
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: %s has no audio", domain.ErrDeviceUnavailable, f.path)
	}

	f.logger.Info("replaying audio file",
		"path", f.path,
		"sourceRate", buf.SampleRate,
		"sourceChannels", buf.Channels,
		"loop", f.loop,
	)

	s := &fileStream{
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	period := time.Duration(blockSize) * time.Second / time.Duration(c.SampleRate)
	go s.run(samples, blockSize*c.Channels, period, f.loop, onBlock)
	return s, nil
}

// conform converts buf to interleaved samples at the given rate and channel
// count.
func conform(buf *domain.PlaybackBuffer, rate, channels int) []float32 {
	stereo := NewTimeline(rate).convert(buf)
	out := make([]float32, 0, len(stereo)*channels)
	for _, s := range stereo {
		if channels == 1 {
			out = append(out, float32((s[0]+s[1])/2))
			continue
		}
		out = append(out, float32(s[0]), float32(s[1]))
	}
	return out
}

type fileStream struct {
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

func (s *fileStream) run(samples []float32, blockLen int, period time.Duration, loop bool, onBlock application.BlockHandler) {
	defer close(s.stopped)

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	block := make([]float32, blockLen)
	pos := 0
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}

		if pos >= len(samples) {
			if !loop {
				continue
			}
			pos = 0
		}
		n := copy(block, samples[pos:])
		clear(block[n:])
		pos += n
		onBlock(block)
	}
}

// Close stops delivery. No block is delivered after Close returns.
func (s *fileStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	<-s.stopped
	return nil
}
