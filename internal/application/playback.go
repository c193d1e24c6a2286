package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"voicestream/internal/domain"
)

const (
	DefaultResetThreshold = time.Second
	DefaultDecodeQueue    = 64
)

type PlaybackConfig struct {
	// ResetThreshold is the inter-arrival gap after which the timeline
	// restarts at the current clock. Zero or negative disables the gap check.
	ResetThreshold time.Duration
	QueueSize      int
}

func DefaultPlaybackConfig() PlaybackConfig {
	return PlaybackConfig{
		ResetThreshold: DefaultResetThreshold,
		QueueSize:      DefaultDecodeQueue,
	}
}

type playbackJob struct {
	ctx   context.Context
	frame *domain.AudioFrame
}

// PlaybackScheduler lays decoded buffers end to end on the output clock.
// Enqueue records arrival and hands the payload to a single decode worker
// started by Run; the worker places each buffer at nextPlayTime.
type PlaybackScheduler struct {
	out      Output
	decoder  PayloadDecoder
	cfg      PlaybackConfig
	recorder Recorder
	logger   *slog.Logger

	jobs chan playbackJob

	mu           sync.Mutex
	nextPlayTime time.Duration
	lastArrival  time.Duration
	epoch        context.Context
	cancel       context.CancelFunc
}

func NewPlaybackScheduler(out Output, decoder PayloadDecoder, cfg PlaybackConfig, recorder Recorder, logger *slog.Logger) *PlaybackScheduler {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultDecodeQueue
	}
	if recorder == nil {
		recorder = NoopRecorder{}
	}
	epoch, cancel := context.WithCancel(context.Background())
	return &PlaybackScheduler{
		out:      out,
		decoder:  decoder,
		cfg:      cfg,
		recorder: recorder,
		logger:   logger,
		jobs:     make(chan playbackJob, cfg.QueueSize),
		epoch:    epoch,
		cancel:   cancel,
	}
}

// Enqueue accepts one received audio frame. It never blocks; when the decode
// queue is full the frame is dropped.
func (s *PlaybackScheduler) Enqueue(frame *domain.AudioFrame) {
	if frame == nil || len(frame.Samples) == 0 {
		s.recorder.FrameDropped(DropEmpty)
		return
	}

	s.mu.Lock()
	now := s.out.Now()
	gap := now - s.lastArrival
	if s.nextPlayTime == 0 {
		s.nextPlayTime = now
	} else if s.cfg.ResetThreshold > 0 && gap > s.cfg.ResetThreshold {
		s.logger.Debug("playback timeline reset", "gap", gap, "threshold", s.cfg.ResetThreshold)
		s.recorder.PlaybackReset()
		s.nextPlayTime = now
	}
	s.lastArrival = now
	job := playbackJob{ctx: s.epoch, frame: frame}
	s.mu.Unlock()

	select {
	case s.jobs <- job:
	default:
		s.recorder.FrameDropped(DropQueueFull)
		s.logger.Debug("decode queue full, dropping frame", "bytes", len(frame.Samples))
	}
}

// Run decodes queued frames in arrival order until ctx is done.
func (s *PlaybackScheduler) Run(ctx context.Context) error {
	defer s.Reset()
	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-s.jobs:
			s.play(job)
		}
	}
}

func (s *PlaybackScheduler) play(job playbackJob) {
	if job.ctx.Err() != nil {
		s.recorder.FrameDropped(DropStale)
		return
	}

	buf, err := s.decode(job)
	if err != nil {
		if errors.Is(err, context.Canceled) || job.ctx.Err() != nil {
			s.recorder.FrameDropped(DropStale)
			return
		}
		s.recorder.FrameDropped(DropDecode)
		s.logger.Debug("dropping undecodable payload", "error", err)
		return
	}
	if buf.Frames() == 0 {
		s.recorder.FrameDropped(DropEmpty)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Reset may have run while decoding.
	if job.ctx.Err() != nil {
		s.recorder.FrameDropped(DropStale)
		return
	}
	at := s.nextPlayTime
	s.nextPlayTime += buf.Duration()
	s.recorder.BufferScheduled(at - s.out.Now())
	s.out.Play(at, buf)
}

// decode keeps a panicking decoder from taking down the worker.
func (s *PlaybackScheduler) decode(job playbackJob) (buf *domain.PlaybackBuffer, err error) {
	defer func() {
		if r := recover(); r != nil {
			buf, err = nil, fmt.Errorf("%w: decoder panicked: %v", domain.ErrMalformedFrame, r)
		}
	}()
	return s.decoder.Decode(job.ctx, job.frame)
}

// Reset empties the timeline, discards every pending decode and silences the
// output.
func (s *PlaybackScheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextPlayTime = 0
	s.lastArrival = 0
	s.cancel()
	s.epoch, s.cancel = context.WithCancel(context.Background())
	s.out.Clear()
}

func (s *PlaybackScheduler) NextPlayTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextPlayTime
}
