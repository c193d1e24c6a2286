package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"voicestream/internal/domain"
)

type CaptureConfig struct {
	Constraints CaptureConstraints
	BlockSize   int
}

func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{
		Constraints: DefaultCaptureConstraints(),
		BlockSize:   domain.DefaultBlockSize,
	}
}

// Sender is the outbound half of a transport as seen by the capture loop.
type Sender interface {
	Ready() bool
	Send(data []byte) error
}

// CapturePipeline turns device blocks into encoded audio frames.
type CapturePipeline struct {
	device   InputDevice
	cfg      CaptureConfig
	recorder Recorder
	logger   *slog.Logger
}

func NewCapturePipeline(device InputDevice, cfg CaptureConfig, recorder Recorder, logger *slog.Logger) *CapturePipeline {
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = domain.DefaultBlockSize
	}
	if recorder == nil {
		recorder = NoopRecorder{}
	}
	return &CapturePipeline{
		device:   device,
		cfg:      cfg,
		recorder: recorder,
		logger:   logger,
	}
}

// Start acquires the input device and begins pushing blocks through codec to
// sender. It blocks until the device is granted or refused.
func (p *CapturePipeline) Start(ctx context.Context, codec FrameCodec, sender Sender, onLevel func(float64)) (*CaptureSession, error) {
	s := &CaptureSession{
		codec:    codec,
		sender:   sender,
		onLevel:  onLevel,
		cfg:      p.cfg,
		recorder: p.recorder,
		logger:   p.logger,
		state:    domain.CaptureCapturing,
	}

	stream, err := p.device.Open(ctx, p.cfg.Constraints, p.cfg.BlockSize, s.process)
	if err != nil {
		s.mu.Lock()
		s.state = domain.CaptureStopped
		s.mu.Unlock()
		if !errors.Is(err, domain.ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %w", domain.ErrDeviceUnavailable, err)
		}
		return nil, fmt.Errorf("opening %s: %w", p.device.Name(), err)
	}

	s.mu.Lock()
	s.stream = stream
	s.mu.Unlock()

	p.logger.Info("capture started",
		"device", p.device.Name(),
		"sampleRate", p.cfg.Constraints.SampleRate,
		"channels", p.cfg.Constraints.Channels,
		"blockSize", p.cfg.BlockSize,
	)
	return s, nil
}

// CaptureSession owns an open device tap. It is owned by whoever started it.
type CaptureSession struct {
	codec    FrameCodec
	sender   Sender
	onLevel  func(float64)
	cfg      CaptureConfig
	recorder Recorder
	logger   *slog.Logger

	mu     sync.Mutex
	stream InputStream
	state  domain.CaptureState
	level  float64
}

// process runs on the device goroutine. The session lock is held for the
// whole block so nothing is sent once Stop has returned.
func (s *CaptureSession) process(block []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != domain.CaptureCapturing {
		return
	}

	s.level = Level(block)
	s.recorder.AudioLevel(s.level)
	if s.onLevel != nil {
		s.onLevel(s.level)
	}

	if !s.sender.Ready() {
		s.recorder.FrameDropped(DropNotReady)
		return
	}

	frame, err := domain.NewAudioFrame(EncodePCM16(block), s.cfg.Constraints.SampleRate, s.cfg.Constraints.Channels)
	if err != nil {
		s.recorder.FrameDropped(DropEncode)
		s.logger.Debug("dropping capture block", "error", err)
		return
	}

	data, err := s.codec.Encode(frame)
	if err != nil {
		s.recorder.FrameDropped(DropEncode)
		s.logger.Debug("encoding capture block", "error", err)
		return
	}

	if err := s.sender.Send(data); err != nil {
		s.recorder.FrameDropped(DropSendFailed)
		s.logger.Debug("sending capture block", "error", err)
		return
	}
	s.recorder.FrameSent(len(data))
}

// Stop disconnects the device tap and releases the device. Safe to call any
// number of times.
func (s *CaptureSession) Stop() {
	s.mu.Lock()
	s.level = 0
	if s.state == domain.CaptureStopped {
		s.mu.Unlock()
		return
	}
	s.state = domain.CaptureStopped
	stream := s.stream
	s.stream = nil
	s.mu.Unlock()

	s.recorder.AudioLevel(0)

	if stream != nil {
		if err := stream.Close(); err != nil {
			s.logger.Warn("closing input stream", "error", err)
		}
	}
	s.logger.Info("capture stopped")
}

func (s *CaptureSession) Level() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level
}

func (s *CaptureSession) State() domain.CaptureState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
