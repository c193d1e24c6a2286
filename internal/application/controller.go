package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"voicestream/internal/domain"
)

// Controller is the single owner of the transport, the capture session and
// the playback timeline. Start/stop commands and transport events are
// serialised through one actor goroutine; every start opens a new generation
// and events from older generations are ignored.
type Controller struct {
	url       string
	loader    SchemaLoader
	dialer    TransportDialer
	capture   *CapturePipeline
	scheduler *PlaybackScheduler
	observer  StateObserver
	recorder  Recorder
	logger    *slog.Logger

	inbox   chan func()
	running chan struct{}
	done    chan struct{}

	generation atomic.Uint64

	// owned by the actor goroutine
	runCtx    context.Context
	codec     FrameCodec
	transport Transport
	session   *CaptureSession
	sessionID string

	mu     sync.RWMutex
	status domain.Status
	// held across OnStatus so observers see changes in order
	notifyMu sync.Mutex
}

func NewController(
	url string,
	loader SchemaLoader,
	dialer TransportDialer,
	capture *CapturePipeline,
	scheduler *PlaybackScheduler,
	observer StateObserver,
	recorder Recorder,
	logger *slog.Logger,
) *Controller {
	if observer == nil {
		observer = &NoopObserver{}
	}
	if recorder == nil {
		recorder = NoopRecorder{}
	}
	return &Controller{
		url:       url,
		loader:    loader,
		dialer:    dialer,
		capture:   capture,
		scheduler: scheduler,
		observer:  observer,
		recorder:  recorder,
		logger:    logger,
		inbox:     make(chan func(), 64),
		running:   make(chan struct{}),
		done:      make(chan struct{}),
		status:    domain.Status{Loading: true},
	}
}

// Run loads the frame schema, then serves commands and runs the playback
// worker until ctx is done. Everything still open is torn down on return.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info("loading frame schema")
	codec, err := c.loader.Load(ctx)
	if err != nil {
		close(c.done)
		if !errors.Is(err, domain.ErrSchemaLoad) {
			err = fmt.Errorf("%w: %w", domain.ErrSchemaLoad, err)
		}
		return fmt.Errorf("loading frame schema: %w", err)
	}
	c.codec = codec

	g, gctx := errgroup.WithContext(ctx)
	c.runCtx = gctx
	g.Go(func() error {
		return c.scheduler.Run(gctx)
	})
	g.Go(func() error {
		c.loop(gctx)
		return nil
	})

	c.update(func(s *domain.Status) { s.Loading = false })
	c.logger.Info("controller ready", "url", c.url)

	return g.Wait()
}

func (c *Controller) loop(ctx context.Context) {
	close(c.running)
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			c.stop(true)
			return
		case fn := <-c.inbox:
			fn()
		}
	}
}

// post hands fn to the actor. It fails once the actor has exited.
func (c *Controller) post(ctx context.Context, fn func()) error {
	select {
	case c.inbox <- fn:
		return nil
	case <-c.done:
		return domain.ErrNotReady
	case <-ctx.Done():
		return ctx.Err()
	}
}

// call runs fn on the actor and waits for it.
func (c *Controller) call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if err := c.post(ctx, func() {
		defer close(finished)
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-c.done:
		// the actor may have exited with fn still queued
		select {
		case <-finished:
			return nil
		default:
			return domain.ErrNotReady
		}
	}
}

// StartAudio connects the transport and starts capturing. It returns once the
// input device has been granted; the transport may still be connecting.
// Starting while already playing is a no-op.
func (c *Controller) StartAudio(ctx context.Context) error {
	if c.Status().Loading {
		return domain.ErrNotReady
	}

	var (
		gen     uint64
		codec   FrameCodec
		sender  Transport
		started bool
		dialErr error
	)
	err := c.call(ctx, func() {
		if c.Status().Playing {
			return
		}
		if c.transport != nil {
			// left open by an earlier StopAudio(false)
			_ = c.transport.Close()
			c.transport = nil
		}

		gen = c.generation.Add(1)
		c.sessionID = uuid.NewString()
		c.update(func(s *domain.Status) {
			s.Playing = true
			s.WebSocketReady = false
		})
		c.logger.Info("starting audio", "session", c.sessionID, "url", c.url)

		t, err := c.dialer.Dial(c.runCtx, c.url, &transportEvents{c: c, gen: gen})
		if err != nil {
			dialErr = err
			c.stop(false)
			return
		}
		c.transport = t
		codec, sender, started = c.codec, t, true
	})
	if err != nil {
		return err
	}
	if dialErr != nil {
		return fmt.Errorf("connecting to %s: %w", c.url, dialErr)
	}
	if !started {
		return nil
	}

	session, capErr := c.capture.Start(ctx, codec, sender, func(level float64) {
		c.setLevel(gen, level)
	})

	var result error
	err = c.call(context.Background(), func() {
		if gen != c.generation.Load() {
			// stopped while the device was being acquired
			if session != nil {
				session.Stop()
			}
			return
		}
		if capErr != nil {
			c.logger.Error("capture unavailable", "session", c.sessionID, "error", capErr)
			c.stop(true)
			result = capErr
			return
		}
		c.session = session
	})
	if err != nil {
		if session != nil {
			session.Stop()
		}
		if capErr != nil {
			return capErr
		}
		return err
	}
	return result
}

// StopAudio stops capture and playback. The transport is closed only when
// closeConnection is set. Safe to call in any state.
func (c *Controller) StopAudio(closeConnection bool) {
	select {
	case <-c.running:
	default:
		return
	}
	_ = c.call(context.Background(), func() {
		c.stop(closeConnection)
	})
}

func (c *Controller) Status() domain.Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// stop runs on the actor.
func (c *Controller) stop(closeConnection bool) {
	c.generation.Add(1)
	c.scheduler.Reset()

	c.update(func(s *domain.Status) {
		s.Playing = false
		s.WebSocketReady = false
		s.AudioLevel = 0
	})

	if c.transport != nil && closeConnection {
		if err := c.transport.Close(); err != nil {
			c.logger.Warn("closing transport", "session", c.sessionID, "error", err)
		}
		c.transport = nil
	}

	if c.session != nil {
		c.session.Stop()
		c.session = nil
	}

	// a block in flight during Stop may have raised the level again
	c.update(func(s *domain.Status) { s.AudioLevel = 0 })

	c.logger.Info("audio stopped", "session", c.sessionID, "closed", closeConnection)
}

func (c *Controller) update(fn func(s *domain.Status)) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	before := c.status
	fn(&c.status)
	after := c.status
	c.mu.Unlock()

	if after != before {
		c.observer.OnStatus(after)
	}
}

func (c *Controller) setLevel(gen uint64, level float64) {
	if gen != c.generation.Load() {
		return
	}
	c.update(func(s *domain.Status) { s.AudioLevel = level })
}

func (c *Controller) onOpen(gen uint64) {
	if gen != c.generation.Load() {
		return
	}
	c.logger.Info("transport open", "session", c.sessionID)
	c.update(func(s *domain.Status) { s.WebSocketReady = true })
}

func (c *Controller) onMessage(gen uint64, data []byte) {
	if gen != c.generation.Load() {
		c.recorder.FrameDropped(DropStale)
		return
	}
	c.recorder.FrameReceived(len(data))

	frame, err := c.codec.Decode(data)
	if err != nil {
		c.recorder.FrameDropped(DropMalformed)
		c.logger.Debug("dropping malformed frame", "bytes", len(data), "error", err)
		return
	}
	audio, ok := domain.AsAudio(frame)
	if !ok {
		c.recorder.FrameDropped(DropNotAudio)
		c.logger.Debug("ignoring non-audio frame", "kind", frame.Kind())
		return
	}
	c.scheduler.Enqueue(audio)
}

func (c *Controller) onEnded(gen uint64, err error, code int, reason string) {
	if gen != c.generation.Load() {
		return
	}
	if err != nil {
		c.logger.Error("transport error", "session", c.sessionID, "error", err)
	} else {
		c.logger.Info("transport closed", "session", c.sessionID, "code", code, "reason", reason)
	}
	c.stop(false)
}

// transportEvents routes callbacks from one transport generation onto the
// actor.
type transportEvents struct {
	c   *Controller
	gen uint64
}

func (e *transportEvents) OnOpen() {
	_ = e.c.post(context.Background(), func() { e.c.onOpen(e.gen) })
}

func (e *transportEvents) OnMessage(data []byte) {
	_ = e.c.post(context.Background(), func() { e.c.onMessage(e.gen, data) })
}

func (e *transportEvents) OnError(err error) {
	_ = e.c.post(context.Background(), func() { e.c.onEnded(e.gen, err, 0, "") })
}

func (e *transportEvents) OnClose(code int, reason string) {
	_ = e.c.post(context.Background(), func() { e.c.onEnded(e.gen, nil, code, reason) })
}
