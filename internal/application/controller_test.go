package application_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"voicestream/internal/application"
	"voicestream/internal/domain"
)

const testURL = "ws://localhost:8765"

type controllerHarness struct {
	ctrl     *application.Controller
	device   *mockDevice
	dialer   *mockDialer
	out      *mockOutput
	recorder *mockRecorder

	mu       sync.Mutex
	statuses []domain.Status
}

func (h *controllerHarness) Statuses() []domain.Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.Status(nil), h.statuses...)
}

func newHarness(t *testing.T, loader application.SchemaLoader) *controllerHarness {
	t.Helper()
	h := &controllerHarness{
		device:   &mockDevice{},
		dialer:   &mockDialer{},
		out:      &mockOutput{now: time.Second},
		recorder: newMockRecorder(),
	}
	logger := testLogger()
	capture := application.NewCapturePipeline(h.device, application.DefaultCaptureConfig(), h.recorder, logger)
	scheduler := application.NewPlaybackScheduler(h.out, &mockDecoder{}, application.DefaultPlaybackConfig(), h.recorder, logger)
	observer := application.ObserverFunc(func(s domain.Status) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.statuses = append(h.statuses, s)
	})
	h.ctrl = application.NewController(testURL, loader, h.dialer, capture, scheduler, observer, h.recorder, logger)
	return h
}

// startedHarness runs the controller until the test ends.
func startedHarness(t *testing.T) *controllerHarness {
	t.Helper()
	h := newHarness(t, &mockLoader{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.ctrl.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run() error: %v", err)
		}
	})

	eventually(t, "schema loaded", func() bool { return !h.ctrl.Status().Loading })
	return h
}

func TestController_NotReadyWhileLoading(t *testing.T) {
	h := newHarness(t, &mockLoader{})

	if !h.ctrl.Status().Loading {
		t.Fatal("controller should start in the loading state")
	}
	if err := h.ctrl.StartAudio(context.Background()); !errors.Is(err, domain.ErrNotReady) {
		t.Errorf("StartAudio() error = %v, want ErrNotReady", err)
	}
	// stop before Run is a no-op
	h.ctrl.StopAudio(true)

	if h.dialer.Dials() != 0 {
		t.Error("nothing should be dialed while loading")
	}
}

func TestController_SchemaLoadFailure(t *testing.T) {
	h := newHarness(t, &mockLoader{err: errors.New("no such file")})

	err := h.ctrl.Run(context.Background())
	if !errors.Is(err, domain.ErrSchemaLoad) {
		t.Fatalf("Run() error = %v, want ErrSchemaLoad", err)
	}
	if !h.ctrl.Status().Loading {
		t.Error("controller should stay loading after a schema failure")
	}
	if err := h.ctrl.StartAudio(context.Background()); !errors.Is(err, domain.ErrNotReady) {
		t.Errorf("StartAudio() error = %v, want ErrNotReady", err)
	}
}

func TestController_StartStreamsAfterOpen(t *testing.T) {
	h := startedHarness(t)

	if err := h.ctrl.StartAudio(context.Background()); err != nil {
		t.Fatalf("StartAudio() error: %v", err)
	}

	st := h.ctrl.Status()
	if !st.Playing || st.WebSocketReady {
		t.Fatalf("status after start = %+v, want playing and not ready", st)
	}
	if h.dialer.Dials() != 1 || h.dialer.urls[0] != testURL {
		t.Fatalf("dialed %v, want one dial of %s", h.dialer.urls, testURL)
	}

	transport := h.dialer.Last()
	h.device.Emit([]float32{0.01, 0.01})
	if n := len(transport.Sent()); n != 0 {
		t.Fatalf("sent %d frames while connecting", n)
	}

	transport.Open()
	eventually(t, "websocket ready", func() bool { return h.ctrl.Status().WebSocketReady })

	h.device.Emit([]float32{0.01, 0.01})
	if n := len(transport.Sent()); n != 1 {
		t.Errorf("sent %d frames once open, want 1", n)
	}
	if lvl := h.ctrl.Status().AudioLevel; lvl != 100 {
		t.Errorf("AudioLevel = %v, want 100", lvl)
	}

	// a second start while playing changes nothing
	if err := h.ctrl.StartAudio(context.Background()); err != nil {
		t.Errorf("second StartAudio() error: %v", err)
	}
	if h.dialer.Dials() != 1 {
		t.Errorf("dials = %d, want 1", h.dialer.Dials())
	}
}

func TestController_ReceivedAudioIsScheduled(t *testing.T) {
	h := startedHarness(t)

	if err := h.ctrl.StartAudio(context.Background()); err != nil {
		t.Fatalf("StartAudio() error: %v", err)
	}
	transport := h.dialer.Last()
	transport.Open()

	transport.handler.OnMessage(append([]byte{'A'}, make([]byte, 1600)...))
	transport.handler.OnMessage([]byte{'T', 'h', 'i'})
	transport.handler.OnMessage([]byte{0x00, 0x01})

	eventually(t, "buffer scheduled", func() bool { return len(h.out.Plays()) == 1 })
	if at := h.out.Plays()[0].at; at != time.Second {
		t.Errorf("buffer at %v, want 1s", at)
	}
	eventually(t, "drops recorded", func() bool {
		return h.recorder.Drops(application.DropNotAudio) == 1 && h.recorder.Drops(application.DropMalformed) == 1
	})
}

func TestController_RemoteCloseStopsCapture(t *testing.T) {
	h := startedHarness(t)

	if err := h.ctrl.StartAudio(context.Background()); err != nil {
		t.Fatalf("StartAudio() error: %v", err)
	}
	transport := h.dialer.Last()
	transport.Open()
	h.device.Emit([]float32{0.01})
	eventually(t, "websocket ready", func() bool { return h.ctrl.Status().WebSocketReady })

	transport.RemoteClose(4000, "bot left")

	eventually(t, "playing cleared", func() bool { return !h.ctrl.Status().Playing })
	st := h.ctrl.Status()
	if st.WebSocketReady || st.AudioLevel != 0 {
		t.Errorf("status after remote close = %+v", st)
	}
	if n := h.device.Stream().Closes(); n != 1 {
		t.Errorf("input stream closed %d times, want 1", n)
	}
	if h.out.Clears() < 1 {
		t.Error("playback should be cleared")
	}

	// a fresh start dials a new transport
	if err := h.ctrl.StartAudio(context.Background()); err != nil {
		t.Fatalf("restart error: %v", err)
	}
	if h.dialer.Dials() != 2 {
		t.Errorf("dials = %d, want 2", h.dialer.Dials())
	}
}

func TestController_StopAudio(t *testing.T) {
	tests := []struct {
		name        string
		close       bool
		wantCloses  int
		closeOnNext int
	}{
		{"close connection", true, 1, 1},
		{"keep connection", false, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := startedHarness(t)

			if err := h.ctrl.StartAudio(context.Background()); err != nil {
				t.Fatalf("StartAudio() error: %v", err)
			}
			transport := h.dialer.Last()
			transport.Open()

			h.ctrl.StopAudio(tt.close)
			h.ctrl.StopAudio(tt.close)

			st := h.ctrl.Status()
			if st.Playing || st.WebSocketReady || st.AudioLevel != 0 {
				t.Errorf("status after stop = %+v", st)
			}
			if transport.Closes() != tt.wantCloses {
				t.Errorf("transport closes = %d, want %d", transport.Closes(), tt.wantCloses)
			}
			if n := h.device.Stream().Closes(); n != 1 {
				t.Errorf("input stream closed %d times, want 1", n)
			}

			// events from the stopped generation are ignored
			transport.handler.OnOpen()
			transport.handler.OnMessage(append([]byte{'A'}, make([]byte, 320)...))
			eventually(t, "stale message dropped", func() bool {
				return h.recorder.Drops(application.DropStale) == 1
			})
			if h.ctrl.Status().WebSocketReady {
				t.Error("stale open should not mark the socket ready")
			}

			// restarting releases a socket kept open by the stop
			if err := h.ctrl.StartAudio(context.Background()); err != nil {
				t.Fatalf("restart error: %v", err)
			}
			if transport.Closes() != tt.closeOnNext {
				t.Errorf("old transport closes = %d, want %d", transport.Closes(), tt.closeOnNext)
			}
		})
	}
}

func TestController_DeviceUnavailable(t *testing.T) {
	h := startedHarness(t)
	h.device.openErr = errors.New("permission denied")

	err := h.ctrl.StartAudio(context.Background())
	if !errors.Is(err, domain.ErrDeviceUnavailable) {
		t.Fatalf("StartAudio() error = %v, want ErrDeviceUnavailable", err)
	}
	st := h.ctrl.Status()
	if st.Playing || st.WebSocketReady {
		t.Errorf("status after device failure = %+v", st)
	}
	if h.dialer.Last().Closes() != 1 {
		t.Error("transport should be closed after the device was refused")
	}
}

func TestController_DialFailure(t *testing.T) {
	h := startedHarness(t)
	h.dialer.dialErr = domain.ErrTransport

	err := h.ctrl.StartAudio(context.Background())
	if !errors.Is(err, domain.ErrTransport) {
		t.Fatalf("StartAudio() error = %v, want ErrTransport", err)
	}
	if h.ctrl.Status().Playing {
		t.Error("controller should not be playing after a dial failure")
	}
	if h.device.opens != 0 {
		t.Error("device should not be opened when the dial fails")
	}
}

func TestController_ObserverSeesTransitions(t *testing.T) {
	h := startedHarness(t)

	if err := h.ctrl.StartAudio(context.Background()); err != nil {
		t.Fatalf("StartAudio() error: %v", err)
	}
	h.dialer.Last().Open()
	eventually(t, "websocket ready", func() bool { return h.ctrl.Status().WebSocketReady })
	h.ctrl.StopAudio(true)

	want := []domain.Status{
		{Loading: false},
		{Playing: true},
		{Playing: true, WebSocketReady: true},
		{},
	}
	got := h.Statuses()
	if len(got) != len(want) {
		t.Fatalf("statuses = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("status %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestController_ObserverCanReadStatus(t *testing.T) {
	var (
		ctrl     *application.Controller
		mu       sync.Mutex
		mismatch []string
	)
	observer := application.ObserverFunc(func(s domain.Status) {
		if got := ctrl.Status(); got != s {
			mu.Lock()
			mismatch = append(mismatch, fmt.Sprintf("notified %+v, Status() = %+v", s, got))
			mu.Unlock()
		}
	})

	logger := testLogger()
	device := &mockDevice{}
	dialer := &mockDialer{}
	recorder := newMockRecorder()
	ctrl = application.NewController(
		testURL,
		&mockLoader{},
		dialer,
		application.NewCapturePipeline(device, application.DefaultCaptureConfig(), recorder, logger),
		application.NewPlaybackScheduler(&mockOutput{now: time.Second}, &mockDecoder{}, application.DefaultPlaybackConfig(), recorder, logger),
		observer,
		recorder,
		logger,
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ctrl.Run(ctx) }()

	finished := make(chan error, 1)
	go func() {
		for ctrl.Status().Loading {
			time.Sleep(time.Millisecond)
		}
		if err := ctrl.StartAudio(context.Background()); err != nil {
			finished <- err
			return
		}
		dialer.Last().Open()
		for !ctrl.Status().WebSocketReady {
			time.Sleep(time.Millisecond)
		}
		ctrl.StopAudio(true)
		finished <- nil
	}()

	select {
	case err := <-finished:
		if err != nil {
			t.Fatalf("StartAudio() error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("controller stuck while the observer read its status")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() error: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	for _, m := range mismatch {
		t.Error(m)
	}
}
