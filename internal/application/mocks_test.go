package application_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"voicestream/internal/application"
	"voicestream/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// eventually polls cond until it holds or a second has passed.
func eventually(t *testing.T, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting: %s", msg)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// mockDevice hands blocks to the pipeline only when the test calls Emit.
type mockDevice struct {
	mu      sync.Mutex
	openErr error
	opens   int
	onBlock application.BlockHandler
	stream  *mockStream
}

func (m *mockDevice) Name() string { return "mock" }

func (m *mockDevice) Open(_ context.Context, _ application.CaptureConstraints, _ int, onBlock application.BlockHandler) (application.InputStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opens++
	if m.openErr != nil {
		return nil, m.openErr
	}
	m.onBlock = onBlock
	m.stream = &mockStream{}
	return m.stream, nil
}

func (m *mockDevice) Emit(block []float32) {
	m.mu.Lock()
	onBlock := m.onBlock
	m.mu.Unlock()
	if onBlock != nil {
		onBlock(block)
	}
}

func (m *mockDevice) Stream() *mockStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream
}

type mockStream struct {
	mu     sync.Mutex
	closes int
}

func (m *mockStream) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	return nil
}

func (m *mockStream) Closes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

type mockSender struct {
	mu      sync.Mutex
	ready   bool
	sendErr error
	sent    [][]byte
}

func (m *mockSender) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready
}

func (m *mockSender) Send(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, data)
	return nil
}

func (m *mockSender) SetReady(ready bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ready = ready
}

func (m *mockSender) Sent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.sent...)
}

// mockCodec tags audio payloads with 'A' and text with 'T'. Anything else
// is malformed.
type mockCodec struct{}

func (mockCodec) Encode(f domain.Frame) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	switch v := f.(type) {
	case *domain.AudioFrame:
		return append([]byte{'A'}, v.Samples...), nil
	case *domain.TextFrame:
		return append([]byte{'T'}, v.Text...), nil
	default:
		return nil, errors.New("unsupported frame")
	}
}

func (mockCodec) Decode(data []byte) (domain.Frame, error) {
	if len(data) == 0 {
		return nil, domain.ErrMalformedFrame
	}
	switch data[0] {
	case 'A':
		return &domain.AudioFrame{Samples: data[1:], SampleRate: 16000, NumChannels: 1}, nil
	case 'T':
		return &domain.TextFrame{Text: string(data[1:])}, nil
	default:
		return nil, domain.ErrMalformedFrame
	}
}

type mockLoader struct {
	err error
}

func (m *mockLoader) Load(_ context.Context) (application.FrameCodec, error) {
	if m.err != nil {
		return nil, m.err
	}
	return mockCodec{}, nil
}

type played struct {
	at  time.Duration
	buf *domain.PlaybackBuffer
}

// mockOutput is an Output with a clock the test moves by hand.
type mockOutput struct {
	mu     sync.Mutex
	now    time.Duration
	plays  []played
	clears int
}

func (m *mockOutput) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *mockOutput) SetNow(now time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *mockOutput) Play(at time.Duration, buf *domain.PlaybackBuffer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plays = append(m.plays, played{at: at, buf: buf})
}

func (m *mockOutput) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clears++
}

func (m *mockOutput) Plays() []played {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]played(nil), m.plays...)
}

func (m *mockOutput) Clears() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clears
}

// mockDecoder treats payloads as mono 16 kHz PCM. A payload starting with
// 0xFF fails to decode. When gate is set each decode first signals started
// and then waits for gate.
type mockDecoder struct {
	gate    chan struct{}
	started chan struct{}
}

func (m *mockDecoder) Decode(_ context.Context, frame *domain.AudioFrame) (*domain.PlaybackBuffer, error) {
	if m.gate != nil {
		m.started <- struct{}{}
		<-m.gate
	}
	if frame.Samples[0] == 0xFF {
		return nil, errors.New("garbage")
	}
	return &domain.PlaybackBuffer{
		Samples:    make([]float32, len(frame.Samples)/2),
		SampleRate: 16000,
		Channels:   1,
	}, nil
}

// pcmFrame returns a mono 16 kHz frame lasting d.
func pcmFrame(d time.Duration) *domain.AudioFrame {
	samples := int(d * 16000 / time.Second)
	return &domain.AudioFrame{
		Samples:     make([]byte, samples*2),
		SampleRate:  16000,
		NumChannels: 1,
	}
}

type mockTransport struct {
	mu      sync.Mutex
	handler application.TransportHandler
	open    bool
	closes  int
	sent    [][]byte
}

func (m *mockTransport) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open && m.closes == 0
}

func (m *mockTransport) State() domain.TransportState {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.closes > 0:
		return domain.TransportClosed
	case m.open:
		return domain.TransportOpen
	default:
		return domain.TransportConnecting
	}
}

func (m *mockTransport) Send(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return domain.ErrNotReady
	}
	m.sent = append(m.sent, data)
	return nil
}

func (m *mockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	return nil
}

// Open marks the transport open and reports it the way a real session does.
func (m *mockTransport) Open() {
	m.mu.Lock()
	m.open = true
	m.mu.Unlock()
	m.handler.OnOpen()
}

// RemoteClose simulates the server closing the connection.
func (m *mockTransport) RemoteClose(code int, reason string) {
	m.mu.Lock()
	m.open = false
	m.mu.Unlock()
	m.handler.OnClose(code, reason)
}

func (m *mockTransport) Closes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

func (m *mockTransport) Sent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.sent...)
}

type mockDialer struct {
	mu         sync.Mutex
	dialErr    error
	urls       []string
	transports []*mockTransport
}

func (m *mockDialer) Dial(_ context.Context, url string, h application.TransportHandler) (application.Transport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.urls = append(m.urls, url)
	if m.dialErr != nil {
		return nil, m.dialErr
	}
	t := &mockTransport{handler: h}
	m.transports = append(m.transports, t)
	return t, nil
}

func (m *mockDialer) Dials() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.urls)
}

func (m *mockDialer) Last() *mockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.transports) == 0 {
		return nil
	}
	return m.transports[len(m.transports)-1]
}

// mockRecorder counts drops by reason.
type mockRecorder struct {
	application.NoopRecorder

	mu     sync.Mutex
	drops  map[string]int
	sent   int
	resets int
	levels []float64
}

func newMockRecorder() *mockRecorder {
	return &mockRecorder{drops: make(map[string]int)}
}

func (m *mockRecorder) FrameDropped(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drops[reason]++
}

func (m *mockRecorder) FrameSent(int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent++
}

func (m *mockRecorder) PlaybackReset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets++
}

func (m *mockRecorder) AudioLevel(level float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.levels = append(m.levels, level)
}

func (m *mockRecorder) Drops(reason string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drops[reason]
}

func (m *mockRecorder) Resets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resets
}

func (m *mockRecorder) Sent() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent
}
