package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	gws "github.com/gorilla/websocket"

	"voicestream/internal/application"
	"voicestream/internal/domain"
	"voicestream/internal/infra"
)

const (
	DefaultSendQueue = 100

	writeWait = 5 * time.Second
	closeWait = time.Second
)

// Dialer opens Sessions. The zero value is usable.
type Dialer struct {
	HandshakeTimeout time.Duration
	// DialTimeout bounds each connection attempt.
	DialTimeout time.Duration
	SendQueue   int
	Retry       infra.RetryConfig
	Header      http.Header
	Logger      *slog.Logger
}

// Dial returns a Session in the connecting state. Connecting happens in the
// background and its outcome is reported to h.
func (d *Dialer) Dial(ctx context.Context, rawURL string, h application.TransportHandler) (application.Transport, error) {
	target, err := NormalizeURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrTransport, err)
	}

	logger := d.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	queue := d.SendQueue
	if queue <= 0 {
		queue = DefaultSendQueue
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		url:     target,
		handler: h,
		logger:  logger.With("url", target),
		ctx:     sctx,
		cancel:  cancel,
		writeCh: make(chan []byte, queue),
		state:   domain.TransportConnecting,
	}
	go s.connect(d)
	return s, nil
}

// NormalizeURL maps http and https to their websocket schemes.
func NormalizeURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parsing url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", raw)
	}
	return u.String(), nil
}

// Session is one websocket connection. Handler callbacks run on the
// session's read goroutine; Close never invokes the handler.
type Session struct {
	url     string
	handler application.TransportHandler
	logger  *slog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	writeCh chan []byte

	mu    sync.Mutex
	conn  *gws.Conn
	state domain.TransportState
}

func (s *Session) connect(d *Dialer) {
	header := d.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	connectID := uuid.NewString()
	header.Set("X-Connect-Id", connectID)

	dialer := &gws.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}

	var conn *gws.Conn
	attempt := 0
	err := infra.WithRetry(s.ctx, d.Retry, func() error {
		attempt++
		dctx := s.ctx
		if d.DialTimeout > 0 {
			var cancel context.CancelFunc
			dctx, cancel = context.WithTimeout(s.ctx, d.DialTimeout)
			defer cancel()
		}

		c, resp, err := dialer.DialContext(dctx, s.url, header)
		if err != nil {
			s.logger.Warn("websocket dial failed", "attempt", attempt, "error", err)
			if resp != nil && !infra.IsRetryableHTTPStatus(resp.StatusCode) {
				return infra.Permanent(fmt.Errorf("handshake rejected with %s: %w", resp.Status, err))
			}
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		s.finish(domain.TransportErrored, fmt.Errorf("dialing: %w", err), gws.CloseAbnormalClosure, "")
		return
	}

	s.mu.Lock()
	if s.state != domain.TransportConnecting {
		// closed locally while dialing
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conn = conn
	s.state = domain.TransportOpen
	s.mu.Unlock()

	s.logger.Info("websocket connection established", "connectId", connectID)
	s.handler.OnOpen()

	go s.writeLoop(conn)
	s.readLoop(conn)
}

func (s *Session) readLoop(conn *gws.Conn) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			var ce *gws.CloseError
			if errors.As(err, &ce) {
				s.finish(domain.TransportClosed, nil, ce.Code, ce.Text)
			} else {
				s.finish(domain.TransportErrored, fmt.Errorf("reading: %w", err), gws.CloseAbnormalClosure, "")
			}
			return
		}
		if msgType == gws.BinaryMessage || msgType == gws.TextMessage {
			s.handler.OnMessage(data)
		}
	}
}

func (s *Session) writeLoop(conn *gws.Conn) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case data := <-s.writeCh:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(gws.BinaryMessage, data); err != nil {
				s.finish(domain.TransportErrored, fmt.Errorf("writing: %w", err), gws.CloseAbnormalClosure, "")
				return
			}
		}
	}
}

// finish ends the session for a reason other than a local Close. Only the
// first call has any effect.
func (s *Session) finish(state domain.TransportState, err error, code int, reason string) {
	s.mu.Lock()
	if s.state == domain.TransportClosed || s.state == domain.TransportErrored {
		s.mu.Unlock()
		return
	}
	s.state = state
	conn := s.conn
	s.mu.Unlock()

	s.cancel()
	if conn != nil {
		conn.Close()
	}

	if err != nil {
		s.logger.Error("websocket error", "error", err)
		s.handler.OnError(fmt.Errorf("%w: %w", domain.ErrTransport, err))
	} else {
		s.logger.Info("websocket connection closed", "code", code, "reason", reason)
	}
	s.handler.OnClose(code, reason)
}

func (s *Session) Ready() bool {
	return s.State() == domain.TransportOpen
}

func (s *Session) State() domain.TransportState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Send queues data for the write loop without blocking.
func (s *Session) Send(data []byte) error {
	if !s.Ready() {
		return domain.ErrNotReady
	}
	select {
	case <-s.ctx.Done():
		return domain.ErrTransportClosed
	default:
	}
	select {
	case s.writeCh <- data:
		return nil
	default:
		return fmt.Errorf("%w: send queue full", domain.ErrTransport)
	}
}

// Close sends a normal close frame and releases the connection. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == domain.TransportClosed || s.state == domain.TransportErrored {
		s.mu.Unlock()
		return nil
	}
	s.state = domain.TransportClosed
	conn := s.conn
	s.mu.Unlock()

	s.cancel()
	if conn == nil {
		return nil
	}

	msg := gws.FormatCloseMessage(gws.CloseNormalClosure, "")
	_ = conn.WriteControl(gws.CloseMessage, msg, time.Now().Add(closeWait))
	if err := conn.Close(); err != nil {
		return fmt.Errorf("closing websocket: %w", err)
	}
	s.logger.Info("websocket closed locally")
	return nil
}
