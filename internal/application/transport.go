package application

import (
	"context"

	"voicestream/internal/domain"
)

// TransportHandler receives connection events. Calls come from the
// transport's own goroutines.
type TransportHandler interface {
	OnOpen()
	OnMessage(data []byte)
	OnError(err error)
	OnClose(code int, reason string)
}

type Transport interface {
	Ready() bool
	State() domain.TransportState
	// Send is fire-and-forget; a non-nil error only reports that the
	// payload was not queued.
	Send(data []byte) error
	Close() error
}

// TransportDialer starts connecting and returns without waiting for the
// connection to open.
type TransportDialer interface {
	Dial(ctx context.Context, url string, h TransportHandler) (Transport, error)
}
