package domain

import "errors"

var (
	// ErrSchemaLoad is fatal: without the frame schema nothing can be encoded.
	ErrSchemaLoad = errors.New("loading frame schema")

	// ErrDeviceUnavailable is surfaced to the user, who has to retry.
	ErrDeviceUnavailable = errors.New("audio input device unavailable")

	// ErrMalformedFrame is dropped per frame and never surfaced.
	ErrMalformedFrame = errors.New("malformed frame")

	ErrTransport       = errors.New("transport error")
	ErrTransportClosed = errors.New("transport closed")

	ErrNotReady = errors.New("not ready")
)
