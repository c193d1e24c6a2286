package application

import (
	"context"

	"voicestream/internal/domain"
)

type FrameCodec interface {
	Encode(f domain.Frame) ([]byte, error)
	Decode(data []byte) (domain.Frame, error)
}

// SchemaLoader resolves the shared frame schema once at startup.
type SchemaLoader interface {
	Load(ctx context.Context) (FrameCodec, error)
}
