package llm

import (
	"context"
	"io"
)

// ChatStreamer opens a streaming chat on the engine.
// The returned body carries one JSON object per line and must be closed by the caller;
// closing it, or cancelling ctx, aborts the generation.
type ChatStreamer interface {
	ChatStream(ctx context.Context, req ChatRequest) (io.ReadCloser, error)
}

// Provider is the full engine surface the relay depends on.
type Provider interface {
	ChatStreamer

	// ModelInfo returns static metadata about the provider/model.
	ModelInfo() ModelMeta

	// HealthCheck returns nil if the engine is reachable.
	HealthCheck(ctx context.Context) error
}
