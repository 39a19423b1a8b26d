package domain

import "context"

// Ingestor accepts a verified delivery into the inbox.
type Ingestor interface {
	// Ingest persists the raw payload keyed by the provider's event id.
	// The returned bool reports whether this delivery was new.
	Ingest(ctx context.Context, provider, providerEventID, eventType string, payload []byte) (bool, error)
}
