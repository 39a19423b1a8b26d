package domain

import "context"

// Engine applies exactly one ledger mutation per distinct external
// billing event, regardless of delivery retries, out-of-order arrival,
// or partial failure. Errors returned from Process signal the dispatcher
// to retry the whole event.
type Engine interface {
	Process(ctx context.Context, event Event) error
}
