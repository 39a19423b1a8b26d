package domain

import "errors"

var (
	ErrInvalidEvent = errors.New("invalid_event")
	ErrEventIgnored = errors.New("event_ignored")
	ErrUnknownTier  = errors.New("unknown_tier")
)
