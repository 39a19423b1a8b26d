package domain

import "errors"

var (
	ErrSubscriptionMissing = errors.New("subscription_missing")
	ErrInvalidSubscription = errors.New("invalid_subscription")
	ErrGatewayUnavailable  = errors.New("gateway_unavailable")
	ErrInvalidSignature    = errors.New("invalid_signature")
	ErrInvalidPayload      = errors.New("invalid_payload")
)
