package domain

import "errors"

var (
	ErrInvalidUser           = errors.New("invalid_user")
	ErrInvalidSubscription   = errors.New("invalid_subscription")
	ErrSubscriptionNotFound  = errors.New("subscription_not_found")
	ErrInvalidExternalID     = errors.New("invalid_external_id")
	ErrInvalidPeriodBoundary = errors.New("invalid_period_boundary")
)
