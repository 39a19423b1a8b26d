package domain

import "errors"

var (
	ErrInvalidUser        = errors.New("invalid_user")
	ErrLedgerNotFound     = errors.New("ledger_not_found")
	ErrInvalidAmount      = errors.New("invalid_amount")
	ErrInvalidTransaction = errors.New("invalid_transaction")
	ErrInsufficientCredit = errors.New("insufficient_credit")
)
