package domain

import "errors"

// Sentinel errors for domain-level error discrimination.
// Services wrap these so transports can pick a user-facing reply without leaking infrastructure details.
var (
	ErrNotFound   = errors.New("not found")
	ErrBadRequest = errors.New("bad request")

	// ErrAlreadyClaimed: the identity already has a registrant record.
	ErrAlreadyClaimed = errors.New("key already claimed by this identity")
	// ErrPoolExhausted: no unclaimed key remains.
	ErrPoolExhausted = errors.New("key pool exhausted")
	// ErrInvalidEmailShape: the e-mail lacks '@' or '.'.
	ErrInvalidEmailShape = errors.New("invalid email shape")
	// ErrDuplicateRegistrant: insert conflict on the external user id.
	ErrDuplicateRegistrant = errors.New("duplicate registrant")
	// ErrPersistenceUnavailable wraps any storage failure of infrastructure origin.
	ErrPersistenceUnavailable = errors.New("persistence unavailable")
)
