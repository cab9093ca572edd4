package constants

import "time"

// Transient-error retry policy for a single refresh cycle. Credential-class
// errors are never retried; retrying a wrong password does not help.
const (
	// MaxFetchAttempts is the total number of fetch attempts per cycle.
	MaxFetchAttempts = 3
	// RetryBaseDelay is the delay before the second attempt; it doubles per
	// attempt (2s, 4s, 8s) up to RetryMaxDelay.
	RetryBaseDelay = 2 * time.Second
	// RetryMaxDelay caps the backoff growth.
	RetryMaxDelay = 8 * time.Second
)
