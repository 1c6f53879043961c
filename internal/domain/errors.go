package domain

import "errors"

// Domain errors returned by queue and observer implementations.

var (
	// ErrJobNotFound indicates the requested job does not exist.
	ErrJobNotFound = errors.New("job not found")
)
