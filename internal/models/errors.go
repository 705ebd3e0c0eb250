package models

import "github.com/pkg/errors"

// Sentinel errors shared across services; match with errors.Is.
// The HTTP layer maps them to 400/404/409/502.
var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrDeliveryFailed      = errors.New("delivery failed")
)
