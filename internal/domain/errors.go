package domain

import "errors"

// Sentinel errors recognized by the REST/WS clients and the detectors.
// These are the only error kinds that cross a component boundary; a
// detector absorbs everything else into a logged warning — transient
// transport and malformed-response errors are never fatal to a
// detector's next poll cycle.
var (
	// ErrTransport wraps the last cause of an exhausted REST retry loop.
	ErrTransport = errors.New("transport error")
	// ErrRateLimited marks an HTTP 429 response from the venue.
	ErrRateLimited = errors.New("rate limited")
	// ErrWSDisconnect wraps a failed WS dial; the receive loop logs it and reconnects.
	ErrWSDisconnect = errors.New("websocket disconnected")
	// ErrConfig marks a static configuration error (e.g. empty instrument list).
	ErrConfig = errors.New("invalid configuration")
)
