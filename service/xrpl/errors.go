package xrpl

import "errors"

var (
	// ErrNoEndpointReachable is returned by the pool when every candidate
	// endpoint for a network failed to connect or failed its health check.
	ErrNoEndpointReachable = errors.New("xrpl: no endpoint reachable")

	// ErrSessionClosed is returned for calls on a session whose underlying
	// connection has been closed, either by Shutdown or by a transport
	// failure detected by the read loop.
	ErrSessionClosed = errors.New("xrpl: session closed")

	// ErrUnknownNetwork is returned when a caller names a network the pool
	// has no endpoints for.
	ErrUnknownNetwork = errors.New("xrpl: unknown network")
)
