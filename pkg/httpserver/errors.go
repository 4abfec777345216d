package httpserver

import "errors"

var (
	// ErrStart wraps listen and bind failures, and a second Run on an
	// already running server.
	ErrStart = errors.New("failed to start HTTP server")

	// ErrShutdown wraps drain failures, typically requests still in
	// flight when the shutdown timeout expires.
	ErrShutdown = errors.New("failed to shutdown HTTP server gracefully")
)
