package httpserver

import (
	"log/slog"
	"time"
)

// Option configures the Server.
type Option func(*Server)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(s *Server) {
		if addr != "" {
			s.addr = addr
		}
	}
}

// WithReadTimeout bounds reading the entire request, header and body.
func WithReadTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.readTimeout = d
		}
	}
}

// WithWriteTimeout bounds writing the response.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// WithIdleTimeout bounds keep-alive connections waiting for the next
// request.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.idleTimeout = d
		}
	}
}

// WithShutdownTimeout bounds the graceful drain on shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// WithLogger supplies the server's logger. Without it server lifecycle
// messages are discarded.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// WithStartHook registers a callback that runs when the server begins
// listening.
func WithStartHook(hook func(*slog.Logger)) Option {
	return func(s *Server) {
		if hook != nil {
			s.onStart = append(s.onStart, hook)
		}
	}
}
