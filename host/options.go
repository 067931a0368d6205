package host

import (
	"log/slog"
	"time"

	"github.com/reglet-dev/memexchange/hostfuncs"
)

// Option defines a functional option for configuring the Executor.
type Option func(*Executor)

// WithHostFunctions configures the executor with a host function registry.
// The registry must provide every import guests are compiled against.
func WithHostFunctions(registry *hostfuncs.HandlerRegistry) Option {
	return func(e *Executor) {
		e.registry = registry
	}
}

// WithMemoryLimitPages caps every guest's linear memory.
func WithMemoryLimitPages(pages uint32) Option {
	return func(e *Executor) {
		e.memoryLimitPages = pages
	}
}

// WithMaxRequestSize limits payloads the host reads from a guest callback.
func WithMaxRequestSize(size uint32) Option {
	return func(e *Executor) {
		e.maxRequestSize = size
	}
}

// WithLogger sets the executor's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithCallTimeout bounds every boundary call made by a session.
func WithCallTimeout(d time.Duration) SessionOption {
	return func(s *Session) {
		if d > 0 {
			s.callTimeout = d
		}
	}
}

// WithMaxReplySize bounds the reply a session reads back from a guest.
func WithMaxReplySize(size uint32) SessionOption {
	return func(s *Session) {
		s.maxReplySize = size
	}
}

// WithSessionLogger sets the session's logger.
func WithSessionLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) {
		s.logger = logger
	}
}
