// Package ratelimit provides a rate-limited logger wrapper, used to turn
// per-datagram error conditions (bad MAC, replay, unknown receiver id) into
// debug log lines without flooding the log under a hostile flood of
// malformed traffic.
package ratelimit

import (
	"log/slog"

	"golang.org/x/time/rate"
)

// Logger wraps a *slog.Logger so that Debug calls beyond the configured
// rate are silently dropped instead of written.
type Logger struct {
	log     *slog.Logger
	limiter *rate.Limiter
}

// New returns a Logger that allows burst debug lines immediately and then
// refills at eventsPerSecond.
func New(log *slog.Logger, eventsPerSecond float64, burst int) *Logger {
	return &Logger{
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(eventsPerSecond), burst),
	}
}

// Debug logs msg at debug level if the rate limiter currently has budget,
// and silently drops it otherwise.
func (l *Logger) Debug(msg string, args ...any) {
	if l.limiter.Allow() {
		l.log.Debug(msg, args...)
	}
}

// Warn logs msg at warn level under the same rate limit as Debug.
func (l *Logger) Warn(msg string, args ...any) {
	if l.limiter.Allow() {
		l.log.Warn(msg, args...)
	}
}
