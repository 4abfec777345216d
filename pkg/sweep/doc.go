// Package sweep persists access expiry that the request path only
// observes: trials past their end date and fixed-term access past its
// validity window are moved to CANCELED on a schedule.
//
// The sweeper is the single writer of clock-driven expiry. Request-time
// gating denies expired trials without persisting anything, so a sweep
// that runs late never grants extra access, it only catches storage up
// with the clock.
package sweep
