// Package audit records every access-state mutation performed by the
// billing subsystem: who (SYSTEM for provider-driven changes, USER for
// self-service actions), what changed, the status before and after, and
// the provider event that caused it.
//
// Audit entries are append-only and written synchronously with the
// mutation they describe; storage backends are pluggable.
package audit
