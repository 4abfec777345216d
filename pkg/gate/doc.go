// Package gate decides whether an account's current subscription state
// grants access to paid functionality.
//
// Evaluate is a pure, total function over tier, status, trial expiry and
// role: every combination yields a deterministic allow or deny with a
// stable reason code. It never persists anything; expiring a trial in
// storage belongs to the background sweeper, the gate only observes the
// clock. Middleware wraps Evaluate for HTTP routes, loading the account
// through an injected provider and denying with 402 and the reason code.
package gate
