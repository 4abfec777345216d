// Package lock provides the per-account serialization point required by
// the reconciler: every mutation of one account's state runs under the
// account's lock so that a webhook redelivery and a user-initiated action
// can never interleave a read-then-write.
//
// Two implementations are provided. MemoryLocker is a keyed mutex for
// single-instance deployments and tests. RedisLocker is a lease-based
// distributed lock for deployments running more than one instance behind
// a load balancer.
package lock
