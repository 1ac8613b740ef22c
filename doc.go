// Package quotaflow is a distributed admission-control engine: it answers
// "is this unit of work, for this key, permitted right now?" against a
// quota shared by any number of service instances, without centralized
// locking.
//
// The Controller resolves the caller's identity to a policy (package
// policy), applies the policy's algorithm (package algorithm) as one
// atomic transformation of the per-key counter state in a shared store
// (package store), and reports a Result with the remaining budget and
// backoff metadata. When the store is unreachable a circuit breaker moves
// decisions onto a per-policy fallback path (deny everything, admit
// everything, or count approximately in local memory) and the Result's
// Status says so, so callers can tell "limited" apart from "limiter
// unavailable".
//
// Callers embedding the check in an HTTP request path can wrap their
// handlers with NewHTTPHandler, which maps denials to 429 responses with
// the usual rate-limit headers.
package quotaflow
