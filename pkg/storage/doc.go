// Package storage defines the persistence interface of the AutomateIQ
// gateway and the sentinel errors its backends share.
//
// Three backends implement [Store]: memory (tests and dev mode),
// postgres (pgx), and mongo. Backends are interchangeable; callers
// never branch on the backend and all error handling goes through the
// sentinels:
//
//   - [ErrNotFound]: the entity does not exist.
//   - [ErrConflict]: a uniqueness constraint was violated (duplicate
//     email or tenant slug).
//   - [ErrQuotaExceeded]: a conditional usage update would overdraw
//     the tenant's limit.
//
// Usage counters are only ever changed through [Store.AddUsage] and
// the seat bookkeeping inside account writes, so a tenant's usage can
// never pass its limits, regardless of how many gateway instances
// write concurrently.
package storage
