// Package account defines the AutomateIQ domain model: accounts,
// tenants, roles, subscription plans, and resource limits.
//
// The package performs no I/O. Persistence lives in pkg/storage and
// policy enforcement in pkg/auth; this package only carries the types
// and the rules that are intrinsic to them:
//
//   - [Role] is an unordered set of job functions. Authorization is
//     membership in an allowed set, never a rank comparison.
//   - [Plan] has a fixed total order (starter < business < enterprise)
//     exposed through [Plan.AtLeast].
//   - [Limit] bounds a countable resource, with [Unlimited] (-1) as
//     the sentinel for no bound. All quota decisions go through
//     [Limit.Allows] and [Limit.Remaining]; the sentinel never takes
//     part in raw comparisons.
package account
