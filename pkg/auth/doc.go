// Package auth authenticates requests and enforces authorization gates
// for the AutomateIQ API.
//
// The Authenticator middleware resolves a session token (cookie or bearer
// header) into a Session carrying the account and its tenant, which gates
// and handlers read back from the request context. Authorization is
// layered as independent middleware gates behind it: RequireRole checks
// the account role, RequirePlan checks subscription status and plan tier,
// and RequireCredits checks the metered AI credit balance.
//
// Auth is implemented as HTTP middleware, keeping it decoupled from
// handler logic. Rate limiting sits in front of authentication so abusive
// clients are turned away before any token or storage work happens.
package auth
