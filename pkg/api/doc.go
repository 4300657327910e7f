// Package api defines the wire-level vocabulary of the AutomateIQ
// platform gateway: response envelopes, the error taxonomy, entity ID
// generation, and pagination.
//
// Every endpoint responds with one of two JSON envelopes. Success:
//
//	{"success": true, "data": {...}}
//
// Rejection:
//
//	{"success": false, "message": "...", "code": "..."}
//
// Rejections carry a stable machine-readable code from the taxonomy in
// this package; gate-specific rejections add extra fields
// (required_plan/current_plan for plan upgrades, required/available for
// quota exhaustion). Codes are API surface and never change; messages
// are for humans and may.
//
// Entity IDs are prefixed ("acct_", "tnt_") followed by 24
// cryptographically random alphanumeric characters, making them
// URL-safe and greppable by kind.
package api
