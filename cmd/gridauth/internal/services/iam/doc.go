// Package iam turns an external IdP login into a tenant-scoped session.
//
// The login path is a fixed pipeline:
//
//	code + verifier → IdP exchange → identity.Normalize → tenancy.Resolve
//	       ↓
//	UpsertEngine (one atomic write) → Aggregator (roles → permissions) → TokenIssuer
//
// Permissions are normalized exactly once, in the TokenIssuer, so every
// consumer of a session token sees canonical lowercase resource:action codes.
//
// Administrative role changes bump the shared policy version. Cached
// identities computed under an older version are treated as misses, so no
// synchronous cache fan-out is required.
package iam
