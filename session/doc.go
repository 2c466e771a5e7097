// Package session provides Redis-backed session persistence and compact binary
// session encoding for authentication hot paths.
//
// # Binary encoding
//
// Sessions are stored in Redis as a compact binary format. The encoder is
// append-only: future versions add fields but never reinterpret old ones.
//
// # Architecture boundaries
//
// This package owns the [Store] (Redis operations) and the [Session] model.
// It does NOT interpret access tokens, score devices, or enforce
// authentication policy. Those responsibilities belong to the Engine.
//
// # What this package must NOT do
//
//   - Import authcore or jwt (no upward imports).
//   - Store plaintext refresh secrets in [Session] fields.
package session
