// Package authcore is the authentication and verification orchestration
// engine behind the Comrade client: login, registration, and password-reset
// flows driven by short-lived one-time codes, authenticator-app (TOTP)
// enrollment with single-use backup codes, device trust scoring, and
// access/refresh session issuance with rotation and reuse detection.
//
// The engine is library-shaped. Construct it with [New] (a [Builder]),
// give it a Redis client for challenge/session/device state and a
// [UserDirectory] implementation for identity storage, and call the
// Engine methods from your transport layer. The httpapi package in this
// repository is one such transport.
//
// All cross-request state lives in Redis or behind [UserDirectory]; the
// engine itself is stateless per request and safe for concurrent use.
// Plaintext codes and secrets are handed out exactly once at generation
// time and are never persisted or logged.
package authcore
