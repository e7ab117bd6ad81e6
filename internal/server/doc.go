// Package server implements the authorization server half of the device
// authorization grant (RFC 8628).
//
// # Endpoints
//
//   - POST /device/code issues a device code and user code pair for a
//     registered client.
//   - POST /device/token exchanges a device code for an access token once
//     the grant is approved. Until then it answers authorization_pending or
//     slow_down.
//   - POST /device/approve and POST /device/deny record the end user's
//     decision. Both require a session and never return token material.
//   - GET /device serves the verification page where the user types the code.
//   - GET /userinfo returns the identity behind an access token.
//   - GET /healthz reports whether the grant store is reachable.
//
// # Grant lifecycle
//
// Grants live in a grant.Store. All transitions (decide, poll, redeem) go
// through the store's atomic operations, so two concurrent decisions for the
// same user code resolve to one winner and a grant is redeemed at most once.
//
// # Access tokens
//
// Tokens are HS256 JWTs signed with the configured key. When no key is
// configured an ephemeral one is generated and tokens do not survive a
// restart.
package server
