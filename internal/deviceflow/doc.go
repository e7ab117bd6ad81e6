// Package deviceflow implements the client side of the OAuth 2.0 Device
// Authorization Grant (RFC 8628).
//
// A login runs in four steps:
//
//  1. Client.RequestCode obtains a device code, a user code and a
//     verification URI from the authorization server.
//  2. Presenter shows the user code and optionally opens a browser.
//  3. Poller exchanges the device code for a token, honouring the polling
//     interval, slow_down back-off, the expiry deadline and a bounded number
//     of consecutive network failures.
//  4. Session.Login stores the issued credential through the token store.
//
// The poller is a small state machine:
//
//	AWAITING_APPROVAL -> TOKEN_ISSUED | DENIED | EXPIRED | FATAL_ERROR
//
// with CANCELLED as a separate outcome when the context is cancelled.
// Waiting goes through a Clock so tests can drive it without real delays.
package deviceflow
