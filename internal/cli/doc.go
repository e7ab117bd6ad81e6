// Package cli holds the user-facing pieces shared by the devauth commands:
// typed errors with actionable guidance, connection error classification,
// table and duration formatting, and interactive prompts.
//
// # Errors
//
// Commands translate low level failures into one of the typed errors below
// before returning them to cobra. The root command maps each type to an exit
// code:
//
//   - AuthRequiredError and AuthExpiredError: no usable credential
//   - AuthFailedError: the login flow failed for a system reason
//   - AccessDeniedError and LoginExpiredError: the user denied the request
//     or let the code expire
//   - ConnectionError: the server could not be reached, classified as TLS,
//     DNS, timeout or network
package cli
