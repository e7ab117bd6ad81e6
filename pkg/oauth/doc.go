// Package oauth holds the RFC 6750 bearer challenge helpers shared by the
// authorization server and the CLI.
//
// The server renders a Challenge into the WWW-Authenticate header of a 401
// response. The CLI parses it back to tell a missing token apart from a
// rejected one:
//
//	challenge := oauth.ChallengeFromResponse(resp)
//	if challenge.InvalidToken() {
//		// the stored credential is no longer accepted
//	}
package oauth
