// Package tokenstore persists the single credential obtained by devauth login.
//
// The credential is kept as a JSON document in a file chosen by the caller
// (normally ~/.config/devauth/token.json):
//
//	{
//	  "access_token": "...",
//	  "refresh_token": "...",
//	  "token_type": "Bearer",
//	  "scope": "openid profile email",
//	  "expires_at": "2026-10-16T12:00:00Z",
//	  "created_at": "2026-10-09T12:00:00Z"
//	}
//
// SECURITY: the file is written with 0600 permissions inside a 0700
// directory, replaced atomically via rename, and token values are never
// logged.
package tokenstore
