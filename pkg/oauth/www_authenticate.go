package oauth

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

// Bearer token error codes (RFC 6750 section 3.1).
const (
	ErrorInvalidRequest    = "invalid_request"
	ErrorInvalidToken      = "invalid_token"
	ErrorInsufficientScope = "insufficient_scope"
)

// HeaderWWWAuthenticate is the challenge header of 401 responses.
const HeaderWWWAuthenticate = "WWW-Authenticate"

var authParamRegex = regexp.MustCompile(`([A-Za-z_]+)="([^"]*)"`)

// Challenge is a parsed or to-be-rendered WWW-Authenticate value.
type Challenge struct {
	// Scheme is the authentication scheme, "Bearer" for access tokens.
	Scheme string

	Realm            string
	Scope            string
	Error            string
	ErrorDescription string
}

// NewBearerChallenge returns a Bearer challenge for realm. errorCode may be
// empty when the request carried no token at all.
func NewBearerChallenge(realm, errorCode, description string) *Challenge {
	return &Challenge{
		Scheme:           "Bearer",
		Realm:            realm,
		Error:            errorCode,
		ErrorDescription: description,
	}
}

// String renders the challenge as a header value, e.g.
//
//	Bearer realm="devauth", error="invalid_token"
func (c *Challenge) String() string {
	var params []string
	add := func(key, value string) {
		if value != "" {
			params = append(params, fmt.Sprintf(`%s="%s"`, key, strings.ReplaceAll(value, `"`, `'`)))
		}
	}
	add("realm", c.Realm)
	add("scope", c.Scope)
	add("error", c.Error)
	add("error_description", c.ErrorDescription)

	if len(params) == 0 {
		return c.Scheme
	}
	return c.Scheme + " " + strings.Join(params, ", ")
}

// IsBearer reports whether the challenge uses the Bearer scheme.
func (c *Challenge) IsBearer() bool {
	return c != nil && strings.EqualFold(c.Scheme, "Bearer")
}

// InvalidToken reports whether the server rejected the presented token, as
// opposed to asking for one.
func (c *Challenge) InvalidToken() bool {
	return c.IsBearer() && c.Error == ErrorInvalidToken
}

// ParseWWWAuthenticate parses a WWW-Authenticate header value.
//
// Example headers:
//
//	Bearer
//	Bearer realm="devauth"
//	Bearer realm="devauth", error="invalid_token", error_description="the access token is invalid or expired"
func ParseWWWAuthenticate(header string) (*Challenge, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, fmt.Errorf("empty WWW-Authenticate header")
	}

	scheme, rest, _ := strings.Cut(header, " ")
	challenge := &Challenge{Scheme: scheme}

	for key, value := range parseAuthParams(rest) {
		switch key {
		case "realm":
			challenge.Realm = value
		case "scope":
			challenge.Scope = value
		case "error":
			challenge.Error = value
		case "error_description":
			challenge.ErrorDescription = value
		}
	}
	return challenge, nil
}

// parseAuthParams extracts key="value" pairs. Keys are lower-cased.
func parseAuthParams(paramStr string) map[string]string {
	params := make(map[string]string)
	for _, match := range authParamRegex.FindAllStringSubmatch(paramStr, -1) {
		params[strings.ToLower(match[1])] = match[2]
	}
	return params
}

// ChallengeFromResponse extracts the challenge of a 401 response. It returns
// nil for other responses or when the header is missing.
func ChallengeFromResponse(resp *http.Response) *Challenge {
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		return nil
	}
	challenge, err := ParseWWWAuthenticate(resp.Header.Get(HeaderWWWAuthenticate))
	if err != nil {
		return nil
	}
	return challenge
}
