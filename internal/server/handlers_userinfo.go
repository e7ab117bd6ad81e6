package server

import (
	"net/http"
	"strings"

	"devauth/pkg/logging"
	"devauth/pkg/oauth"
)

const bearerRealm = "devauth"

// UserInfo is the body returned by GET /userinfo.
type UserInfo struct {
	Subject  string `json:"sub"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	ClientID string `json:"client_id"`
	Scope    string `json:"scope,omitempty"`
}

func (s *Server) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || raw == "" {
		w.Header().Set(oauth.HeaderWWWAuthenticate, oauth.NewBearerChallenge(bearerRealm, "", "").String())
		writeOAuthError(w, http.StatusUnauthorized, errInvalidToken, "bearer token required")
		return
	}

	claims, err := s.issuer.Verify(strings.TrimSpace(raw))
	if err != nil {
		logging.Debug("AuthServer", "Rejected access token: %v", err)
		w.Header().Set(oauth.HeaderWWWAuthenticate, oauth.NewBearerChallenge(bearerRealm, oauth.ErrorInvalidToken, "").String())
		writeOAuthError(w, http.StatusUnauthorized, errInvalidToken, "the access token is invalid or expired")
		return
	}

	info := UserInfo{
		Subject:  claims.Subject,
		ClientID: claims.ClientID,
		Scope:    claims.Scope,
	}
	if user, ok := s.users.ByID(claims.Subject); ok {
		info.Name = user.Name
		info.Email = user.Email
	}
	writeJSON(w, http.StatusOK, info)
}
