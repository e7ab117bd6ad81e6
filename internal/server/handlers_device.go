package server

import (
	"errors"
	"net/http"
	"strings"

	"devauth/internal/grant"
	"devauth/pkg/logging"

	"github.com/google/uuid"
)

// GrantTypeDeviceCode is the grant_type of the token exchange.
const GrantTypeDeviceCode = "urn:ietf:params:oauth:grant-type:device_code"

type deviceCodeResponse struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete,omitempty"`
	ExpiresIn               int64  `json:"expires_in"`
	Interval                int64  `json:"interval"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Scope       string `json:"scope,omitempty"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (s *Server) handleDeviceCode(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, errInvalidRequest, "malformed form body")
		return
	}

	clientID := r.PostForm.Get("client_id")
	client, ok := s.clients[clientID]
	if clientID == "" || !ok {
		logging.Warn("AuthServer", "Device code requested by unknown client %q", clientID)
		writeOAuthError(w, http.StatusUnauthorized, errInvalidClient, "unknown client")
		return
	}

	scope, ok := resolveScope(r.PostForm.Get("scope"), client.Scopes)
	if !ok {
		writeOAuthError(w, http.StatusBadRequest, errInvalidScope, "requested scope is not allowed for this client")
		return
	}

	deviceCode, err := grant.GenerateDeviceCode()
	if err != nil {
		logging.Error("AuthServer", err, "Failed to generate device code")
		writeOAuthError(w, http.StatusInternalServerError, errServerError, "")
		return
	}

	now := s.now()
	g := &grant.Grant{
		ID:         uuid.NewString(),
		DeviceCode: deviceCode,
		ClientID:   clientID,
		Scope:      scope,
		Status:     grant.StatusPending,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.cfg.DeviceCodeTTL),
		Interval:   s.cfg.PollInterval,
	}

	created := false
	for attempt := 0; attempt < maxUserCodeAttempts; attempt++ {
		g.UserCode, err = grant.GenerateUserCode()
		if err != nil {
			break
		}
		err = s.store.Create(r.Context(), g)
		if err == nil {
			created = true
			break
		}
		if !errors.Is(err, grant.ErrDuplicate) {
			break
		}
		logging.Debug("AuthServer", "User code collision, retrying (attempt %d)", attempt+1)
	}
	if !created {
		logging.Error("AuthServer", err, "Failed to create grant for client %s", clientID)
		writeOAuthError(w, http.StatusInternalServerError, errServerError, "could not create device grant")
		return
	}

	s.metrics.CodesIssued.Inc()
	logging.Info("AuthServer", "Issued device code for client %s (grant %s)", clientID, logging.TruncateID(g.ID))

	display := grant.FormatUserCode(g.UserCode)
	writeJSON(w, http.StatusOK, deviceCodeResponse{
		DeviceCode:              g.DeviceCode,
		UserCode:                display,
		VerificationURI:         s.VerificationURI(),
		VerificationURIComplete: s.VerificationURI() + "?user_code=" + display,
		ExpiresIn:               int64(s.cfg.DeviceCodeTTL.Seconds()),
		Interval:                int64(s.cfg.PollInterval.Seconds()),
	})
}

// resolveScope checks requested against the client's allowed scopes. An
// empty request falls back to everything the client may ask for.
func resolveScope(requested string, allowed []string) (string, bool) {
	fields := strings.Fields(requested)
	if len(fields) == 0 {
		return strings.Join(allowed, " "), true
	}
	if len(allowed) == 0 {
		return strings.Join(fields, " "), true
	}
	permitted := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		permitted[a] = true
	}
	for _, f := range fields {
		if !permitted[f] {
			return "", false
		}
	}
	return strings.Join(fields, " "), true
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, errInvalidRequest, "malformed form body")
		return
	}

	if gt := r.PostForm.Get("grant_type"); gt != GrantTypeDeviceCode {
		s.pollResult(errUnsupportedGrantType)
		writeOAuthError(w, http.StatusBadRequest, errUnsupportedGrantType, "only the device_code grant is supported")
		return
	}
	deviceCode := r.PostForm.Get("device_code")
	clientID := r.PostForm.Get("client_id")
	if deviceCode == "" {
		s.pollResult(errInvalidRequest)
		writeOAuthError(w, http.StatusBadRequest, errInvalidRequest, "device_code is required")
		return
	}

	ctx := r.Context()
	now := s.now()

	g, err := s.store.GetByDeviceCode(ctx, deviceCode)
	if err != nil {
		s.tokenStoreError(w, err)
		return
	}
	if g.ClientID != clientID {
		s.pollResult(errInvalidGrant)
		writeOAuthError(w, http.StatusBadRequest, errInvalidGrant, "device code was issued to another client")
		return
	}

	if g.EffectiveStatus(now) == grant.StatusPending {
		res, err := s.store.RecordPoll(ctx, deviceCode, now)
		if err != nil {
			s.tokenStoreError(w, err)
			return
		}
		g = res.Grant
		if g.EffectiveStatus(now) == grant.StatusPending {
			if res.SlowDown {
				s.pollResult(errSlowDown)
				writeOAuthError(w, http.StatusBadRequest, errSlowDown, "polling too frequently")
				return
			}
			s.pollResult(errAuthorizationPending)
			writeOAuthError(w, http.StatusBadRequest, errAuthorizationPending, "the user has not yet approved the request")
			return
		}
	}

	switch g.EffectiveStatus(now) {
	case grant.StatusExpired:
		s.pollResult(errExpiredToken)
		writeOAuthError(w, http.StatusBadRequest, errExpiredToken, "the device code has expired")
		return
	case grant.StatusDenied:
		s.pollResult(errAccessDenied)
		writeOAuthError(w, http.StatusBadRequest, errAccessDenied, "the user denied the request")
		return
	}

	redeemed, err := s.store.Redeem(ctx, deviceCode, now)
	if err != nil {
		s.tokenStoreError(w, err)
		return
	}

	accessToken, _, err := s.issuer.Issue(redeemed.ApprovedUserID, redeemed.ClientID, redeemed.Scope)
	if err != nil {
		logging.Error("AuthServer", err, "Failed to issue token for grant %s", logging.TruncateID(redeemed.ID))
		writeOAuthError(w, http.StatusInternalServerError, errServerError, "")
		return
	}

	s.pollResult("token_issued")
	s.metrics.TokensIssued.Inc()
	logging.Audit(logging.AuditEvent{
		Action:  "token_issued",
		Outcome: "success",
		Subject: redeemed.ApprovedUserID,
		Target:  redeemed.ClientID,
		Details: "grant " + logging.TruncateID(redeemed.ID),
	})

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		Scope:       redeemed.Scope,
		ExpiresIn:   int64(s.issuer.TTL().Seconds()),
	})
}

// tokenStoreError maps grant store failures on the token endpoint.
func (s *Server) tokenStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, grant.ErrNotFound):
		s.pollResult(errInvalidGrant)
		writeOAuthError(w, http.StatusBadRequest, errInvalidGrant, "unknown device code")
	case errors.Is(err, grant.ErrAlreadyRedeemed):
		s.pollResult(errInvalidGrant)
		writeOAuthError(w, http.StatusBadRequest, errInvalidGrant, "the device code has already been used")
	case errors.Is(err, grant.ErrExpired):
		s.pollResult(errExpiredToken)
		writeOAuthError(w, http.StatusBadRequest, errExpiredToken, "the device code has expired")
	case errors.Is(err, grant.ErrNotApproved):
		s.pollResult(errAuthorizationPending)
		writeOAuthError(w, http.StatusBadRequest, errAuthorizationPending, "the user has not yet approved the request")
	default:
		logging.Error("AuthServer", err, "Grant store failure on token endpoint")
		s.pollResult(errServerError)
		writeOAuthError(w, http.StatusInternalServerError, errServerError, "")
	}
}

func (s *Server) pollResult(result string) {
	s.metrics.PollResults.WithLabelValues(result).Inc()
}
