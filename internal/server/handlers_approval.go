package server

import (
	"encoding/json"
	"errors"
	"html/template"
	"mime"
	"net/http"
	"strings"

	"devauth/internal/grant"
	"devauth/pkg/logging"
)

// SessionCookieName carries the browser session token.
const SessionCookieName = "devauth_session"

type decisionRequest struct {
	UserCode string `json:"user_code"`
}

type decisionResponse struct {
	Status   string `json:"status"`
	UserCode string `json:"user_code"`
}

// requireSession authenticates the end user from a bearer token, the session
// cookie or a session_token form field, in that order.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
		token := sessionToken(r)
		user, ok := s.users.BySessionToken(token)
		if !ok {
			if token != "" {
				logging.Audit(logging.AuditEvent{
					Action:  "session_rejected",
					Outcome: "rejected",
					Target:  r.URL.Path,
				})
			}
			writeOAuthError(w, http.StatusUnauthorized, "unauthorized", "an authenticated session is required")
			return
		}
		if _, err := r.Cookie(SessionCookieName); err != nil && isFormRequest(r) {
			http.SetCookie(w, &http.Cookie{
				Name:     SessionCookieName,
				Value:    token,
				Path:     VerificationPath,
				HttpOnly: true,
				Secure:   strings.HasPrefix(s.publicURL, "https://"),
				SameSite: http.SameSiteStrictMode,
			})
		}
		next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
	})
}

func sessionToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if c, err := r.Cookie(SessionCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if isFormRequest(r) {
		return r.PostFormValue("session_token")
	}
	return ""
}

func isFormRequest(r *http.Request) bool {
	ct, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && ct == "application/x-www-form-urlencoded"
}

func readUserCode(r *http.Request) (string, error) {
	if isFormRequest(r) {
		return r.PostFormValue("user_code"), nil
	}
	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return "", err
	}
	return req.UserCode, nil
}

// decisionHandler returns the handler for approve or deny.
func (s *Server) decisionHandler(decision grant.Status) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := UserFromContext(r.Context())
		action := decisionAction(decision)
		htmlReply := isFormRequest(r)

		raw, err := readUserCode(r)
		code := grant.NormalizeUserCode(raw)
		if err != nil || code == "" {
			s.decisionResult(w, htmlReply, http.StatusBadRequest, decision, "invalid_request", "user_code is required", code)
			return
		}

		_, err = s.store.Decide(r.Context(), code, decision, user.ID, s.now())
		switch {
		case err == nil:
			logging.Audit(logging.AuditEvent{
				Action:  action,
				Outcome: "success",
				Subject: user.ID,
				Target:  grant.FormatUserCode(code),
			})
			s.decisionResult(w, htmlReply, http.StatusOK, decision, "", "", code)
		case errors.Is(err, grant.ErrNotFound):
			s.auditDecisionFailure(action, user.ID, code, "not found")
			s.decisionResult(w, htmlReply, http.StatusNotFound, decision, "not_found", "no pending request matches this code", code)
		case errors.Is(err, grant.ErrConflict):
			s.auditDecisionFailure(action, user.ID, code, "already decided")
			s.decisionResult(w, htmlReply, http.StatusConflict, decision, "conflict", "this request was already approved or denied", code)
		default:
			logging.Error("AuthServer", err, "Failed to record %s", action)
			s.decisionResult(w, htmlReply, http.StatusInternalServerError, decision, errServerError, "", code)
		}
	})
}

func decisionAction(decision grant.Status) string {
	if decision == grant.StatusApproved {
		return "grant_approved"
	}
	return "grant_denied"
}

func (s *Server) auditDecisionFailure(action, userID, code, reason string) {
	logging.Audit(logging.AuditEvent{
		Action:  action,
		Outcome: "failure",
		Subject: userID,
		Target:  grant.FormatUserCode(code),
		Details: reason,
	})
}

func (s *Server) decisionResult(w http.ResponseWriter, html bool, status int, decision grant.Status, code, description, userCode string) {
	outcome := "success"
	if status != http.StatusOK {
		outcome = code
	}
	s.metrics.Decisions.WithLabelValues(string(decision), outcome).Inc()

	if html {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		_ = resultPage.Execute(w, resultPageData{
			OK:          status == http.StatusOK,
			Approved:    decision == grant.StatusApproved,
			Description: description,
		})
		return
	}
	if status != http.StatusOK {
		writeOAuthError(w, status, code, description)
		return
	}
	writeJSON(w, http.StatusOK, decisionResponse{Status: string(decision), UserCode: grant.FormatUserCode(userCode)})
}

type verificationPageData struct {
	UserCode string
	// NeedSession asks for a session token when no cookie is present.
	NeedSession bool
}

type resultPageData struct {
	OK          bool
	Approved    bool
	Description string
}

var verificationPage = template.Must(template.New("device").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>Device activation</title></head>
<body>
<h1>Connect a device</h1>
<p>Enter the code shown in your terminal.</p>
<form method="post">
  <label>Code <input name="user_code" value="{{.UserCode}}" autocomplete="off" autofocus></label>
  {{if .NeedSession}}<label>Session token <input name="session_token" type="password"></label>{{end}}
  <button formaction="/device/approve">Approve</button>
  <button formaction="/device/deny">Deny</button>
</form>
</body>
</html>
`))

var resultPage = template.Must(template.New("result").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>Device activation</title></head>
<body>
{{if .OK}}{{if .Approved}}<h1>Device approved</h1><p>You can return to your terminal.</p>{{else}}<h1>Request denied</h1><p>The device was not granted access.</p>{{end}}
{{else}}<h1>Something went wrong</h1><p>{{.Description}}</p><p><a href="/device">Try again</a></p>{{end}}
</body>
</html>
`))

func (s *Server) handleVerificationPage(w http.ResponseWriter, r *http.Request) {
	code := grant.NormalizeUserCode(r.URL.Query().Get("user_code"))
	data := verificationPageData{NeedSession: true}
	if grant.ValidUserCode(code) {
		data.UserCode = grant.FormatUserCode(code)
	}
	if c, err := r.Cookie(SessionCookieName); err == nil {
		if _, ok := s.users.BySessionToken(c.Value); ok {
			data.NeedSession = false
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := verificationPage.Execute(w, data); err != nil {
		logging.Debug("AuthServer", "Failed to render verification page: %v", err)
	}
}
