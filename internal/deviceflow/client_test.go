package deviceflow

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(ClientConfig{
		ServerURL: srv.URL,
		ClientID:  "cli-1",
		Now:       func() time.Time { return start },
	})
	require.NoError(t, err)
	return c
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(ClientConfig{ServerURL: "http://localhost", ClientID: ""})
	assert.Error(t, err)

	_, err = NewClient(ClientConfig{ServerURL: "localhost:8080", ClientID: "x"})
	assert.Error(t, err)

	c, err := NewClient(ClientConfig{ServerURL: "https://auth.example.com/base/", ClientID: "x"})
	require.NoError(t, err)
	assert.Equal(t, "https://auth.example.com/base/device/code", c.Endpoint().DeviceAuthURL)
	assert.Equal(t, "https://auth.example.com/base/device/token", c.Endpoint().TokenURL)
	assert.Equal(t, "x", c.ClientID())
}

func TestClient_RequestCode(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, DeviceCodePath, r.URL.Path)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "cli-1", r.PostForm.Get("client_id"))
		assert.Equal(t, "openid profile email", r.PostForm.Get("scope"))

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"device_code":               "dev-123",
			"user_code":                 "WDJB-MJHT",
			"verification_uri":          "https://auth.example.com/device",
			"verification_uri_complete": "https://auth.example.com/device?user_code=WDJB-MJHT",
			"expires_in":                1800,
			"interval":                  5,
		})
	})

	resp, err := c.RequestCode(context.Background(), "openid profile email")
	require.NoError(t, err)
	assert.Equal(t, "dev-123", resp.DeviceCode)
	assert.Equal(t, "WDJB-MJHT", resp.UserCode)
	assert.Equal(t, "https://auth.example.com/device", resp.VerificationURI)
	assert.Equal(t, "https://auth.example.com/device?user_code=WDJB-MJHT", resp.VerificationURIComplete)
	assert.Equal(t, int64(5), resp.Interval)
	assert.Equal(t, start.Add(30*time.Minute), resp.Expiry)
}

func TestClient_RequestCode_DefaultInterval(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"device_code":      "dev",
			"user_code":        "ABCD-EFGH",
			"verification_uri": "https://auth.example.com/device",
			"expires_in":       600,
		})
	})

	resp, err := c.RequestCode(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, int64(5), resp.Interval)
}

func TestClient_RequestCode_Rejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":             "invalid_client",
			"error_description": "unknown client",
		})
	})

	_, err := c.RequestCode(context.Background(), "openid")
	var perr *ProtocolError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, http.StatusBadRequest, perr.StatusCode)
	assert.Contains(t, err.Error(), "unknown client")

	var oerr *OAuthError
	require.True(t, errors.As(err, &oerr))
	assert.Equal(t, "invalid_client", oerr.Code)
}

func TestClient_RequestCode_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    string
	}{
		{
			name: "not json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("<html>oops</html>"))
			},
			want: "invalid JSON",
		},
		{
			name: "missing fields",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, map[string]interface{}{"device_code": "dev"})
			},
			want: "user_code, verification_uri, expires_in",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.handler)
			_, err := c.RequestCode(context.Background(), "")
			var perr *ProtocolError
			require.True(t, errors.As(err, &perr))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestClient_RequestCode_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewClient(ClientConfig{ServerURL: url, ClientID: "cli-1"})
	require.NoError(t, err)

	_, err = c.RequestCode(context.Background(), "")
	assert.True(t, IsNetworkError(err))
}

func TestClient_Exchange_Success(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, TokenPath, r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, GrantTypeDeviceCode, r.PostForm.Get("grant_type"))
		assert.Equal(t, "dev-123", r.PostForm.Get("device_code"))
		assert.Equal(t, "cli-1", r.PostForm.Get("client_id"))

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"access_token": "tok_abc",
			"token_type":   "Bearer",
			"scope":        "openid profile",
			"expires_in":   3600,
		})
	})

	token, err := c.Exchange(context.Background(), "dev-123")
	require.NoError(t, err)
	assert.Equal(t, "tok_abc", token.AccessToken)
	assert.Equal(t, "Bearer", token.TokenType)
	assert.Equal(t, int64(3600), token.ExpiresIn)
	assert.Equal(t, start.Add(time.Hour), token.Expiry)
	assert.Equal(t, "openid profile", token.Extra("scope"))
}

func TestClient_Exchange_ErrorCodes(t *testing.T) {
	tests := []struct {
		code     string
		sentinel error
	}{
		{ErrorCodeAuthorizationPending, ErrAuthorizationPending},
		{ErrorCodeSlowDown, ErrSlowDown},
		{ErrorCodeAccessDenied, ErrAccessDenied},
		{ErrorCodeExpiredToken, ErrTokenExpired},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": tt.code})
			})

			_, err := c.Exchange(context.Background(), "dev")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)

			var retrieveErr *oauth2.RetrieveError
			require.True(t, errors.As(err, &retrieveErr))
			assert.Equal(t, tt.code, retrieveErr.ErrorCode)
		})
	}
}

func TestClient_Exchange_ServerErrorIsRetryable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	})

	_, err := c.Exchange(context.Background(), "dev")
	assert.True(t, IsNetworkError(err))
}

func TestClient_Exchange_UnexpectedStatusIsProtocolError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	})

	_, err := c.Exchange(context.Background(), "dev")
	var perr *ProtocolError
	assert.True(t, errors.As(err, &perr))
}

func TestClient_Exchange_MissingAccessToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"token_type": "Bearer"})
	})

	_, err := c.Exchange(context.Background(), "dev")
	var perr *ProtocolError
	require.True(t, errors.As(err, &perr))
	assert.Contains(t, err.Error(), "access_token")
}

func TestClient_Exchange_ErrorBodyWithOK(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"error": "authorization_pending"})
	})

	_, err := c.Exchange(context.Background(), "dev")
	assert.ErrorIs(t, err, ErrAuthorizationPending)
}
