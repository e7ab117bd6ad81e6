package deviceflow

import (
	"context"
	"fmt"
	"time"

	"devauth/internal/tokenstore"
	"devauth/pkg/logging"

	"golang.org/x/oauth2"
)

// CodeRequester obtains device codes.
type CodeRequester interface {
	RequestCode(ctx context.Context, scope string) (*oauth2.DeviceAuthResponse, error)
}

// CredentialSaver persists an issued credential.
type CredentialSaver interface {
	Save(cred *tokenstore.Credential) error
}

// Session wires requester, presenter, poller and token store into one login.
type Session struct {
	Requester CodeRequester
	Presenter *Presenter
	Poller    *Poller
	Store     CredentialSaver

	// Now stamps the stored credential. Defaults to time.Now.
	Now func() time.Time
}

// LoginResult reports how a login ended.
type LoginResult struct {
	State      State
	UserCode   string
	Credential *tokenstore.Credential
	Attempts   int
}

// Login runs the full device flow for scope.
//
// On StateTokenIssued the credential is saved and the error is nil. Every
// other terminal state returns a non-nil error: ErrAccessDenied,
// ErrTokenExpired and ErrCancelled match with errors.Is, fatal errors carry
// their cause. Nothing is stored unless a token was issued.
func (s *Session) Login(ctx context.Context, scope string) (*LoginResult, error) {
	now := s.Now
	if now == nil {
		now = time.Now
	}

	resp, err := s.Requester.RequestCode(ctx, scope)
	if err != nil {
		if ctx.Err() != nil {
			return &LoginResult{State: StateCancelled}, ErrCancelled
		}
		return nil, fmt.Errorf("failed to start device authorization: %w", err)
	}
	logging.Info("DeviceFlow", "Device code issued, user code %s, expires %s",
		resp.UserCode, resp.Expiry.Format(time.RFC3339))

	if s.Presenter != nil {
		s.Presenter.Show(resp)
		s.Presenter.StartWaiting()
	}
	result := s.Poller.Poll(ctx, PollRequestFromResponse(resp))
	if s.Presenter != nil {
		s.Presenter.StopWaiting()
	}

	out := &LoginResult{
		State:    result.State,
		UserCode: resp.UserCode,
		Attempts: result.Attempts,
	}

	if result.State != StateTokenIssued {
		return out, result.Err
	}

	scopeGranted := scope
	if v, ok := result.Token.Extra("scope").(string); ok && v != "" {
		scopeGranted = v
	}
	cred := tokenstore.NewCredential(result.Token, scopeGranted, now())
	if err := s.Store.Save(cred); err != nil {
		return out, fmt.Errorf("login succeeded but the credential could not be saved: %w", err)
	}
	out.Credential = cred
	return out, nil
}
