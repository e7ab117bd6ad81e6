package cmd

import (
	"errors"
	"os"
	"testing"
	"time"

	"devauth/internal/cli"
	"devauth/internal/tokenstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestLogin_StoresCredentialAfterApproval(t *testing.T) {
	useInstantPolling(t)
	fake, ts := newScriptedAuthServer(t, 2, "")
	dir := writeClientConfig(t, ts.URL, "")

	out, err := executeCommand(t, "login", "--config-path", dir, "-q")
	require.NoError(t, err)

	assert.Contains(t, out, "WDJB-MJHT")
	assert.Contains(t, out, "https://auth.example.com/device")
	assert.Equal(t, 3, fake.Polls())

	cred, err := tokenstore.New(credentialsFile(dir)).Load()
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.Equal(t, "tok_abc", cred.AccessToken)
	assert.Equal(t, "Bearer", cred.TokenType)
	assert.Equal(t, "openid profile email", cred.Scope)
	require.NotNil(t, cred.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(time.Hour), *cred.ExpiresAt, time.Minute)
}

func TestLogin_FlagsOverrideConfig(t *testing.T) {
	useInstantPolling(t)
	fake, ts := newScriptedAuthServer(t, 0, "")
	dir := writeClientConfig(t, "http://127.0.0.1:1", "")

	_, err := executeCommand(t, "login", "--config-path", dir, "-q",
		"--server-url", ts.URL, "--scope", "openid")
	require.NoError(t, err)

	assert.Equal(t, []string{"openid"}, fake.scopes)
}

func TestLogin_UserRejections(t *testing.T) {
	tests := []struct {
		name    string
		outcome string
		target  interface{}
	}{
		{name: "denied", outcome: "access_denied", target: new(*cli.AccessDeniedError)},
		{name: "expired", outcome: "expired_token", target: new(*cli.LoginExpiredError)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			useInstantPolling(t)
			_, ts := newScriptedAuthServer(t, 1, tt.outcome)
			dir := writeClientConfig(t, ts.URL, "")

			_, err := executeCommand(t, "login", "--config-path", dir, "-q")
			require.Error(t, err)
			assert.True(t, errors.As(err, tt.target), "got %T: %v", err, err)
			assert.Equal(t, ExitCodeUserRejected, getExitCode(err))

			_, statErr := os.Stat(credentialsFile(dir))
			assert.True(t, os.IsNotExist(statErr), "no credential must be written")
		})
	}
}

func TestLogin_ServerErrorIsAuthFailure(t *testing.T) {
	useInstantPolling(t)
	_, ts := newScriptedAuthServer(t, 0, "invalid_grant")
	dir := writeClientConfig(t, ts.URL, "")

	_, err := executeCommand(t, "login", "--config-path", dir, "-q")
	require.Error(t, err)

	var failed *cli.AuthFailedError
	assert.ErrorAs(t, err, &failed)
	assert.Equal(t, ExitCodeAuthFailed, getExitCode(err))
}

func TestLogin_UnreachableServer(t *testing.T) {
	useInstantPolling(t)
	_, ts := newScriptedAuthServer(t, 0, "")
	url := ts.URL
	ts.Close()
	dir := writeClientConfig(t, url, "")

	_, err := executeCommand(t, "login", "--config-path", dir, "-q")
	require.Error(t, err)

	var connErr *cli.ConnectionError
	assert.ErrorAs(t, err, &connErr)
	assert.Equal(t, ExitCodeAuthFailed, getExitCode(err))
}

func TestLogin_ExistingCredential(t *testing.T) {
	seed := func(t *testing.T, dir string) {
		t.Helper()
		cred := tokenstore.NewCredential(&oauth2.Token{
			AccessToken: "tok_old",
			TokenType:   "Bearer",
			Expiry:      time.Now().Add(24 * time.Hour),
		}, "openid", time.Now())
		require.NoError(t, tokenstore.New(credentialsFile(dir)).Save(cred))
	}

	t.Run("declined keeps the credential", func(t *testing.T) {
		useInstantPolling(t)
		prompter := &fakePrompter{confirm: false}
		usePrompter(t, prompter)
		fake, ts := newScriptedAuthServer(t, 0, "")
		dir := writeClientConfig(t, ts.URL, "")
		seed(t, dir)

		out, err := executeCommand(t, "login", "--config-path", dir)
		require.NoError(t, err)
		assert.Contains(t, out, "Keeping the existing credential")
		assert.Len(t, prompter.asked, 1)
		assert.Zero(t, fake.Polls())

		cred, err := tokenstore.New(credentialsFile(dir)).Load()
		require.NoError(t, err)
		assert.Equal(t, "tok_old", cred.AccessToken)
	})

	t.Run("confirmed replaces the credential", func(t *testing.T) {
		useInstantPolling(t)
		usePrompter(t, &fakePrompter{confirm: true})
		_, ts := newScriptedAuthServer(t, 0, "")
		dir := writeClientConfig(t, ts.URL, "")
		seed(t, dir)

		_, err := executeCommand(t, "login", "--config-path", dir, "-q")
		require.NoError(t, err)

		cred, err := tokenstore.New(credentialsFile(dir)).Load()
		require.NoError(t, err)
		assert.Equal(t, "tok_abc", cred.AccessToken)
	})

	t.Run("unreadable credential is replaced without asking", func(t *testing.T) {
		useInstantPolling(t)
		prompter := &fakePrompter{err: errors.New("must not be asked")}
		usePrompter(t, prompter)
		_, ts := newScriptedAuthServer(t, 0, "")
		dir := writeClientConfig(t, ts.URL, "")
		writeCorruptCredential(t, dir)

		_, err := executeCommand(t, "login", "--config-path", dir, "-q")
		require.NoError(t, err)
		assert.Empty(t, prompter.asked)

		cred, err := tokenstore.New(credentialsFile(dir)).Load()
		require.NoError(t, err)
		assert.Equal(t, "tok_abc", cred.AccessToken)
	})

	t.Run("force skips the prompt", func(t *testing.T) {
		useInstantPolling(t)
		prompter := &fakePrompter{err: errors.New("must not be asked")}
		usePrompter(t, prompter)
		_, ts := newScriptedAuthServer(t, 0, "")
		dir := writeClientConfig(t, ts.URL, "")
		seed(t, dir)

		_, err := executeCommand(t, "login", "--config-path", dir, "-q", "--force")
		require.NoError(t, err)
		assert.Empty(t, prompter.asked)
	})
}

func TestLogin_InvalidServerURL(t *testing.T) {
	dir := writeClientConfig(t, "http://localhost:8080", "")

	_, err := executeCommand(t, "login", "--config-path", dir, "--server-url", "ftp://example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid client configuration")
}
