package cmd

import (
	"context"
	"strings"
	"testing"

	"devauth/internal/cli"
	"devauth/internal/grant"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func grantStatus(t *testing.T, env *authServerEnv, userCode string) *grant.Grant {
	t.Helper()
	g, err := env.store.GetByUserCode(context.Background(), grant.NormalizeUserCode(userCode))
	require.NoError(t, err)
	return g
}

func TestApprove(t *testing.T) {
	env := newAuthServerEnv(t)
	dir := writeClientConfig(t, env.http.URL, "")
	userCode := env.startGrant(t)

	out, err := executeCommand(t, "approve", strings.ToLower(userCode), "--session", testAliceSession, "--config-path", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Approved login request "+userCode)

	g := grantStatus(t, env, userCode)
	assert.Equal(t, grant.StatusApproved, g.Status)
	assert.Equal(t, "alice", g.ApprovedUserID)
}

func TestDeny_SessionFromConfig(t *testing.T) {
	env := newAuthServerEnv(t)
	dir := writeClientConfig(t, env.http.URL, testAliceSession)
	userCode := env.startGrant(t)

	out, err := executeCommand(t, "deny", userCode, "--config-path", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Denied login request "+userCode)
	assert.Equal(t, grant.StatusDenied, grantStatus(t, env, userCode).Status)
}

func TestApprove_PromptsForCode(t *testing.T) {
	env := newAuthServerEnv(t)
	dir := writeClientConfig(t, env.http.URL, testAliceSession)
	userCode := env.startGrant(t)

	prompter := &fakePrompter{lines: []string{strings.ReplaceAll(userCode, "-", " ")}}
	usePrompter(t, prompter)

	_, err := executeCommand(t, "approve", "--config-path", dir)
	require.NoError(t, err)
	assert.Len(t, prompter.asked, 1)
	assert.Equal(t, grant.StatusApproved, grantStatus(t, env, userCode).Status)
}

func TestApprove_PromptAborted(t *testing.T) {
	env := newAuthServerEnv(t)
	dir := writeClientConfig(t, env.http.URL, testAliceSession)
	usePrompter(t, &fakePrompter{})

	_, err := executeCommand(t, "approve", "--config-path", dir)
	require.ErrorIs(t, err, cli.ErrPromptAborted)
	assert.Equal(t, ExitCodeCancelled, getExitCode(err))
}

func TestDecide_Failures(t *testing.T) {
	t.Run("no session", func(t *testing.T) {
		env := newAuthServerEnv(t)
		dir := writeClientConfig(t, env.http.URL, "")

		_, err := executeCommand(t, "approve", "WDJB-MJHT", "--config-path", dir)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "session token is required")
	})

	t.Run("malformed code", func(t *testing.T) {
		env := newAuthServerEnv(t)
		dir := writeClientConfig(t, env.http.URL, testAliceSession)

		_, err := executeCommand(t, "approve", "AEIO-0000", "--config-path", dir)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not a valid code")
	})

	t.Run("rejected session", func(t *testing.T) {
		env := newAuthServerEnv(t)
		dir := writeClientConfig(t, env.http.URL, "")
		userCode := env.startGrant(t)

		_, err := executeCommand(t, "approve", userCode, "--session", "wrong", "--config-path", dir)
		var failed *cli.AuthFailedError
		require.ErrorAs(t, err, &failed)
		assert.Equal(t, ExitCodeAuthFailed, getExitCode(err))
		assert.Equal(t, grant.StatusPending, grantStatus(t, env, userCode).Status)
	})

	t.Run("unknown code", func(t *testing.T) {
		env := newAuthServerEnv(t)
		dir := writeClientConfig(t, env.http.URL, testAliceSession)

		_, err := executeCommand(t, "deny", "WDJB-MJHT", "--config-path", dir)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no pending login request matches code WDJB-MJHT")
	})

	t.Run("already decided", func(t *testing.T) {
		env := newAuthServerEnv(t)
		dir := writeClientConfig(t, env.http.URL, testAliceSession)
		userCode := env.startGrant(t)

		_, err := executeCommand(t, "approve", userCode, "--config-path", dir)
		require.NoError(t, err)

		_, err = executeCommand(t, "deny", userCode, "--config-path", dir)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already approved or denied")
		assert.Equal(t, grant.StatusApproved, grantStatus(t, env, userCode).Status)
	})

	t.Run("unreachable server", func(t *testing.T) {
		env := newAuthServerEnv(t)
		url := env.http.URL
		env.http.Close()
		dir := writeClientConfig(t, url, testAliceSession)

		_, err := executeCommand(t, "approve", "WDJB-MJHT", "--config-path", dir)
		var connErr *cli.ConnectionError
		require.ErrorAs(t, err, &connErr)
	})
}
