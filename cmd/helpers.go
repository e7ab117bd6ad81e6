package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"devauth/internal/cli"
	"devauth/internal/config"
	"devauth/internal/deviceflow"
	"devauth/internal/tokenstore"

	"github.com/spf13/cobra"
)

// Client flags shared by every command that talks to the authorization server.
var (
	clientServerURL string
	clientID        string
)

// Test seams.
var (
	pollerClock   deviceflow.Clock = deviceflow.RealClock{}
	browserOpener                  = deviceflow.OpenBrowser
	newPrompter                    = func(cmd *cobra.Command) cli.Prompter {
		return &cli.TerminalPrompter{In: io.NopCloser(cmd.InOrStdin()), Out: cmd.OutOrStdout()}
	}
)

// authPrint prints output only if the --quiet flag is not set.
// Use this for progress messages and non-essential output.
func authPrint(cmd *cobra.Command, format string, args ...interface{}) {
	if !rootQuiet {
		fmt.Fprintf(cmd.OutOrStdout(), format, args...)
	}
}

// authPrintln prints a line only if the --quiet flag is not set.
func authPrintln(cmd *cobra.Command, a ...interface{}) {
	if !rootQuiet {
		fmt.Fprintln(cmd.OutOrStdout(), a...)
	}
}

// addClientFlags registers --server-url and --client-id on c.
func addClientFlags(c *cobra.Command) {
	c.Flags().StringVar(&clientServerURL, "server-url", "", "Authorization server URL (env: "+config.EnvServerURL+")")
	c.Flags().StringVar(&clientID, "client-id", "", "OAuth client id (env: "+config.EnvClientID+")")
}

// loadClientConfig loads the client section and applies flag overrides.
// Precedence is flag, then environment, then config file, then defaults.
func loadClientConfig(cmd *cobra.Command) (config.ClientConfig, error) {
	cfg, err := config.LoadConfig(rootConfigPath)
	if err != nil {
		return config.ClientConfig{}, err
	}
	client := cfg.Client

	if f := cmd.Flags().Lookup("server-url"); f != nil && f.Changed {
		client.ServerURL = clientServerURL
	}
	if f := cmd.Flags().Lookup("client-id"); f != nil && f.Changed {
		client.ClientID = clientID
	}

	if err := client.Validate(); err != nil {
		return config.ClientConfig{}, fmt.Errorf("invalid client configuration: %w", err)
	}
	return client, nil
}

func newCredentialStore(cfg config.ClientConfig) *tokenstore.Store {
	return tokenstore.New(cfg.CredentialsFile)
}

func newHTTPClient(cfg config.ClientConfig) *http.Client {
	return &http.Client{Timeout: cfg.RequestTimeout}
}

// commandContext returns the command's context, falling back to Background
// when the command is run outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// credentialPath abbreviates the credential file location for display.
func credentialPath(store *tokenstore.Store) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return store.Path()
	}
	if rest, ok := strings.CutPrefix(store.Path(), home+string(os.PathSeparator)); ok {
		return filepath.Join("~", rest)
	}
	return store.Path()
}
