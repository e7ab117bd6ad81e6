package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"devauth/internal/cli"
	"devauth/internal/config"
	"devauth/internal/tokenstore"
	"devauth/pkg/oauth"
	pkgstrings "devauth/pkg/strings"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
)

const userInfoPath = "/userinfo"

// userInfo is the identity returned by the server for a bearer token.
type userInfo struct {
	Subject  string `json:"sub"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	ClientID string `json:"client_id,omitempty"`
	Scope    string `json:"scope,omitempty"`
}

// whoamiCmd represents the whoami command
var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the identity behind the stored credential",
	Long: `Ask the authorization server who the stored access token belongs to.

Exit codes:
  0    the credential is valid
  2    not logged in, or the credential has expired

Examples:
  devauth whoami
  devauth whoami --server-url https://auth.example.com`,
	Args: cobra.NoArgs,
	RunE: runWhoami,
}

func init() {
	rootCmd.AddCommand(whoamiCmd)
	addClientFlags(whoamiCmd)
}

func runWhoami(cmd *cobra.Command, args []string) error {
	cfg, err := loadClientConfig(cmd)
	if err != nil {
		return err
	}
	store := newCredentialStore(cfg)

	cred, err := store.RequireValid(cfg.ExpirySkew)
	if err != nil {
		return cli.ClassifyCredentialError(err, cfg.ServerURL)
	}

	info, err := fetchUserInfo(commandContext(cmd), cfg, cred)
	if err != nil {
		return err
	}

	table := cli.NewKeyValueTable(cmd.OutOrStdout(), "Identity")
	table.Add("User ID", info.Subject)
	table.Add("Name", info.Name)
	table.Add("Email", info.Email)
	table.Add("Server", cfg.ServerURL)
	table.Add("Client ID", info.ClientID)
	table.Add("Scope", info.Scope)
	table.Add("Expires", cli.FormatExpiry(cred.ExpiresAt, time.Now()))
	table.Render()
	return nil
}

// fetchUserInfo calls the userinfo endpoint with cred as bearer token.
func fetchUserInfo(ctx context.Context, cfg config.ClientConfig, cred *tokenstore.Credential) (*userInfo, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, newHTTPClient(cfg))
	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(cred.ToOAuth2Token()))
	httpClient.Timeout = cfg.RequestTimeout

	endpoint := strings.TrimRight(cfg.ServerURL, "/") + userInfoPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, cli.ClassifyConnectionError(err, cfg.ServerURL)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, cli.ClassifyConnectionError(err, cfg.ServerURL)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		if challenge := oauth.ChallengeFromResponse(resp); challenge != nil && !challenge.InvalidToken() {
			return nil, &cli.AuthRequiredError{ServerURL: cfg.ServerURL}
		}
		return nil, &cli.AuthExpiredError{ServerURL: cfg.ServerURL}
	default:
		return nil, fmt.Errorf("userinfo request failed with HTTP %d: %s", resp.StatusCode, pkgstrings.Snippet(string(body), pkgstrings.DefaultSnippetLen))
	}

	var info userInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("failed to parse userinfo response: %w", err)
	}
	if info.Subject == "" {
		return nil, fmt.Errorf("userinfo response is missing sub")
	}
	return &info, nil
}
