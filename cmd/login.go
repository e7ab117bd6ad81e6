package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"devauth/internal/cli"
	"devauth/internal/deviceflow"
	"devauth/internal/tokenstore"

	"github.com/spf13/cobra"
)

var (
	loginScope     string
	loginNoBrowser bool
	loginForce     bool
)

// loginCmd represents the login command
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate this device with the authorization server",
	Long: `Start an OAuth device authorization flow.

devauth prints a verification URL and a short code. Open the URL on any device
with a browser, sign in and enter the code. Once the request is approved the
access token is stored in the credentials file.

Exit codes:
  0    logged in
  3    the login failed (server or network problem)
  4    the request was denied or the code expired
  130  interrupted

Examples:
  devauth login                                  # Login to the configured server
  devauth login --server-url https://auth.example.com
  devauth login --no-browser                     # Only print the URL and code
  devauth login --force                          # Replace a valid credential without asking`,
	Args: cobra.NoArgs,
	RunE: runLogin,
}

func init() {
	rootCmd.AddCommand(loginCmd)

	addClientFlags(loginCmd)
	loginCmd.Flags().StringVar(&loginScope, "scope", "", "Space separated scopes to request")
	loginCmd.Flags().BoolVar(&loginNoBrowser, "no-browser", false, "Do not open the verification page in a browser")
	loginCmd.Flags().BoolVarP(&loginForce, "force", "f", false, "Start a new login even if a valid credential exists")
}

func runLogin(cmd *cobra.Command, args []string) error {
	cfg, err := loadClientConfig(cmd)
	if err != nil {
		return err
	}
	if loginScope != "" {
		cfg.Scope = loginScope
	}

	store := newCredentialStore(cfg)

	if !loginForce {
		proceed, err := confirmRelogin(cmd, store, cfg.ExpirySkew)
		if err != nil {
			return err
		}
		if !proceed {
			authPrintln(cmd, "Keeping the existing credential.")
			return nil
		}
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := deviceflow.NewClient(deviceflow.ClientConfig{
		ServerURL:  cfg.ServerURL,
		ClientID:   cfg.ClientID,
		HTTPClient: newHTTPClient(cfg),
	})
	if err != nil {
		return err
	}

	session := &deviceflow.Session{
		Requester: client,
		Presenter: deviceflow.NewPresenter(cmd.OutOrStdout(),
			deviceflow.WithBrowser(cfg.OpenBrowser && !loginNoBrowser),
			deviceflow.WithBrowserOpener(browserOpener),
			deviceflow.WithQuiet(rootQuiet),
		),
		Poller: deviceflow.NewPoller(client,
			deviceflow.WithClock(pollerClock),
			deviceflow.WithMaxNetworkFailures(cfg.MaxNetworkFailures),
		),
		Store: store,
	}

	result, err := session.Login(ctx, cfg.Scope)
	if err != nil {
		return cli.ClassifyLoginError(err, cfg.ServerURL)
	}

	authPrint(cmd, "Logged in to %s.\n", cfg.ServerURL)
	if result.Credential != nil {
		authPrint(cmd, "Access token expires %s.\n", cli.FormatExpiry(result.Credential.ExpiresAt, time.Now()))
	}
	return nil
}

// confirmRelogin asks before replacing a credential that is still valid.
func confirmRelogin(cmd *cobra.Command, store *tokenstore.Store, skew time.Duration) (bool, error) {
	cred, err := store.Load()
	if errors.Is(err, tokenstore.ErrCorruptCredential) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if cred == nil || store.IsExpired(cred, skew) {
		return true, nil
	}

	question := fmt.Sprintf("You are already logged in (token expires %s). Log in again?",
		cli.FormatExpiry(cred.ExpiresAt, time.Now()))
	return newPrompter(cmd).Confirm(question)
}
