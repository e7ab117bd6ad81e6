package cmd

import (
	"errors"
	"time"

	"devauth/internal/cli"
	"devauth/internal/tokenstore"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the locally stored credential",
	Long: `Show whether a credential is stored and when it expires.

status only reads the credentials file and never contacts the server. Use
'devauth whoami' to ask the server who the credential belongs to.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	addClientFlags(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadClientConfig(cmd)
	if err != nil {
		return err
	}
	store := newCredentialStore(cfg)

	cred, err := store.Load()
	corrupt := errors.Is(err, tokenstore.ErrCorruptCredential)
	if err != nil && !corrupt {
		return err
	}

	table := cli.NewKeyValueTable(cmd.OutOrStdout(), "devauth")
	table.Add("Server", cfg.ServerURL)
	table.Add("Client ID", cfg.ClientID)
	table.Add("Credentials", credentialPath(store))

	switch {
	case corrupt:
		table.Add("Status", text.FgRed.Sprint("Unreadable credential file"))
	case cred == nil:
		table.Add("Status", text.FgRed.Sprint("Not logged in"))
	case store.IsExpired(cred, cfg.ExpirySkew):
		table.Add("Status", text.FgYellow.Sprint("Expired"))
		table.Add("Expires", cli.FormatExpiry(cred.ExpiresAt, time.Now()))
	default:
		table.Add("Status", text.FgGreen.Sprint("Logged in"))
		table.Add("Scope", cred.Scope)
		table.Add("Expires", cli.FormatExpiry(cred.ExpiresAt, time.Now()))
	}
	table.Render()

	if corrupt {
		authPrint(cmd, "\nTo remove it, run:\n  devauth logout\n")
	} else if cred == nil {
		authPrint(cmd, "\nTo authenticate, run:\n  devauth login --server-url %s\n", cfg.ServerURL)
	} else if store.IsExpired(cred, cfg.ExpirySkew) {
		authPrint(cmd, "\nTo log in again, run:\n  devauth login --server-url %s\n", cfg.ServerURL)
	}
	return nil
}
