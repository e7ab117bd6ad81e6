package cmd

import (
	"errors"
	"fmt"

	"devauth/internal/tokenstore"
	"devauth/pkg/logging"

	"github.com/spf13/cobra"
)

// logoutCmd represents the logout command
var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the stored credential",
	Long: `Remove the stored access token. The next command that needs a credential
asks you to run 'devauth login' again.

Examples:
  devauth logout`,
	Args: cobra.NoArgs,
	RunE: runLogout,
}

func init() {
	rootCmd.AddCommand(logoutCmd)
	addClientFlags(logoutCmd)
}

func runLogout(cmd *cobra.Command, args []string) error {
	cfg, err := loadClientConfig(cmd)
	if err != nil {
		return err
	}
	store := newCredentialStore(cfg)

	cred, err := store.Load()
	switch {
	case errors.Is(err, tokenstore.ErrCorruptCredential):
		logging.Warn("CLI", "Removing unreadable credential file: %v", err)
	case err != nil:
		return err
	case cred == nil:
		authPrintln(cmd, "Not logged in.")
		return nil
	}

	if err := store.Clear(); err != nil {
		return fmt.Errorf("failed to logout: %w", err)
	}
	authPrint(cmd, "Logged out from %s\n", cfg.ServerURL)
	return nil
}
