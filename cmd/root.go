package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"devauth/internal/cli"
	"devauth/internal/config"
	"devauth/internal/deviceflow"
	"devauth/pkg/logging"

	"github.com/spf13/cobra"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeAuthRequired indicates there is no usable credential.
	ExitCodeAuthRequired = 2
	// ExitCodeAuthFailed indicates the device flow failed for a system reason.
	ExitCodeAuthFailed = 3
	// ExitCodeUserRejected indicates the user denied the request or let the code expire.
	ExitCodeUserRejected = 4
	// ExitCodeCancelled indicates the operator interrupted the command.
	ExitCodeCancelled = 130
)

var (
	rootConfigPath string
	rootDebug      bool
	rootQuiet      bool
)

// rootCmd represents the base command for the devauth application.
var rootCmd = &cobra.Command{
	Use:   "devauth",
	Short: "Sign in to command line tools with the OAuth device flow",
	Long: `devauth signs a command line session in through the OAuth 2.0 Device
Authorization Grant. Run 'devauth login', open the printed URL on any device
with a browser and enter the code to approve the session.

devauth also ships the authorization server side of the flow ('devauth serve')
and an approval client for terminals ('devauth approve' and 'devauth deny').`,
	// SilenceUsage prevents Cobra from printing the usage message on errors that are handled by the application.
	SilenceUsage:      true,
	// Errors are printed by Execute so cancellation can be reported without the Error: prefix.
	SilenceErrors:     true,
	PersistentPreRunE: initLogging,
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
// This function is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "devauth version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		printError(rootCmd.ErrOrStderr(), err)
		os.Exit(getExitCode(err))
	}
}

// printError reports err on w. Cancellation is an outcome, not a failure, and
// is printed without the error prefix.
func printError(w io.Writer, err error) {
	switch {
	case errors.Is(err, deviceflow.ErrCancelled):
		fmt.Fprintln(w, "Login cancelled.")
	case errors.Is(err, cli.ErrPromptAborted):
		fmt.Fprintln(w, "Cancelled.")
	default:
		fmt.Fprintf(w, "Error: %v\n", err)
	}
}

// getExitCode determines the appropriate exit code based on the error type.
// This provides semantic exit codes for scripting and automation.
func getExitCode(err error) int {
	if err == nil {
		return ExitCodeSuccess
	}

	if errors.Is(err, deviceflow.ErrCancelled) || errors.Is(err, cli.ErrPromptAborted) {
		return ExitCodeCancelled
	}

	var authRequired *cli.AuthRequiredError
	if errors.As(err, &authRequired) {
		return ExitCodeAuthRequired
	}

	var authExpired *cli.AuthExpiredError
	if errors.As(err, &authExpired) {
		return ExitCodeAuthRequired
	}

	var denied *cli.AccessDeniedError
	if errors.As(err, &denied) {
		return ExitCodeUserRejected
	}

	var expired *cli.LoginExpiredError
	if errors.As(err, &expired) {
		return ExitCodeUserRejected
	}

	var authFailed *cli.AuthFailedError
	if errors.As(err, &authFailed) {
		return ExitCodeAuthFailed
	}

	var connErr *cli.ConnectionError
	if errors.As(err, &connErr) {
		return ExitCodeAuthFailed
	}

	// Default to general error
	return ExitCodeError
}

// initLogging sets up CLI logging on stderr. The serve command switches to
// the server handler itself.
func initLogging(cmd *cobra.Command, args []string) error {
	level := logging.LevelWarn
	if rootDebug {
		level = logging.LevelDebug
	}
	logging.InitForCLI(level, cmd.ErrOrStderr())
	return nil
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newSelfUpdateCmd())

	rootCmd.PersistentFlags().StringVar(&rootConfigPath, "config-path", config.GetDefaultConfigPathOrPanic(), "Configuration directory")
	rootCmd.PersistentFlags().BoolVar(&rootDebug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVarP(&rootQuiet, "quiet", "q", false, "Suppress non-essential output")
}
