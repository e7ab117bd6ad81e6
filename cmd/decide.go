package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"devauth/internal/cli"
	"devauth/internal/config"
	"devauth/internal/grant"
	pkgstrings "devauth/pkg/strings"

	"github.com/spf13/cobra"
)

var decideSession string

// approveCmd represents the approve command
var approveCmd = &cobra.Command{
	Use:   "approve [USER_CODE]",
	Short: "Approve a pending device login",
	Long: `Approve the device login that shows USER_CODE.

The command authenticates as an end user with a session token, taken from
--session or client.sessionToken in the config file. When USER_CODE is omitted
it is read from the terminal. Dashes, spaces and case are ignored.

Examples:
  devauth approve WDJB-MJHT
  devauth approve --session "$DEVAUTH_SESSION"`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDecide(cmd, args, decisionApprove)
	},
}

// denyCmd represents the deny command
var denyCmd = &cobra.Command{
	Use:   "deny [USER_CODE]",
	Short: "Deny a pending device login",
	Long: `Deny the device login that shows USER_CODE. The waiting device stops
polling and reports that access was denied.

Examples:
  devauth deny WDJB-MJHT`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDecide(cmd, args, decisionDeny)
	},
}

type decision struct {
	path string
	verb string
}

var (
	decisionApprove = decision{path: "/device/approve", verb: "Approved"}
	decisionDeny    = decision{path: "/device/deny", verb: "Denied"}
)

func init() {
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(denyCmd)

	for _, c := range []*cobra.Command{approveCmd, denyCmd} {
		addClientFlags(c)
		c.Flags().StringVar(&decideSession, "session", "", "Session token of the approving user")
	}
}

func runDecide(cmd *cobra.Command, args []string, d decision) error {
	cfg, err := loadClientConfig(cmd)
	if err != nil {
		return err
	}

	session := decideSession
	if session == "" {
		session = cfg.SessionToken
	}
	if session == "" {
		return errors.New("a session token is required: pass --session or set client.sessionToken in the config file")
	}

	var input string
	if len(args) == 1 {
		input = args[0]
	} else {
		input, err = newPrompter(cmd).ReadLine("Enter the code shown on the device: ")
		if err != nil {
			return err
		}
	}

	userCode := grant.NormalizeUserCode(input)
	if !grant.ValidUserCode(userCode) {
		return fmt.Errorf("%q is not a valid code, codes look like WDJB-MJHT", input)
	}

	if err := postDecision(commandContext(cmd), cfg, d, session, userCode); err != nil {
		return err
	}
	authPrint(cmd, "%s login request %s.\n", d.verb, grant.FormatUserCode(userCode))
	return nil
}

// decisionError is the JSON error body of the approval endpoints.
type decisionError struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

func postDecision(ctx context.Context, cfg config.ClientConfig, d decision, session, userCode string) error {
	body, err := json.Marshal(map[string]string{"user_code": userCode})
	if err != nil {
		return err
	}

	endpoint := strings.TrimRight(cfg.ServerURL, "/") + d.path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+session)

	resp, err := newHTTPClient(cfg).Do(req)
	if err != nil {
		return cli.ClassifyConnectionError(err, cfg.ServerURL)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	formatted := grant.FormatUserCode(userCode)

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusUnauthorized:
		return &cli.AuthFailedError{ServerURL: cfg.ServerURL, Reason: errors.New("the session token was rejected")}
	case http.StatusNotFound:
		return fmt.Errorf("no pending login request matches code %s", formatted)
	case http.StatusConflict:
		return fmt.Errorf("login request %s was already approved or denied", formatted)
	}

	var e decisionError
	if json.Unmarshal(raw, &e) == nil && e.Error != "" {
		if e.Description != "" {
			return fmt.Errorf("request failed with HTTP %d: %s: %s", resp.StatusCode, e.Error, e.Description)
		}
		return fmt.Errorf("request failed with HTTP %d: %s", resp.StatusCode, e.Error)
	}
	if snippet := pkgstrings.Snippet(string(raw), pkgstrings.DefaultSnippetLen); snippet != "" {
		return fmt.Errorf("request failed with HTTP %d: %s", resp.StatusCode, snippet)
	}
	return fmt.Errorf("request failed with HTTP %d", resp.StatusCode)
}
