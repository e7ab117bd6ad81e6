package deviceflow

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"devauth/pkg/logging"

	"golang.org/x/oauth2"
)

const (
	// GrantTypeDeviceCode is the grant_type of the device access token request.
	GrantTypeDeviceCode = "urn:ietf:params:oauth:grant-type:device_code"

	// DeviceCodePath and TokenPath are the endpoint paths relative to the server URL.
	DeviceCodePath = "/device/code"
	TokenPath      = "/device/token"

	// DefaultInterval is used when the server omits interval.
	DefaultInterval = 5 * time.Second

	maxResponseBytes = 1 << 20
)

// ClientConfig configures a Client.
type ClientConfig struct {
	// ServerURL is the base URL of the authorization server.
	ServerURL string
	ClientID  string

	// HTTPClient defaults to a client with a 30 second timeout.
	HTTPClient *http.Client

	// Now defaults to time.Now.
	Now func() time.Time
}

// Client talks to the device code and token endpoints.
type Client struct {
	endpoint   oauth2.Endpoint
	clientID   string
	httpClient *http.Client
	now        func() time.Time
}

// NewClient creates a device flow client for cfg.ServerURL.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client id is required")
	}
	base, err := url.Parse(cfg.ServerURL)
	if err != nil || base.Host == "" || (base.Scheme != "http" && base.Scheme != "https") {
		return nil, fmt.Errorf("invalid server URL %q", cfg.ServerURL)
	}
	base.Path = strings.TrimRight(base.Path, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Client{
		endpoint: oauth2.Endpoint{
			DeviceAuthURL: base.String() + DeviceCodePath,
			TokenURL:      base.String() + TokenPath,
			AuthStyle:     oauth2.AuthStyleInParams,
		},
		clientID:   cfg.ClientID,
		httpClient: httpClient,
		now:        now,
	}, nil
}

// Endpoint returns the resolved device authorization and token URLs.
func (c *Client) Endpoint() oauth2.Endpoint {
	return c.endpoint
}

// ClientID returns the client id sent with every request.
func (c *Client) ClientID() string {
	return c.clientID
}

type deviceCodeResponse struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete,omitempty"`
	ExpiresIn               int64  `json:"expires_in"`
	Interval                int64  `json:"interval,omitempty"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
}

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	ErrorURI         string `json:"error_uri,omitempty"`
}

// RequestCode asks the authorization server for a device code. Transport
// failures are returned as *NetworkError, rejections and malformed
// responses as *ProtocolError. It does not retry.
func (c *Client) RequestCode(ctx context.Context, scope string) (*oauth2.DeviceAuthResponse, error) {
	form := url.Values{
		"client_id": {c.clientID},
	}
	if scope != "" {
		form.Set("scope", scope)
	}

	logging.Debug("DeviceFlow", "Requesting device code from %s", c.endpoint.DeviceAuthURL)
	requestedAt := c.now()

	resp, body, err := c.postForm(ctx, c.endpoint.DeviceAuthURL, form)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		oauthErr := parseErrorResponse(resp, body)
		perr := &ProtocolError{
			Endpoint:   c.endpoint.DeviceAuthURL,
			StatusCode: resp.StatusCode,
			Message:    "device code request rejected",
		}
		if oauthErr != nil {
			perr.Err = oauthErr
		}
		return nil, perr
	}

	var dcr deviceCodeResponse
	if err := json.Unmarshal(body, &dcr); err != nil {
		return nil, &ProtocolError{
			Endpoint:   c.endpoint.DeviceAuthURL,
			StatusCode: resp.StatusCode,
			Message:    "invalid JSON",
			Err:        err,
		}
	}

	if missing := missingDeviceCodeFields(dcr); missing != "" {
		return nil, &ProtocolError{
			Endpoint:   c.endpoint.DeviceAuthURL,
			StatusCode: resp.StatusCode,
			Message:    "response is missing " + missing,
		}
	}

	interval := dcr.Interval
	if interval <= 0 {
		interval = int64(DefaultInterval / time.Second)
	}

	return &oauth2.DeviceAuthResponse{
		DeviceCode:              dcr.DeviceCode,
		UserCode:                dcr.UserCode,
		VerificationURI:         dcr.VerificationURI,
		VerificationURIComplete: dcr.VerificationURIComplete,
		Expiry:                  requestedAt.Add(time.Duration(dcr.ExpiresIn) * time.Second),
		Interval:                interval,
	}, nil
}

func missingDeviceCodeFields(dcr deviceCodeResponse) string {
	var missing []string
	if dcr.DeviceCode == "" {
		missing = append(missing, "device_code")
	}
	if dcr.UserCode == "" {
		missing = append(missing, "user_code")
	}
	if dcr.VerificationURI == "" {
		missing = append(missing, "verification_uri")
	}
	if dcr.ExpiresIn <= 0 {
		missing = append(missing, "expires_in")
	}
	return strings.Join(missing, ", ")
}

// Exchange performs one device access token request.
//
// It returns the token on success. Error responses carrying an OAuth error
// code are returned as *OAuthError. Transport failures and 5xx responses
// without an error code are *NetworkError. Anything else is *ProtocolError.
func (c *Client) Exchange(ctx context.Context, deviceCode string) (*oauth2.Token, error) {
	form := url.Values{
		"grant_type":  {GrantTypeDeviceCode},
		"device_code": {deviceCode},
		"client_id":   {c.clientID},
	}

	issuedAt := c.now()
	resp, body, err := c.postForm(ctx, c.endpoint.TokenURL, form)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		if oauthErr := parseErrorResponse(resp, body); oauthErr != nil {
			return nil, oauthErr
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, &NetworkError{
				Endpoint: c.endpoint.TokenURL,
				Err:      fmt.Errorf("server returned HTTP %d", resp.StatusCode),
			}
		}
		return nil, &ProtocolError{
			Endpoint:   c.endpoint.TokenURL,
			StatusCode: resp.StatusCode,
			Message:    "error response without an error code",
		}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, &ProtocolError{
			Endpoint:   c.endpoint.TokenURL,
			StatusCode: resp.StatusCode,
			Message:    "invalid JSON",
			Err:        err,
		}
	}
	if tr.AccessToken == "" {
		// Some servers answer 200 with an error body.
		var er errorResponse
		if json.Unmarshal(body, &er) == nil && er.Error != "" {
			return nil, &OAuthError{Code: er.Error, Description: er.ErrorDescription}
		}
		return nil, &ProtocolError{
			Endpoint:   c.endpoint.TokenURL,
			StatusCode: resp.StatusCode,
			Message:    "response is missing access_token",
		}
	}
	if tr.ExpiresIn < 0 {
		return nil, &ProtocolError{
			Endpoint:   c.endpoint.TokenURL,
			StatusCode: resp.StatusCode,
			Message:    "negative expires_in",
		}
	}

	token := &oauth2.Token{
		AccessToken:  tr.AccessToken,
		TokenType:    tr.TokenType,
		RefreshToken: tr.RefreshToken,
		ExpiresIn:    tr.ExpiresIn,
	}
	if tr.ExpiresIn > 0 {
		token.Expiry = issuedAt.Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return token.WithExtra(map[string]interface{}{"scope": tr.Scope}), nil
}

func (c *Client) postForm(ctx context.Context, endpoint string, form url.Values) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build request for %s: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, &NetworkError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, nil, &NetworkError{Endpoint: endpoint, Err: fmt.Errorf("reading response: %w", err)}
	}
	return resp, body, nil
}

// parseErrorResponse decodes an RFC 6749 error body. It returns nil if the
// body is not JSON or carries no error code.
func parseErrorResponse(resp *http.Response, body []byte) *OAuthError {
	if mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err == nil && mediaType != "application/json" {
		return nil
	}

	var er errorResponse
	if err := json.Unmarshal(body, &er); err != nil || er.Error == "" {
		return nil
	}

	return &OAuthError{
		Code:        er.Error,
		Description: er.ErrorDescription,
		Retrieve: &oauth2.RetrieveError{
			Response:         resp,
			Body:             body,
			ErrorCode:        er.Error,
			ErrorDescription: er.ErrorDescription,
			ErrorURI:         er.ErrorURI,
		},
	}
}
