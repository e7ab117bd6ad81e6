package config

import "time"

const (
	// DefaultClientID is the client id of the devauth CLI.
	DefaultClientID = "devauth-cli"

	// DefaultScope is requested when no scope is configured.
	DefaultScope = "openid profile email"

	// DefaultServerURL points at a locally running devauth serve.
	DefaultServerURL = "http://localhost:8080"

	// DefaultCredentialsFileName is the token file inside the config directory.
	DefaultCredentialsFileName = "token.json"

	DefaultMaxNetworkFailures = 5
	DefaultExpirySkew         = 5 * time.Minute
	DefaultRequestTimeout     = 30 * time.Second

	DefaultListen         = ":8080"
	DefaultMetricsListen  = ":9090"
	DefaultDeviceCodeTTL  = 30 * time.Minute
	DefaultPollInterval   = 5 * time.Second
	DefaultAccessTokenTTL = 7 * 24 * time.Hour
)

// GetDefaultConfig returns the configuration used when no file is present.
func GetDefaultConfig() Config {
	return Config{
		Client: ClientConfig{
			ServerURL:          DefaultServerURL,
			ClientID:           DefaultClientID,
			Scope:              DefaultScope,
			OpenBrowser:        true,
			MaxNetworkFailures: DefaultMaxNetworkFailures,
			ExpirySkew:         DefaultExpirySkew,
			RequestTimeout:     DefaultRequestTimeout,
		},
		Server: ServerConfig{
			Listen:         DefaultListen,
			MetricsListen:  DefaultMetricsListen,
			Store:          StoreConfig{Type: StoreTypeMemory},
			DeviceCodeTTL:  DefaultDeviceCodeTTL,
			PollInterval:   DefaultPollInterval,
			AccessTokenTTL: DefaultAccessTokenTTL,
			Clients: []ClientRegistration{
				{ID: DefaultClientID, Name: "devauth CLI"},
			},
		},
	}
}
