package config

import "time"

// Config is the top-level configuration structure for devauth.
type Config struct {
	Client ClientConfig `yaml:"client"`
	Server ServerConfig `yaml:"server"`
}

// ClientConfig configures the CLI side of the device flow.
type ClientConfig struct {
	ServerURL string `yaml:"serverURL,omitempty"` // Base URL of the authorization server
	ClientID  string `yaml:"clientID,omitempty"`  // OAuth client id sent with every request
	Scope     string `yaml:"scope,omitempty"`     // Space separated scopes requested at login

	// CredentialsFile is where the access token is persisted.
	// Defaults to <config dir>/token.json.
	CredentialsFile string `yaml:"credentialsFile,omitempty"`

	OpenBrowser        bool          `yaml:"openBrowser"`
	MaxNetworkFailures int           `yaml:"maxNetworkFailures,omitempty"`
	ExpirySkew         time.Duration `yaml:"expirySkew,omitempty"`
	RequestTimeout     time.Duration `yaml:"requestTimeout,omitempty"`

	// SessionToken authenticates the approve and deny commands as an end user.
	SessionToken string `yaml:"sessionToken,omitempty"`
}

// StoreType selects the grant store backend of the server.
type StoreType string

const (
	StoreTypeMemory   StoreType = "memory"
	StoreTypeRedis    StoreType = "redis"
	StoreTypePostgres StoreType = "postgres"
)

// StoreConfig configures where device grants are kept.
type StoreConfig struct {
	Type          StoreType `yaml:"type,omitempty"`
	RedisAddr     string    `yaml:"redisAddr,omitempty"`
	RedisPassword string    `yaml:"redisPassword,omitempty"`
	RedisDB       int       `yaml:"redisDB,omitempty"`
	PostgresDSN   string    `yaml:"postgresDSN,omitempty"`
}

// ServerConfig configures the authorization server started by serve.
type ServerConfig struct {
	Listen        string `yaml:"listen,omitempty"`
	PublicURL     string `yaml:"publicURL,omitempty"` // Used to build verification_uri
	MetricsListen string `yaml:"metricsListen,omitempty"`

	Store StoreConfig `yaml:"store"`

	DeviceCodeTTL  time.Duration `yaml:"deviceCodeTTL,omitempty"`
	PollInterval   time.Duration `yaml:"pollInterval,omitempty"`
	AccessTokenTTL time.Duration `yaml:"accessTokenTTL,omitempty"`

	// SigningKey is the HMAC key for access tokens. An ephemeral key is
	// generated at startup when empty.
	SigningKey string `yaml:"signingKey,omitempty"`

	Clients []ClientRegistration `yaml:"clients,omitempty"`
	Users   []User               `yaml:"users,omitempty"`
}

// ClientRegistration is an OAuth client allowed to start device flows.
type ClientRegistration struct {
	ID     string   `yaml:"id"`
	Name   string   `yaml:"name,omitempty"`
	Scopes []string `yaml:"scopes,omitempty"` // Empty allows any scope
}

// User is an end user known to the approval endpoints. SessionToken is the
// bearer credential a browser session or the approve command presents.
type User struct {
	ID           string `yaml:"id"`
	Name         string `yaml:"name,omitempty"`
	Email        string `yaml:"email,omitempty"`
	SessionToken string `yaml:"sessionToken,omitempty"`
}
