package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validClientConfig() ClientConfig {
	c := GetDefaultConfig().Client
	c.CredentialsFile = "/tmp/token.json"
	return c
}

func TestClientConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ClientConfig)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(*ClientConfig) {}},
		{name: "missing server URL", mutate: func(c *ClientConfig) { c.ServerURL = "" }, wantErr: "client.serverURL"},
		{name: "bad scheme", mutate: func(c *ClientConfig) { c.ServerURL = "ftp://x" }, wantErr: "http or https"},
		{name: "no host", mutate: func(c *ClientConfig) { c.ServerURL = "https://" }, wantErr: "no host"},
		{name: "missing client id", mutate: func(c *ClientConfig) { c.ClientID = " " }, wantErr: "client.clientID"},
		{name: "zero failure budget", mutate: func(c *ClientConfig) { c.MaxNetworkFailures = 0 }, wantErr: "maxNetworkFailures"},
		{name: "negative skew", mutate: func(c *ClientConfig) { c.ExpirySkew = -1 }, wantErr: "expirySkew"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validClientConfig()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestServerConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ServerConfig)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(*ServerConfig) {}},
		{name: "unknown store", mutate: func(s *ServerConfig) { s.Store.Type = "etcd" }, wantErr: "server.store.type"},
		{name: "redis without addr", mutate: func(s *ServerConfig) { s.Store.Type = StoreTypeRedis }, wantErr: "redisAddr"},
		{name: "postgres without dsn", mutate: func(s *ServerConfig) { s.Store.Type = StoreTypePostgres }, wantErr: "postgresDSN"},
		{name: "short signing key", mutate: func(s *ServerConfig) { s.SigningKey = "short" }, wantErr: "signingKey"},
		{name: "no clients", mutate: func(s *ServerConfig) { s.Clients = nil }, wantErr: "server.clients"},
		{
			name: "duplicate client",
			mutate: func(s *ServerConfig) {
				s.Clients = append(s.Clients, ClientRegistration{ID: DefaultClientID})
			},
			wantErr: "duplicate client id",
		},
		{
			name: "duplicate session token",
			mutate: func(s *ServerConfig) {
				s.Users = []User{{ID: "a", SessionToken: "same"}, {ID: "b", SessionToken: "same"}}
			},
			wantErr: "duplicate session token",
		},
		{name: "zero poll interval", mutate: func(s *ServerConfig) { s.PollInterval = 0 }, wantErr: "pollInterval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := GetDefaultConfig().Server
			tt.mutate(&s)
			err := s.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestServerConfig_ValidateNeverEchoesSessionToken(t *testing.T) {
	s := GetDefaultConfig().Server
	s.Users = []User{{ID: "a", SessionToken: "super-secret"}, {ID: "b", SessionToken: "super-secret"}}

	err := s.Validate()
	require.Error(t, err)
	assert.False(t, strings.Contains(err.Error(), "super-secret"))
}

func TestValidationErrors_Error(t *testing.T) {
	var errs ValidationErrors
	assert.Equal(t, "no validation errors", errs.Error())

	errs.Add("a", "first")
	assert.Equal(t, "field 'a': first", errs.Error())

	errs.Add("", "second")
	assert.Equal(t, "validation failed: field 'a': first; second", errs.Error())
}
