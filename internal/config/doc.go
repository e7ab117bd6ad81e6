// Package config loads devauth configuration from a single YAML file.
//
// The file lives at ~/.config/devauth/config.yaml unless a different
// directory is passed with --config-path. It has a client section used by the
// login, logout and whoami commands and a server section used by serve.
//
//	client:
//	  serverURL: https://auth.example.com
//	  clientID: devauth-cli
//	  scope: openid profile email
//	server:
//	  listen: :8080
//	  publicURL: https://auth.example.com
//	  store:
//	    type: redis
//	    redisAddr: localhost:6379
//	  users:
//	    - id: u-123
//	      email: jane@example.com
//	      sessionToken: s3cr3t
//
// Values are layered: defaults, then the file, then DEVAUTH_* environment
// variables. Command line flags are applied last by the cmd package.
package config
