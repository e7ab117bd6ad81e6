// Package logging provides subsystem-tagged structured logging for devauth,
// built on Go's standard slog package.
//
// # Usage
//
//	logging.InitForCLI(logging.LevelWarn, os.Stderr)
//
//	logging.Info("DeviceFlow", "Requesting device code from %s", endpoint)
//	logging.Debug("Config", "Loaded configuration from %s", configPath)
//	logging.Error("AuthServer", err, "Failed to persist grant")
//
// The serve command uses InitForServer, which emits JSON records.
//
// # Subsystems
//
//   - Config: configuration loading and reloading
//   - DeviceFlow: device code requests and token polling
//   - TokenStore: local credential persistence
//   - GrantStore: server side grant persistence
//   - AuthServer: HTTP endpoints of the authorization server
//
// # Audit Logging
//
// Security relevant actions are logged through Audit:
//
//	logging.Audit(logging.AuditEvent{
//	    Action:  "grant_approved",
//	    Outcome: "success",
//	    Subject: logging.TruncateID(userID),
//	    Target:  userCode,
//	})
//
// Audit events are logged at INFO level with an [AUDIT] prefix for easy filtering.
// Token values are never passed to the logger.
package logging
