// Package logging provides structured logging for the Wi-Se bridge.
//
// The package wraps a global zap logger with convenience functions for the
// events the bridge cares about: connections, HTTP exchanges, WebSocket
// traffic, UART reconfiguration and link state changes.
//
// # Log Levels
//
//   - Debug: hex dumps of WebSocket traffic, ping/pong, ignored commands
//   - Info: connections, HTTP requests, authentication, stty, link changes
//   - Warn: dropped sessions, transport errors, failed association attempts
//   - Error: startup failures and recovered panics
//
// # Configuration
//
// Initialize once at startup:
//
//	if err := logging.Initialize("info"); err != nil {
//	    return err
//	}
//	defer logging.Sync()
//
// An empty level falls back to the WISE_LOG_LEVEL environment variable; when
// that is unset too, logging is silent. Authorization headers are never
// logged in clear.
package logging
