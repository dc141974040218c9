// Package bridge connects one UART to any number of ttyd terminal sessions.
//
// Each WebSocket session handed to Serve is gated by the session token when
// one is set: the first message must be a JSON object whose AuthToken
// matches. Authenticated sessions receive the window title and preferences,
// then every byte the UART produces. Input from any session is written to
// the UART.
//
// Two background goroutines exist only while at least one session is
// registered: the relay, which reads the UART and broadcasts its output, and
// the keepalive, which pings sessions and drops silent ones. All shared state
// is guarded by a single mutex; sends happen outside it.
//
// Stty reconfigures the UART at runtime and broadcasts the new title.
package bridge
