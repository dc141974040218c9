// Package link brings the wireless link up before the server starts and
// keeps it up afterwards.
//
// In station mode Up associates and polls until the interface reports a
// connection; Run then checks once a second and restarts the radio when the
// link drops. Access-point mode starts the AP once. Mode none trusts the
// host's own network management.
//
// CommandRadio implements Radio with external commands (nmcli by default),
// which keeps the supervisor independent of any particular network stack.
package link
