package bridge

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// Client to bridge commands, the first byte of every message.
const (
	CmdInput          = '0'
	CmdResizeTerminal = '1'
	CmdPause          = '2'
	CmdResume         = '3'
	CmdJSONData       = '{'
)

// Bridge to client commands.
const (
	CmdOutput         = '0'
	CmdSetWindowTitle = '1'
	CmdSetPreferences = '2'
)

// tokenBytes of randomness encode to a 16 character token.
const tokenBytes = 10

// NewToken returns a fresh session token.
func NewToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

func commandName(c byte) string {
	switch c {
	case CmdInput:
		return "input"
	case CmdResizeTerminal:
		return "resize"
	case CmdPause:
		return "pause"
	case CmdResume:
		return "resume"
	case CmdJSONData:
		return "json"
	default:
		return fmt.Sprintf("unknown(0x%02x)", c)
	}
}

func frameCommand(cmd byte, payload []byte) []byte {
	out := make([]byte, 0, len(payload)+1)
	out = append(out, cmd)
	return append(out, payload...)
}
