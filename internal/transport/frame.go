package transport

import (
	"fmt"
	"strings"
)

// STOMP commands used by the client. The broker side of the contract only
// ever sends CONNECTED, MESSAGE and ERROR.
const (
	CmdConnect     = "CONNECT"
	CmdConnected   = "CONNECTED"
	CmdSubscribe   = "SUBSCRIBE"
	CmdUnsubscribe = "UNSUBSCRIBE"
	CmdDisconnect  = "DISCONNECT"
	CmdMessage     = "MESSAGE"
	CmdError       = "ERROR"
)

// Frame is a single STOMP text frame: a command line, header lines, a blank
// line and a body terminated by a NUL octet.
type Frame struct {
	Command string
	Headers map[string]string
	Body    []byte
}

// NewFrame builds a frame from alternating header key/value pairs.
func NewFrame(command string, headers ...string) *Frame {
	f := &Frame{Command: command, Headers: make(map[string]string, len(headers)/2)}
	for i := 0; i+1 < len(headers); i += 2 {
		f.Headers[headers[i]] = headers[i+1]
	}
	return f
}

var headerEscaper = strings.NewReplacer(
	`\`, `\\`,
	"\r", `\r`,
	"\n", `\n`,
	":", `\c`,
)

func unescapeHeader(s string) (string, error) {
	if !strings.ContainsRune(s, '\\') {
		return s, nil
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			b.WriteByte(s[i])
			continue
		}
		i++
		if i >= len(s) {
			return "", fmt.Errorf("dangling escape in header %q", s)
		}
		switch s[i] {
		case '\\':
			b.WriteByte('\\')
		case 'r':
			b.WriteByte('\r')
		case 'n':
			b.WriteByte('\n')
		case 'c':
			b.WriteByte(':')
		default:
			return "", fmt.Errorf("invalid escape \\%c in header %q", s[i], s)
		}
	}
	return b.String(), nil
}

// Marshal renders the frame into its wire envelope.
func (f *Frame) Marshal() []byte {
	var b strings.Builder
	b.WriteString(f.Command)
	b.WriteByte('\n')
	for k, v := range f.Headers {
		b.WriteString(headerEscaper.Replace(k))
		b.WriteByte(':')
		b.WriteString(headerEscaper.Replace(v))
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	b.Write(f.Body)
	b.WriteByte(0)
	return []byte(b.String())
}

// ParseFrame decodes a single wire envelope. A malformed envelope yields an
// error; the caller logs and drops it so one bad frame cannot take the
// channel down.
func ParseFrame(data []byte) (*Frame, error) {
	// Strip the NUL terminator and any trailing EOL padding, then
	// normalize line endings.
	raw := strings.TrimRight(string(data), "\x00\r\n")
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	if raw == "" {
		return nil, fmt.Errorf("empty frame")
	}

	head, body, _ := strings.Cut(raw, "\n\n")
	lines := strings.Split(head, "\n")

	command := strings.TrimSpace(lines[0])
	switch command {
	case CmdConnect, CmdConnected, CmdSubscribe, CmdUnsubscribe, CmdDisconnect, CmdMessage, CmdError:
	default:
		return nil, fmt.Errorf("unknown command %q", command)
	}

	f := &Frame{Command: command, Headers: make(map[string]string, len(lines)-1)}
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("malformed header line %q", line)
		}
		key, err := unescapeHeader(k)
		if err != nil {
			return nil, err
		}
		val, err := unescapeHeader(v)
		if err != nil {
			return nil, err
		}
		// First occurrence wins, per the protocol.
		if _, exists := f.Headers[key]; !exists {
			f.Headers[key] = val
		}
	}
	f.Body = []byte(body)
	return f, nil
}
