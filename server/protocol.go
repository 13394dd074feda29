package server

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// PostgreSQL message types
const (
	// Frontend (client) messages
	msgQuery     = 'Q'
	msgTerminate = 'X'
	msgParse     = 'P'

	// Backend (server) messages
	msgErrorResponse = 'E'
)

// Startup packet codes carried in place of a protocol version
const (
	protocolVersion3  = 196608
	cancelRequestCode = 80877102
	sslRequestCode    = 80877103
	gssEncRequestCode = 80877104
)

// maxStartupPacketLength mirrors the server's limit on startup packets.
const maxStartupPacketLength = 10000

// Message length limits, matching the server's: control messages are
// small, while queries, binds and copy data may approach 1GB.
const (
	maxSmallMessageLength = 10000
	maxMessageLength      = 1<<30 - 1
)

var errMessageTooLong = errors.New("message length exceeds limit")

func messageLengthLimit(msgType byte) int32 {
	switch msgType {
	case 'S', 'H', 'X', 'D', 'C', 'E':
		return maxSmallMessageLength
	}
	return maxMessageLength
}

// startupPacket is the first packet a client sends, kept verbatim so it can
// be replayed to the upstream server.
type startupPacket struct {
	Code   uint32
	Params map[string]string
	Raw    []byte
}

// readStartupMessage reads the initial startup message from the client
func readStartupMessage(r io.Reader) (*startupPacket, error) {
	// Read message length (4 bytes)
	var length int32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, fmt.Errorf("failed to read startup message length: %w", err)
	}
	if length < 8 || length > maxStartupPacketLength {
		return nil, fmt.Errorf("invalid startup message length %d", length)
	}

	// Read remaining bytes
	remaining := make([]byte, length-4)
	if _, err := io.ReadFull(r, remaining); err != nil {
		return nil, fmt.Errorf("failed to read startup message body: %w", err)
	}

	raw := make([]byte, 4, length)
	binary.BigEndian.PutUint32(raw, uint32(length))
	raw = append(raw, remaining...)

	pkt := &startupPacket{
		Code:   binary.BigEndian.Uint32(remaining[:4]),
		Params: make(map[string]string),
		Raw:    raw,
	}
	if pkt.Code != protocolVersion3 {
		return pkt, nil
	}

	// Parse parameters (null-terminated key-value pairs)
	data := remaining[4:]
	for len(data) > 1 {
		key, rest, ok := bytes.Cut(data, []byte{0})
		if !ok {
			break
		}
		value, rest, ok := bytes.Cut(rest, []byte{0})
		if !ok {
			break
		}
		if len(key) > 0 {
			pkt.Params[string(key)] = string(value)
		}
		data = rest
	}

	return pkt, nil
}

// readMessage reads a single message from the client
func readMessage(r io.Reader) (byte, []byte, error) {
	// Read message type (1 byte)
	typeBuf := make([]byte, 1)
	if _, err := io.ReadFull(r, typeBuf); err != nil {
		return 0, nil, err
	}
	msgType := typeBuf[0]

	// Read message length (4 bytes, includes itself)
	var length int32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return 0, nil, fmt.Errorf("failed to read message length: %w", err)
	}
	if length < 4 {
		return 0, nil, fmt.Errorf("invalid message length %d", length)
	}
	if length > messageLengthLimit(msgType) {
		return 0, nil, fmt.Errorf("%w: type %q length %d", errMessageTooLong, msgType, length)
	}

	// Read message body
	body := make([]byte, length-4)
	if length > 4 {
		if _, err := io.ReadFull(r, body); err != nil {
			return 0, nil, fmt.Errorf("failed to read message body: %w", err)
		}
	}

	return msgType, body, nil
}

// writeMessage writes a message
func writeMessage(w io.Writer, msgType byte, data []byte) error {
	// Write message type
	if _, err := w.Write([]byte{msgType}); err != nil {
		return err
	}

	// Write length (includes itself, 4 bytes)
	length := int32(len(data) + 4)
	if err := binary.Write(w, binary.BigEndian, length); err != nil {
		return err
	}

	// Write data
	if len(data) > 0 {
		if _, err := w.Write(data); err != nil {
			return err
		}
	}

	return nil
}

// writeErrorResponse sends an error to the client
func writeErrorResponse(w io.Writer, severity, code, message string) error {
	var data []byte

	// Severity
	data = append(data, 'S')
	data = append(data, []byte(severity)...)
	data = append(data, 0)

	// SQLSTATE code
	data = append(data, 'C')
	data = append(data, []byte(code)...)
	data = append(data, 0)

	// Message
	data = append(data, 'M')
	data = append(data, []byte(message)...)
	data = append(data, 0)

	// Terminator
	data = append(data, 0)

	return writeMessage(w, msgErrorResponse, data)
}

// parseQueryBody extracts the SQL text of a Query message.
func parseQueryBody(body []byte) string {
	return string(bytes.TrimRight(body, "\x00"))
}

// buildQueryBody is the inverse of parseQueryBody.
func buildQueryBody(sql string) []byte {
	body := make([]byte, 0, len(sql)+1)
	body = append(body, sql...)
	return append(body, 0)
}

// parseMessage is the decoded form of a Parse message. Tail holds the
// parameter type section, which the proxy never interprets.
type parseMessage struct {
	Name  string
	Query string
	Tail  []byte
}

func parseParseBody(body []byte) (*parseMessage, error) {
	name, rest, ok := bytes.Cut(body, []byte{0})
	if !ok {
		return nil, fmt.Errorf("malformed Parse message: missing statement name terminator")
	}
	query, tail, ok := bytes.Cut(rest, []byte{0})
	if !ok {
		return nil, fmt.Errorf("malformed Parse message: missing query terminator")
	}
	return &parseMessage{Name: string(name), Query: string(query), Tail: tail}, nil
}

func (m *parseMessage) encode() []byte {
	body := make([]byte, 0, len(m.Name)+len(m.Query)+2+len(m.Tail))
	body = append(body, m.Name...)
	body = append(body, 0)
	body = append(body, m.Query...)
	body = append(body, 0)
	return append(body, m.Tail...)
}
