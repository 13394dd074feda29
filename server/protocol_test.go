package server

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func buildStartupMessage(params map[string]string) []byte {
	var buf bytes.Buffer

	// Calculate length
	bodyLen := 4 // protocol version
	for k, v := range params {
		bodyLen += len(k) + 1 + len(v) + 1
	}
	bodyLen++ // final null

	// Write length (includes itself)
	_ = binary.Write(&buf, binary.BigEndian, int32(bodyLen+4))

	// Write protocol version (3.0 = 196608)
	_ = binary.Write(&buf, binary.BigEndian, uint32(protocolVersion3))

	for k, v := range params {
		buf.WriteString(k)
		buf.WriteByte(0)
		buf.WriteString(v)
		buf.WriteByte(0)
	}
	buf.WriteByte(0) // final null
	return buf.Bytes()
}

func buildCodePacket(code uint32, extra ...uint32) []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, int32(8+4*len(extra)))
	_ = binary.Write(&buf, binary.BigEndian, code)
	for _, v := range extra {
		_ = binary.Write(&buf, binary.BigEndian, v)
	}
	return buf.Bytes()
}

func TestReadStartupMessage(t *testing.T) {
	t.Run("valid startup message", func(t *testing.T) {
		raw := buildStartupMessage(map[string]string{
			"user":     "testuser",
			"database": "testdb",
		})

		result, err := readStartupMessage(bytes.NewReader(raw))
		if err != nil {
			t.Fatalf("readStartupMessage() error = %v", err)
		}

		if result.Code != protocolVersion3 {
			t.Errorf("Code = %d, want %d", result.Code, protocolVersion3)
		}
		if result.Params["user"] != "testuser" {
			t.Errorf("user = %q, want %q", result.Params["user"], "testuser")
		}
		if result.Params["database"] != "testdb" {
			t.Errorf("database = %q, want %q", result.Params["database"], "testdb")
		}
		if !bytes.Equal(result.Raw, raw) {
			t.Errorf("Raw = %v, want %v", result.Raw, raw)
		}
	})

	t.Run("SSL request", func(t *testing.T) {
		result, err := readStartupMessage(bytes.NewReader(buildCodePacket(sslRequestCode)))
		if err != nil {
			t.Fatalf("readStartupMessage() error = %v", err)
		}
		if result.Code != sslRequestCode {
			t.Errorf("Code = %d, want %d", result.Code, sslRequestCode)
		}
	})

	t.Run("GSS encryption request", func(t *testing.T) {
		result, err := readStartupMessage(bytes.NewReader(buildCodePacket(gssEncRequestCode)))
		if err != nil {
			t.Fatalf("readStartupMessage() error = %v", err)
		}
		if result.Code != gssEncRequestCode {
			t.Errorf("Code = %d, want %d", result.Code, gssEncRequestCode)
		}
	})

	t.Run("cancel request", func(t *testing.T) {
		raw := buildCodePacket(cancelRequestCode, 12345, 67890)

		result, err := readStartupMessage(bytes.NewReader(raw))
		if err != nil {
			t.Fatalf("readStartupMessage() error = %v", err)
		}
		if result.Code != cancelRequestCode {
			t.Errorf("Code = %d, want %d", result.Code, cancelRequestCode)
		}
		if !bytes.Equal(result.Raw, raw) {
			t.Errorf("Raw = %v, want %v", result.Raw, raw)
		}
		if len(result.Params) != 0 {
			t.Errorf("Params = %v, want empty", result.Params)
		}
	})

	t.Run("length too small", func(t *testing.T) {
		var buf bytes.Buffer
		_ = binary.Write(&buf, binary.BigEndian, int32(4))
		if _, err := readStartupMessage(&buf); err == nil {
			t.Error("expected error for short startup message")
		}
	})

	t.Run("length too large", func(t *testing.T) {
		var buf bytes.Buffer
		_ = binary.Write(&buf, binary.BigEndian, int32(maxStartupPacketLength+1))
		if _, err := readStartupMessage(&buf); err == nil {
			t.Error("expected error for oversized startup message")
		}
	})

	t.Run("truncated body", func(t *testing.T) {
		raw := buildStartupMessage(map[string]string{"user": "u"})
		if _, err := readStartupMessage(bytes.NewReader(raw[:len(raw)-3])); err == nil {
			t.Error("expected error for truncated startup message")
		}
	})
}

func TestReadMessage(t *testing.T) {
	t.Run("simple query message", func(t *testing.T) {
		var buf bytes.Buffer

		query := "SELECT 1"
		// Query message: 'Q' + length + query + null
		buf.WriteByte('Q')
		_ = binary.Write(&buf, binary.BigEndian, int32(len(query)+5)) // length includes itself and null
		buf.WriteString(query)
		buf.WriteByte(0)

		msgType, body, err := readMessage(&buf)
		if err != nil {
			t.Fatalf("readMessage() error = %v", err)
		}

		if msgType != 'Q' {
			t.Errorf("msgType = %c, want Q", msgType)
		}

		// Body includes the null terminator
		expectedBody := query + "\x00"
		if string(body) != expectedBody {
			t.Errorf("body = %q, want %q", string(body), expectedBody)
		}
	})

	t.Run("terminate message", func(t *testing.T) {
		var buf bytes.Buffer
		buf.WriteByte('X')
		_ = binary.Write(&buf, binary.BigEndian, int32(4))

		msgType, body, err := readMessage(&buf)
		if err != nil {
			t.Fatalf("readMessage() error = %v", err)
		}
		if msgType != 'X' {
			t.Errorf("msgType = %c, want X", msgType)
		}
		if len(body) != 0 {
			t.Errorf("body length = %d, want 0", len(body))
		}
	})

	t.Run("invalid length", func(t *testing.T) {
		var buf bytes.Buffer
		buf.WriteByte('Q')
		_ = binary.Write(&buf, binary.BigEndian, int32(3))

		if _, _, err := readMessage(&buf); err == nil {
			t.Error("expected error for invalid length")
		}
	})

	t.Run("length over limit", func(t *testing.T) {
		tests := []struct {
			msgType byte
			length  int32
		}{
			{'Q', maxMessageLength + 1},
			{'Q', 1<<31 - 1},
			{'S', maxSmallMessageLength + 1},
			{'X', maxSmallMessageLength + 1},
		}
		for _, tt := range tests {
			var buf bytes.Buffer
			buf.WriteByte(tt.msgType)
			_ = binary.Write(&buf, binary.BigEndian, tt.length)

			_, _, err := readMessage(&buf)
			if !errors.Is(err, errMessageTooLong) {
				t.Errorf("readMessage(%c, %d) error = %v, want errMessageTooLong", tt.msgType, tt.length, err)
			}
		}
	})

	t.Run("large query within limit", func(t *testing.T) {
		var buf bytes.Buffer
		body := bytes.Repeat([]byte{'x'}, maxSmallMessageLength*2)
		buf.WriteByte('Q')
		_ = binary.Write(&buf, binary.BigEndian, int32(len(body)+4))
		buf.Write(body)

		if _, got, err := readMessage(&buf); err != nil || len(got) != len(body) {
			t.Errorf("readMessage() = %d bytes, %v", len(got), err)
		}
	})
}

func TestWriteMessage(t *testing.T) {
	var buf bytes.Buffer
	if err := writeMessage(&buf, 'Q', []byte("SELECT 1\x00")); err != nil {
		t.Fatalf("writeMessage() error = %v", err)
	}

	msgType, body, err := readMessage(&buf)
	if err != nil {
		t.Fatalf("readMessage() error = %v", err)
	}
	if msgType != 'Q' {
		t.Errorf("msgType = %c, want Q", msgType)
	}
	if string(body) != "SELECT 1\x00" {
		t.Errorf("body = %q, want %q", body, "SELECT 1\x00")
	}
}

func TestWriteErrorResponse(t *testing.T) {
	var buf bytes.Buffer
	if err := writeErrorResponse(&buf, "FATAL", "08006", "could not connect"); err != nil {
		t.Fatalf("writeErrorResponse() error = %v", err)
	}

	msgType, body, err := readMessage(&buf)
	if err != nil {
		t.Fatalf("readMessage() error = %v", err)
	}
	if msgType != msgErrorResponse {
		t.Errorf("msgType = %c, want E", msgType)
	}

	want := "SFATAL\x00C08006\x00Mcould not connect\x00\x00"
	if string(body) != want {
		t.Errorf("body = %q, want %q", body, want)
	}
}

func TestQueryBody(t *testing.T) {
	body := buildQueryBody("SELECT 1")
	if string(body) != "SELECT 1\x00" {
		t.Errorf("buildQueryBody() = %q, want %q", body, "SELECT 1\x00")
	}
	if got := parseQueryBody(body); got != "SELECT 1" {
		t.Errorf("parseQueryBody() = %q, want %q", got, "SELECT 1")
	}
}

func TestParseParseBody(t *testing.T) {
	t.Run("named statement with parameter types", func(t *testing.T) {
		tail := []byte{0, 1, 0, 0, 0, 23}
		body := append([]byte("stmt1\x00SELECT $1\x00"), tail...)

		msg, err := parseParseBody(body)
		if err != nil {
			t.Fatalf("parseParseBody() error = %v", err)
		}
		if msg.Name != "stmt1" {
			t.Errorf("Name = %q, want %q", msg.Name, "stmt1")
		}
		if msg.Query != "SELECT $1" {
			t.Errorf("Query = %q, want %q", msg.Query, "SELECT $1")
		}
		if !bytes.Equal(msg.Tail, tail) {
			t.Errorf("Tail = %v, want %v", msg.Tail, tail)
		}
		if !bytes.Equal(msg.encode(), body) {
			t.Errorf("encode() = %q, want %q", msg.encode(), body)
		}
	})

	t.Run("rewritten query keeps name and tail", func(t *testing.T) {
		body := []byte("\x00SELECT 1\x00\x00\x00")
		msg, err := parseParseBody(body)
		if err != nil {
			t.Fatalf("parseParseBody() error = %v", err)
		}
		msg.Query = "SELECT 2"
		want := []byte("\x00SELECT 2\x00\x00\x00")
		if !bytes.Equal(msg.encode(), want) {
			t.Errorf("encode() = %q, want %q", msg.encode(), want)
		}
	})

	t.Run("missing terminators", func(t *testing.T) {
		for _, body := range [][]byte{[]byte("stmt"), []byte("stmt\x00SELECT 1")} {
			if _, err := parseParseBody(body); err == nil {
				t.Errorf("parseParseBody(%q) expected error", body)
			}
		}
	})
}
