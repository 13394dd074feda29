package main

import (
	"fmt"
	"net"
	"os"
)

const (
	sdReady    = "READY=1"
	sdStopping = "STOPPING=1"
)

// sdNotify reports a service state change to systemd. Outside systemd
// NOTIFY_SOCKET is unset and nothing is sent.
func sdNotify(state string) error {
	socketPath := os.Getenv("NOTIFY_SOCKET")
	if socketPath == "" {
		return nil
	}

	conn, err := net.Dial("unixgram", socketPath)
	if err != nil {
		return fmt.Errorf("dial NOTIFY_SOCKET: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.Write([]byte(state)); err != nil {
		return fmt.Errorf("write to NOTIFY_SOCKET: %w", err)
	}
	return nil
}
