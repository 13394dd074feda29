package main

import (
	"net"
	"path/filepath"
	"testing"
	"time"
)

func TestSdNotifyWithoutSocket(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	if err := sdNotify(sdReady); err != nil {
		t.Errorf("sdNotify() error = %v, want nil", err)
	}
}

func TestSdNotifySendsState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notify.sock")
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		t.Fatalf("ListenUnixgram() error = %v", err)
	}
	defer func() { _ = conn.Close() }()
	t.Setenv("NOTIFY_SOCKET", path)

	if err := sdNotify(sdReady); err != nil {
		t.Fatalf("sdNotify() error = %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got := string(buf[:n]); got != sdReady {
		t.Errorf("state = %q, want %q", got, sdReady)
	}
}

func TestSdNotifyMissingSocket(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", filepath.Join(t.TempDir(), "missing.sock"))
	if err := sdNotify(sdStopping); err == nil {
		t.Error("sdNotify() error = nil, want dial error")
	}
}
