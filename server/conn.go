package server

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"
)

// proxyConn relays one client session to the upstream server.
type proxyConn struct {
	server   *Server
	client   net.Conn
	upstream net.Conn

	closeOnce sync.Once
	mu        sync.Mutex
}

func (c *proxyConn) serve() error {
	startup, err := c.handleStartup()
	if err != nil {
		return fmt.Errorf("startup failed: %w", err)
	}
	if startup == nil {
		// Cancel request, already forwarded
		return nil
	}

	upstream, err := c.dialUpstream()
	if err != nil {
		_ = writeErrorResponse(c.client, "FATAL", "08006",
			fmt.Sprintf("could not connect to upstream server: %v", err))
		return err
	}
	c.mu.Lock()
	c.upstream = upstream
	c.mu.Unlock()

	if _, err := upstream.Write(startup.Raw); err != nil {
		return fmt.Errorf("failed to forward startup message: %w", err)
	}

	slog.Debug("Session started.", "remote_addr", c.client.RemoteAddr(),
		"user", startup.Params["user"], "database", startup.Params["database"])

	// Upstream responses are never rewritten
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		_, _ = io.Copy(c.client, upstream)
		// Upstream went away; unblock the client reader
		_ = c.client.Close()
	}()

	err = c.messageLoop(upstream)
	_ = upstream.Close()
	<-pumpDone
	return err
}

// handleStartup reads the startup packet, declining SSL and GSS encryption
// so the client retries in plaintext. It returns nil for a cancel request.
func (c *proxyConn) handleStartup() (*startupPacket, error) {
	for {
		pkt, err := readStartupMessage(c.client)
		if err != nil {
			return nil, err
		}

		switch pkt.Code {
		case sslRequestCode, gssEncRequestCode:
			if _, err := c.client.Write([]byte("N")); err != nil {
				return nil, fmt.Errorf("failed to decline encryption request: %w", err)
			}
			continue
		case cancelRequestCode:
			c.forwardCancel(pkt)
			return nil, nil
		case protocolVersion3:
			return pkt, nil
		default:
			_ = writeErrorResponse(c.client, "FATAL", "0A000",
				fmt.Sprintf("unsupported frontend protocol %d.%d", pkt.Code>>16, pkt.Code&0xffff))
			return nil, fmt.Errorf("unsupported protocol version %d", pkt.Code)
		}
	}
}

// forwardCancel hands a cancel request to the upstream server. The backend
// key was issued by upstream, so it is passed on verbatim.
func (c *proxyConn) forwardCancel(pkt *startupPacket) {
	cancelRequestsCounter.Inc()
	upstream, err := c.dialUpstream()
	if err != nil {
		slog.Warn("Failed to forward cancel request.", "error", err)
		return
	}
	defer func() { _ = upstream.Close() }()
	if _, err := upstream.Write(pkt.Raw); err != nil {
		slog.Warn("Failed to forward cancel request.", "error", err)
	}
}

func (c *proxyConn) dialUpstream() (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", c.server.cfg.Upstream, c.server.cfg.DialTimeout)
	if err != nil {
		upstreamDialErrorsCounter.Inc()
		return nil, fmt.Errorf("dial upstream %s: %w", c.server.cfg.Upstream, err)
	}
	return conn, nil
}

func (c *proxyConn) messageLoop(upstream net.Conn) error {
	reader := bufio.NewReader(c.client)
	writer := bufio.NewWriter(upstream)

	for {
		if idle := c.server.cfg.IdleTimeout; idle > 0 {
			_ = c.client.SetReadDeadline(time.Now().Add(idle))
		}

		msgType, body, err := readMessage(reader)
		if err != nil {
			var netErr net.Error
			switch {
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
				return nil
			case errors.As(err, &netErr) && netErr.Timeout():
				slog.Info("Closing idle connection.", "remote_addr", c.client.RemoteAddr(), "timeout", c.server.cfg.IdleTimeout)
				_ = writeErrorResponse(c.client, "FATAL", "57P05", "terminating connection due to idle timeout")
				return nil
			case errors.Is(err, errMessageTooLong):
				slog.Warn("Closing connection after oversized message.", "remote_addr", c.client.RemoteAddr(), "error", err)
				_ = writeErrorResponse(c.client, "FATAL", "08P01", "invalid message length")
				return nil
			}
			return err
		}

		switch msgType {
		case msgQuery:
			sql := parseQueryBody(body)
			if rewritten := c.server.rewrite("query", sql); rewritten != sql {
				body = buildQueryBody(rewritten)
			}
		case msgParse:
			body = c.rewriteParse(body)
		}

		if err := writeMessage(writer, msgType, body); err != nil {
			return fmt.Errorf("failed to forward message: %w", err)
		}

		if msgType == msgTerminate {
			return writer.Flush()
		}

		// Batch pipelined messages, flush once the client pauses
		if reader.Buffered() == 0 {
			if err := writer.Flush(); err != nil {
				return fmt.Errorf("failed to forward message: %w", err)
			}
		}
	}
}

func (c *proxyConn) rewriteParse(body []byte) []byte {
	msg, err := parseParseBody(body)
	if err != nil {
		// Let upstream reject it
		slog.Debug("Forwarding malformed Parse message unchanged.", "error", err)
		return body
	}
	rewritten := c.server.rewrite("parse", msg.Query)
	if rewritten == msg.Query {
		return body
	}
	msg.Query = rewritten
	return msg.encode()
}

func (c *proxyConn) close() {
	c.closeOnce.Do(func() {
		_ = c.client.Close()
		c.mu.Lock()
		if c.upstream != nil {
			_ = c.upstream.Close()
		}
		c.mu.Unlock()
	})
}
