// Copyright 2026 The Tell Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport implements the length-prefixed stream transport: a
// single lazily-connected, auto-reconnecting TCP connection that sends
// one framed message per call and fails fast on any write error.
package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrMalformedEndpoint is returned by New when endpoint is not a valid
// "host:port" pair with a port in 1-65535.
var ErrMalformedEndpoint = errors.New("transport: endpoint must be host:port with a port in 1-65535")

// TCP owns at most one outbound connection to endpoint. It is
// single-owner: concurrent calls to Send from multiple goroutines are not
// supported (the worker and each retry worker each hold their own TCP
// instance, per the spec's independent-transport-per-retry-worker rule).
type TCP struct {
	endpoint string
	host     string
	port     string
	timeout  time.Duration

	mu   sync.Mutex
	conn net.Conn
}

// New validates endpoint (host:port, port in 1-65535) and returns an
// unconnected transport. Connection is established lazily on first Send.
func New(endpoint string, timeout time.Duration) (*TCP, error) {
	host, portStr, err := net.SplitHostPort(endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedEndpoint, endpoint)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return nil, fmt.Errorf("%w: %s", ErrMalformedEndpoint, endpoint)
	}
	if strings.TrimSpace(host) == "" {
		return nil, fmt.Errorf("%w: %s", ErrMalformedEndpoint, endpoint)
	}
	return &TCP{endpoint: endpoint, host: host, port: portStr, timeout: timeout}, nil
}

// Endpoint returns the configured host:port.
func (t *TCP) Endpoint() string { return t.endpoint }

// SendFrame writes a length-prefixed frame: [4 bytes big-endian
// length][payload]. It connects lazily if not already connected, and
// tears the connection down on any write error so the next call
// reconnects. Returns false (never an error) on any failure, matching the
// fire-and-fail-fast contract of the stream transport.
func (t *TCP) SendFrame(data []byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		if err := t.connect(); err != nil {
			return false
		}
	}

	if len(data) > 0xFFFFFFFF {
		return false
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(data)))

	if !t.writeAll(header[:]) {
		return false
	}
	if !t.writeAll(data) {
		return false
	}
	return true
}

// Close closes the connection, if any. Idempotent.
func (t *TCP) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeLocked()
}

func (t *TCP) closeLocked() {
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
}

// connect resolves host to an ordered list of addresses and dials each in
// turn until one succeeds, applying TCP_NODELAY, keepalive, and a send
// timeout equal to the network timeout. Must be called with t.mu held.
func (t *TCP) connect() error {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	dialer := net.Dialer{Timeout: t.timeout, KeepAlive: 30 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(t.host, t.port))
	if err != nil {
		return fmt.Errorf("transport: connect failed to %s: %w", t.endpoint, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
		tc.SetKeepAlive(true)
		tc.SetKeepAlivePeriod(30 * time.Second)
	}
	t.conn = conn
	return nil
}

// writeAll loops until all of data is written, or an error closes the
// connection. Must be called with t.mu held.
func (t *TCP) writeAll(data []byte) bool {
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.timeout)); err != nil {
		t.closeLocked()
		return false
	}
	sent := 0
	for sent < len(data) {
		n, err := t.conn.Write(data[sent:])
		if n > 0 {
			sent += n
		}
		if err != nil {
			t.closeLocked()
			return false
		}
	}
	return true
}
