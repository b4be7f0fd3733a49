package terminal

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"termlink/internal/bus"
	"termlink/internal/config"
	"termlink/internal/events"
	"termlink/internal/protocol"
)

const readBufferSize = 4096

// Client owns at most one terminal connection at a time. Starting a new
// connect always tears down and replaces the prior connection; two are never
// live concurrently.
type Client struct {
	logger *slog.Logger
	bus    bus.MessageBus

	mu    sync.Mutex
	state events.ConnectionState
	conn  *termConn

	writeMu sync.Mutex

	listenerMu sync.Mutex
	listener   func([]byte)

	sessionMu sync.Mutex
	session   *session
}

// termConn is the state-tagged socket resource. It is replaced atomically on
// reconnect, never mutated in place, so late callbacks from a dead socket can
// be told apart from the live one by identity.
type termConn struct {
	cfg     config.ConnectionConfig
	target  string
	netConn net.Conn // set under Client.mu once the handshake succeeds
}

func NewClient(logger *slog.Logger, b bus.MessageBus) *Client {
	return &Client{
		logger: logger,
		bus:    b,
		state:  events.ConnectionStateIdle,
	}
}

func (c *Client) State() events.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Connect is non-blocking: it tears down any existing connection, then dials
// in the background. Handshake completion is signaled only through the
// connected event, never through this call's return.
func (c *Client) Connect(ctx context.Context, cfg config.ConnectionConfig) error {
	if strings.TrimSpace(cfg.Host) == "" {
		return errors.New("terminal host is empty")
	}

	c.Disconnect()

	tc := &termConn{cfg: cfg, target: cfg.Target()}

	c.mu.Lock()
	c.conn = tc
	c.state = events.ConnectionStateConnecting
	c.mu.Unlock()
	c.publishConnStatus(events.ConnectionStateConnecting, tc.target, nil)
	c.logger.Info("connecting", "target", tc.target, "tls", cfg.TLS.Enabled)

	go c.dialAndRead(ctx, tc)

	return nil
}

func (c *Client) dialAndRead(ctx context.Context, tc *termConn) {
	netConn, err := dial(ctx, tc.cfg)
	if err != nil {
		c.mu.Lock()
		current := c.conn == tc
		if current {
			c.conn = nil
			c.state = events.ConnectionStateClosed
		}
		c.mu.Unlock()
		if current {
			c.logger.Warn("connect failed", "target", tc.target, "error", err)
			c.publishConnStatus(events.ConnectionStateClosed, tc.target, err)
		}
		return
	}

	c.mu.Lock()
	if c.conn != tc {
		// Disconnected or replaced while dialing.
		c.mu.Unlock()
		_ = netConn.Close()
		return
	}
	tc.netConn = netConn
	c.state = events.ConnectionStateConnected
	c.mu.Unlock()

	c.logger.Info("connected", "target", tc.target, "remote", netConn.RemoteAddr().String())
	c.publishConnStatus(events.ConnectionStateConnected, tc.target, nil)

	c.readLoop(tc)
}

func dial(ctx context.Context, cfg config.ConnectionConfig) (net.Conn, error) {
	dialer := net.Dialer{Timeout: cfg.ConnectTimeout()}
	conn, err := dialer.DialContext(ctx, "tcp", cfg.Target())
	if err != nil {
		if isTimeout(err) {
			return nil, &TimeoutError{Kind: "connect", After: cfg.ConnectTimeout()}
		}
		return nil, &ConnectionError{Op: "dial tcp", Err: err}
	}

	if !cfg.TLS.Enabled {
		return conn, nil
	}

	tlsCfg, err := tlsClientConfig(cfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	tlsConn := tls.Client(conn, tlsCfg)
	if timeout := cfg.ConnectTimeout(); timeout > 0 {
		_ = tlsConn.SetDeadline(time.Now().Add(timeout))
	}
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = tlsConn.Close()
		if isTimeout(err) {
			return nil, &TimeoutError{Kind: "connect", After: cfg.ConnectTimeout()}
		}
		return nil, &ConnectionError{Op: "tls handshake", Err: err}
	}
	// The connect deadline is done once the handshake completes.
	_ = tlsConn.SetDeadline(time.Time{})

	return tlsConn, nil
}

func tlsClientConfig(cfg config.ConnectionConfig) (*tls.Config, error) {
	tlsCfg := &tls.Config{
		ServerName: cfg.Host,
		MinVersion: tls.VersionTLS12,
	}
	if cfg.TLS.SkipVerify {
		tlsCfg.InsecureSkipVerify = true // #nosec G402 -- explicit operator opt-out for self-signed terminals.
	}

	pem := []byte(cfg.TLS.CACertPEM)
	if cfg.TLS.CACertFile != "" {
		raw, err := os.ReadFile(cfg.TLS.CACertFile) // #nosec G304 -- operator-supplied CA path.
		if err != nil {
			return nil, fmt.Errorf("read ca cert: %w", err)
		}
		pem = raw
	}
	if len(pem) > 0 {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New("no usable certificates in ca material")
		}
		tlsCfg.RootCAs = pool
	}

	return tlsCfg, nil
}

func (c *Client) readLoop(tc *termConn) {
	buf := make([]byte, readBufferSize)
	idle := tc.cfg.IdleTimeout()

	for {
		if idle > 0 {
			_ = tc.netConn.SetReadDeadline(time.Now().Add(idle))
		} else {
			_ = tc.netConn.SetReadDeadline(time.Time{})
		}

		n, err := tc.netConn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			c.dispatchBytes(chunk)
		}
		if err != nil {
			c.handleReadError(tc, err)
			return
		}
	}
}

func (c *Client) dispatchBytes(chunk []byte) {
	c.listenerMu.Lock()
	listener := c.listener
	c.listenerMu.Unlock()

	if listener == nil {
		c.logger.Debug("inbound bytes dropped: no operation listening", "len", len(chunk))
		return
	}
	listener(chunk)
}

func (c *Client) handleReadError(tc *termConn, err error) {
	c.mu.Lock()
	if c.conn != tc {
		// A dead socket's tail callback; the live state is not ours to touch.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.state = events.ConnectionStateClosed
	c.mu.Unlock()

	_ = tc.netConn.Close()

	switch {
	case errors.Is(err, io.EOF):
		c.logger.Info("connection closed by terminal", "target", tc.target)
		c.publishConnStatus(events.ConnectionStateClosed, tc.target, nil)
	case isTimeout(err):
		timeoutErr := &TimeoutError{Kind: "idle", After: tc.cfg.IdleTimeout()}
		c.logger.Warn("idle timeout, closing connection", "target", tc.target)
		c.publishConnStatus(events.ConnectionStateClosed, tc.target, timeoutErr)
	default:
		c.logger.Warn("read failed", "target", tc.target, "error", err)
		c.publishConnStatus(events.ConnectionStateClosed, tc.target, &ConnectionError{Op: "read", Err: err})
	}
}

// Disconnect is idempotent and synchronous: it closes the socket, detaches
// the byte listener, and resets state to Idle. Safe to call in any state.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	hadConn := conn != nil
	c.conn = nil
	if hadConn {
		c.state = events.ConnectionStateClosing
	} else {
		c.state = events.ConnectionStateIdle
	}
	c.mu.Unlock()

	c.listenerMu.Lock()
	c.listener = nil
	c.listenerMu.Unlock()

	if !hadConn {
		return
	}

	c.publishConnStatus(events.ConnectionStateClosing, conn.target, nil)
	if conn.netConn != nil {
		_ = conn.netConn.Close()
	}

	c.mu.Lock()
	// A concurrent Connect may already have moved the state on.
	if c.state == events.ConnectionStateClosing {
		c.state = events.ConnectionStateIdle
	}
	c.mu.Unlock()

	c.logger.Info("disconnected", "target", conn.target)
	c.publishConnStatus(events.ConnectionStateIdle, conn.target, nil)
}

// Send writes one frame to the socket. It fails fast with NotConnectedError
// when no socket is owned.
func (c *Client) Send(frame protocol.Frame) error {
	raw, err := frame.Encode()
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil || conn.netConn == nil {
		return &NotConnectedError{Op: "send frame"}
	}

	c.writeMu.Lock()
	_, err = conn.netConn.Write(raw)
	c.writeMu.Unlock()
	if err != nil {
		return &ConnectionError{Op: "write frame", Err: err}
	}

	c.logger.Debug("frame out", "class", frame.Class, "ins", frame.Instruction, "len", len(frame.Payload))
	c.bus.Publish(events.TopicFrameOut, events.RawFrame{
		Hex: strings.ToUpper(hex.EncodeToString(raw)),
		Len: len(raw),
	})

	return nil
}

func (c *Client) setListener(fn func([]byte)) {
	c.listenerMu.Lock()
	c.listener = fn
	c.listenerMu.Unlock()
}

func (c *Client) publishConnStatus(state events.ConnectionState, target string, err error) {
	status := events.ConnStatus{
		State:     state,
		Target:    target,
		Timestamp: time.Now(),
	}
	if err != nil {
		status.Err = err.Error()
	}
	c.bus.Publish(events.TopicConnStatus, status)
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return errors.Is(err, context.DeadlineExceeded)
}
