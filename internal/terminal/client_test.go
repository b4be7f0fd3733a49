package terminal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"termlink/internal/bus"
	"termlink/internal/config"
	"termlink/internal/events"
	"termlink/internal/protocol"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testBusAndClient(t *testing.T) (*bus.PubSubBus, *Client, bus.Subscription) {
	t.Helper()
	b := bus.New(discardLogger())
	t.Cleanup(b.Close)
	sub := b.Subscribe(events.TopicConnStatus)
	client := NewClient(discardLogger(), b)
	t.Cleanup(client.Disconnect)

	return b, client, sub
}

// startSink opens a loopback listener that accepts connections and holds
// them open without sending anything.
func startSink(t *testing.T) (host string, port int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, acceptErr := ln.Accept()
			if acceptErr != nil {
				return
			}
			go func() {
				_, _ = io.Copy(io.Discard, conn)
				_ = conn.Close()
			}()
		}
	}()

	return splitAddr(t, ln.Addr().String())
}

func splitAddr(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split addr %s: %v", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port %s: %v", portStr, err)
	}
	return host, port
}

func waitStatus(t *testing.T, sub bus.Subscription, state events.ConnectionState) events.ConnStatus {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for conn state %s", state)
		case raw, ok := <-sub:
			if !ok {
				t.Fatalf("status subscription closed waiting for %s", state)
			}
			status, ok := raw.(events.ConnStatus)
			if !ok {
				continue
			}
			if status.State == state {
				return status
			}
		}
	}
}

func TestSendFailsFastWhenNotConnected(t *testing.T) {
	_, client, _ := testBusAndClient(t)

	err := client.Send(protocol.NewFrame(0x06, 0x01, nil))
	var notConnected *NotConnectedError
	if !errors.As(err, &notConnected) {
		t.Fatalf("expected NotConnectedError, got %v", err)
	}
}

func TestConnectEmitsConnected(t *testing.T) {
	_, client, sub := testBusAndClient(t)
	host, port := startSink(t)

	cfg := config.ConnectionConfig{Host: host, Port: port, ConnectTimeoutMS: 2000}
	if err := client.Connect(context.Background(), cfg); err != nil {
		t.Fatalf("connect: %v", err)
	}

	waitStatus(t, sub, events.ConnectionStateConnecting)
	waitStatus(t, sub, events.ConnectionStateConnected)
	if state := client.State(); state != events.ConnectionStateConnected {
		t.Fatalf("unexpected state after connect: %s", state)
	}
}

func TestConnectRequiresHost(t *testing.T) {
	_, client, _ := testBusAndClient(t)

	if err := client.Connect(context.Background(), config.ConnectionConfig{}); err == nil {
		t.Fatalf("expected error for empty host")
	}
}

func TestConnectFailureEmitsError(t *testing.T) {
	_, client, sub := testBusAndClient(t)

	// Grab a port that nothing listens on.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	host, port := splitAddr(t, ln.Addr().String())
	_ = ln.Close()

	cfg := config.ConnectionConfig{Host: host, Port: port, ConnectTimeoutMS: 2000}
	if err := client.Connect(context.Background(), cfg); err != nil {
		t.Fatalf("connect: %v", err)
	}

	status := waitStatus(t, sub, events.ConnectionStateClosed)
	if status.Err == "" {
		t.Fatalf("expected error on failed dial")
	}
	if state := client.State(); state != events.ConnectionStateClosed {
		t.Fatalf("unexpected state after failed dial: %s", state)
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	_, client, _ := testBusAndClient(t)

	client.Disconnect()
	client.Disconnect()
	if state := client.State(); state != events.ConnectionStateIdle {
		t.Fatalf("unexpected state: %s", state)
	}
}

func TestDisconnectPublishesClosingThenIdle(t *testing.T) {
	_, client, sub := testBusAndClient(t)
	host, port := startSink(t)

	cfg := config.ConnectionConfig{Host: host, Port: port, ConnectTimeoutMS: 2000}
	if err := client.Connect(context.Background(), cfg); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitStatus(t, sub, events.ConnectionStateConnected)

	client.Disconnect()
	waitStatus(t, sub, events.ConnectionStateClosing)
	waitStatus(t, sub, events.ConnectionStateIdle)
	if state := client.State(); state != events.ConnectionStateIdle {
		t.Fatalf("unexpected state after disconnect: %s", state)
	}
}

func TestDisconnectThenConnectYieldsOneConnected(t *testing.T) {
	_, client, sub := testBusAndClient(t)
	host, port := startSink(t)
	cfg := config.ConnectionConfig{Host: host, Port: port, ConnectTimeoutMS: 2000}

	if err := client.Connect(context.Background(), cfg); err != nil {
		t.Fatalf("first connect: %v", err)
	}
	waitStatus(t, sub, events.ConnectionStateConnected)

	client.Disconnect()
	waitStatus(t, sub, events.ConnectionStateIdle)

	if err := client.Connect(context.Background(), cfg); err != nil {
		t.Fatalf("second connect: %v", err)
	}

	// Exactly one connected must follow, with no events left over from the
	// first socket.
	connected := 0
	deadline := time.After(2 * time.Second)
	for connected == 0 {
		select {
		case <-deadline:
			t.Fatalf("second connected event never arrived")
		case raw := <-sub:
			status, ok := raw.(events.ConnStatus)
			if !ok {
				continue
			}
			switch status.State {
			case events.ConnectionStateConnected:
				connected++
			case events.ConnectionStateClosed:
				t.Fatalf("unexpected closed event from previous socket: %+v", status)
			}
		}
	}

	select {
	case raw := <-sub:
		if status, ok := raw.(events.ConnStatus); ok && status.State == events.ConnectionStateConnected {
			t.Fatalf("duplicate connected event")
		}
	case <-time.After(200 * time.Millisecond):
	}
}

func TestIdleTimeoutClosesConnection(t *testing.T) {
	_, client, sub := testBusAndClient(t)
	host, port := startSink(t)

	cfg := config.ConnectionConfig{
		Host:             host,
		Port:             port,
		ConnectTimeoutMS: 2000,
		IdleTimeoutMS:    100,
	}
	if err := client.Connect(context.Background(), cfg); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitStatus(t, sub, events.ConnectionStateConnected)

	status := waitStatus(t, sub, events.ConnectionStateClosed)
	if !strings.Contains(status.Err, "idle timeout") {
		t.Fatalf("expected idle timeout error, got %q", status.Err)
	}
}

func TestPeerCloseEmitsDisconnect(t *testing.T) {
	_, client, sub := testBusAndClient(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		conn, acceptErr := ln.Accept()
		if acceptErr != nil {
			return
		}
		_ = conn.Close()
	}()

	host, port := splitAddr(t, ln.Addr().String())
	cfg := config.ConnectionConfig{Host: host, Port: port, ConnectTimeoutMS: 2000}
	if err := client.Connect(context.Background(), cfg); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitStatus(t, sub, events.ConnectionStateConnected)

	status := waitStatus(t, sub, events.ConnectionStateClosed)
	if status.Err != "" {
		t.Fatalf("peer close should not carry an error, got %q", status.Err)
	}
}
