package events

import "time"

// ConnectionState describes the lifecycle state of the terminal socket.
type ConnectionState string

const (
	ConnectionStateIdle       ConnectionState = "idle"
	ConnectionStateConnecting ConnectionState = "connecting"
	ConnectionStateConnected  ConnectionState = "connected"
	ConnectionStateClosing    ConnectionState = "closing"
	ConnectionStateClosed     ConnectionState = "closed"
)

// ConnStatus is a bus snapshot of the current connection state. Err is set
// on error and timeout transitions.
type ConnStatus struct {
	State     ConnectionState
	Err       string
	Target    string
	Timestamp time.Time
}

// StatusText is an intermediate status line received from the terminal
// during an operation.
type StatusText struct {
	Text string
}

// ReceiptLine is one line of receipt text received from the terminal.
type ReceiptLine struct {
	Text string
}

// RawFrame carries frame diagnostics for debug views and trace logs.
type RawFrame struct {
	Hex string
	Len int
}

// Kind tags the closed external event vocabulary delivered to consumers.
type Kind string

const (
	KindConnected    Kind = "connected"
	KindDisconnected Kind = "disconnected"
	KindStatus       Kind = "status"
	KindReceiptLine  Kind = "receipt-line"
	KindApproved     Kind = "approved"
	KindDeclined     Kind = "declined"
	KindError        Kind = "error"
)

// Event is the sole representation crossing the core boundary. Only the
// fields relevant to the Kind are populated; events are never mutated after
// creation.
type Event struct {
	Kind      Kind
	Message   string
	RRN       string
	AuthCode  string
	AttemptID string
	Err       string
	Timestamp time.Time
}
