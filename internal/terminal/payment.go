package terminal

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"termlink/internal/events"
	"termlink/internal/protocol"
)

// DefaultOperationTimeout bounds one authorization exchange when the caller
// does not override it.
const DefaultOperationTimeout = 90 * time.Second

const diagnosisTimeout = 10 * time.Second

const fallbackStatusText = "STATUS"

// PaymentOptions tune one payment attempt. Currency is informational only;
// it never reaches the wire.
type PaymentOptions struct {
	Currency      string
	OnStatus      func(text string)
	OnReceiptLine func(text string)
	Timeout       time.Duration
}

// session drives exactly one request/completion exchange. It owns the byte
// buffer, the operation timer, and the single settlement of its result.
type session struct {
	client    *Client
	attemptID string
	amount    int64
	currency  string
	opts      PaymentOptions
	startedAt time.Time
	publish   bool // publish the outcome on the payment result topic

	mu      sync.Mutex
	buf     []byte
	settled bool
	timer   *time.Timer

	result chan events.PaymentOutcome
}

// StartPayment begins one authorization exchange and returns a deferred
// outcome that settles exactly once: on the terminal's Completion frame, or
// on the operation timeout. A second call while one operation is outstanding
// fails fast with ErrPaymentInProgress.
func (c *Client) StartPayment(amountMinorUnits int64, opts PaymentOptions) (<-chan events.PaymentOutcome, error) {
	amountField, err := protocol.EncodeAmount(amountMinorUnits)
	if err != nil {
		return nil, err
	}
	tlv, err := protocol.EncodeTLV(nil)
	if err != nil {
		return nil, err
	}

	payload := append(amountField, tlv...)
	request := protocol.NewFrame(protocol.ClassPayment, protocol.InsAuthorization, payload)

	return c.startOperation(request, amountMinorUnits, opts, true)
}

// Diagnose sends a Diagnosis command and waits for its Completion. It shares
// the payment exchange machinery but its outcome is not recorded as a
// payment.
func (c *Client) Diagnose() (<-chan events.PaymentOutcome, error) {
	request := protocol.NewFrame(protocol.ClassPayment, protocol.InsDiagnosis, nil)

	return c.startOperation(request, 0, PaymentOptions{Timeout: diagnosisTimeout}, false)
}

func (c *Client) startOperation(request protocol.Frame, amount int64, opts PaymentOptions, publish bool) (<-chan events.PaymentOutcome, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOperationTimeout
	}

	c.sessionMu.Lock()
	if c.session != nil {
		c.sessionMu.Unlock()
		return nil, ErrPaymentInProgress
	}

	c.mu.Lock()
	connected := c.conn != nil && c.conn.netConn != nil
	c.mu.Unlock()
	if !connected {
		c.sessionMu.Unlock()
		return nil, &NotConnectedError{Op: "start payment"}
	}

	s := &session{
		client:    c,
		attemptID: uuid.NewString(),
		amount:    amount,
		currency:  opts.Currency,
		opts:      opts,
		startedAt: time.Now(),
		publish:   publish,
		result:    make(chan events.PaymentOutcome, 1),
	}
	c.session = s
	c.setListener(s.onBytes)
	c.sessionMu.Unlock()

	if err := c.Send(request); err != nil {
		c.detachSession(s)
		return nil, err
	}

	s.mu.Lock()
	if !s.settled {
		// A completion can arrive before the timer is armed; never leave a
		// timer pending past settlement.
		s.timer = time.AfterFunc(opts.Timeout, func() {
			s.settle(events.PaymentOutcome{
				Success: false,
				Message: (&TimeoutError{Kind: "operation", After: opts.Timeout}).Error(),
			})
		})
	}
	s.mu.Unlock()

	c.logger.Info("operation started",
		"attempt_id", s.attemptID,
		"class", request.Class,
		"ins", request.Instruction,
		"amount", amount,
		"timeout", opts.Timeout,
	)

	return s.result, nil
}

// AbortPayment sends an Abort frame unconditionally. It never settles an
// outstanding operation itself; the outcome still depends on whatever
// Completion frame the terminal sends afterwards.
func (c *Client) AbortPayment() error {
	return c.Send(protocol.NewFrame(protocol.ClassPayment, protocol.InsAbort, nil))
}

func (c *Client) detachSession(s *session) {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	if c.session != s {
		// Already detached, or replaced by a newer operation.
		return
	}
	c.session = nil
	c.setListener(nil)
}

func (s *session) onBytes(chunk []byte) {
	s.mu.Lock()
	if s.settled {
		s.mu.Unlock()
		return
	}
	s.buf = append(s.buf, chunk...)

	var frames []protocol.Frame
	for {
		frame, rest, ok := protocol.Decode(s.buf)
		if !ok {
			break
		}
		s.buf = rest
		frames = append(frames, frame)
	}
	s.mu.Unlock()

	for _, frame := range frames {
		s.mu.Lock()
		settled := s.settled
		s.mu.Unlock()
		if settled {
			// Frames decoded after settlement belong to nobody.
			return
		}
		s.handleFrame(frame)
	}
}

func (s *session) handleFrame(frame protocol.Frame) {
	c := s.client

	raw, err := frame.Encode()
	if err == nil {
		c.bus.Publish(events.TopicFrameIn, events.RawFrame{
			Hex: strings.ToUpper(hex.EncodeToString(raw)),
			Len: len(raw),
		})
	}

	if frame.IsAck() {
		// The terminal acknowledging our request; nothing to answer.
		return
	}

	switch {
	case frame.Class == protocol.ClassStatus && frame.Instruction == protocol.InsStatusInfo:
		text := frame.Text()
		if text == "" {
			text = fallbackStatusText
		}
		c.logger.Debug("status information", "text", text)
		if s.opts.OnStatus != nil {
			s.opts.OnStatus(text)
		}
		c.bus.Publish(events.TopicPaymentStatus, events.StatusText{Text: text})
		s.ack()

	case frame.Class == protocol.ClassPayment &&
		(frame.Instruction == protocol.InsReceiptLine || frame.Instruction == protocol.InsReceiptBlock):
		text := frame.Text()
		c.logger.Debug("receipt line", "text", text)
		if s.opts.OnReceiptLine != nil {
			s.opts.OnReceiptLine(text)
		}
		c.bus.Publish(events.TopicReceiptLine, events.ReceiptLine{Text: text})
		s.ack()

	case frame.Class == protocol.ClassPayment && frame.Instruction == protocol.InsCompletion:
		s.ack()
		s.settle(parseCompletion(frame.Text()))

	default:
		// Unrecognized frames are acknowledged and ignored; anything else
		// provokes terminal-side retries.
		c.logger.Debug("unrecognized frame acknowledged", "class", frame.Class, "ins", frame.Instruction)
		s.ack()
	}
}

func (s *session) ack() {
	if err := s.client.Send(protocol.NewFrame(protocol.ClassAck, protocol.InsAck, nil)); err != nil {
		s.client.logger.Warn("ack write failed", "error", err)
	}
}

func (s *session) settle(outcome events.PaymentOutcome) {
	s.mu.Lock()
	if s.settled {
		s.mu.Unlock()
		return
	}
	s.settled = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()

	s.client.detachSession(s)

	outcome.AttemptID = s.attemptID
	outcome.Amount = s.amount
	outcome.Currency = s.currency
	outcome.StartedAt = s.startedAt
	outcome.SettledAt = time.Now()

	s.client.logger.Info("operation settled",
		"attempt_id", s.attemptID,
		"success", outcome.Success,
		"message", outcome.Message,
		"rrn", outcome.RRN,
		"auth_code", outcome.AuthCode,
	)

	s.result <- outcome
	close(s.result)

	if s.publish {
		s.client.bus.Publish(events.TopicPaymentResult, outcome)
	}
}

// The completion heuristics below match observed terminal text; their exact
// behavior is part of compatibility, not an implementation choice.
var (
	approvalKeywords = []string{"APPROV", "OK", "SUCCESS"}
	rrnPattern       = regexp.MustCompile(`(?i)\bRRN\s*[=:]\s*(\S+)`)
	authPattern      = regexp.MustCompile(`(?i)\bAUTH\s*[=:]\s*(\S+)`)
)

func parseCompletion(text string) events.PaymentOutcome {
	upper := strings.ToUpper(text)
	approved := false
	for _, keyword := range approvalKeywords {
		if strings.Contains(upper, keyword) {
			approved = true
			break
		}
	}

	outcome := events.PaymentOutcome{
		Success: approved,
		Message: text,
	}
	if m := rrnPattern.FindStringSubmatch(text); m != nil {
		outcome.RRN = m[1]
	}
	if m := authPattern.FindStringSubmatch(text); m != nil {
		outcome.AuthCode = m[1]
	}
	if outcome.Message == "" {
		outcome.Message = fmt.Sprintf("completion without text (approved=%t)", approved)
	}

	return outcome
}
