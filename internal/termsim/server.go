// Package termsim implements a test-double payment terminal speaking the
// same opcode subset as the client. It is the conformance partner for
// integration tests and ships as a standalone binary in cmd/termsim.
package termsim

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"termlink/internal/protocol"
)

// Script overrides the default response behavior for one inbound request
// frame. Returning nil frames for a request leaves the client waiting, which
// is how tests exercise operation timeouts.
type Script func(req protocol.Frame) []protocol.Frame

// Options tune the simulated terminal.
type Options struct {
	// DeclineSuffix declines any authorization whose amount ends in these
	// two minor-unit digits. Zero defaults to 99; a negative value
	// approves everything.
	DeclineSuffix int64
	StatusText     string
	ReceiptLines   []string
	Script         Script
}

type Server struct {
	logger *slog.Logger
	opts   Options

	ln     net.Listener
	wg     sync.WaitGroup
	seq    atomic.Int64
	ackCnt atomic.Int64

	mu     sync.Mutex
	closed bool
	conns  map[net.Conn]struct{}
}

// Listen starts the simulator on addr ("host:0" picks a free port). A non-nil
// tlsCfg serves TLS on the same wire protocol.
func Listen(logger *slog.Logger, addr string, tlsCfg *tls.Config, opts Options) (*Server, error) {
	if opts.DeclineSuffix == 0 {
		opts.DeclineSuffix = 99
	}
	if opts.StatusText == "" {
		opts.StatusText = "PROCESSING"
	}
	if opts.ReceiptLines == nil {
		opts.ReceiptLines = []string{"CARD AUTHORIZATION", "*** CUSTOMER COPY ***"}
	}

	var (
		ln  net.Listener
		err error
	)
	if tlsCfg != nil {
		ln, err = tls.Listen("tcp", addr, tlsCfg)
	} else {
		ln, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	return &Server{logger: logger, opts: opts, ln: ln}, nil
}

func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// AckCount reports how many acknowledgement frames clients have sent so far.
func (s *Server) AckCount() int64 {
	return s.ackCnt.Load()
}

func (s *Server) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.ln.Accept()
			if err != nil {
				s.mu.Lock()
				closed := s.closed
				s.mu.Unlock()
				if closed || ctx.Err() != nil {
					return
				}
				s.logger.Warn("accept failed", "error", err)
				continue
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.handleConn(ctx, conn)
			}()
		}
	}()
}

func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()

	_ = s.ln.Close()
	s.wg.Wait()
}

// track registers conn so Close can interrupt a blocked Read. It reports
// false when the server is already shutting down.
func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if s.conns == nil {
		s.conns = make(map[net.Conn]struct{})
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer func() { _ = conn.Close() }()
	if !s.track(conn) {
		return
	}
	defer s.untrack(conn)
	logger := s.logger.With("remote", conn.RemoteAddr().String())
	logger.Info("client connected")

	var buf []byte
	chunk := make([]byte, 1024)
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			for {
				frame, rest, ok := protocol.Decode(buf)
				if !ok {
					break
				}
				buf = rest
				if frame.IsAck() {
					s.ackCnt.Add(1)
					logger.Debug("ack received")
					continue
				}
				if writeErr := s.respond(conn, frame, logger); writeErr != nil {
					logger.Warn("write response failed", "error", writeErr)
					return
				}
			}
		}
		if err != nil {
			logger.Info("client disconnected", "error", err)
			return
		}
	}
}

func (s *Server) respond(conn net.Conn, req protocol.Frame, logger *slog.Logger) error {
	var frames []protocol.Frame
	if s.opts.Script != nil {
		frames = s.opts.Script(req)
	} else {
		frames = s.defaultResponse(req, logger)
	}

	for _, frame := range frames {
		raw, err := frame.Encode()
		if err != nil {
			return fmt.Errorf("encode response: %w", err)
		}
		if _, err := conn.Write(raw); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) defaultResponse(req protocol.Frame, logger *slog.Logger) []protocol.Frame {
	switch {
	case req.Class == protocol.ClassPayment && req.Instruction == protocol.InsAuthorization:
		return s.authorizationResponse(req, logger)

	case req.Class == protocol.ClassPayment && req.Instruction == protocol.InsAbort:
		logger.Info("abort received")
		return []protocol.Frame{
			protocol.NewFrame(protocol.ClassPayment, protocol.InsCompletion, []byte("ABORTED")),
		}

	case req.Class == protocol.ClassPayment && req.Instruction == protocol.InsDiagnosis:
		logger.Info("diagnosis received")
		return []protocol.Frame{
			protocol.NewFrame(protocol.ClassStatus, protocol.InsStatusInfo, []byte("DIAGNOSIS RUNNING")),
			protocol.NewFrame(protocol.ClassPayment, protocol.InsCompletion, []byte("DIAGNOSIS OK")),
		}

	default:
		logger.Info("unsupported frame", "class", req.Class, "ins", req.Instruction)
		return []protocol.Frame{
			protocol.NewFrame(protocol.ClassPayment, protocol.InsCompletion, []byte("UNSUPPORTED COMMAND")),
		}
	}
}

func (s *Server) authorizationResponse(req protocol.Frame, logger *slog.Logger) []protocol.Frame {
	amount, err := parseAmount(req.Payload)
	if err != nil {
		logger.Warn("authorization with bad amount", "error", err)
		return []protocol.Frame{
			protocol.NewFrame(protocol.ClassPayment, protocol.InsCompletion, []byte("DECLINED BAD AMOUNT")),
		}
	}

	seq := s.seq.Add(1)
	logger.Info("authorization received", "amount", amount, "seq", seq)

	frames := []protocol.Frame{
		protocol.NewFrame(protocol.ClassStatus, protocol.InsStatusInfo, []byte(s.opts.StatusText)),
	}
	for _, line := range s.opts.ReceiptLines {
		frames = append(frames, protocol.NewFrame(protocol.ClassPayment, protocol.InsReceiptLine, []byte(line)))
	}

	completion := fmt.Sprintf("RRN=%06d AUTH=%06d APPROVED", 100000+seq, 200000+seq)
	if s.opts.DeclineSuffix > 0 && amount%100 == s.opts.DeclineSuffix {
		completion = "DECLINED"
	}
	frames = append(frames, protocol.NewFrame(protocol.ClassPayment, protocol.InsCompletion, []byte(completion)))

	return frames
}

// parseAmount extracts the BCD amount field from an authorization payload.
func parseAmount(payload []byte) (int64, error) {
	for len(payload) >= 2 {
		tag := payload[0]
		ln := int(payload[1])
		if len(payload) < 2+ln {
			return 0, fmt.Errorf("truncated field %#02x", tag)
		}
		if tag == protocol.TagAmount {
			return protocol.DecodeBCDAmount(payload[2 : 2+ln])
		}
		payload = payload[2+ln:]
	}
	return 0, fmt.Errorf("no amount field in payload")
}
