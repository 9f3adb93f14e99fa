// Package transport carries HL7 payloads in and out of the gateway: MLLP
// listeners and clients over TCP, and directory-based file exchange.
package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/interop/pamgw/internal/ingest"
	"github.com/interop/pamgw/internal/platform/hl7"
)

// InboundHandler processes one unframed payload and returns the ACK to send
// back. *ingest.Handler satisfies it.
type InboundHandler interface {
	Handle(ctx context.Context, payload []byte, from ingest.Endpoint) (hl7.Ack, []byte)
}

// MLLPServerOptions configures one listener.
type MLLPServerOptions struct {
	Addr             string
	Ref              string // endpoint name recorded in the message log
	IdleTimeout      time.Duration
	MaxFrameBytes    int
	BreakerThreshold uint32 // consecutive parse failures before the breaker opens
	BreakerCooldown  time.Duration
}

// MLLPServer accepts MLLP connections and feeds each deframed payload to the
// inbound handler. Connections are long-lived; the server replies with one
// ACK per message and keeps reading.
type MLLPServer struct {
	opts    MLLPServerOptions
	handler InboundHandler
	breaker *gobreaker.CircuitBreaker
	logger  zerolog.Logger

	ln net.Listener
	wg sync.WaitGroup
}

// errParseRejected marks a handled message whose ACK reported a parse
// failure. The reply still goes out; the breaker counts the failure.
var errParseRejected = errors.New("inbound payload failed to parse")

func NewMLLPServer(opts MLLPServerOptions, handler InboundHandler, logger zerolog.Logger) *MLLPServer {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 60 * time.Second
	}
	if opts.BreakerThreshold == 0 {
		opts.BreakerThreshold = 20
	}
	if opts.BreakerCooldown <= 0 {
		opts.BreakerCooldown = 60 * time.Second
	}
	s := &MLLPServer{
		opts:    opts,
		handler: handler,
		logger: logger.With().Str("component", "mllp_server").
			Str("endpoint", opts.Ref).Logger(),
	}
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "mllp:" + opts.Ref,
		MaxRequests: 1,
		Timeout:     opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.BreakerThreshold
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			s.logger.Warn().Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	})
	return s
}

// Listen binds the address. Split from Serve so callers can learn the bound
// port before traffic starts.
func (s *MLLPServer) Listen() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("mllp listener bound")
	return nil
}

// Addr returns the bound address, or empty before Listen.
func (s *MLLPServer) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Serve accepts connections until ctx is cancelled, then closes the listener
// and waits for in-flight connections.
func (s *MLLPServer) Serve(ctx context.Context) error {
	if s.ln == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	go func() {
		<-ctx.Done()
		_ = s.ln.Close()
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, conn)
		}()
	}
}

func (s *MLLPServer) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()
	d := hl7.NewDeframer(conn, s.opts.MaxFrameBytes)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.opts.IdleTimeout))
		payload, err := d.Next()
		if err != nil {
			s.handleReadError(conn, remote, err)
			return
		}

		res, err := s.breaker.Execute(func() (interface{}, error) {
			ack, ackBytes := s.handler.Handle(ctx, payload, ingest.Endpoint{
				Kind: "MLLP",
				Ref:  s.opts.Ref,
			})
			if !ack.IsAccept() && isParseFailure(ack.ErrCode) {
				return ackBytes, errParseRejected
			}
			return ackBytes, nil
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			// The endpoint is flooding unparseable frames. Drop the
			// connection until the cooldown re-arms the breaker.
			s.logger.Warn().Str("remote", remote).Msg("breaker open, refusing frame")
			return
		}

		ackBytes, _ := res.([]byte)
		if len(ackBytes) == 0 {
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(s.opts.IdleTimeout))
		if _, err := conn.Write(hl7.Frame(ackBytes)); err != nil {
			s.logger.Warn().Err(err).Str("remote", remote).Msg("write ACK")
			return
		}
	}
}

// handleReadError answers what can be answered and closes the stream. An
// oversize payload gets an AR so the sender knows not to retry the same
// frame; after that the stream position is unreliable, so the connection
// ends.
func (s *MLLPServer) handleReadError(conn net.Conn, remote string, err error) {
	switch {
	case errors.Is(err, io.EOF):
		return
	case isTimeout(err):
		s.logger.Debug().Str("remote", remote).Msg("idle connection closed")
		return
	}

	if code := hl7.CodeOf(err); code != "" {
		ack := hl7.AckFor("", err)
		_ = conn.SetWriteDeadline(time.Now().Add(s.opts.IdleTimeout))
		if _, werr := conn.Write(hl7.Frame(hl7.BuildAck(hl7.MSHRecord{}, ack, time.Now().UTC()))); werr != nil {
			s.logger.Warn().Err(werr).Str("remote", remote).Msg("write reject ACK")
		}
		s.logger.Warn().Str("remote", remote).Str("code", code).Msg("frame rejected")
		return
	}
	s.logger.Warn().Err(err).Str("remote", remote).Msg("read frame")
}

// parseFailureCodes lists the handler outcomes that count against the
// circuit breaker. Semantic rejections (bad transitions, identity conflicts)
// are well-formed traffic and never trip it.
var parseFailureCodes = map[string]bool{
	hl7.CodeMissingMSH:        true,
	hl7.CodeMissingMSH9:       true,
	hl7.CodeInvalidMSH9:       true,
	hl7.CodeUnknownSegment:    true,
	hl7.CodeDateFormatInvalid: true,
	hl7.CodeFieldCount:        true,
	hl7.CodeUnknownEncoding:   true,
}

func isParseFailure(code string) bool {
	return parseFailureCodes[code]
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
