package transport

import (
	"context"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/interop/pamgw/internal/domain/messagelog"
	"github.com/interop/pamgw/internal/domain/subscriber"
	"github.com/interop/pamgw/internal/platform/hl7"
)

// MLLPClient delivers generated messages to MLLP subscribers. One connection
// per dispatch: frame, write, await the ACK, close.
type MLLPClient struct {
	ackTimeout  time.Duration
	dialTimeout time.Duration
	logger      zerolog.Logger
}

func NewMLLPClient(ackTimeout time.Duration, logger zerolog.Logger) *MLLPClient {
	if ackTimeout <= 0 {
		ackTimeout = 30 * time.Second
	}
	return &MLLPClient{
		ackTimeout:  ackTimeout,
		dialTimeout: 10 * time.Second,
		logger:      logger.With().Str("component", "mllp_client").Logger(),
	}
}

// Dispatch sends one payload to sub.Endpoint. The status is ack_ok when the
// subscriber answered AA, ack_error on any other MSA-1 or an unreadable
// reply, timeout when no reply arrived in time.
func (c *MLLPClient) Dispatch(ctx context.Context, sub *subscriber.Subscriber, payload string) (string, string, error) {
	dialer := net.Dialer{Timeout: c.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", sub.Endpoint)
	if err != nil {
		return messagelog.StatusAckError, "", hl7.SubscriberErr(hl7.CodeConnectionRefused,
			"cannot reach subscriber endpoint",
			"endpoint", sub.Endpoint, "cause", err.Error())
	}
	defer conn.Close()

	deadline := time.Now().Add(c.ackTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	if _, err := conn.Write(hl7.Frame([]byte(payload))); err != nil {
		return messagelog.StatusAckError, "", hl7.SubscriberErr(hl7.CodeConnectionRefused,
			"write to subscriber failed",
			"endpoint", sub.Endpoint, "cause", err.Error())
	}

	raw, err := hl7.NewDeframer(conn, 0).Next()
	if err != nil {
		if isTimeout(err) || hl7.CodeOf(err) == hl7.CodeFrameTruncated {
			return messagelog.StatusTimeout, "", hl7.SubscriberErr(hl7.CodeSendTimeout,
				"no ACK within timeout",
				"endpoint", sub.Endpoint, "timeout", c.ackTimeout.String())
		}
		return messagelog.StatusAckError, "", hl7.SubscriberErr(hl7.CodeAckNotAA,
			"unreadable ACK frame",
			"endpoint", sub.Endpoint, "cause", err.Error())
	}

	ack, err := hl7.ParseAck(raw)
	if err != nil {
		return messagelog.StatusAckError, string(raw), hl7.SubscriberErr(hl7.CodeAckNotAA,
			"malformed ACK",
			"endpoint", sub.Endpoint, "cause", err.Error())
	}
	if !ack.IsAccept() {
		return messagelog.StatusAckError, string(raw), hl7.SubscriberErr(hl7.CodeAckNotAA,
			"subscriber refused the message",
			"endpoint", sub.Endpoint, "msa1", ack.Code, "text", ack.Text)
	}
	return messagelog.StatusAckOK, string(raw), nil
}
