package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/interop/pamgw/internal/domain/messagelog"
	"github.com/interop/pamgw/internal/domain/subscriber"
	"github.com/interop/pamgw/internal/platform/fhir"
	"github.com/interop/pamgw/internal/platform/hl7"
)

// FHIRDispatcher converts a generated HL7 payload into a FHIR message
// Bundle and posts it to the subscriber's base URL.
type FHIRDispatcher struct {
	client   *http.Client
	sourceID string
	logger   zerolog.Logger
}

func NewFHIRDispatcher(timeout time.Duration, sourceID string, logger zerolog.Logger) *FHIRDispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &FHIRDispatcher{
		client:   &http.Client{Timeout: timeout},
		sourceID: sourceID,
		logger:   logger.With().Str("component", "fhir_dispatcher").Logger(),
	}
}

func (d *FHIRDispatcher) Dispatch(ctx context.Context, sub *subscriber.Subscriber, payload string) (string, string, error) {
	msg, err := hl7.Parse([]byte(payload))
	if err != nil {
		return messagelog.StatusGeneratorError, "", err
	}
	adt, err := hl7.ExtractADT(msg)
	if err != nil {
		return messagelog.StatusGeneratorError, "", err
	}

	bundle, err := fhir.MapADT(adt, d.sourceID, time.Now().UTC())
	if err != nil {
		return messagelog.StatusGeneratorError, "", hl7.SubscriberErr(hl7.CodeGeneratorError,
			"bundle mapping failed", "cause", err.Error())
	}
	body, err := json.Marshal(bundle)
	if err != nil {
		return messagelog.StatusGeneratorError, "", hl7.SubscriberErr(hl7.CodeGeneratorError,
			"bundle encoding failed", "cause", err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.Endpoint, bytes.NewReader(body))
	if err != nil {
		return messagelog.StatusAckError, "", hl7.SubscriberErr(hl7.CodeConnectionRefused,
			"bad subscriber URL", "endpoint", sub.Endpoint, "cause", err.Error())
	}
	req.Header.Set("Content-Type", "application/fhir+json")

	resp, err := d.client.Do(req)
	if err != nil {
		if ctx.Err() != nil || isTimeout(err) {
			return messagelog.StatusTimeout, "", hl7.SubscriberErr(hl7.CodeSendTimeout,
				"no reply within timeout", "endpoint", sub.Endpoint)
		}
		return messagelog.StatusAckError, "", hl7.SubscriberErr(hl7.CodeConnectionRefused,
			"cannot reach subscriber endpoint", "endpoint", sub.Endpoint, "cause", err.Error())
	}
	defer resp.Body.Close()
	reply, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return messagelog.StatusAckError, string(reply), hl7.SubscriberErr(hl7.CodeAckNotAA,
			"subscriber refused the bundle",
			"endpoint", sub.Endpoint, "http_status", resp.Status)
	}
	return messagelog.StatusAckOK, string(reply), nil
}
