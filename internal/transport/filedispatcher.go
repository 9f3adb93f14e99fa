package transport

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/interop/pamgw/internal/domain/messagelog"
	"github.com/interop/pamgw/internal/domain/subscriber"
	"github.com/interop/pamgw/internal/platform/hl7"
)

// FileDispatcher writes generated messages into a FILE subscriber's outbox
// directory, one file per message. The write goes to a temp name first so
// the consumer never sees a half-written file.
type FileDispatcher struct {
	logger zerolog.Logger
	n      atomic.Uint64
}

func NewFileDispatcher(logger zerolog.Logger) *FileDispatcher {
	return &FileDispatcher{logger: logger.With().Str("component", "file_dispatcher").Logger()}
}

// Dispatch drops the payload as <timestamp>_<n>.hl7 under sub.Endpoint. A
// file subscriber never acknowledges, so the status is sent.
func (d *FileDispatcher) Dispatch(_ context.Context, sub *subscriber.Subscriber, payload string) (string, string, error) {
	if err := os.MkdirAll(sub.Endpoint, 0o755); err != nil {
		return messagelog.StatusAckError, "", hl7.SubscriberErr(hl7.CodeConnectionRefused,
			"cannot create subscriber outbox", "endpoint", sub.Endpoint, "cause", err.Error())
	}

	name := fmt.Sprintf("%s_%06d.hl7",
		time.Now().UTC().Format("20060102150405"), d.n.Add(1))
	tmp := filepath.Join(sub.Endpoint, "."+name+".tmp")
	final := filepath.Join(sub.Endpoint, name)

	if err := os.WriteFile(tmp, []byte(payload), 0o644); err != nil {
		return messagelog.StatusAckError, "", hl7.SubscriberErr(hl7.CodeConnectionRefused,
			"write outbox file", "endpoint", sub.Endpoint, "cause", err.Error())
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return messagelog.StatusAckError, "", hl7.SubscriberErr(hl7.CodeConnectionRefused,
			"publish outbox file", "endpoint", sub.Endpoint, "cause", err.Error())
	}

	d.logger.Debug().Str("subscriber", sub.Name).Str("file", final).Msg("message written")
	return messagelog.StatusSent, "", nil
}
