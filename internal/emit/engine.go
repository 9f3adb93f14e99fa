package emit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/interop/pamgw/internal/domain/messagelog"
	"github.com/interop/pamgw/internal/domain/subscriber"
	"github.com/interop/pamgw/internal/platform/hl7"
)

// Dispatcher delivers one unframed payload to a subscriber endpoint and
// reports the delivery status (sent, ack_ok, ack_error, timeout) plus the
// raw ACK when one was received.
type Dispatcher interface {
	Dispatch(ctx context.Context, sub *subscriber.Subscriber, payload string) (status, ack string, err error)
}

// Engine drains the outbox and fans each pending change out to the matching
// subscribers. One subscriber's failure never affects another; every outcome
// lands in the message log.
type Engine struct {
	outbox      Outbox
	subs        *subscriber.Cache
	gen         *Generator
	loader      SourceLoader
	log         messagelog.Repository
	dispatchers map[string]Dispatcher
	sem         *semaphore.Weighted
	logger      zerolog.Logger

	interval time.Duration
	wake     chan struct{}
	wg       sync.WaitGroup
}

// NewEngine builds the emission engine. concurrency caps simultaneous
// outbound tasks; interval is the outbox poll period.
func NewEngine(outbox Outbox, subs *subscriber.Cache, gen *Generator, loader SourceLoader,
	log messagelog.Repository, dispatchers map[string]Dispatcher,
	concurrency int, interval time.Duration, logger zerolog.Logger) *Engine {
	if concurrency < 1 {
		concurrency = 5
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Engine{
		outbox:      outbox,
		subs:        subs,
		gen:         gen,
		loader:      loader,
		log:         log,
		dispatchers: dispatchers,
		sem:         semaphore.NewWeighted(int64(concurrency)),
		logger:      logger.With().Str("component", "emit").Logger(),
		interval:    interval,
		wake:        make(chan struct{}, 1),
	}
}

// Notify pokes the engine after a commit so emission starts without waiting
// for the next poll tick.
func (e *Engine) Notify() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Run drains the outbox until ctx is cancelled, then waits for in-flight
// tasks.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.wg.Wait()
			return
		case <-ticker.C:
		case <-e.wake:
		}
		e.drain(ctx)
	}
}

func (e *Engine) drain(ctx context.Context) {
	for {
		batch, err := e.outbox.FetchBatch(ctx, 50)
		if err != nil {
			e.logger.Error().Err(err).Msg("fetch outbox batch")
			return
		}
		if len(batch) == 0 {
			return
		}
		for _, p := range batch {
			if err := e.sem.Acquire(ctx, 1); err != nil {
				return
			}
			e.wg.Add(1)
			go func(p Pending) {
				defer e.wg.Done()
				defer e.sem.Release(1)
				e.process(Suppress(ctx), p)
			}(p)
		}
	}
}

// process handles one outbox row end to end. It never returns an error; the
// row's fate is always recorded.
func (e *Engine) process(ctx context.Context, p Pending) {
	src, trigger, err := e.loader.Load(ctx, p)
	if err != nil {
		e.logger.Error().Err(err).Str("entity_kind", p.EntityKind).
			Stringer("entity_id", p.EntityID).Msg("load emission source")
		_ = e.outbox.MarkFailed(ctx, p.ID)
		return
	}
	if src == nil {
		e.logger.Warn().Str("entity_kind", p.EntityKind).
			Stringer("entity_id", p.EntityID).Msg("entity vanished before emission")
		_ = e.outbox.MarkDone(ctx, p.ID)
		return
	}

	subs, err := e.subs.Matching(ctx, p.EntityKind, p.Operation)
	if err != nil {
		e.logger.Error().Err(err).Msg("list subscribers")
		_ = e.outbox.MarkFailed(ctx, p.ID)
		return
	}

	for i := range subs {
		e.emitOne(ctx, trigger, src, &subs[i], p)
	}
	_ = e.outbox.MarkDone(ctx, p.ID)
}

func (e *Engine) emitOne(ctx context.Context, trigger string, src *Source, sub *subscriber.Subscriber, p Pending) {
	entry := &messagelog.Entry{
		Direction:     messagelog.DirectionOut,
		Kind:          sub.Kind,
		EndpointRef:   sub.Name,
		CorrelationID: p.EntityID.String(),
	}

	payload, err := e.gen.Build(trigger, *src, sub, time.Now().UTC())
	if err != nil {
		entry.Status = messagelog.StatusGeneratorError
		entry.ErrorCode = hl7.CodeOf(err)
		e.logger.Warn().Err(err).Str("subscriber", sub.Name).Str("trigger", trigger).
			Msg("generator refused message")
		e.append(ctx, entry)
		return
	}
	entry.Payload = payload

	disp := e.dispatchers[sub.Kind]
	if disp == nil {
		entry.Status = messagelog.StatusGeneratorError
		entry.ErrorCode = hl7.CodeConnectionRefused
		e.logger.Error().Str("subscriber", sub.Name).Str("kind", sub.Kind).
			Msg("no dispatcher for transport kind")
		e.append(ctx, entry)
		return
	}

	status, ack, err := disp.Dispatch(ctx, sub, payload)
	entry.Status = status
	entry.AckPayload = ack
	if err != nil {
		entry.ErrorCode = hl7.CodeOf(err)
		e.logger.Warn().Err(err).Str("subscriber", sub.Name).Str("status", status).
			Msg("dispatch failed")
	}
	e.append(ctx, entry)
}

func (e *Engine) append(ctx context.Context, entry *messagelog.Entry) {
	if err := e.log.Append(ctx, entry); err != nil {
		e.logger.Error().Err(err).Msg("append outbound log entry")
	}
}
