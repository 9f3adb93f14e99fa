// Package ingest orchestrates the inbound pipeline: parse, resolve identity,
// validate the transition, persist the movement, acknowledge. The whole
// domain phase runs in one serializable transaction; the message log is
// written outside it so rejected messages still leave a trace.
package ingest

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/interop/pamgw/internal/domain/dossier"
	"github.com/interop/pamgw/internal/domain/messagelog"
	"github.com/interop/pamgw/internal/domain/namespace"
	"github.com/interop/pamgw/internal/domain/patient"
	"github.com/interop/pamgw/internal/domain/subscriber"
	"github.com/interop/pamgw/internal/emit"
	"github.com/interop/pamgw/internal/platform/db"
	"github.com/interop/pamgw/internal/platform/hl7"
)

// Endpoint identifies where an inbound payload came from, for the log.
type Endpoint struct {
	Kind string // MLLP, FILE
	Ref  string
}

// Handler processes one inbound message end to end.
type Handler struct {
	tx       Txer
	resolver *namespace.Resolver
	patients *patient.Service
	dossiers *dossier.Service
	log      messagelog.Repository
	outbox   emit.Outbox
	strict   bool
	notify   func()
	logger   zerolog.Logger
}

func NewHandler(tx Txer, resolver *namespace.Resolver, patients *patient.Service,
	dossiers *dossier.Service, log messagelog.Repository, outbox emit.Outbox,
	strict bool, notify func(), logger zerolog.Logger) *Handler {
	if notify == nil {
		notify = func() {}
	}
	return &Handler{
		tx:       tx,
		resolver: resolver,
		patients: patients,
		dossiers: dossiers,
		log:      log,
		outbox:   outbox,
		strict:   strict,
		notify:   notify,
		logger:   logger.With().Str("component", "ingest").Logger(),
	}
}

// Handle runs the pipeline on one unframed payload and returns the ACK to
// send back. The ACK is always produced, whatever happened.
func (h *Handler) Handle(ctx context.Context, payload []byte, from Endpoint) (hl7.Ack, []byte) {
	now := time.Now().UTC()

	msg, err := hl7.Parse(payload)
	if err != nil {
		ack := hl7.AckFor("", err)
		ackBytes := hl7.BuildAck(hl7.MSHRecord{}, ack, now)
		h.appendLog(ctx, from, "", messagelog.StatusParseError, payload, ackBytes, hl7.CodeOf(err))
		return ack, ackBytes
	}

	adt, err := hl7.ExtractADT(msg)
	if err != nil {
		msh := mshForAck(msg)
		ack := hl7.AckFor(msh.ControlID, err)
		ackBytes := hl7.BuildAck(msh, ack, now)
		h.appendLog(ctx, from, msh.ControlID, messagelog.StatusParseError, payload, ackBytes, hl7.CodeOf(err))
		return ack, ackBytes
	}

	if adt.MSH.ControlID == "" {
		err := hl7.NewError(hl7.KindParse, hl7.CodeFieldCount, "MSH-10 control id is empty")
		ack := hl7.AckFor("", err)
		ackBytes := hl7.BuildAck(adt.MSH, ack, now)
		h.appendLog(ctx, from, "", messagelog.StatusParseError, payload, ackBytes, hl7.CodeOf(err))
		return ack, ackBytes
	}

	err = h.tx.Run(ctx, func(txCtx context.Context) error {
		return h.apply(txCtx, adt, now)
	})
	if err != nil && db.IsSerializationFailure(err) {
		// Two messages raced on the same file; the loser retries once.
		err = h.tx.Run(ctx, func(txCtx context.Context) error {
			return h.apply(txCtx, adt, now)
		})
		if err != nil && db.IsSerializationFailure(err) {
			err = hl7.TransientErr(hl7.CodeSerializationFailure,
				"concurrent update on the same file", "control_id", adt.MSH.ControlID)
		}
	}

	status := messagelog.StatusApplied
	ack := hl7.Ack{Code: hl7.AckAccept, ControlID: adt.MSH.ControlID}
	if err != nil {
		status = messagelog.StatusRejected
		ack = hl7.AckFor(adt.MSH.ControlID, err)
		h.logger.Warn().Err(err).
			Str("control_id", adt.MSH.ControlID).
			Str("trigger", adt.MSH.Trigger).
			Msg("message rejected")
	}

	ackBytes := hl7.BuildAck(adt.MSH, ack, now)
	h.appendLog(ctx, from, adt.MSH.ControlID, status, payload, ackBytes, ack.ErrCode)
	if err == nil {
		h.notify()
	}
	return ack, ackBytes
}

// apply is the transactional part of the pipeline.
func (h *Handler) apply(ctx context.Context, adt *hl7.ADT, now time.Time) error {
	trigger := adt.MSH.Trigger

	if adt.MSH.Family != "ADT" {
		return hl7.SemanticErr(hl7.CodeUnsupportedTrigger,
			"only ADT messages are handled", "family", adt.MSH.Family)
	}

	p, created, err := h.identityPhase(ctx, adt, trigger)
	if err != nil {
		return err
	}

	if dossier.IdentityOnly(trigger) {
		if trigger == "A40" {
			if err := h.mergePhase(ctx, adt, p); err != nil {
				return err
			}
		}
		return h.outbox.Enqueue(ctx, &emit.Pending{
			EntityID:   p.ID,
			EntityKind: subscriber.EntityPatient,
			Operation:  opFor(created),
			Trigger:    trigger,
		})
	}

	return h.encounterPhase(ctx, adt, p, created, now)
}

func opFor(created bool) string {
	if created {
		return subscriber.OpInsert
	}
	return subscriber.OpUpdate
}

// identityPhase resolves or creates the patient and merges demographics.
func (h *Handler) identityPhase(ctx context.Context, adt *hl7.ADT, trigger string) (*patient.Patient, bool, error) {
	if adt.PID == nil {
		return nil, false, hl7.SemanticErr(hl7.CodeFieldCount, "message carries no PID segment")
	}

	id, err := h.resolver.Resolve(ctx, adt.PID.Identifiers, namespace.OwnerPatient)
	if err != nil {
		return nil, false, err
	}

	var p *patient.Patient
	created := false
	if id == uuid.Nil {
		p, err = h.patients.CreateFromPID(ctx, adt.PID)
		if err != nil {
			return nil, false, err
		}
		created = true
	} else {
		p, err = h.patients.Get(ctx, id)
		if err != nil {
			return nil, false, err
		}
		if err := h.patients.ApplyDemographics(ctx, p, adt.PID); err != nil {
			return nil, false, err
		}
	}

	for _, cx := range adt.PID.Identifiers {
		if err := h.resolver.Attach(ctx, cx, namespace.OwnerPatient, p.ID); err != nil {
			return nil, false, err
		}
	}
	return p, created, nil
}

// mergePhase folds the MRG patient into the surviving one: files move to the
// survivor, the prior identifiers go inactive, the prior record stays for
// audit.
func (h *Handler) mergePhase(ctx context.Context, adt *hl7.ADT, survivor *patient.Patient) error {
	if !adt.MRG.Present || len(adt.MRG.PriorIdentifiers) == 0 {
		return hl7.SemanticErr(hl7.CodeMissingMRG, "A40 requires an MRG segment")
	}
	priorID, err := h.resolver.Resolve(ctx, adt.MRG.PriorIdentifiers, namespace.OwnerPatient)
	if err != nil {
		return err
	}
	if priorID == uuid.Nil || priorID == survivor.ID {
		return nil
	}
	if err := h.dossiers.Repo().ReassignFiles(ctx, priorID, survivor.ID); err != nil {
		return err
	}
	return h.resolver.Deactivate(ctx, namespace.OwnerPatient, priorID)
}

// encounterPhase resolves the file and visit, validates the transition and
// records the movement.
func (h *Handler) encounterPhase(ctx context.Context, adt *hl7.ADT, p *patient.Patient, pCreated bool, now time.Time) error {
	trigger := adt.MSH.Trigger

	if adt.PV1 == nil && trigger != "Z99" {
		return hl7.SemanticErr(hl7.CodeMissingPV1,
			"PV1 segment is mandatory for this trigger", "trigger", trigger)
	}

	f, fCreated, err := h.resolveFile(ctx, adt, p, now)
	if err != nil {
		return err
	}

	// Row lock: two messages for the same file serialize here.
	if locked, err := h.dossiers.Repo().LockFile(ctx, f.ID); err != nil {
		return err
	} else if locked != nil {
		f = locked
	}

	v, err := h.dossiers.Repo().LatestVisit(ctx, f.ID)
	if err != nil {
		return err
	}
	vCreated := false
	if v == nil {
		if v, err = h.dossiers.OpenVisit(ctx, f, adt.PV1, now); err != nil {
			return err
		}
		vCreated = true
	}

	class := ""
	if adt.PV1 != nil {
		class = adt.PV1.Class
	}
	state := dossier.State{Current: f.CurrentState, VisitStatus: v.Status}
	if err := dossier.Validate(state, trigger, class, adt.ZBE, h.strict); err != nil {
		return err
	}

	m, err := h.dossiers.ApplyMovement(ctx, f, v, trigger, adt.ZBE, adt.PV1, now)
	if err != nil {
		return err
	}

	for _, rec := range adt.Z99 {
		if err := h.dossiers.ApplyZ99(ctx, rec); err != nil {
			return err
		}
	}

	if adt.PV1 != nil && adt.PV1.VisitNumber.Value != "" {
		if err := h.resolver.Attach(ctx, adt.PV1.VisitNumber, namespace.OwnerAdminFile, f.ID); err != nil {
			return err
		}
	}
	if adt.ZBE.Present && adt.ZBE.MovementID.Value != "" {
		if err := h.resolver.Attach(ctx, adt.ZBE.MovementID, namespace.OwnerMovement, m.ID); err != nil {
			return err
		}
	}

	// Every entity the message touched gets an outbox tuple; the pending
	// dedup index collapses repeats within one drain cycle.
	for _, pend := range []emit.Pending{
		{EntityID: p.ID, EntityKind: subscriber.EntityPatient, Operation: opFor(pCreated), Trigger: trigger},
		{EntityID: f.ID, EntityKind: subscriber.EntityAdminFile, Operation: opFor(fCreated), Trigger: trigger},
		{EntityID: v.ID, EntityKind: subscriber.EntityVisit, Operation: opFor(vCreated), Trigger: trigger},
		{EntityID: m.ID, EntityKind: subscriber.EntityMovement, Operation: subscriber.OpInsert, Trigger: trigger},
	} {
		pend := pend
		if err := h.outbox.Enqueue(ctx, &pend); err != nil {
			return err
		}
	}
	return nil
}

// resolveFile finds the patient's file by NDA, then by admit time, and
// otherwise opens a new one. For a non-opening trigger the fresh file fails
// the transition check, which is the correct rejection.
func (h *Handler) resolveFile(ctx context.Context, adt *hl7.ADT, p *patient.Patient, now time.Time) (*dossier.AdminFile, bool, error) {
	repo := h.dossiers.Repo()

	if adt.PV1 != nil && adt.PV1.VisitNumber.Value != "" {
		id, err := h.resolver.Resolve(ctx, []hl7.CX{adt.PV1.VisitNumber}, namespace.OwnerAdminFile)
		if err != nil {
			return nil, false, err
		}
		if id != uuid.Nil {
			f, err := repo.GetFile(ctx, id)
			if err != nil {
				return nil, false, err
			}
			if f != nil {
				return f, false, nil
			}
		}
	}

	if adt.PV1 != nil && !adt.PV1.AdmitTime.IsZero() {
		f, err := repo.FindFileByAdmit(ctx, p.ID, adt.PV1.AdmitTime)
		if err != nil {
			return nil, false, err
		}
		if f != nil {
			return f, false, nil
		}
	}

	f, err := h.dossiers.CreateFile(ctx, p.ID, adt.PV1, timestampOr(adt.MSH.Timestamp, now))
	if err != nil {
		return nil, false, err
	}
	return f, true, nil
}

// appendLog writes the audit row in its own short transaction so it survives
// a domain rollback.
func (h *Handler) appendLog(ctx context.Context, from Endpoint, correlationID, status string, payload, ack []byte, errCode string) {
	entry := &messagelog.Entry{
		Direction:     messagelog.DirectionIn,
		Kind:          from.Kind,
		EndpointRef:   from.Ref,
		CorrelationID: correlationID,
		Status:        status,
		Payload:       string(payload),
		AckPayload:    string(ack),
		ErrorCode:     errCode,
	}
	if err := h.log.Append(ctx, entry); err != nil {
		h.logger.Error().Err(err).Msg("append inbound log entry")
	}
}

// mshForAck extracts just enough of a malformed message's header to address
// the ACK.
func mshForAck(msg *hl7.Message) hl7.MSHRecord {
	seg := msg.Segment("MSH")
	if seg == nil {
		return hl7.MSHRecord{}
	}
	return hl7.MSHRecord{
		SendingApp:        seg.Field(3),
		SendingFacility:   seg.Field(4),
		ReceivingApp:      seg.Field(5),
		ReceivingFacility: seg.Field(6),
		Trigger:           seg.Component(9, 2),
		ControlID:         seg.Field(10),
		Version:           seg.Field(12),
	}
}

func timestampOr(t, fallback time.Time) time.Time {
	if t.IsZero() {
		return fallback
	}
	return t
}
