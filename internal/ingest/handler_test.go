package ingest

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/interop/pamgw/internal/domain/dossier"
	"github.com/interop/pamgw/internal/domain/messagelog"
	"github.com/interop/pamgw/internal/domain/namespace"
	"github.com/interop/pamgw/internal/domain/patient"
	"github.com/interop/pamgw/internal/domain/sequence"
	"github.com/interop/pamgw/internal/domain/subscriber"
	"github.com/interop/pamgw/internal/emit"
	"github.com/interop/pamgw/internal/platform/hl7"
)

type fixture struct {
	handler  *Handler
	patients *patient.InMemoryRepo
	files    *dossier.InMemoryRepo
	log      *messagelog.InMemoryRepo
	outbox   *emit.InMemoryOutbox
	notified int
}

func newFixture(strict bool) *fixture {
	fx := &fixture{
		patients: patient.NewInMemoryRepo(),
		files:    dossier.NewInMemoryRepo(),
		log:      messagelog.NewInMemoryRepo(),
		outbox:   emit.NewInMemoryOutbox(),
	}
	seq := sequence.NewInMemory()
	nsRepo := namespace.NewInMemoryRepo()
	fx.handler = NewHandler(
		NopTxer{},
		namespace.NewResolver(nsRepo, zerolog.Nop()),
		patient.NewService(fx.patients, seq),
		dossier.NewService(fx.files, seq),
		fx.log,
		fx.outbox,
		strict,
		func() { fx.notified++ },
		zerolog.Nop(),
	)
	return fx
}

const endpointRef = "test"

func (fx *fixture) handle(t *testing.T, payload string) hl7.Ack {
	t.Helper()
	ack, _ := fx.handler.Handle(context.Background(), []byte(payload),
		Endpoint{Kind: "MLLP", Ref: endpointRef})
	return ack
}

func msgA01() string {
	return "MSH|^~\\&|SRC|FAC|DST|FAC|20250513081608||ADT^A01|C001|P|2.5\r" +
		"PID|||0001^^^CPAGE&1.2.250.1.211.10.200.2&ISO^PI||DOE^JOHN||19800101|M\r" +
		"PV1||I|SERV^101^01|||||||||||||||V100\r" +
		"ZBE|1^MOVT^1.2.250.1.213.1.1.1.4^ISO|20250513081608||INSERT|N|A01|^^^^^^UF^^^CARDIO|||M"
}

func msgA02() string {
	return "MSH|^~\\&|SRC|FAC|DST|FAC|20250513101500||ADT^A02|C002|P|2.5\r" +
		"PID|||0001^^^CPAGE&1.2.250.1.211.10.200.2&ISO^PI||DOE^JOHN||19800101|M\r" +
		"PV1||I|SERV2^202^02|||||||||||||||V100\r" +
		"ZBE|2^MOVT^1.2.250.1.213.1.1.1.4^ISO|20250513101500||INSERT|N|A02|^^^^^^UF^^^CARDIO|||H"
}

func msgA03() string {
	return "MSH|^~\\&|SRC|FAC|DST|FAC|20250514173000||ADT^A03|C003|P|2.5\r" +
		"PID|||0001^^^CPAGE&1.2.250.1.211.10.200.2&ISO^PI||DOE^JOHN||19800101|M\r" +
		"PV1||I|SERV2^202^02|||||||||||||||V100\r" +
		"ZBE|3^MOVT^1.2.250.1.213.1.1.1.4^ISO|20250514173000||INSERT|N|A03|^^^^^^UF^^^CARDIO|||D"
}

func (fx *fixture) soleFile(t *testing.T) *dossier.AdminFile {
	t.Helper()
	f, err := fx.files.GetFileBySeq(context.Background(), 1)
	if err != nil || f == nil {
		t.Fatalf("file lookup: %v %v", f, err)
	}
	return f
}

func TestAdmissionTransferDischarge(t *testing.T) {
	fx := newFixture(false)
	ctx := context.Background()

	if ack := fx.handle(t, msgA01()); ack.Code != hl7.AckAccept || ack.ControlID != "C001" {
		t.Fatalf("A01 ack: %+v", ack)
	}
	f := fx.soleFile(t)
	if f.UFMedical != "CARDIO" || f.UFHousing != "SERV" || f.CurrentState != "A01" {
		t.Fatalf("after A01: medical=%q housing=%q state=%q", f.UFMedical, f.UFHousing, f.CurrentState)
	}
	if fx.notified != 1 {
		t.Errorf("engine not notified")
	}

	if ack := fx.handle(t, msgA02()); ack.Code != hl7.AckAccept {
		t.Fatalf("A02 ack: %+v", ack)
	}
	f = fx.soleFile(t)
	if f.CurrentState != "A02" || f.UFHousing != "SERV2" || f.UFMedical != "CARDIO" {
		t.Fatalf("after A02: %+v", f)
	}

	if ack := fx.handle(t, msgA03()); ack.Code != hl7.AckAccept {
		t.Fatalf("A03 ack: %+v", ack)
	}
	f = fx.soleFile(t)
	if f.CurrentState != "A03" || f.DischargeTime == nil {
		t.Fatalf("after A03: %+v", f)
	}
	v, _ := fx.files.LatestVisit(ctx, f.ID)
	if v.Status != dossier.VisitFinished || v.EndTime == nil {
		t.Fatalf("visit: %+v", v)
	}
	movements, _ := fx.files.ListMovements(ctx, v.ID)
	if len(movements) != 3 {
		t.Fatalf("movements: %d", len(movements))
	}

	applied, _ := fx.log.List(ctx, messagelog.Filter{Status: messagelog.StatusApplied})
	if len(applied) != 3 {
		t.Errorf("applied log rows: %d", len(applied))
	}
}

func TestAdmissionSchedulesAllEntityEmissions(t *testing.T) {
	fx := newFixture(false)
	ctx := context.Background()

	if ack := fx.handle(t, msgA01()); ack.Code != hl7.AckAccept {
		t.Fatalf("A01 ack: %+v", ack)
	}

	rows, _ := fx.outbox.FetchBatch(ctx, 10)
	got := map[string]string{}
	for _, r := range rows {
		got[r.EntityKind] = r.Operation
	}
	want := map[string]string{
		subscriber.EntityPatient:   subscriber.OpInsert,
		subscriber.EntityAdminFile: subscriber.OpInsert,
		subscriber.EntityVisit:     subscriber.OpInsert,
		subscriber.EntityMovement:  subscriber.OpInsert,
	}
	if len(rows) != len(want) {
		t.Fatalf("outbox rows: %d, want %d (%+v)", len(rows), len(want), got)
	}
	for kind, op := range want {
		if got[kind] != op {
			t.Errorf("kind %s: op %q, want %q", kind, got[kind], op)
		}
	}

	// A follow-up transfer updates the existing entities.
	if ack := fx.handle(t, msgA02()); ack.Code != hl7.AckAccept {
		t.Fatalf("A02 ack: %+v", ack)
	}
	rows, _ = fx.outbox.FetchBatch(ctx, 10)
	ops := map[string]string{}
	for _, r := range rows {
		ops[r.EntityKind] = r.Operation
	}
	if ops[subscriber.EntityPatient] != subscriber.OpUpdate ||
		ops[subscriber.EntityAdminFile] != subscriber.OpUpdate ||
		ops[subscriber.EntityVisit] != subscriber.OpUpdate ||
		ops[subscriber.EntityMovement] != subscriber.OpInsert {
		t.Fatalf("transfer ops: %+v", ops)
	}
}

func TestInvalidReturnWithoutLeave(t *testing.T) {
	fx := newFixture(false)
	ctx := context.Background()

	fx.handle(t, msgA01())
	fx.handle(t, msgA02())
	fx.handle(t, msgA03())

	a22 := "MSH|^~\\&|SRC|FAC|DST|FAC|20250514180000||ADT^A22|C004|P|2.5\r" +
		"PID|||0001^^^CPAGE&1.2.250.1.211.10.200.2&ISO^PI||DOE^JOHN\r" +
		"PV1||I|SERV^101^01|||||||||||||||V100\r" +
		"ZBE|4^MOVT^1.2.250.1.213.1.1.1.4^ISO|20250514180000||INSERT|N|A22|^^^^^^UF^^^CARDIO|||M"

	ack := fx.handle(t, a22)
	if ack.Code != hl7.AckError || ack.ControlID != "C004" {
		t.Fatalf("ack: %+v", ack)
	}
	if !strings.Contains(ack.Text, "Transition IHE invalide: A03 -> A22") {
		t.Errorf("ack text: %q", ack.Text)
	}

	f := fx.soleFile(t)
	v, _ := fx.files.LatestVisit(ctx, f.ID)
	movements, _ := fx.files.ListMovements(ctx, v.ID)
	if len(movements) != 3 {
		t.Errorf("rejected message must not add a movement, got %d", len(movements))
	}
	rejected, _ := fx.log.List(ctx, messagelog.Filter{Status: messagelog.StatusRejected})
	if len(rejected) != 1 || rejected[0].ErrorCode != hl7.CodeInvalidTransition {
		t.Errorf("rejected log: %+v", rejected)
	}
}

func TestZ99CorrectionInValidWindow(t *testing.T) {
	fx := newFixture(false)
	ctx := context.Background()

	fx.handle(t, msgA01())

	z99 := "MSH|^~\\&|SRC|FAC|DST|FAC|20250513110000||ADT^Z99|C010|P|2.5\r" +
		"PID|||0001^^^CPAGE&1.2.250.1.211.10.200.2&ISO^PI||DOE^JOHN\r" +
		"PV1||I|SERV^102^01|||||||||||||||V100\r" +
		"ZBE|5^MOVT^1.2.250.1.213.1.1.1.4^ISO|20250513110000||UPDATE|N|A01|^^^^^^UF^^^CARDIO|||C\r" +
		"Z99|Visit|1|location|SERV^102^01"

	ack := fx.handle(t, z99)
	if ack.Code != hl7.AckAccept {
		t.Fatalf("ack: %+v", ack)
	}

	f := fx.soleFile(t)
	if f.CurrentState != "A01" {
		t.Errorf("current state must survive a correction: %q", f.CurrentState)
	}
	v, _ := fx.files.LatestVisit(ctx, f.ID)
	if v.Location != "SERV^102^01" {
		t.Errorf("location: %q", v.Location)
	}
	movements, _ := fx.files.ListMovements(ctx, v.ID)
	last := movements[len(movements)-1]
	if last.Trigger != "Z99" || last.Action != hl7.ActionUpdate || last.Nature != hl7.NatureCancellation {
		t.Errorf("correction movement: %+v", last)
	}
}

func TestZ99CorrectionOutsideWindowRejected(t *testing.T) {
	fx := newFixture(false)

	fx.handle(t, msgA01())
	fx.handle(t, msgA02())
	fx.handle(t, msgA03())

	z99 := "MSH|^~\\&|SRC|FAC|DST|FAC|20250515090000||ADT^Z99|C011|P|2.5\r" +
		"PID|||0001^^^CPAGE&1.2.250.1.211.10.200.2&ISO^PI||DOE^JOHN\r" +
		"PV1||I|SERV^102^01|||||||||||||||V100\r" +
		"ZBE|6^MOVT^1.2.250.1.213.1.1.1.4^ISO|20250515090000||UPDATE|N|A01|^^^^^^UF^^^CARDIO|||C\r" +
		"Z99|Visit|1|location|SERV^102^01"

	ack := fx.handle(t, z99)
	if ack.Code != hl7.AckError || ack.ErrCode != hl7.CodeInvalidCorrectionContext {
		t.Fatalf("ack: %+v", ack)
	}
}

func TestIdentityCreateIsIdempotent(t *testing.T) {
	fx := newFixture(false)
	ctx := context.Background()

	a28 := "MSH|^~\\&|SRC|FAC|DST|FAC|20250513081608||ADT^A28|C020|P|2.5\r" +
		"PID|||0001^^^CPAGE&1.2.250.1.211.10.200.2&ISO^PI||DOE^JOHN||19800101|M"

	if ack := fx.handle(t, a28); ack.Code != hl7.AckAccept {
		t.Fatalf("first A28: %+v", ack)
	}
	if ack := fx.handle(t, a28); ack.Code != hl7.AckAccept {
		t.Fatalf("second A28: %+v", ack)
	}

	rows, _ := fx.outbox.FetchBatch(ctx, 10)
	if len(rows) == 0 {
		t.Fatal("no emissions scheduled")
	}
	for _, r := range rows[1:] {
		if r.EntityID != rows[0].EntityID {
			t.Fatal("re-sent A28 created a second patient")
		}
	}
}

func TestCancelAdmissionScenario(t *testing.T) {
	fx := newFixture(false)
	ctx := context.Background()

	fx.handle(t, msgA01())

	a11 := "MSH|^~\\&|SRC|FAC|DST|FAC|20250513120000||ADT^A11|C030|P|2.5\r" +
		"PID|||0001^^^CPAGE&1.2.250.1.211.10.200.2&ISO^PI||DOE^JOHN\r" +
		"PV1||I|SERV^101^01|||||||||||||||V100\r" +
		"ZBE|7^MOVT^1.2.250.1.213.1.1.1.4^ISO|20250513120000||CANCEL|Y|A01|^^^^^^UF^^^CARDIO|||C"

	// Nature C outside Z99 is rejected; cancellations carry no nature.
	if ack := fx.handle(t, a11); ack.Code != hl7.AckError {
		t.Fatalf("nature C on A11: %+v", ack)
	}

	a11 = strings.Replace(a11, "|||C", "|||", 1)
	if ack := fx.handle(t, a11); ack.Code != hl7.AckAccept {
		t.Fatalf("A11 ack: %+v", ack)
	}

	f := fx.soleFile(t)
	if f.CurrentState != "A11" {
		t.Errorf("current state: %q", f.CurrentState)
	}
	v, _ := fx.files.LatestVisit(ctx, f.ID)
	if v.Status != dossier.VisitCancelled {
		t.Errorf("visit status: %q", v.Status)
	}
	movements, _ := fx.files.ListMovements(ctx, v.ID)
	if !movements[0].Cancelled {
		t.Error("admission movement must be flagged cancelled")
	}
}

func TestMergeReassignsFilesAndRetiresIdentifiers(t *testing.T) {
	fx := newFixture(false)
	ctx := context.Background()

	// Patient 0002 gets admitted under its own file.
	admit := strings.ReplaceAll(msgA01(), "0001^", "0002^")
	if ack := fx.handle(t, admit); ack.Code != hl7.AckAccept {
		t.Fatalf("A01 ack: %+v", ack)
	}
	priorPatientID := fx.soleFile(t).PatientID

	// 0001 survives the merge, 0002 is the prior identity.
	a40 := "MSH|^~\\&|SRC|FAC|DST|FAC|20250514090000||ADT^A40|C070|P|2.5\r" +
		"PID|||0001^^^CPAGE&1.2.250.1.211.10.200.2&ISO^PI||DOE^JOHN||19800101|M\r" +
		"MRG|0002^^^CPAGE&1.2.250.1.211.10.200.2&ISO^PI"
	if ack := fx.handle(t, a40); ack.Code != hl7.AckAccept {
		t.Fatalf("A40 ack: %+v", ack)
	}

	f := fx.soleFile(t)
	if f.PatientID == priorPatientID {
		t.Error("file still attached to the merged-away patient")
	}

	// The A40 emission carries the survivor, which now owns the file.
	rows, _ := fx.outbox.FetchBatch(ctx, 10)
	last := rows[len(rows)-1]
	if last.EntityKind != subscriber.EntityPatient || last.EntityID != f.PatientID {
		t.Fatalf("merge emission: %+v, file owner %s", last, f.PatientID)
	}
}

func TestMissingPV1OnAdmission(t *testing.T) {
	fx := newFixture(false)

	noPV1 := "MSH|^~\\&|SRC|FAC|DST|FAC|20250513081608||ADT^A01|C040|P|2.5\r" +
		"PID|||0001^^^CPAGE&1.2.250.1.211.10.200.2&ISO^PI||DOE^JOHN\r" +
		"ZBE|1^MOVT^1.2.250.1.213.1.1.1.4^ISO|20250513081608||INSERT|N|A01|^^^^^^UF^^^CARDIO|||M"

	ack := fx.handle(t, noPV1)
	if ack.Code != hl7.AckError || ack.ErrCode != hl7.CodeMissingPV1 {
		t.Fatalf("ack: %+v", ack)
	}
}

func TestEmptyMessageTypeRejected(t *testing.T) {
	fx := newFixture(false)

	empty := "MSH|^~\\&|SRC|FAC|DST|FAC|20250513081608|||C050|P|2.5\r" +
		"PID|||0001^^^CPAGE&1.2.250.1.211.10.200.2&ISO^PI||DOE^JOHN"

	ack := fx.handle(t, empty)
	if ack.Code != hl7.AckError || ack.ErrCode != hl7.CodeMissingMSH9 {
		t.Fatalf("ack: %+v", ack)
	}
	entries, _ := fx.log.List(context.Background(), messagelog.Filter{Status: messagelog.StatusParseError})
	if len(entries) != 1 {
		t.Errorf("parse_error log rows: %d", len(entries))
	}
}

func TestStrictModeRejectsInboundA08(t *testing.T) {
	fx := newFixture(true)

	fx.handle(t, msgA01())

	a08 := "MSH|^~\\&|SRC|FAC|DST|FAC|20250513130000||ADT^A08|C060|P|2.5\r" +
		"PID|||0001^^^CPAGE&1.2.250.1.211.10.200.2&ISO^PI||DOE^JOHN\r" +
		"PV1||I|SERV^101^01|||||||||||||||V100\r" +
		"ZBE|8^MOVT^1.2.250.1.213.1.1.1.4^ISO|20250513130000||UPDATE|N|A08|^^^^^^UF^^^CARDIO|||M"

	ack := fx.handle(t, a08)
	if ack.Code != hl7.AckError || ack.ErrCode != hl7.CodeStrictModeBlocked {
		t.Fatalf("ack: %+v", ack)
	}
	if !strings.Contains(ack.Text, "A08 désactivé") {
		t.Errorf("ack text: %q", ack.Text)
	}
}
