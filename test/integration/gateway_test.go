package integration

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/interop/pamgw/internal/domain/dossier"
	"github.com/interop/pamgw/internal/domain/messagelog"
	"github.com/interop/pamgw/internal/domain/namespace"
	"github.com/interop/pamgw/internal/domain/patient"
	"github.com/interop/pamgw/internal/domain/sequence"
	"github.com/interop/pamgw/internal/emit"
	"github.com/interop/pamgw/internal/ingest"
	"github.com/interop/pamgw/internal/platform/hl7"
)

func newGateway(t *testing.T) *ingest.Handler {
	t.Helper()
	seq := sequence.NewPGAllocator(testPool, 10)
	nsRepo := namespace.NewRepo(testPool)
	return ingest.NewHandler(
		ingest.NewTxer(testPool),
		namespace.NewResolver(nsRepo, zerolog.Nop()),
		patient.NewService(patient.NewRepo(testPool), seq),
		dossier.NewService(dossier.NewRepo(testPool), seq),
		messagelog.NewRepo(testPool),
		emit.NewOutbox(testPool),
		false,
		nil,
		zerolog.Nop(),
	)
}

func handle(t *testing.T, h *ingest.Handler, payload string) hl7.Ack {
	t.Helper()
	ack, _ := h.Handle(context.Background(), []byte(payload),
		ingest.Endpoint{Kind: "MLLP", Ref: "integration"})
	return ack
}

const (
	admitA01 = "MSH|^~\\&|SRC|FAC|DST|FAC|20250513081608||ADT^A01|INT001|P|2.5\r" +
		"PID|||0001^^^CPAGE&1.2.250.1.211.10.200.2&ISO^PI||DOE^JOHN||19800101|M\r" +
		"PV1||I|SERV^101^01|||||||||||||||V100\r" +
		"ZBE|1^MOVT^1.2.250.1.213.1.1.1.4^ISO|20250513081608||INSERT|N|A01|^^^^^^UF^^^CARDIO|||M"

	transferA02 = "MSH|^~\\&|SRC|FAC|DST|FAC|20250513101500||ADT^A02|INT002|P|2.5\r" +
		"PID|||0001^^^CPAGE&1.2.250.1.211.10.200.2&ISO^PI||DOE^JOHN||19800101|M\r" +
		"PV1||I|SERV2^202^02|||||||||||||||V100\r" +
		"ZBE|2^MOVT^1.2.250.1.213.1.1.1.4^ISO|20250513101500||INSERT|N|A02|^^^^^^UF^^^CARDIO|||H"

	dischargeA03 = "MSH|^~\\&|SRC|FAC|DST|FAC|20250514173000||ADT^A03|INT003|P|2.5\r" +
		"PID|||0001^^^CPAGE&1.2.250.1.211.10.200.2&ISO^PI||DOE^JOHN||19800101|M\r" +
		"PV1||I|SERV2^202^02|||||||||||||||V100\r" +
		"ZBE|3^MOVT^1.2.250.1.213.1.1.1.4^ISO|20250514173000||INSERT|N|A03|^^^^^^UF^^^CARDIO|||D"
)

func TestAdmissionFlowAgainstPostgres(t *testing.T) {
	resetTables(t)
	h := newGateway(t)

	if ack := handle(t, h, admitA01); ack.Code != hl7.AckAccept {
		t.Fatalf("A01 ack = %+v", ack)
	}

	if n := countRows(t, "patient"); n != 1 {
		t.Fatalf("patient rows = %d, want 1", n)
	}
	if n := countRows(t, "admin_file"); n != 1 {
		t.Fatalf("admin_file rows = %d, want 1", n)
	}
	var state string
	if err := testPool.QueryRow(context.Background(),
		`SELECT current_state FROM admin_file`).Scan(&state); err != nil {
		t.Fatalf("read file state: %v", err)
	}
	if state != "A01" {
		t.Fatalf("file state = %q, want A01", state)
	}

	// One pending emission per touched entity, one applied log row.
	if n := countRows(t, "emission_outbox"); n != 4 {
		t.Fatalf("outbox rows = %d, want 4", n)
	}
	var logStatus string
	if err := testPool.QueryRow(context.Background(),
		`SELECT status FROM message_log WHERE correlation_id = 'INT001'`).Scan(&logStatus); err != nil {
		t.Fatalf("read log row: %v", err)
	}
	if logStatus != messagelog.StatusApplied {
		t.Fatalf("log status = %q", logStatus)
	}
}

func TestFullStayReusesPatientAndFile(t *testing.T) {
	resetTables(t)
	h := newGateway(t)

	for _, payload := range []string{admitA01, transferA02, dischargeA03} {
		if ack := handle(t, h, payload); ack.Code != hl7.AckAccept {
			t.Fatalf("ack = %+v for payload %.40s", ack, payload)
		}
	}

	// The three messages share PID and visit number: one patient, one file.
	if n := countRows(t, "patient"); n != 1 {
		t.Fatalf("patient rows = %d, want 1", n)
	}
	if n := countRows(t, "admin_file"); n != 1 {
		t.Fatalf("admin_file rows = %d, want 1", n)
	}
	if n := countRows(t, "movement"); n != 3 {
		t.Fatalf("movement rows = %d, want 3", n)
	}

	var state string
	var discharged bool
	if err := testPool.QueryRow(context.Background(),
		`SELECT current_state, discharge_time IS NOT NULL FROM admin_file`).Scan(&state, &discharged); err != nil {
		t.Fatalf("read file: %v", err)
	}
	if state != "A03" || !discharged {
		t.Fatalf("file state = %q discharged = %v", state, discharged)
	}
}

func TestInvalidTransitionIsRejectedAndLogged(t *testing.T) {
	resetTables(t)
	h := newGateway(t)

	if ack := handle(t, h, admitA01); ack.Code != hl7.AckAccept {
		t.Fatalf("A01 ack = %+v", ack)
	}

	// A second admission on the same file is not a legal transition.
	replay := "MSH|^~\\&|SRC|FAC|DST|FAC|20250513090000||ADT^A01|INT004|P|2.5\r" +
		"PID|||0001^^^CPAGE&1.2.250.1.211.10.200.2&ISO^PI||DOE^JOHN||19800101|M\r" +
		"PV1||I|SERV^101^01|||||||||||||||V100\r" +
		"ZBE|4^MOVT^1.2.250.1.213.1.1.1.4^ISO|20250513090000||INSERT|N|A01|^^^^^^UF^^^CARDIO|||M"
	ack := handle(t, h, replay)
	if ack.Code == hl7.AckAccept {
		t.Fatal("duplicate admission was accepted")
	}
	if ack.ErrCode != hl7.CodeInvalidTransition {
		t.Fatalf("err code = %q, want %q", ack.ErrCode, hl7.CodeInvalidTransition)
	}

	// The rejection left a trace without touching the domain rows.
	var logStatus string
	if err := testPool.QueryRow(context.Background(),
		`SELECT status FROM message_log WHERE correlation_id = 'INT004'`).Scan(&logStatus); err != nil {
		t.Fatalf("read log row: %v", err)
	}
	if logStatus != messagelog.StatusRejected {
		t.Fatalf("log status = %q", logStatus)
	}
	if n := countRows(t, "movement"); n != 1 {
		t.Fatalf("movement rows = %d, want 1", n)
	}
}

func TestIdentifierResolutionAcrossMessages(t *testing.T) {
	resetTables(t)
	h := newGateway(t)

	// Identity-only creation, then an update on the same identifier.
	create := "MSH|^~\\&|SRC|FAC|DST|FAC|20250513081608||ADT^A28|INT010|P|2.5\r" +
		"PID|||0002^^^CPAGE&1.2.250.1.211.10.200.2&ISO^PI||MARTIN^ANNE||19900215|F"
	update := "MSH|^~\\&|SRC|FAC|DST|FAC|20250513090000||ADT^A31|INT011|P|2.5\r" +
		"PID|||0002^^^CPAGE&1.2.250.1.211.10.200.2&ISO^PI||MARTIN^ANNE-SOPHIE||19900215|F"

	if ack := handle(t, h, create); ack.Code != hl7.AckAccept {
		t.Fatalf("A28 ack = %+v", ack)
	}
	if ack := handle(t, h, update); ack.Code != hl7.AckAccept {
		t.Fatalf("A31 ack = %+v", ack)
	}

	if n := countRows(t, "patient"); n != 1 {
		t.Fatalf("patient rows = %d, want 1", n)
	}
	var given string
	if err := testPool.QueryRow(context.Background(),
		`SELECT given FROM patient_name WHERE kind = 'D'`).Scan(&given); err != nil {
		t.Fatalf("read name: %v", err)
	}
	if given != "ANNE-SOPHIE" {
		t.Fatalf("given = %q, want ANNE-SOPHIE", given)
	}

	// One active identifier, bound to the single patient.
	var n int
	if err := testPool.QueryRow(context.Background(),
		`SELECT COUNT(*) FROM identifier WHERE status = 'active'`).Scan(&n); err != nil {
		t.Fatalf("count identifiers: %v", err)
	}
	if n != 1 {
		t.Fatalf("active identifiers = %d, want 1", n)
	}
}
