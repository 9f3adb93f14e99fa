package emit

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/interop/pamgw/internal/domain/subscriber"
)

func TestOutboxDeduplicatesPending(t *testing.T) {
	ctx := context.Background()
	outbox := NewInMemoryOutbox()
	id := uuid.New()

	for i := 0; i < 3; i++ {
		err := outbox.Enqueue(ctx, &Pending{
			EntityID: id, EntityKind: subscriber.EntityMovement, Operation: subscriber.OpInsert,
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	// A different operation is a distinct tuple.
	if err := outbox.Enqueue(ctx, &Pending{
		EntityID: id, EntityKind: subscriber.EntityMovement, Operation: subscriber.OpUpdate,
	}); err != nil {
		t.Fatal(err)
	}

	batch, err := outbox.FetchBatch(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(batch) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(batch))
	}
}

func TestSuppressedContextDropsEnqueue(t *testing.T) {
	ctx := context.Background()
	outbox := NewInMemoryOutbox()

	if Suppressed(ctx) {
		t.Fatal("plain context must not be suppressed")
	}
	sctx := Suppress(ctx)
	if !Suppressed(sctx) {
		t.Fatal("suppressed context not detected")
	}

	if err := outbox.Enqueue(sctx, &Pending{
		EntityID: uuid.New(), EntityKind: subscriber.EntityPatient, Operation: subscriber.OpInsert,
	}); err != nil {
		t.Fatal(err)
	}
	batch, _ := outbox.FetchBatch(ctx, 10)
	if len(batch) != 0 {
		t.Fatalf("suppressed enqueue leaked %d rows", len(batch))
	}
}

func TestMarkDoneRemovesFromBatch(t *testing.T) {
	ctx := context.Background()
	outbox := NewInMemoryOutbox()

	p := Pending{EntityID: uuid.New(), EntityKind: subscriber.EntityVisit, Operation: subscriber.OpUpdate}
	if err := outbox.Enqueue(ctx, &p); err != nil {
		t.Fatal(err)
	}
	batch, _ := outbox.FetchBatch(ctx, 10)
	if len(batch) != 1 || batch[0].Attempts != 1 {
		t.Fatalf("batch: %+v", batch)
	}
	if err := outbox.MarkDone(ctx, batch[0].ID); err != nil {
		t.Fatal(err)
	}
	batch, _ = outbox.FetchBatch(ctx, 10)
	if len(batch) != 0 {
		t.Fatal("done row fetched again")
	}
}
