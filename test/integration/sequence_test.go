package integration

import (
	"context"
	"testing"

	"github.com/interop/pamgw/internal/domain/sequence"
	"github.com/interop/pamgw/internal/platform/db"
)

// A block reservation made while a domain transaction is open must survive
// that transaction's rollback, otherwise the counter reverts under values
// already handed out and a later allocator reissues them.
func TestSequenceReservationSurvivesRollback(t *testing.T) {
	resetTables(t)
	ctx := context.Background()

	a := sequence.NewPGAllocator(testPool, 2)

	txCtx, tx, err := db.WithTx(ctx, testPool, db.Serializable)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	first, err := a.Next(txCtx, sequence.Movement)
	if err != nil {
		t.Fatalf("allocate in tx: %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	// The first allocator still owns [first, first+1] in memory. A fresh
	// allocator stands in for a restarted process: its block must start
	// past everything the first one reserved.
	b := sequence.NewPGAllocator(testPool, 2)
	next, err := b.Next(ctx, sequence.Movement)
	if err != nil {
		t.Fatalf("allocate after rollback: %v", err)
	}
	if next <= first+1 {
		t.Fatalf("allocator reissued value %d, first reserved block ends at %d", next, first+1)
	}
}
