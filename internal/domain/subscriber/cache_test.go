package subscriber

import (
	"context"
	"testing"
)

func TestWants(t *testing.T) {
	s := Subscriber{Enabled: true}
	if !s.Wants(EntityMovement, OpInsert) {
		t.Error("empty filters subscribe to everything")
	}

	s.Entities = []string{EntityMovement}
	s.Operations = []string{OpInsert}
	if !s.Wants(EntityMovement, OpInsert) {
		t.Error("matching filter rejected")
	}
	if s.Wants(EntityPatient, OpInsert) || s.Wants(EntityMovement, OpUpdate) {
		t.Error("non-matching filter accepted")
	}

	s.Enabled = false
	if s.Wants(EntityMovement, OpInsert) {
		t.Error("disabled subscriber must not match")
	}
}

func TestCacheSnapshotAndInvalidate(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepo()
	cache := NewCache(repo)

	a := &Subscriber{Name: "dpi", Kind: KindMLLP, Endpoint: "127.0.0.1:2575", Enabled: true}
	if err := repo.Create(ctx, a); err != nil {
		t.Fatal(err)
	}

	subs, err := cache.Matching(ctx, EntityMovement, OpInsert)
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 1 || subs[0].Name != "dpi" {
		t.Fatalf("snapshot: %+v", subs)
	}

	// A write invisible to the cache until invalidated.
	b := &Subscriber{Name: "urgences", Kind: KindFile, Endpoint: "/var/spool/hl7", Enabled: true}
	if err := repo.Create(ctx, b); err != nil {
		t.Fatal(err)
	}
	subs, _ = cache.Matching(ctx, EntityMovement, OpInsert)
	if len(subs) != 1 {
		t.Fatalf("stale snapshot expected, got %d", len(subs))
	}

	cache.Invalidate()
	subs, _ = cache.Matching(ctx, EntityMovement, OpInsert)
	if len(subs) != 2 {
		t.Fatalf("reload expected 2, got %d", len(subs))
	}
}
