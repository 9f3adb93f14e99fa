package subscriber

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func newHandlerFixture(t *testing.T) (*Handler, *InMemoryRepo, *Cache, *echo.Echo) {
	t.Helper()
	repo := NewInMemoryRepo()
	cache := NewCache(repo)
	h := NewHandler(repo, cache)
	e := echo.New()
	h.RegisterRoutes(e.Group("/api/v1"))
	return h, repo, cache, e
}

func TestCreateSubscriberInvalidatesCache(t *testing.T) {
	_, _, cache, e := newHandlerFixture(t)
	ctx := context.Background()

	// Warm the cache while the registry is empty.
	subs, err := cache.Matching(ctx, EntityMovement, OpInsert)
	if err != nil {
		t.Fatalf("warm cache: %v", err)
	}
	if len(subs) != 0 {
		t.Fatalf("expected empty registry, got %d", len(subs))
	}

	body := `{"name":"dpi","kind":"MLLP","endpoint":"10.0.0.5:2575","enabled":true}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/subscribers", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}

	subs, err = cache.Matching(ctx, EntityMovement, OpInsert)
	if err != nil {
		t.Fatalf("reload cache: %v", err)
	}
	if len(subs) != 1 || subs[0].Name != "dpi" {
		t.Fatalf("cache not refreshed after create: %+v", subs)
	}
}

func TestCreateSubscriberRejectsBadKind(t *testing.T) {
	_, repo, _, e := newHandlerFixture(t)

	body := `{"name":"dpi","kind":"SFTP","endpoint":"10.0.0.5:22"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/subscribers", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	subs, _ := repo.List(context.Background())
	if len(subs) != 0 {
		t.Fatal("invalid subscriber was persisted")
	}
}

func TestGetAndListSubscribers(t *testing.T) {
	_, repo, _, e := newHandlerFixture(t)
	s := &Subscriber{Name: "urgences", Kind: KindFile, Endpoint: "/var/lib/out", Enabled: true}
	if err := repo.Create(context.Background(), s); err != nil {
		t.Fatalf("seed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/subscribers/"+s.ID.String(), nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var got Subscriber
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Name != "urgences" || got.Kind != KindFile {
		t.Fatalf("got = %+v", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/subscribers", nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	var list []Subscriber
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("list = %d entries", len(list))
	}
}

func TestDeleteSubscriber(t *testing.T) {
	_, repo, _, e := newHandlerFixture(t)
	s := &Subscriber{Name: "old", Kind: KindMLLP, Endpoint: "10.0.0.9:2575", Enabled: true}
	if err := repo.Create(context.Background(), s); err != nil {
		t.Fatalf("seed: %v", err)
	}

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/subscribers/"+s.ID.String(), nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if got, _ := repo.Get(context.Background(), s.ID); got != nil {
		t.Fatal("subscriber still present after delete")
	}
}
