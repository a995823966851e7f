package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hazyhaar/pubtree/cache"
	"github.com/hazyhaar/pubtree/dbopen"
	"github.com/hazyhaar/pubtree/notify"
	"github.com/hazyhaar/pubtree/store"
)

func testRouter(t *testing.T) http.Handler {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema))
	st := store.New(db)
	cfg := cache.Config{DBPath: ":memory:"}
	c, err := cache.New(st, cfg)
	if err != nil {
		t.Fatal(err)
	}
	return newRouter(c, st, notify.NewBus(), &cfg)
}

func TestHealthz(t *testing.T) {
	r := testRouter(t)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("got %v", body)
	}
}

func TestErrorResponsesAreValidJSON(t *testing.T) {
	r := testRouter(t)

	// A kind carrying a quote must come back as a parseable error body.
	payload := `[{"kind": "bogus\"kind"}]`
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("POST", "/notify", strings.NewReader(payload)))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("error body is not valid json: %v (%s)", err, rec.Body.String())
	}
	if !strings.Contains(body["error"], `bogus"kind`) {
		t.Fatalf("got %q", body["error"])
	}
}

func TestWriteErrorEscapesQuotes(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, http.StatusInternalServerError, `exec "garbage": syntax error`)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status: got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("error body is not valid json: %v", err)
	}
	if body["error"] != `exec "garbage": syntax error` {
		t.Fatalf("got %q", body["error"])
	}
}

func TestNotifyDispatchesBatch(t *testing.T) {
	bus := notify.NewBus()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema))
	st := store.New(db)
	cfg := cache.Config{DBPath: ":memory:"}
	c, err := cache.New(st, cfg)
	if err != nil {
		t.Fatal(err)
	}
	r := newRouter(c, st, bus, &cfg)

	var got []notify.Payload
	defer bus.Subscribe(func(batch []notify.Payload) error {
		got = append(got, batch...)
		return nil
	})()

	payload := `[{"kind": "refresh-node", "ids": [7]}, {"kind": "remove-node", "ids": [9]}]`
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("POST", "/notify", strings.NewReader(payload)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d (%s)", rec.Code, rec.Body.String())
	}
	if len(got) != 2 || got[0].Kind != notify.RefreshNode || got[0].IDs[0] != 7 {
		t.Fatalf("got %+v", got)
	}
	if got[1].Kind != notify.RemoveNode || got[1].IDs[0] != 9 {
		t.Fatalf("got %+v", got)
	}
}
