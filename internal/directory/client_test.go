package directory

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/drfirst/go-medsched/pkg/circuitbreaker"
)

func TestClient_PrescriberName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/Practitioner/D1":
			w.Write([]byte(`{"resourceType":"Practitioner","id":"D1","name":[{"use":"official","prefix":["Dr."],"given":["Anita"],"family":"Rao"}]}`))
		case "/Practitioner/D3":
			w.Write([]byte(`{"resourceType":"Practitioner","id":"D3","name":[]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c, err := New(DefaultConfig(srv.URL), nil)
	if err != nil {
		t.Fatal(err)
	}

	name, err := c.PrescriberName(context.Background(), "D1")
	if err != nil || name != "Dr. Anita Rao" {
		t.Fatalf("got %q, %v", name, err)
	}
	for _, id := range []string{"D2", "D3"} {
		if _, err := c.PrescriberName(context.Background(), id); !errors.Is(err, ErrUnknownPrescriber) {
			t.Errorf("%s: expected ErrUnknownPrescriber, got %v", id, err)
		}
	}
}

func TestClient_UnknownIDsDoNotOpenBreaker(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	cfg := DefaultConfig(srv.URL)
	cfg.Breaker.FailureThreshold = 2
	c, _ := New(cfg, nil)
	for i := 0; i < 5; i++ {
		_, _ = c.PrescriberName(context.Background(), "nobody")
	}
	if h := c.Health(); !h.Healthy {
		t.Errorf("breaker should stay closed on not-found, got %+v", h)
	}
}

func TestClient_OpensOnServerErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	var last circuitbreaker.State
	cfg := DefaultConfig(srv.URL)
	cfg.Timeout = time.Second
	cfg.Breaker.FailureThreshold = 2
	cfg.Breaker.Timeout = time.Hour
	cfg.Breaker.OnStateChange = func(_ string, to circuitbreaker.State) { last = to }
	c, _ := New(cfg, nil)

	for i := 0; i < 4; i++ {
		_, _ = c.PrescriberName(context.Background(), "D1")
	}
	if atomic.LoadInt32(&hits) != 2 {
		t.Errorf("expected calls to stop after the breaker opened, server saw %d", hits)
	}
	if last != circuitbreaker.StateOpen {
		t.Errorf("expected open state via hook, got %s", last)
	}
	if _, err := c.PrescriberName(context.Background(), "D1"); !errors.Is(err, circuitbreaker.ErrOpen) {
		t.Errorf("expected ErrOpen, got %v", err)
	}
}

func TestNew_RejectsBadURL(t *testing.T) {
	if _, err := New(DefaultConfig("not a url"), nil); err == nil {
		t.Error("expected error")
	}
}

func TestStatic(t *testing.T) {
	d := Static{"D1": "Dr. Rao"}
	if n, err := d.PrescriberName(context.Background(), "D1"); err != nil || n != "Dr. Rao" {
		t.Errorf("got %q %v", n, err)
	}
	if _, err := d.PrescriberName(context.Background(), "D9"); !errors.Is(err, ErrUnknownPrescriber) {
		t.Errorf("got %v", err)
	}
}
