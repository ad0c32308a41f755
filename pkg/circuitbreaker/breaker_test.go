package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	var mu sync.Mutex
	var transitions []State
	cfg := DefaultConfig("directory")
	cfg.FailureThreshold = 3
	cfg.Timeout = time.Hour
	cfg.OnStateChange = func(name string, to State) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, to)
	}
	cb, err := New(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}

	boom := errors.New("directory down")
	for i := 0; i < 3; i++ {
		if _, err := cb.Execute(context.Background(), func(context.Context) (interface{}, error) { return nil, boom }); !errors.Is(err, boom) {
			t.Fatalf("call %d: expected underlying error, got %v", i, err)
		}
	}
	if !cb.IsOpen() {
		t.Fatalf("expected open breaker, got %s", cb.GetState())
	}

	called := false
	_, err = cb.Execute(context.Background(), func(context.Context) (interface{}, error) {
		called = true
		return nil, nil
	})
	if !errors.Is(err, ErrOpen) || called {
		t.Errorf("open breaker should reject without calling, err=%v called=%v", err, called)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != 2 || transitions[0] != StateClosed || transitions[1] != StateOpen {
		t.Errorf("unexpected transitions %v", transitions)
	}
	if h := cb.Health(); h.Healthy || h.State != StateOpen {
		t.Errorf("unexpected health %+v", h)
	}
}

func TestBreaker_IgnoredErrorsDoNotTrip(t *testing.T) {
	notFound := errors.New("not found")
	cfg := DefaultConfig("directory")
	cfg.FailureThreshold = 1
	cfg.IsSuccessful = func(err error) bool { return err == nil || errors.Is(err, notFound) }
	cb, _ := New(cfg, nil)

	for i := 0; i < 5; i++ {
		_, _ = cb.Execute(context.Background(), func(context.Context) (interface{}, error) { return nil, notFound })
	}
	if cb.IsOpen() {
		t.Error("errors classified as successful must not open the breaker")
	}
}

func TestCall_TypedResultAndFallback(t *testing.T) {
	cb, _ := New(DefaultConfig("typed"), nil)
	got, err := Call(context.Background(), cb, func(context.Context) (string, error) { return "Dr. Rao", nil })
	if err != nil || got != "Dr. Rao" {
		t.Fatalf("got %q, %v", got, err)
	}

	cfg := DefaultConfig("fallback")
	cfg.FailureThreshold = 1
	cfg.Timeout = time.Hour
	fb, _ := New(cfg, nil)
	_, _ = fb.Execute(context.Background(), func(context.Context) (interface{}, error) { return nil, errors.New("x") })

	out, err := fb.ExecuteWithFallback(context.Background(),
		func(context.Context) (interface{}, error) { return "live", nil },
		func(error) (interface{}, error) { return "cached", nil })
	if err != nil || out != "cached" {
		t.Errorf("expected fallback result, got %v, %v", out, err)
	}
}

func TestState_Gauge(t *testing.T) {
	if StateClosed.Gauge() != 0 || StateOpen.Gauge() != 1 || StateHalfOpen.Gauge() != 2 {
		t.Error("unexpected gauge mapping")
	}
}
