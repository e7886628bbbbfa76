package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

var t0 = time.UnixMilli(1_700_000_000_000)

type fakeCounter struct {
	res   domain.Result
	err   error
	calls int
}

func (f *fakeCounter) Hit(context.Context, domain.Key, domain.Config) (domain.Result, error) {
	f.calls++
	return f.res, f.err
}

var cfg = domain.Config{Limit: 10, Window: time.Minute}

func TestService_Check_AllowsWhenNoCounter(t *testing.T) {
	svc := Service{}
	dec, err := svc.Check(context.Background(), "k", cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !dec.Success {
		t.Fatalf("expected allowed")
	}
	if dec.RetryAfter != 0 {
		t.Fatalf("expected RetryAfter=0 when allowed, got %s", dec.RetryAfter)
	}
}

func TestService_Check_PassesThroughAdmittedResult(t *testing.T) {
	counter := &fakeCounter{res: domain.Result{Success: true, Limit: 10, Remaining: 7, ResetTime: t0.Add(time.Minute)}}
	svc := Service{Counter: counter, Clock: func() time.Time { return t0 }}

	dec, err := svc.Check(context.Background(), "chat:u1", cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !dec.Success || dec.Remaining != 7 {
		t.Fatalf("unexpected decision: %+v", dec)
	}
	if counter.calls != 1 {
		t.Fatalf("expected counter to be called once, got %d", counter.calls)
	}
}

func TestService_Check_RejectionCarriesRetryAfter(t *testing.T) {
	counter := &fakeCounter{res: domain.Result{Success: false, Limit: 10, ResetTime: t0.Add(2500 * time.Millisecond)}}
	svc := Service{Counter: counter, Clock: func() time.Time { return t0 }}

	dec, err := svc.Check(context.Background(), "chat:u1", cfg)
	if err != nil {
		t.Fatalf("rejection must not be an error, got %v", err)
	}
	if dec.Success {
		t.Fatalf("expected blocked")
	}
	if dec.RetryAfter != 3*time.Second {
		t.Fatalf("expected RetryAfter=3s (ceil of 2.5s), got %s", dec.RetryAfter)
	}
}

func TestService_Check_FailsFastOnInvalidConfig(t *testing.T) {
	counter := &fakeCounter{}
	svc := Service{Counter: counter, FailOpen: true}

	for _, bad := range []domain.Config{{Limit: 0, Window: time.Second}, {Limit: 1, Window: 0}} {
		_, err := svc.Check(context.Background(), "k", bad)
		if !errors.Is(err, domain.ErrInvalidConfig) {
			t.Fatalf("expected ErrInvalidConfig for %+v, got %v", bad, err)
		}
	}
	if _, err := svc.Check(context.Background(), "", cfg); !errors.Is(err, domain.ErrEmptyKey) {
		t.Fatalf("expected ErrEmptyKey, got %v", err)
	}
	if counter.calls != 0 {
		t.Fatalf("counter must not be called for invalid input")
	}
}

func TestService_Check_BackendErrorFailClosed(t *testing.T) {
	backendErr := errors.New("connection refused")
	svc := Service{Counter: &fakeCounter{err: backendErr}}

	_, err := svc.Check(context.Background(), "k", cfg)
	if !errors.Is(err, backendErr) {
		t.Fatalf("expected wrapped backend error, got %v", err)
	}
}

func TestService_Check_BackendErrorFailOpen(t *testing.T) {
	svc := Service{
		Counter:  &fakeCounter{err: errors.New("connection refused")},
		FailOpen: true,
		Clock:    func() time.Time { return t0 },
	}

	dec, err := svc.Check(context.Background(), "k", cfg)
	if err != nil {
		t.Fatalf("expected fail-open, got %v", err)
	}
	if !dec.Success || dec.Remaining != cfg.Limit {
		t.Fatalf("unexpected fail-open decision: %+v", dec)
	}
	if !dec.ResetTime.Equal(t0.Add(time.Minute)) {
		t.Fatalf("expected reset one window ahead, got %s", dec.ResetTime)
	}
}
