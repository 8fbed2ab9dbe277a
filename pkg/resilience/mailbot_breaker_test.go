package resilience

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

func TestBreaker_TripsOnConsecutiveFailures(t *testing.T) {
	cfg := DefaultBreakerConfig("test")
	cb := NewBreaker(cfg, zerolog.Nop())
	boom := errors.New("boom")

	for i := 0; i <= int(cfg.FailureThreshold); i++ {
		_, _ = cb.Execute(func() (any, error) { return nil, boom })
	}

	if cb.State() != gobreaker.StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}
	_, err := cb.Execute(func() (any, error) { return nil, nil })
	if !IsOpen(err) {
		t.Errorf("err = %v, want open-state error", err)
	}
}

func TestBreaker_PermanentErrorsDoNotTrip(t *testing.T) {
	cb := NewBreaker(DefaultBreakerConfig("test"), zerolog.Nop())
	notFound := errors.New("not found")

	for i := 0; i < 20; i++ {
		_, err := cb.Execute(func() (any, error) { return nil, Permanent(notFound) })
		if !errors.Is(err, notFound) {
			t.Fatalf("err = %v, want wrapped not found", err)
		}
		if !errors.Is(Unwrap(err), notFound) || Unwrap(err) != notFound {
			t.Fatalf("Unwrap() = %v", Unwrap(err))
		}
	}

	if cb.State() != gobreaker.StateClosed {
		t.Errorf("state = %v, want closed", cb.State())
	}
}

func TestPermanent_Nil(t *testing.T) {
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
}
