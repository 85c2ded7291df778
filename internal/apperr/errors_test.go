package apperr

import (
	"errors"
	"testing"
)

func TestWrapPreservesSentinelMatching(t *testing.T) {
	err := Wrap(ErrNotFound, "message %s", "abc-123")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("errors.Is(err, ErrNotFound) = false, want true")
	}
	if errors.Is(err, ErrStorage) {
		t.Fatalf("errors.Is(err, ErrStorage) = true, want false")
	}
	want := "message abc-123: not found"
	if err.Error() != want {
		t.Errorf("err.Error() = %q, want %q", err.Error(), want)
	}
}

func TestSentinelsAreDistinct(t *testing.T) {
	sentinels := []error{
		ErrAuthRequired, ErrCredentialExpired, ErrTransportTransient, ErrTransportPermanent,
		ErrParse, ErrModelUnavailable, ErrBusy, ErrNotFound, ErrStorage, ErrCancelled,
	}
	for i, a := range sentinels {
		for j, b := range sentinels {
			if i != j && errors.Is(a, b) {
				t.Errorf("sentinel %d unexpectedly matches sentinel %d", i, j)
			}
		}
	}
}
