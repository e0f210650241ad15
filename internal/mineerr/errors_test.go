package mineerr

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

// timeoutNetError satisfies net.Error with Timeout() == true.
type timeoutNetError struct{}

func (timeoutNetError) Error() string   { return "i/o timeout" }
func (timeoutNetError) Timeout() bool   { return true }
func (timeoutNetError) Temporary() bool { return true }

func TestIsFatalClassification(t *testing.T) {
	cases := []struct {
		name  string
		err   error
		fatal bool
	}{
		{"server busy", NewServerBusy(429), false},
		{"bad coin", NewBadCoin("first four bytes nonzero"), true},
		{"hex error", NewHex(fmt.Errorf("odd length")), true},
		{"io error", NewIo(fmt.Errorf("permission denied")), true},
		{"hash error", NewHash(fmt.Errorf("digest mismatch")), true},
		{"accelerator error", NewAccelerator(fmt.Errorf("clBuildProgram failed")), true},
		{"timeout request error", NewRequest(timeoutNetError{}), false},
		{"deadline-exceeded request error", NewRequest(context.DeadlineExceeded), false},
		{"connection-reset request error", NewRequest(fmt.Errorf("connection reset")), true},
		{"all requests failed", NewAllRequestsFailed("3 proxies + direct"), true},
		{"generic msg", NewMsg("whatever"), true},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := IsFatal(c.err); got != c.fatal {
				t.Errorf("IsFatal(%v) = %v, want %v", c.err, got, c.fatal)
			}
		})
	}
}

func TestIsServerBusy(t *testing.T) {
	if !IsServerBusy(429) {
		t.Error("429 should be server busy")
	}
	if !IsServerBusy(409) {
		t.Error("409 should be server busy")
	}
	if IsServerBusy(500) {
		t.Error("500 should not be server busy")
	}
}

func TestWrappedErrorsUnwrap(t *testing.T) {
	base := fmt.Errorf("boom")
	wrapped := NewRequest(base)
	if !errors.Is(wrapped, base) {
		t.Error("expected RequestError to unwrap to the base error")
	}
}
