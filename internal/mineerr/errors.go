// Package mineerr defines the error taxonomy shared by every component that
// talks to the coin service or the local accelerator: transport failures,
// protocol-level rejections, and infrastructural faults are kept distinct so
// callers can decide what is retriable, what is fatal, and what is merely
// "try the next proxy."
package mineerr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// BadCoinError reports that the service rejected a submitted hash as invalid.
// It is always fatal to the calling operation: the local candidate was wrong
// and retrying the same blob will not help.
type BadCoinError struct {
	Detail string
}

func (e *BadCoinError) Error() string { return "bad coin: " + e.Detail }

// NewBadCoin wraps a rejection detail from the coin service.
func NewBadCoin(detail string) error { return &BadCoinError{Detail: detail} }

// ServerBusyError reports a transient HTTP 429/409 from the coin service or a
// proxy. Callers should always treat this as retriable.
type ServerBusyError struct {
	StatusCode int
}

func (e *ServerBusyError) Error() string {
	return fmt.Sprintf("server busy (http %d)", e.StatusCode)
}

// NewServerBusy builds a ServerBusyError for the given status code.
func NewServerBusy(code int) error { return &ServerBusyError{StatusCode: code} }

// IsServerBusy reports whether the HTTP status code represents a transient
// rejection that should be retried rather than treated as an error.
func IsServerBusy(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusConflict
}

// AllRequestsFailedError reports that every attempt across the proxy pool and
// the direct client failed for a single logical operation.
type AllRequestsFailedError struct {
	Detail string
}

func (e *AllRequestsFailedError) Error() string {
	return "all requests failed: " + e.Detail
}

// NewAllRequestsFailed builds an AllRequestsFailedError.
func NewAllRequestsFailed(detail string) error {
	return &AllRequestsFailedError{Detail: detail}
}

// RequestError wraps a network/transport-level failure (timeouts, connection
// refused, DNS failures). Non-2xx HTTP responses are not RequestErrors.
type RequestError struct {
	Err error
}

func (e *RequestError) Error() string { return "request: " + e.Err.Error() }
func (e *RequestError) Unwrap() error { return e.Err }

// Timeout reports whether the wrapped transport failure is a timeout.
// Timeouts are the one transport error worth retrying on another path; a
// DNS failure, refused connection, or reset will fail the same way again.
func (e *RequestError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

// NewRequest wraps an arbitrary transport error.
func NewRequest(err error) error {
	if err == nil {
		return nil
	}
	return &RequestError{Err: err}
}

// HexError wraps a malformed hex-encoded value (e.g. a head hash that is not
// exactly 32 hex characters, or fails to decode).
type HexError struct {
	Err error
}

func (e *HexError) Error() string { return "hex: " + e.Err.Error() }
func (e *HexError) Unwrap() error { return e.Err }

func NewHex(err error) error {
	if err == nil {
		return nil
	}
	return &HexError{Err: err}
}

// IoError wraps a filesystem failure (wallet file, proxy list file).
type IoError struct {
	Err error
}

func (e *IoError) Error() string { return "io: " + e.Err.Error() }
func (e *IoError) Unwrap() error { return e.Err }

func NewIo(err error) error {
	if err == nil {
		return nil
	}
	return &IoError{Err: err}
}

// HashError wraps a failure inside the MD5 hashing layer (should not occur
// in practice, since crypto/md5 never returns an error; kept for parity with
// a hashing backend that could).
type HashError struct {
	Err error
}

func (e *HashError) Error() string { return "hash: " + e.Err.Error() }
func (e *HashError) Unwrap() error { return e.Err }

func NewHash(err error) error {
	if err == nil {
		return nil
	}
	return &HashError{Err: err}
}

// AcceleratorError wraps a failure from the GPU/OpenCL backend: device
// enumeration, kernel build, or dispatch failures.
type AcceleratorError struct {
	Err error
}

func (e *AcceleratorError) Error() string { return "accelerator: " + e.Err.Error() }
func (e *AcceleratorError) Unwrap() error { return e.Err }

func NewAccelerator(err error) error {
	if err == nil {
		return nil
	}
	return &AcceleratorError{Err: err}
}

// MsgError is a plain string error for conditions that don't fit any other
// category.
type MsgError struct {
	Text string
}

func (e *MsgError) Error() string { return e.Text }

func NewMsg(format string, args ...any) error {
	return &MsgError{Text: fmt.Sprintf(format, args...)}
}

// IsFatal classifies an error returned by the tracker or proxy pool as fatal
// (should stop retrying this operation and surface to the caller) or
// transient (should fall through to the next proxy / be retried later).
//
// Timeouts and ServerBusy are never fatal. BadCoin, Hex, Io, Hash, and
// Accelerator errors are always fatal. A RequestError is fatal unless the
// transport failure it wraps is a timeout.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var busy *ServerBusyError
	if errors.As(err, &busy) {
		return false
	}

	var bad *BadCoinError
	if errors.As(err, &bad) {
		return true
	}

	var hexErr *HexError
	if errors.As(err, &hexErr) {
		return true
	}

	var ioErr *IoError
	if errors.As(err, &ioErr) {
		return true
	}

	var hashErr *HashError
	if errors.As(err, &hashErr) {
		return true
	}

	var accelErr *AcceleratorError
	if errors.As(err, &accelErr) {
		return true
	}

	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return !reqErr.Timeout()
	}

	var allFailed *AllRequestsFailedError
	if errors.As(err, &allFailed) {
		return true
	}

	return true
}
