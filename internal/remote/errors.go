package remote

import (
	"errors"
	"fmt"
)

// Kind classifies remote session backend failures.
type Kind string

const (
	KindNetwork  Kind = "network"
	KindAuth     Kind = "auth"
	KindNotFound Kind = "not_found"
)

var (
	ErrNetwork  = errors.New("remote: network error")
	ErrAuth     = errors.New("remote: auth error")
	ErrNotFound = errors.New("remote: not found")
)

// SyncError is returned by every Client operation that fails.
type SyncError struct {
	Kind    Kind
	Op      string
	Status  int
	Message string
	Cause   error
}

func (e *SyncError) Error() string {
	msg := fmt.Sprintf("remote %s error in %s", e.Kind, e.Op)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += fmt.Sprintf(" (caused by: %v)", e.Cause)
	}
	return msg
}

func (e *SyncError) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is match the kind sentinels.
func (e *SyncError) Is(target error) bool {
	switch target {
	case ErrNetwork:
		return e.Kind == KindNetwork
	case ErrAuth:
		return e.Kind == KindAuth
	case ErrNotFound:
		return e.Kind == KindNotFound
	}
	return false
}

// KindOf extracts the kind of err; unknown errors count as network failures.
func KindOf(err error) Kind {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindNetwork
}

func newNetworkError(op string, cause error) *SyncError {
	return &SyncError{Kind: KindNetwork, Op: op, Message: "backend unreachable", Cause: cause}
}

func statusError(op string, status int, detail string) *SyncError {
	kind := KindNetwork
	switch {
	case status == 401 || status == 403:
		kind = KindAuth
	case status == 404:
		kind = KindNotFound
	}
	return &SyncError{Kind: kind, Op: op, Status: status, Message: detail}
}
