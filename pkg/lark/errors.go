package lark

import (
	"errors"
	"fmt"
)

var (
	// ErrNoCredentials is returned when neither app credentials nor a tenant token are configured.
	ErrNoCredentials = errors.New("lark: app_id/app_secret or tenant token required")

	// ErrBatchTooLarge is returned when a batch exceeds MaxBatchRecords.
	ErrBatchTooLarge = errors.New("lark: batch exceeds maximum record count")
)

// TransportError reports a failed call to the Lark open API.
// StatusCode is the HTTP status, Code/Msg the API envelope when one was decoded.
type TransportError struct {
	Op         string
	StatusCode int
	Code       int
	Msg        string
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("lark %s: %v", e.Op, e.Err)
	case e.Code != 0:
		return fmt.Sprintf("lark %s: api error %d: %s", e.Op, e.Code, e.Msg)
	default:
		return fmt.Sprintf("lark %s: http status %d", e.Op, e.StatusCode)
	}
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
