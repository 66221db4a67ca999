package gateway

import (
	"errors"
	"fmt"
)

// NetworkError reports that the backend could not be reached or the exchange was cut short.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: backend unreachable: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ServerError reports a non-2xx status or an unusable response body.
type ServerError struct {
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *ServerError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s: server error (%d): %v", e.Op, e.Status, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: server error (%d): %s", e.Op, e.Status, e.Message)
	default:
		return fmt.Sprintf("%s: server error (%d)", e.Op, e.Status)
	}
}

func (e *ServerError) Unwrap() error {
	return e.Err
}

// IsNetwork reports whether err is a NetworkError.
func IsNetwork(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}

// StatusOf returns the HTTP status carried by a ServerError.
func StatusOf(err error) (int, bool) {
	var serverErr *ServerError
	if errors.As(err, &serverErr) {
		return serverErr.Status, true
	}
	return 0, false
}
