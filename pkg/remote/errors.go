package remote

import (
	"errors"
	"fmt"
)

// ErrNetwork matches every *NetworkError.
var ErrNetwork = errors.New("network error")

// NetworkError is a transport failure or timeout; the server may not have
// seen the request.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Is(target error) bool { return target == ErrNetwork }

// ServerError is a non-2xx response. Message is the response body, shown to
// users as is.
type ServerError struct {
	Op      string
	Status  int
	Message string
}

func (e *ServerError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s: server returned status %d", e.Op, e.Status)
}

// IsStatus reports whether err is a *ServerError with the given status.
func IsStatus(err error, status int) bool {
	var se *ServerError
	return errors.As(err, &se) && se.Status == status
}
