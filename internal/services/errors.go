package services

import (
	"errors"
	"fmt"
)

// ErrServerStateInvalid is returned when the stored sheet cannot be parsed,
// so a merge would silently drop its records.
var ErrServerStateInvalid = errors.New("server state failed validation")

// RemoteError is an upstream failure that survived the retry budget. Its
// message carries the upstream message.
type RemoteError struct {
	Op  string
	Err error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }
