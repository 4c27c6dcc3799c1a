package models

import (
	"errors"
	"fmt"
)

var (
	ErrSourceUnavailable  = errors.New("source unavailable")
	ErrMalformedRecord    = errors.New("malformed record")
	ErrInvalidFilterRange = errors.New("invalid filter")
	ErrWriteFailure       = errors.New("write failure")
)

// MalformedRecordError describes the first bad cell found while typing a row.
type MalformedRecordError struct {
	Row    int
	Field  string
	Value  any
	Reason string
}

func (e *MalformedRecordError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("%s: row %d: %s: %s", ErrMalformedRecord, e.Row, e.Field, e.Reason)
	}
	return fmt.Sprintf("%s: row %d: %s=%v: %s", ErrMalformedRecord, e.Row, e.Field, e.Value, e.Reason)
}

func (e *MalformedRecordError) Unwrap() error {
	return ErrMalformedRecord
}
