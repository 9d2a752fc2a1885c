package model

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel kinds. Concrete errors below unwrap to one of these so callers can
// branch with errors.Is and still get the detail with errors.As.
var (
	ErrInvalidFilter         = errors.New("invalid filter")
	ErrArchiveNotFound       = errors.New("archive not found")
	ErrMalformedRecord       = errors.New("malformed record")
	ErrDependencyUnavailable = errors.New("dependency unavailable")
)

type InvalidFilterError struct {
	Key    string
	Reason string
}

func (e *InvalidFilterError) Error() string {
	if e.Key == "" {
		return "invalid filter: " + e.Reason
	}
	return fmt.Sprintf("invalid filter %q: %s", e.Key, e.Reason)
}

func (e *InvalidFilterError) Unwrap() error { return ErrInvalidFilter }

type ArchiveNotFoundError struct {
	Location string
	Reason   string
}

func (e *ArchiveNotFoundError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("archive not found at %s", e.Location)
	}
	return fmt.Sprintf("archive not found at %s: %s", e.Location, e.Reason)
}

func (e *ArchiveNotFoundError) Unwrap() error { return ErrArchiveNotFound }

// MalformedRecordError is recoverable: readers skip the input and count
// Records lost records.
type MalformedRecordError struct {
	Path    string
	Line    int
	Reason  string
	Records int
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed record at %s:%d: %s", e.Path, e.Line, e.Reason)
}

func (e *MalformedRecordError) Unwrap() error { return ErrMalformedRecord }

// Lost returns how many records were dropped, at least one.
func (e *MalformedRecordError) Lost() int {
	if e.Records < 1 {
		return 1
	}
	return e.Records
}

type DependencyUnavailableError struct {
	Dependency string
	Missing    []string
	Reason     string
}

func (e *DependencyUnavailableError) Error() string {
	var b strings.Builder
	b.WriteString(e.Dependency)
	if len(e.Missing) > 0 {
		b.WriteString(" is missing required packages: ")
		b.WriteString(strings.Join(e.Missing, ", "))
	} else {
		b.WriteString(" is not available")
	}
	if e.Reason != "" {
		b.WriteString(" (")
		b.WriteString(e.Reason)
		b.WriteString(")")
	}
	return b.String()
}

func (e *DependencyUnavailableError) Unwrap() error { return ErrDependencyUnavailable }
