// Package model holds the data types and error kinds shared by every
// component of the retrieval core.
package model

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an Error. These are kinds, not concrete Go types —
// every Error carries one.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindNotFound      Kind = "not_found"
	KindFetch         Kind = "fetch"
	KindConfiguration Kind = "configuration"
	KindAborted       Kind = "aborted"
	KindCorruption    Kind = "corruption"
)

// Error is the core's uniform error type. It carries a Kind, a message,
// optional provider/peer context, and an optional wrapped cause.
type Error struct {
	Kind      Kind
	Message   string
	Provider  string
	Retryable bool
	Cause     error
	At        time.Time
}

func (e *Error) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s: %s (provider: %s)", e.Kind, e.Message, e.Provider)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func newErr(k Kind, retryable bool, msg string, cause error) *Error {
	return &Error{Kind: k, Message: msg, Retryable: retryable, Cause: cause, At: time.Now()}
}

func NewValidationError(msg string, cause error) *Error {
	return newErr(KindValidation, false, msg, cause)
}

func NewNotFoundError(msg string) *Error {
	return newErr(KindNotFound, true, msg, nil)
}

func NewFetchError(msg string, provider string, cause error) *Error {
	e := newErr(KindFetch, true, msg, cause)
	e.Provider = provider
	return e
}

func NewConfigurationError(msg string, cause error) *Error {
	return newErr(KindConfiguration, false, msg, cause)
}

func NewAbortedError(msg string, cause error) *Error {
	return newErr(KindAborted, false, msg, cause)
}

func NewCorruptionError(msg string, cause error) *Error {
	return newErr(KindCorruption, false, msg, cause)
}

// Is reports whether err carries Kind k.
func Is(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}

// IsRetryable reports whether err, if a *Error, suggests retrying.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// ChunkNotFoundError reports that a chunk could not be resolved, either
// because its owning transaction boundary is unknown or because every
// fetch attempt failed. SubKind distinguishes the two terminal cases.
type ChunkNotFoundError struct {
	Err     *Error
	SubKind string // "boundary_not_found" | "fetch_failed"
}

func NewChunkNotFoundError(subKind string, cause error) *ChunkNotFoundError {
	return &ChunkNotFoundError{
		Err:     newErr(KindNotFound, true, "chunk not found: "+subKind, cause),
		SubKind: subKind,
	}
}

func (e *ChunkNotFoundError) Error() string { return e.Err.Error() }

// Unwrap returns the wrapped *Error itself rather than its Cause, so
// errors.As(err, &someErrorPtr) and Is(err, KindNotFound) see
// ChunkNotFoundError's own Kind regardless of what, if anything, caused
// the underlying boundary/fetch failure.
func (e *ChunkNotFoundError) Unwrap() error { return e.Err }

// ErrorStats accumulates error counts by Kind and by provider, and
// remembers the most recent error for diagnostics.
type ErrorStats struct {
	counts     map[Kind]uint64
	byProvider map[string]uint64
	lastError  *Error
	lastAt     time.Time
}

func NewErrorStats() *ErrorStats {
	return &ErrorStats{
		counts:     make(map[Kind]uint64),
		byProvider: make(map[string]uint64),
	}
}

func (s *ErrorStats) Record(err *Error) {
	s.lastError = err
	s.lastAt = err.At
	s.counts[err.Kind]++
	if err.Provider != "" {
		s.byProvider[err.Provider]++
	}
}

func (s *ErrorStats) Count(k Kind) uint64 { return s.counts[k] }

func (s *ErrorStats) Total() uint64 {
	var total uint64
	for _, v := range s.counts {
		total += v
	}
	return total
}

func (s *ErrorStats) MostProblematicProvider() (string, uint64) {
	var maxProvider string
	var maxErrors uint64
	for p, c := range s.byProvider {
		if c > maxErrors {
			maxErrors = c
			maxProvider = p
		}
	}
	return maxProvider, maxErrors
}
