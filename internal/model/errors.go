package model

import "fmt"

// ParseError: a submitted payload is malformed.
type ParseError struct {
	What string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse %s: %v", e.What, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// TranslationError: a payload parsed fine but cannot become a RunChange.
type TranslationError struct {
	Source string
	Err    error
}

func (e *TranslationError) Error() string {
	return fmt.Sprintf("failed to translate %s change: %v", e.Source, e.Err)
}

func (e *TranslationError) Unwrap() error { return e.Err }

// StorageError: the event store could not be opened, migrated or written.
type StorageError struct {
	EventID int64
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure for event %d: %v", e.EventID, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// TransportError: delivery to one live listener failed.
type TransportError struct {
	EventID int64
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("listener of event %d dropped: %v", e.EventID, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
