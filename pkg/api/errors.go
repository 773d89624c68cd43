package api

import (
	"errors"
	"fmt"
)

// ErrorKind identifies the category of an engine failure.
type ErrorKind int

const (
	// KindUnknown indicates an error of unknown origin.
	KindUnknown ErrorKind = iota
	// KindInitialization indicates a missing initial value at construction.
	KindInitialization
	// KindValidation indicates a validator rejected a candidate value.
	KindValidation
	// KindTransform indicates a transform failed.
	KindTransform
	// KindFilter indicates a filter rejected a candidate value.
	KindFilter
	// KindPersistence indicates a storage read or write failed.
	KindPersistence
	// KindSerialization indicates a value could not be encoded at all.
	KindSerialization
	// KindSubscriber indicates a subscriber callback panicked.
	KindSubscriber
	// KindHandler indicates an error handler panicked.
	KindHandler
	// KindLifecycle indicates one or more teardown steps failed.
	KindLifecycle
	// KindSync indicates an external change could not be applied.
	KindSync
	// KindSchedule indicates the debounce timer could not be armed.
	KindSchedule
)

func (k ErrorKind) String() string {
	switch k {
	case KindInitialization:
		return "initialization"
	case KindValidation:
		return "validation"
	case KindTransform:
		return "transform"
	case KindFilter:
		return "filter"
	case KindPersistence:
		return "persistence"
	case KindSerialization:
		return "serialization"
	case KindSubscriber:
		return "subscriber"
	case KindHandler:
		return "handler"
	case KindLifecycle:
		return "lifecycle"
	case KindSync:
		return "sync"
	case KindSchedule:
		return "schedule"
	default:
		return "unknown"
	}
}

var (
	ErrInitialization   = errors.New("statebox: initial value is required")
	ErrValidationFailed = errors.New("statebox: validation failed")
	ErrTransform        = errors.New("statebox: transform failed")
	ErrFilterFailed     = errors.New("statebox: filter failed")
	ErrPersistence      = errors.New("statebox: persistence failed")
	ErrSerialization    = errors.New("statebox: serialization failed")
	ErrSubscriber       = errors.New("statebox: subscriber failed")
	ErrHandler          = errors.New("statebox: error handler failed")
	ErrLifecycle        = errors.New("statebox: destroy failed")
	ErrSync             = errors.New("statebox: external sync failed")
	ErrSchedule         = errors.New("statebox: debounce timer unavailable")
)

var kindSentinels = map[ErrorKind]error{
	KindInitialization: ErrInitialization,
	KindValidation:     ErrValidationFailed,
	KindTransform:      ErrTransform,
	KindFilter:         ErrFilterFailed,
	KindPersistence:    ErrPersistence,
	KindSerialization:  ErrSerialization,
	KindSubscriber:     ErrSubscriber,
	KindHandler:        ErrHandler,
	KindLifecycle:      ErrLifecycle,
	KindSync:           ErrSync,
	KindSchedule:       ErrSchedule,
}

// Error is the structured failure type raised by the container engine.
type Error struct {
	Kind ErrorKind
	// Op is the operation that failed, e.g. "set", "persist", "notify".
	Op string
	// Key is the storage key of the container, if any.
	Key string
	// Err is the underlying cause.
	Err error
}

// NewError builds an *Error. A nil cause is replaced by the kind's sentinel.
func NewError(kind ErrorKind, op, key string, err error) *Error {
	if err == nil {
		err = kindSentinels[kind]
	}
	return &Error{Kind: kind, Op: op, Key: key, Err: err}
}

func (e *Error) Error() string {
	msg := "statebox"
	if e.Op != "" {
		msg += " " + e.Op
	}
	if e.Key != "" {
		msg += fmt.Sprintf(" [%s]", e.Key)
	}
	msg += ": " + e.Kind.String()
	if e.Err != nil && e.Err != kindSentinels[e.Kind] {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's kind. Filter failures also match
// ErrTransform since a filter is a transform.
func (e *Error) Is(target error) bool {
	if target == kindSentinels[e.Kind] {
		return true
	}
	return e.Kind == KindFilter && target == ErrTransform
}

// KindOf reports the kind of the first *Error in err's chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// PanicError wraps a recovered panic value.
type PanicError struct {
	Value any
}

func (p *PanicError) Error() string {
	if err, ok := p.Value.(error); ok {
		return err.Error()
	}
	return fmt.Sprint(p.Value)
}

func (p *PanicError) Unwrap() error {
	if err, ok := p.Value.(error); ok {
		return err
	}
	return nil
}
