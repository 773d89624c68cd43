package engine

import "github.com/petrijr/statebox/pkg/api"

// Map builds a new container seeded with fn(src.Initial()). Only the
// type-agnostic Config is carried over; transforms, validators, handlers,
// Default, Equal and Fallback are specific to T and are never copied.
//
// Fields set in opts.Config take precedence over src's, so a derived
// container can, for instance, persist under its own key. Boolean flags
// can only be switched on this way.
func Map[T, U any](src api.Container[T], fn func(T) U, opts api.Options[U]) (*Container[U], error) {
	opts.Config = mergeConfig(src.Config(), opts.Config)
	return New(fn(src.Initial()), opts)
}

func mergeConfig(base, over api.Config) api.Config {
	out := base
	out.Distinct = base.Distinct || over.Distinct
	out.History = base.History || over.History
	out.PersistHistory = base.PersistHistory || over.PersistHistory
	out.Production = base.Production || over.Production

	if over.Debounce != 0 {
		out.Debounce = over.Debounce
	}
	if over.HistorySize != 0 {
		out.HistorySize = over.HistorySize
	}
	if over.StorageKey != "" {
		out.StorageKey = over.StorageKey
	}
	if over.Storage != nil {
		out.Storage = over.Storage
	}
	if over.Feed != nil {
		out.Feed = over.Feed
	}
	if over.Timer != nil {
		out.Timer = over.Timer
	}
	if over.StorageTimeout != 0 {
		out.StorageTimeout = over.StorageTimeout
	}
	if over.Retry.MaxAttempts != 0 || over.Retry.Retryable != nil {
		out.Retry = over.Retry
	}
	if over.Context != nil {
		out.Context = over.Context
	}
	if over.Logger != nil {
		out.Logger = over.Logger
	}
	if over.Observer != nil {
		out.Observer = over.Observer
	}
	return out
}
