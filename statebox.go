package statebox

import (
	"database/sql"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/petrijr/statebox/internal/engine"
	"github.com/petrijr/statebox/internal/persistence"
	"github.com/petrijr/statebox/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Container[T any]  = api.Container[T]
	Readable[T any]   = api.Readable[T]
	Options[T any]    = api.Options[T]
	Transform[T any]  = api.Transform[T]
	Validator[T any]  = api.Validator[T]
	Predicate[T any]  = api.Predicate[T]
	Check[T any]      = api.Check[T]
	Subscriber[T any] = api.Subscriber[T]

	Config               = api.Config
	ErrorHandler         = api.ErrorHandler
	Error                = api.Error
	ErrorKind            = api.ErrorKind
	RetryPolicy          = api.RetryPolicy
	Storage              = api.Storage
	SyncStorage          = api.SyncStorage
	ChangeFeed           = api.ChangeFeed
	Change               = api.Change
	Timer                = api.Timer
	Observer             = api.Observer
	CommitEvent          = api.CommitEvent
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver

	// MemoryArea is a process-local storage area shared by several views,
	// the in-process equivalent of one origin's storage seen from many tabs.
	MemoryArea = persistence.MemoryArea

	SQLiteOption = persistence.SQLiteOption
)

// Re-export common observer helpers.

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
)

// Re-export error sentinels. They match through errors.Is.

var (
	ErrInitialization   = api.ErrInitialization
	ErrValidationFailed = api.ErrValidationFailed
	ErrTransform        = api.ErrTransform
	ErrFilterFailed     = api.ErrFilterFailed
	ErrPersistence      = api.ErrPersistence
	ErrSerialization    = api.ErrSerialization
	ErrSubscriber       = api.ErrSubscriber
	ErrHandler          = api.ErrHandler
	ErrLifecycle        = api.ErrLifecycle
	ErrSync             = api.ErrSync
	ErrSchedule         = api.ErrSchedule
)

// KindOf reports the kind of the first *Error in err's chain.
func KindOf(err error) ErrorKind {
	return api.KindOf(err)
}

// Container constructors
// These wrap the internal/engine package so external callers
// never need to import internal packages.

// New returns a container holding initial. If opts configures a storage key,
// a previously persisted value replaces initial.
func New[T any](initial T, opts Options[T]) (Container[T], error) {
	c, err := engine.New(initial, opts)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// MustNew is like New but panics on error.
func MustNew[T any](initial T, opts Options[T]) Container[T] {
	c, err := New(initial, opts)
	if err != nil {
		panic(err)
	}
	return c
}

// Map derives a container seeded with fn(src.Initial()). The derived
// container starts from src's Config (debounce, history, storage key and
// storage) and nothing else; it is not kept in sync with src. Fields set
// in opts.Config override src's, so pass a StorageKey to keep the two
// from writing the same entry.
func Map[T, U any](src Container[T], fn func(T) U, opts Options[U]) (Container[U], error) {
	c, err := engine.Map(src, fn, opts)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Storage constructors

// NewMemoryStorage returns a standalone in-memory storage.
func NewMemoryStorage() SyncStorage {
	return persistence.NewMemoryStore()
}

// NewMemoryArea returns an empty shared area. Each call to its Tab method
// returns a view that sees the other views' writes through its change feed.
func NewMemoryArea() *MemoryArea {
	return persistence.NewMemoryArea()
}

// NewSQLiteStorage returns storage backed by a SQLite database. Other
// processes opening the same database file observe each other's writes.
func NewSQLiteStorage(db *sql.DB, opts ...SQLiteOption) (SyncStorage, error) {
	s, err := persistence.NewSQLiteStore(db, opts...)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// WithSQLitePollInterval sets how often SQLite watchers read the change log.
var WithSQLitePollInterval = persistence.WithPollInterval

// NewPostgresStorage returns storage backed by PostgreSQL. Change
// notification uses LISTEN/NOTIFY; db must use the pgx stdlib driver.
func NewPostgresStorage(db *sql.DB) (SyncStorage, error) {
	s, err := persistence.NewPostgresStore(db)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// NewRedisStorage returns storage backed by Redis. Keys are stored under
// prefix; an empty prefix selects the default.
func NewRedisStorage(client *redis.Client, prefix string) SyncStorage {
	return persistence.NewRedisStore(client, prefix)
}

// NewMongoStorage returns storage backed by a MongoDB collection. Change
// notification requires a replica set.
func NewMongoStorage(client *mongo.Client, database, collection string) SyncStorage {
	return persistence.NewMongoStore(client, database, collection)
}
