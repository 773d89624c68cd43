package persistence

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	"github.com/stretchr/testify/suite"

	"github.com/petrijr/statebox/internal/testutil"
)

type PostgresStoreTestSuite struct {
	suite.Suite
	endpoint string
	store    *PostgresStore
	db       *sql.DB
	ctx      context.Context
}

func TestPostgresStoreTestSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}
	testsuite := new(PostgresStoreTestSuite)
	testsuite.endpoint = testutil.GetPostgresEndpoint(t)
	initTestPostgresStore(t, testsuite)
	suite.Run(t, testsuite)
}

func (p *PostgresStoreTestSuite) SetupTest() {
	_, err := p.db.Exec("TRUNCATE TABLE statebox_values")
	p.NoErrorf(err, "TRUNCATE statebox_values failed %v", "formatted")
}

func initTestPostgresStore(t *testing.T, ts *PostgresStoreTestSuite) {
	t.Helper()

	db, err := sql.Open("pgx", ts.endpoint)
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	ts.db = db
	ts.ctx = context.Background()

	store, err := NewPostgresStore(db)
	if err != nil {
		t.Fatalf("NewPostgresStore failed: %v", err)
	}
	ts.store = store
}

func (p *PostgresStoreTestSuite) TestPostgresStore_StoreLoadDelete() {
	_, found, err := p.store.Load(p.ctx, "settings")
	p.NoError(err)
	p.False(found)

	p.NoError(p.store.Store(p.ctx, "settings", `{"theme":"dark"}`))
	p.NoError(p.store.Store(p.ctx, "settings", `{"theme":"light"}`))

	got, found, err := p.store.Load(p.ctx, "settings")
	p.NoError(err)
	p.True(found)
	p.Equal(`{"theme":"light"}`, got)

	p.NoError(p.store.Delete(p.ctx, "settings"))
	_, found, err = p.store.Load(p.ctx, "settings")
	p.NoError(err)
	p.False(found)
}

func (p *PostgresStoreTestSuite) TestPostgresStore_WatchDeliversOtherOrigins() {
	other := p.store.Tab()
	rec := &changeRecorder{}

	stop, err := p.store.Watch(p.ctx, "settings", rec.record)
	p.NoError(err)
	defer stop()

	p.NoError(p.store.Store(p.ctx, "settings", "own"))
	p.NoError(other.Store(p.ctx, "unrelated", "x"))
	p.NoError(other.Store(p.ctx, "settings", "remote"))

	p.Eventually(func() bool { return len(rec.snapshot()) == 1 }, 5*time.Second, 20*time.Millisecond)

	got := rec.snapshot()
	p.Require().NotNil(got[0].Value)
	p.Equal("remote", *got[0].Value)
	p.Equal(other.Origin(), got[0].Origin)

	p.NoError(other.Delete(p.ctx, "settings"))
	p.Eventually(func() bool { return len(rec.snapshot()) == 2 }, 5*time.Second, 20*time.Millisecond)
	p.Nil(rec.snapshot()[1].Value)
}
