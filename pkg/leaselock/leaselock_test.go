package leaselock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type leaseRow struct {
	token   string
	expires time.Time
}

// fakeDB implements the three lease statements over an in-memory map,
// with the same steal-when-expired semantics as the SQL.
type fakeDB struct {
	mu   sync.Mutex
	rows map[string]leaseRow
}

func newFakeDB() *fakeDB {
	return &fakeDB{rows: make(map[string]leaseRow)}
}

func (f *fakeDB) put(name, token string, ttl time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[name] = leaseRow{token: token, expires: time.Now().Add(ttl)}
}

func (f *fakeDB) drop(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, name)
}

func (f *fakeDB) holder(name string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[name]
	return row.token, ok
}

type scanRow struct {
	name string
	err  error
}

func (r scanRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) > 0 {
		if s, ok := dest[0].(*string); ok {
			*s = r.name
		}
	}
	return nil
}

func (f *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := args[0].(string)
	token := args[1].(string)
	ttl := time.Duration(args[2].(int64)) * time.Millisecond

	switch sql {
	case acquireLeaseSQL:
		row, held := f.rows[name]
		if held && row.expires.After(time.Now()) && row.token != token {
			return scanRow{err: pgx.ErrNoRows}
		}
		f.rows[name] = leaseRow{token: token, expires: time.Now().Add(ttl)}
		return scanRow{name: name}

	case renewLeaseSQL:
		row, held := f.rows[name]
		if !held || row.token != token {
			return scanRow{err: pgx.ErrNoRows}
		}
		row.expires = time.Now().Add(ttl)
		f.rows[name] = row
		return scanRow{name: name}

	default:
		return scanRow{err: fmt.Errorf("unexpected query: %s", sql)}
	}
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if sql != releaseLeaseSQL {
		return pgconn.CommandTag{}, fmt.Errorf("unexpected exec: %s", sql)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	name := args[0].(string)
	token := args[1].(string)
	if row, ok := f.rows[name]; ok && row.token == token {
		delete(f.rows, name)
	}
	return pgconn.CommandTag{}, nil
}

func TestAcquireAndRelease(t *testing.T) {
	db := newFakeDB()
	c := &Client{db: db}

	lease, err := c.Acquire(context.Background(), "graph:g-1", Options{
		TTL:         time.Minute,
		TokenPrefix: "worker-1/",
	})
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if lease.Name != "graph:g-1" {
		t.Errorf("lease.Name = %q, want graph:g-1", lease.Name)
	}
	if !strings.HasPrefix(lease.Token, "worker-1/") {
		t.Errorf("lease.Token = %q, want worker-1/ prefix", lease.Token)
	}
	if lease.Context.Err() != nil {
		t.Errorf("lease context done before release: %v", lease.Context.Err())
	}
	if token, held := db.holder("graph:g-1"); !held || token != lease.Token {
		t.Errorf("holder = %q (%v), want our token", token, held)
	}

	if err := lease.Release(context.Background()); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, held := db.holder("graph:g-1"); held {
		t.Errorf("lease row still present after release")
	}
	select {
	case <-lease.Context.Done():
	default:
		t.Errorf("lease context still live after release")
	}
}

func TestAcquireBusy(t *testing.T) {
	db := newFakeDB()
	db.put("graph:g-1", "someone-else", time.Hour)
	c := &Client{db: db}

	_, err := c.Acquire(context.Background(), "graph:g-1", Options{TTL: time.Minute})
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("Acquire() error = %v, want ErrBusy", err)
	}
	if token, _ := db.holder("graph:g-1"); token != "someone-else" {
		t.Errorf("holder = %q, busy acquire must not steal", token)
	}
}

func TestAcquireStealsExpiredLease(t *testing.T) {
	db := newFakeDB()
	db.put("graph:g-1", "crashed-worker", -time.Second)
	c := &Client{db: db}

	lease, err := c.Acquire(context.Background(), "graph:g-1", Options{TTL: time.Minute})
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer lease.Release(context.Background())

	if token, _ := db.holder("graph:g-1"); token != lease.Token {
		t.Errorf("holder = %q, want the expired lease stolen", token)
	}
}

func TestAcquireWaitsForExpiry(t *testing.T) {
	db := newFakeDB()
	db.put("graph:g-1", "slow-worker", 40*time.Millisecond)
	c := &Client{db: db}

	lease, err := c.Acquire(context.Background(), "graph:g-1", Options{
		TTL:          time.Minute,
		Wait:         true,
		WaitInterval: 5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer lease.Release(context.Background())

	if token, _ := db.holder("graph:g-1"); token != lease.Token {
		t.Errorf("holder = %q, want ours after the previous lease expired", token)
	}
}

func TestAcquireWaitStopsWithContext(t *testing.T) {
	db := newFakeDB()
	db.put("graph:g-1", "long-holder", time.Hour)
	c := &Client{db: db}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := c.Acquire(ctx, "graph:g-1", Options{
		TTL:          time.Minute,
		Wait:         true,
		WaitInterval: 5 * time.Millisecond,
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Acquire() error = %v, want context deadline", err)
	}
}

func TestLostLeaseCancelsContext(t *testing.T) {
	db := newFakeDB()
	c := &Client{db: db}

	lease, err := c.Acquire(context.Background(), "graph:g-1", Options{
		TTL:        80 * time.Millisecond,
		RenewEvery: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	db.drop("graph:g-1")

	select {
	case <-lease.Context.Done():
		if cause := context.Cause(lease.Context); !errors.Is(cause, ErrLost) {
			t.Errorf("cancel cause = %v, want ErrLost", cause)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("lease context not cancelled after the lease was taken away")
	}
}

func TestWithLease(t *testing.T) {
	db := newFakeDB()
	c := &Client{db: db}

	ran := false
	err := c.WithLease(context.Background(), "graph:g-1", Options{TTL: time.Minute}, func(ctx context.Context) error {
		ran = true
		if ctx.Err() != nil {
			t.Errorf("lease context done inside fn: %v", ctx.Err())
		}
		if _, held := db.holder("graph:g-1"); !held {
			t.Errorf("lease not held while fn runs")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithLease() error = %v", err)
	}
	if !ran {
		t.Fatalf("WithLease() never ran fn")
	}
	if _, held := db.holder("graph:g-1"); held {
		t.Errorf("lease row still present after WithLease returned")
	}
}

func TestWithLeasePropagatesError(t *testing.T) {
	db := newFakeDB()
	c := &Client{db: db}
	boom := errors.New("merge failed")

	err := c.WithLease(context.Background(), "graph:g-1", Options{TTL: time.Minute}, func(ctx context.Context) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithLease() error = %v, want fn error", err)
	}
	if _, held := db.holder("graph:g-1"); held {
		t.Errorf("lease row still present after fn failure")
	}
}
