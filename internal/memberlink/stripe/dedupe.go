package stripe

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
	_ "modernc.org/sqlite"
)

// ErrEventInFlight is returned while another attempt holds the lease for an
// event. The caller answers non-2xx so Stripe retries later.
var ErrEventInFlight = errors.New("webhook event already in flight")

const (
	eventsDBFile         = "memberlink_events.db"
	defaultLeaseTTL      = 10 * time.Minute
	defaultRetention     = 30 * 24 * time.Hour
	dedupeCleanupEvery   = time.Hour
	privateDirPerm       = 0o700
	eventStateProcessing = "processing"
	eventStateDone       = "done"
)

// Deduper provides durable idempotency for webhook event IDs. Stripe delivers
// at least once, so a completed event must become a no-op on redelivery while
// a failed one stays retryable.
type Deduper struct {
	db          *sql.DB
	mu          sync.Mutex
	group       singleflight.Group
	leaseTTL    time.Duration
	retention   time.Duration
	now         func() time.Time
	stopCleanup chan struct{}
	closeOnce   sync.Once
}

type dedupeResult struct {
	already bool
}

// NewDeduper opens (or creates) the event database in dir.
func NewDeduper(dir string) (*Deduper, error) {
	dir = filepath.Clean(dir)
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("dir is required")
	}
	if err := os.MkdirAll(dir, privateDirPerm); err != nil {
		return nil, fmt.Errorf("create event store dir: %w", err)
	}

	dsn := filepath.Join(dir, eventsDBFile) + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open event db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	d := &Deduper{
		db:          db,
		leaseTTL:    defaultLeaseTTL,
		retention:   defaultRetention,
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}
	if err := d.initSchema(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, errors.Join(err, fmt.Errorf("close event db after schema init failure: %w", closeErr))
		}
		return nil, err
	}

	go d.cleanupLoop()
	return d, nil
}

func (d *Deduper) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS webhook_events (
		event_id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		lease_until INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_webhook_events_updated_at ON webhook_events(updated_at);
	`
	if _, err := d.db.Exec(schema); err != nil {
		return fmt.Errorf("init event schema: %w", err)
	}
	return nil
}

// Do runs fn once per eventID. It reports already=true when the event was
// processed before. Concurrent in-process calls for the same ID share one
// execution; a lease held by another process yields ErrEventInFlight. A
// failing fn releases the lease so the next delivery retries in full.
func (d *Deduper) Do(ctx context.Context, eventID string, fn func() error) (already bool, err error) {
	if strings.TrimSpace(eventID) == "" {
		return false, errors.New("event id is required")
	}
	if fn == nil {
		return false, errors.New("handler is required")
	}

	v, err, _ := d.group.Do(eventID, func() (any, error) {
		return d.do(ctx, eventID, fn)
	})
	if err != nil {
		return false, err
	}
	return v.(dedupeResult).already, nil
}

func (d *Deduper) do(ctx context.Context, eventID string, fn func() error) (dedupeResult, error) {
	done, err := d.acquire(ctx, eventID)
	if err != nil {
		return dedupeResult{}, err
	}
	if done {
		return dedupeResult{already: true}, nil
	}

	if err := fn(); err != nil {
		if releaseErr := d.release(eventID); releaseErr != nil {
			log.Warn().Err(releaseErr).Str("event_id", eventID).Msg("Failed to release webhook event lease")
		}
		return dedupeResult{}, err
	}

	if err := d.markDone(eventID); err != nil {
		return dedupeResult{}, err
	}
	return dedupeResult{}, nil
}

// acquire takes the processing lease. It reports done=true when the event
// already completed.
func (d *Deduper) acquire(ctx context.Context, eventID string) (done bool, err error) {
	now := d.now().UTC()

	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin acquire tx: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			log.Warn().Err(rollbackErr).Msg("Failed to rollback webhook event acquire transaction")
		}
	}()

	var state string
	var leaseUntil int64
	row := tx.QueryRowContext(ctx, `SELECT state, lease_until FROM webhook_events WHERE event_id = ?`, eventID)
	switch scanErr := row.Scan(&state, &leaseUntil); {
	case scanErr == nil:
		if state == eventStateDone {
			return true, nil
		}
		// Stale leases from a crashed attempt are taken over.
		if leaseUntil > now.Unix() {
			return false, ErrEventInFlight
		}
	case errors.Is(scanErr, sql.ErrNoRows):
	default:
		return false, fmt.Errorf("load webhook event: %w", scanErr)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO webhook_events (event_id, state, lease_until, updated_at) VALUES (?, ?, ?, ?)`,
		eventID, eventStateProcessing, now.Add(d.leaseTTL).Unix(), now.Unix(),
	); err != nil {
		return false, fmt.Errorf("take webhook event lease: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit acquire tx: %w", err)
	}
	return false, nil
}

// release drops a processing lease. It runs after a failed attempt, possibly
// with a cancelled request context, so it uses its own.
func (d *Deduper) release(eventID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.db.ExecContext(ctx, `DELETE FROM webhook_events WHERE event_id = ? AND state = ?`, eventID, eventStateProcessing); err != nil {
		return fmt.Errorf("release webhook event lease: %w", err)
	}
	return nil
}

// markDone records completion. fn has already applied its side effects, so
// a cancelled request context must not leave the lease behind.
func (d *Deduper) markDone(eventID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.db.ExecContext(ctx,
		`UPDATE webhook_events SET state = ?, lease_until = 0, updated_at = ? WHERE event_id = ?`,
		eventStateDone, d.now().UTC().Unix(), eventID,
	); err != nil {
		return fmt.Errorf("mark webhook event done: %w", err)
	}
	return nil
}

// Prune removes completed events older than the retention window and
// expired leases.
func (d *Deduper) Prune(now time.Time) error {
	now = now.UTC()
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.db.Exec(
		`DELETE FROM webhook_events WHERE (state = ? AND updated_at < ?) OR (state = ? AND lease_until < ?)`,
		eventStateDone, now.Add(-d.retention).Unix(), eventStateProcessing, now.Unix(),
	); err != nil {
		return fmt.Errorf("prune webhook events: %w", err)
	}
	return nil
}

func (d *Deduper) cleanupLoop() {
	ticker := time.NewTicker(dedupeCleanupEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := d.Prune(d.now()); err != nil {
				log.Warn().Err(err).Msg("Failed to prune webhook events")
			}
		case <-d.stopCleanup:
			return
		}
	}
}

// Ping checks the database is reachable.
func (d *Deduper) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Close stops the cleanup loop and closes the database.
func (d *Deduper) Close() error {
	var err error
	d.closeOnce.Do(func() {
		close(d.stopCleanup)
		d.mu.Lock()
		defer d.mu.Unlock()
		err = d.db.Close()
	})
	return err
}
