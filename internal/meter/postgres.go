package meter

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

const postgresOperationTimeout = 5 * time.Second

var ErrInvalidDSN = errors.New("meter: postgres dsn is required")

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresStore keeps reservation counters in a shared Postgres table so
// every instance handling webhooks for the same tenant decrements the same
// counter.
type PostgresStore struct {
	dsn    string
	openDB sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidDSN
	}
	return &PostgresStore{
		dsn:    dsn,
		openDB: sql.Open,
	}, nil
}

// Spend takes one unit off the live counter for key through a single atomic
// decrement. ok is false when the counter is exhausted; found is false when
// no live counter exists and the caller must Seed one first.
func (s *PostgresStore) Spend(ctx context.Context, key string) (int, bool, bool, error) {
	if err := s.ensureReady(); err != nil {
		return 0, false, false, err
	}

	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	const spendQuery = `
		UPDATE meter_reservations
		SET remaining = remaining - 1
		WHERE reservation_key = $1 AND remaining > 0 AND expires_at >= NOW()
		RETURNING remaining`
	var remaining int
	err := s.db.QueryRowContext(ctx, spendQuery, key).Scan(&remaining)
	if err == nil {
		return remaining, true, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, false, false, err
	}

	// Nothing matched: either the counter is exhausted or it does not exist
	// (or expired). Tell the two apart so the caller only seeds on a miss.
	const liveQuery = `
		SELECT EXISTS (
			SELECT 1 FROM meter_reservations
			WHERE reservation_key = $1 AND expires_at >= NOW()
		)`
	var live bool
	if err := s.db.QueryRowContext(ctx, liveQuery, key).Scan(&live); err != nil {
		return 0, false, false, err
	}

	return 0, false, live, nil
}

// Seed installs the counter for key when it is absent or expired. A live row
// is left alone so concurrent reservations keep decrementing it.
func (s *PostgresStore) Seed(ctx context.Context, key string, seed int, ttl time.Duration) error {
	if err := s.ensureReady(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	const seedQuery = `
		INSERT INTO meter_reservations (reservation_key, remaining, expires_at)
		VALUES ($1, $2, NOW() + $3 * INTERVAL '1 second')
		ON CONFLICT (reservation_key)
		DO UPDATE SET remaining = EXCLUDED.remaining, expires_at = EXCLUDED.expires_at
		WHERE meter_reservations.expires_at < NOW()`
	_, err := s.db.ExecContext(ctx, seedQuery, key, seed, int(ttl.Seconds()))
	return err
}

func (s *PostgresStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresStore) ensureReady() error {
	s.initOnce.Do(func() {
		db, err := s.openDB("postgres", s.dsn)
		if err != nil {
			s.initErr = err
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()

		const create = `
			CREATE TABLE IF NOT EXISTS meter_reservations (
				reservation_key TEXT PRIMARY KEY,
				remaining INTEGER NOT NULL,
				expires_at TIMESTAMPTZ NOT NULL
			)`
		if _, err := db.ExecContext(ctx, create); err != nil {
			s.initErr = err
			_ = db.Close()
			return
		}

		s.db = db
	})

	return s.initErr
}
