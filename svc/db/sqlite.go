package db

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"sealbin/pkg/domain"
)

var ErrCircuitOpen = errors.New("database circuit breaker open")

const (
	circuitClosed      = 0
	circuitOpen        = 1
	circuitHalfOpen    = 2
	maxFailures        = 5
	cooldownSeconds    = 30
	minResponseTime    = 50 * time.Millisecond
	responseTimeJitter = 20 * time.Millisecond
)

const (
	defaultMaxOpenConns = 100
	defaultMaxIdleConns = 10
	defaultQueryTimeout = 5 * time.Second
)

// SQLite is the durable metadata store: the authoritative record of expiry
// rules, view counts, burn flags, and deletion-token digests.
type SQLite struct {
	db            *sql.DB
	failures      int32
	circuitState  int32
	circuitOpened int64
	queryTimeout  time.Duration
}

func (s *SQLite) DB() *sql.DB {
	return s.db
}

func NewSQLite(path string) (*SQLite, error) {
	return NewSQLiteWithConfig(path, defaultMaxOpenConns, defaultMaxIdleConns, defaultQueryTimeout)
}

func NewSQLiteWithConfig(path string, maxOpenConns, maxIdleConns int, queryTimeout time.Duration) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open db")
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "failed to ping db")
	}
	s := &SQLite{
		db:           db,
		queryTimeout: queryTimeout,
	}
	if err := s.migrate(); err != nil {
		return nil, errors.Wrap(err, "migration failed")
	}
	return s, nil
}

func (s *SQLite) checkCircuit() error {
	state := atomic.LoadInt32(&s.circuitState)
	switch state {
	case circuitClosed:
		return nil
	case circuitOpen:
		opened := atomic.LoadInt64(&s.circuitOpened)
		if time.Now().Unix()-opened >= cooldownSeconds {
			if atomic.CompareAndSwapInt32(&s.circuitState, circuitOpen, circuitHalfOpen) {
				return nil
			}
		}
		return ErrCircuitOpen
	case circuitHalfOpen:
		return nil
	default:
		return nil
	}
}

func (s *SQLite) recordError(err error) {
	if err == nil {
		atomic.StoreInt32(&s.failures, 0)
		atomic.StoreInt32(&s.circuitState, circuitClosed)
		return
	}
	if errors.Is(err, sql.ErrNoRows) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return
	}
	failures := atomic.AddInt32(&s.failures, 1)
	if atomic.LoadInt32(&s.circuitState) == circuitHalfOpen {
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
		atomic.StoreInt32(&s.failures, 0)
		return
	}
	if failures >= maxFailures && atomic.LoadInt32(&s.circuitState) == circuitClosed {
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
	}
}

func (s *SQLite) migrate() error {
	_, err := s.db.Exec("PRAGMA journal_mode=WAL")
	if err != nil {
		return errors.Wrap(err, "enable WAL mode")
	}
	_, err = s.db.Exec("PRAGMA busy_timeout = 5000")
	if err != nil {
		return errors.Wrap(err, "set busy timeout")
	}
	_, err = s.db.Exec("PRAGMA synchronous=FULL")
	if err != nil {
		return errors.Wrap(err, "set synchronous mode")
	}
	query := `
	CREATE TABLE IF NOT EXISTS pastes (
		id TEXT PRIMARY KEY,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		expires_at DATETIME,
		max_views INTEGER,
		view_count INTEGER NOT NULL DEFAULT 0,
		burned INTEGER NOT NULL DEFAULT 0,
		has_password INTEGER NOT NULL DEFAULT 0,
		token_digest TEXT,
		display TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_expires_at ON pastes(expires_at);
	CREATE INDEX IF NOT EXISTS idx_burned ON pastes(burned);
	`
	_, err = s.db.Exec(query)
	return err
}

// normalizeResponseTime flattens the timing difference between hit and miss
// paths so id probing cannot distinguish them.
func normalizeResponseTime(start time.Time) {
	elapsed := time.Since(start)
	var jitterNanos int64
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		jitterNanos = int64(responseTimeJitter)
	} else {
		jitterNanos = int64(binary.BigEndian.Uint64(b[:]) % uint64(responseTimeJitter))
	}
	target := minResponseTime + time.Duration(jitterNanos)
	if elapsed < target {
		time.Sleep(target - elapsed)
	}
}

func (s *SQLite) Create(ctx context.Context, m *domain.Metadata) error {
	start := time.Now()
	defer normalizeResponseTime(start)
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	display, err := marshalDisplay(m.Display)
	if err != nil {
		return errors.Wrap(err, "marshal display")
	}
	q := `
	INSERT INTO pastes (id, created_at, updated_at, expires_at, max_views, view_count, burned, has_password, token_digest, display)
	VALUES (?, ?, ?, ?, ?, 0, 0, ?, ?, ?)
	`
	_, err = s.db.ExecContext(queryCtx, q,
		m.ID, m.CreatedAt, m.UpdatedAt, nullTime(m.ExpiresAt), nullInt(m.MaxViews), m.HasPassword, nullStr(m.TokenDigest), display,
	)
	s.recordError(err)
	return errors.Wrap(err, "db create")
}

func (s *SQLite) Get(ctx context.Context, id string) (*domain.Metadata, error) {
	start := time.Now()
	defer normalizeResponseTime(start)
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `
	SELECT id, created_at, updated_at, expires_at, max_views, view_count, burned, has_password, token_digest, display
	FROM pastes WHERE id = ?
	`
	var (
		m       domain.Metadata
		exp     sql.NullTime
		views   sql.NullInt64
		digest  sql.NullString
		display sql.NullString
	)
	err := s.db.QueryRowContext(queryCtx, q, id).Scan(
		&m.ID, &m.CreatedAt, &m.UpdatedAt, &exp, &views, &m.ViewCount, &m.Burned, &m.HasPassword, &digest, &display,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrPasteNotFound
	}
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "db get")
	}
	if exp.Valid {
		t := exp.Time
		m.ExpiresAt = &t
	}
	if views.Valid {
		n := int(views.Int64)
		m.MaxViews = &n
	}
	if digest.Valid {
		m.TokenDigest = digest.String
	}
	if display.Valid && display.String != "" {
		if err := json.Unmarshal([]byte(display.String), &m.Display); err != nil {
			return nil, errors.Wrap(err, "unmarshal display")
		}
	}
	return &m, nil
}

// ConsumeView atomically increments the view count and returns the new
// value, letting the caller decide the burn threshold in one round trip.
func (s *SQLite) ConsumeView(ctx context.Context, id string, now time.Time) (int, error) {
	if err := s.checkCircuit(); err != nil {
		return 0, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `
	UPDATE pastes SET view_count = view_count + 1, updated_at = ?
	WHERE id = ?
	RETURNING view_count
	`
	var count int
	err := s.db.QueryRowContext(queryCtx, q, now, id).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, domain.ErrPasteNotFound
	}
	s.recordError(err)
	if err != nil {
		return 0, errors.Wrap(err, "consume view")
	}
	return count, nil
}

// MarkBurned sets the burn flag at most once. Repeat calls are no-ops.
func (s *SQLite) MarkBurned(ctx context.Context, id string, now time.Time) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `UPDATE pastes SET burned = 1, updated_at = ? WHERE id = ? AND burned = 0`
	_, err := s.db.ExecContext(queryCtx, q, now, id)
	s.recordError(err)
	return errors.Wrap(err, "mark burned")
}

// Rename relocates a metadata row to a new id in place. Counts, flags, and
// the token digest travel with the row; only the address changes.
func (s *SQLite) Rename(ctx context.Context, oldID, newID string, now time.Time) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `UPDATE pastes SET id = ?, updated_at = ? WHERE id = ?`
	result, err := s.db.ExecContext(queryCtx, q, newID, now, oldID)
	s.recordError(err)
	if err != nil {
		return errors.Wrap(err, "rename paste")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rename rows affected")
	}
	if affected == 0 {
		return domain.ErrPasteNotFound
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context, id string) error {
	start := time.Now()
	defer normalizeResponseTime(start)
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `DELETE FROM pastes WHERE id = ?`
	_, err := s.db.ExecContext(queryCtx, q, id)
	s.recordError(err)
	return errors.Wrap(err, "delete paste")
}

const expiredPredicate = `
	(expires_at IS NOT NULL AND expires_at < ?)
	OR burned = 1
	OR (max_views IS NOT NULL AND view_count >= max_views)
`

// ExpiredIDs lists rows matching the expiry predicate so the sweep can
// purge their payloads before the rows themselves go.
func (s *SQLite) ExpiredIDs(ctx context.Context, now time.Time, limit int) ([]string, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `SELECT id FROM pastes WHERE ` + expiredPredicate + ` LIMIT ?`
	rows, err := s.db.QueryContext(queryCtx, q, now, limit)
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "list expired")
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan expired id")
		}
		ids = append(ids, id)
	}
	return ids, errors.Wrap(rows.Err(), "iterate expired")
}

// PurgeExpired deletes expired rows in bounded batches.
func (s *SQLite) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	if err := s.checkCircuit(); err != nil {
		return 0, err
	}
	totalDeleted := 0
	maxIterations := 10000
	for i := 0; i < maxIterations; i++ {
		select {
		case <-ctx.Done():
			return totalDeleted, ctx.Err()
		default:
		}
		queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
		result, err := s.db.ExecContext(queryCtx, `
			DELETE FROM pastes
			WHERE id IN (
				SELECT id FROM pastes
				WHERE `+expiredPredicate+`
				LIMIT 100
			)
		`, now)
		cancel()
		s.recordError(err)
		if err != nil {
			return totalDeleted, errors.Wrap(err, "purge batch failed")
		}
		deleted, _ := result.RowsAffected()
		totalDeleted += int(deleted)
		if deleted == 0 {
			break
		}
		select {
		case <-ctx.Done():
			return totalDeleted, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
	if totalDeleted == maxIterations*100 {
		return totalDeleted, errors.New("purge hit iteration limit, more records may exist")
	}
	return totalDeleted, nil
}

func (s *SQLite) Exists(ctx context.Context, id string) (bool, error) {
	start := time.Now()
	defer normalizeResponseTime(start)
	if err := s.checkCircuit(); err != nil {
		return false, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	var exists int
	q := `SELECT 1 FROM pastes WHERE id = ? LIMIT 1`
	err := s.db.QueryRowContext(queryCtx, q, id).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	s.recordError(err)
	if err != nil {
		return false, errors.Wrap(err, "exists check failed")
	}
	return exists == 1, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func marshalDisplay(d domain.DisplayMeta) (string, error) {
	if d.Language == "" && d.Title == "" && len(d.Tags) == 0 {
		return "", nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func nullInt(n *int) interface{} {
	if n == nil {
		return nil
	}
	return *n
}

func nullStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
