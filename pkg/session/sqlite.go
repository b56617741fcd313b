package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteStore persists sessions in SQLite so that sessions survive a
// restart of a single-instance deployment. It uses WAL mode and a single
// connection, and checkpoints the WAL periodically.
type SQLiteStore struct {
	db                 *sql.DB
	checkpointInterval time.Duration
	done               chan struct{}
	closeOnce          sync.Once

	insertStmt     *sql.Stmt
	getStmt        *sql.Stmt
	transitionStmt *sql.Stmt
	purgeStmt      *sql.Stmt
	countStmt      *sql.Stmt
}

// SQLiteStoreConfig configures the SQLite store.
type SQLiteStoreConfig struct {
	// Path is the database file path. ":memory:" is accepted for tests.
	Path string

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration

	// CheckpointInterval is how often to checkpoint the WAL.
	// Default: 5 minutes
	CheckpointInterval time.Duration
}

// NewSQLiteStore opens (and if needed creates) the session database.
func NewSQLiteStore(cfg SQLiteStoreConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.CheckpointInterval == 0 {
		cfg.CheckpointInterval = 5 * time.Minute
	}

	if cfg.Path != ":memory:" {
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_synchronous=NORMAL",
		cfg.Path, int(cfg.BusyTimeout.Milliseconds()))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &SQLiteStore{
		db:                 db,
		checkpointInterval: cfg.CheckpointInterval,
		done:               make(chan struct{}),
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := store.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	go store.checkpointLoop()

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL,
		origin_domain TEXT NOT NULL,
		fingerprint_hash TEXT NOT NULL,
		state TEXT NOT NULL,
		ended_at INTEGER NOT NULL DEFAULT 0,
		end_reason TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at);
	CREATE INDEX IF NOT EXISTS idx_sessions_state_ended ON sessions(state, ended_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.insertStmt, err = s.db.Prepare(`
		INSERT INTO sessions (id, created_at, expires_at, origin_domain, fingerprint_hash, state, ended_at, end_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert statement: %w", err)
	}

	s.getStmt, err = s.db.Prepare(`
		SELECT id, created_at, expires_at, origin_domain, fingerprint_hash, state, ended_at, end_reason
		FROM sessions
		WHERE id = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare get statement: %w", err)
	}

	s.transitionStmt, err = s.db.Prepare(`
		UPDATE sessions
		SET state = ?, ended_at = ?, end_reason = ?
		WHERE id = ? AND state = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare transition statement: %w", err)
	}

	s.purgeStmt, err = s.db.Prepare(`
		DELETE FROM sessions
		WHERE (state IN ('terminated', 'expired') AND ended_at < ?)
		   OR expires_at < ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare purge statement: %w", err)
	}

	s.countStmt, err = s.db.Prepare(`SELECT state, COUNT(*) FROM sessions GROUP BY state`)
	if err != nil {
		return fmt.Errorf("failed to prepare count statement: %w", err)
	}

	return nil
}

// Create inserts a new session.
func (s *SQLiteStore) Create(ctx context.Context, sess *Session) error {
	if sess == nil || sess.ID == "" {
		return fmt.Errorf("session id cannot be empty")
	}

	_, err := s.insertStmt.ExecContext(ctx,
		sess.ID,
		sess.CreatedAt.Unix(),
		sess.ExpiresAt.Unix(),
		sess.OriginDomain,
		sess.FingerprintHash,
		string(sess.State),
		unixOrZero(sess.EndedAt),
		sess.EndReason,
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// Get loads a session by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Session, error) {
	return s.get(ctx, id)
}

func (s *SQLiteStore) get(ctx context.Context, id string) (*Session, error) {
	var (
		sess      Session
		state     string
		createdAt int64
		expiresAt int64
		endedAt   int64
	)

	err := s.getStmt.QueryRowContext(ctx, id).Scan(
		&sess.ID,
		&createdAt,
		&expiresAt,
		&sess.OriginDomain,
		&sess.FingerprintHash,
		&state,
		&endedAt,
		&sess.EndReason,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	sess.State = State(state)
	sess.CreatedAt = time.Unix(createdAt, 0).UTC()
	sess.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	if endedAt != 0 {
		sess.EndedAt = time.Unix(endedAt, 0).UTC()
	}
	return &sess, nil
}

// Transition performs a conditional state update.
func (s *SQLiteStore) Transition(ctx context.Context, id string, from, to State, at time.Time, reason string) (*Session, error) {
	var endedAt int64
	if to.Final() {
		endedAt = at.Unix()
	} else {
		reason = ""
	}

	res, err := s.transitionStmt.ExecContext(ctx, string(to), endedAt, reason, id, string(from))
	if err != nil {
		return nil, fmt.Errorf("failed to update session state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}

	current, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return current, ErrStateConflict
	}
	return current, nil
}

// Purge deletes finished or long-expired sessions.
func (s *SQLiteStore) Purge(ctx context.Context, before time.Time) (int, error) {
	cutoff := before.Unix()
	res, err := s.purgeStmt.ExecContext(ctx, cutoff, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge sessions: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(deleted), nil
}

// Count returns the number of sessions per state.
func (s *SQLiteStore) Count(ctx context.Context) (map[State]int, error) {
	rows, err := s.countStmt.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count sessions: %w", err)
	}
	defer rows.Close()

	counts := make(map[State]int)
	for rows.Next() {
		var (
			state string
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		counts[State(state)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return counts, nil
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close stops the checkpoint loop, truncates the WAL, and closes the database.
// Close is idempotent and safe to call multiple times.
func (s *SQLiteStore) Close() error {
	var closeErr error

	s.closeOnce.Do(func() {
		close(s.done)

		if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			slog.Warn("final WAL checkpoint failed", "error", err)
		}

		for _, stmt := range []*sql.Stmt{s.insertStmt, s.getStmt, s.transitionStmt, s.purgeStmt, s.countStmt} {
			if stmt != nil {
				stmt.Close()
			}
		}

		closeErr = s.db.Close()
	})

	return closeErr
}

// checkpointLoop periodically checkpoints the WAL so it does not grow unbounded.
func (s *SQLiteStore) checkpointLoop() {
	ticker := time.NewTicker(s.checkpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.db.Exec("PRAGMA wal_checkpoint(PASSIVE)"); err != nil {
				slog.Warn("WAL checkpoint failed", "error", err)
			}
		case <-s.done:
			return
		}
	}
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
