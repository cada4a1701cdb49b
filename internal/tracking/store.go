package tracking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/epimonitor/manager/pkg/types"
	_ "github.com/mattn/go-sqlite3"
)

// Store errors. The service translates them into structured errors.
var (
	ErrSessionNotFound  = errors.New("tracking: session not found")
	ErrDuplicateSession = errors.New("tracking: session id already exists")
)

// Store persists sessions, log events and file records.
type Store interface {
	// CreateSession inserts a new session. Returns ErrDuplicateSession when
	// the id is already taken.
	CreateSession(ctx context.Context, session *types.Session) error

	// GetSession retrieves a session by id.
	GetSession(ctx context.Context, sessionID string) (*types.Session, error)

	// ListSessions returns sessions, newest first, optionally filtered by app.
	ListSessions(ctx context.Context, appName string, limit int) ([]*types.Session, error)

	// UpdateSession overwrites status and, when non-nil, start and end.
	UpdateSession(ctx context.Context, update *types.StatusUpdate) (*types.Session, error)

	// AppendLog inserts a log row. A CRITICAL entry also marks the session
	// FINISHED_WITH_ERRORS with end set to the entry timestamp, in the same
	// transaction and before the row is inserted.
	AppendLog(ctx context.Context, entry *types.LogEntry) (*types.LogEntry, error)

	// ListLogs returns a session's log rows in insertion order.
	ListLogs(ctx context.Context, sessionID string) ([]*types.LogEntry, error)

	// InsertFile inserts an upload metadata row.
	InsertFile(ctx context.Context, record *types.FileRecord) (*types.FileRecord, error)

	// ListFiles returns a session's file rows in insertion order.
	ListFiles(ctx context.Context, sessionID string) ([]*types.FileRecord, error)

	// FilesSince returns all file rows uploaded at or after since.
	FilesSince(ctx context.Context, since time.Time) ([]*types.FileRecord, error)

	// Close closes the database connections.
	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB // Write connection (single writer)
	readDB *sql.DB // Read connection pool (concurrent readers)
	dbPath string
	mu     sync.Mutex // Write-only lock (reads don't need this)
}

// NewSQLiteStore opens (creating if needed) the tracking database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

	// Write connection: single writer with WAL mode
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("tracking: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{
		db:     db,
		dbPath: dbPath,
	}

	// Initialize schema before the read pool opens so readers never race
	// table creation.
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("tracking: failed to initialize schema: %w", err)
	}

	readDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("tracking: failed to open read database: %w", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)
	store.readDB = readDB

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, stmt := range AllSchemaSQL() {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.dbPath
}

// CreateSession inserts a new session row.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *types.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO status (session_id, app_name, status, "start", "end")
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO NOTHING`,
		session.SessionID, session.AppName, session.Status,
		session.Start.UnixNano(), nullableNanos(session.End),
	)
	if err != nil {
		return fmt.Errorf("tracking: failed to insert session: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("tracking: failed to read insert result: %w", err)
	}
	if n == 0 {
		return ErrDuplicateSession
	}
	return nil
}

// GetSession retrieves a single session by id.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	row := s.readDB.QueryRowContext(ctx, `
		SELECT session_id, app_name, status, "start", "end"
		FROM status
		WHERE session_id = ?`, sessionID)
	return scanSession(row)
}

// ListSessions returns sessions ordered by start time, newest first.
func (s *SQLiteStore) ListSessions(ctx context.Context, appName string, limit int) ([]*types.Session, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT session_id, app_name, status, "start", "end" FROM status`
	var args []interface{}
	if appName != "" {
		query += ` WHERE app_name = ?`
		args = append(args, appName)
	}
	query += ` ORDER BY "start" DESC, session_id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("tracking: failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*types.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tracking: error iterating sessions: %w", err)
	}
	return sessions, nil
}

// UpdateSession applies a partial status update.
func (s *SQLiteStore) UpdateSession(ctx context.Context, update *types.StatusUpdate) (*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("tracking: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE status
		SET status = ?,
			"start" = COALESCE(?, "start"),
			"end" = COALESCE(?, "end")
		WHERE session_id = ?`,
		update.Status, nullableNanos(update.Start), nullableNanos(update.End), update.SessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("tracking: failed to update session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("tracking: failed to read update result: %w", err)
	}
	if n == 0 {
		return nil, ErrSessionNotFound
	}

	session, err := scanSession(tx.QueryRowContext(ctx, `
		SELECT session_id, app_name, status, "start", "end"
		FROM status
		WHERE session_id = ?`, update.SessionID))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("tracking: failed to commit transaction: %w", err)
	}
	return session, nil
}

// AppendLog inserts a log row, applying the CRITICAL side effect atomically.
func (s *SQLiteStore) AppendLog(ctx context.Context, entry *types.LogEntry) (*types.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("tracking: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := sessionExists(ctx, tx, entry.SessionID); err != nil {
		return nil, err
	}

	if entry.Level == types.LevelCritical {
		_, err := tx.ExecContext(ctx,
			`UPDATE status SET status = ?, "end" = ? WHERE session_id = ?`,
			types.StatusFinishedWithErrors, entry.Timestamp.UnixNano(), entry.SessionID,
		)
		if err != nil {
			return nil, fmt.Errorf("tracking: failed to mark session finished: %w", err)
		}
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO log (session_id, app_name, level, message, "timestamp")
		VALUES (?, ?, ?, ?, ?)`,
		entry.SessionID, entry.AppName, string(entry.Level), entry.Message, entry.Timestamp.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("tracking: failed to insert log: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("tracking: failed to read log id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("tracking: failed to commit transaction: %w", err)
	}

	stored := *entry
	stored.ID = id
	return &stored, nil
}

// ListLogs returns a session's logs in insertion order.
func (s *SQLiteStore) ListLogs(ctx context.Context, sessionID string) ([]*types.LogEntry, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT id, session_id, app_name, level, message, "timestamp"
		FROM log
		WHERE session_id = ?
		ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("tracking: failed to query logs: %w", err)
	}
	defer rows.Close()

	var entries []*types.LogEntry
	for rows.Next() {
		var entry types.LogEntry
		var level string
		var ts int64
		if err := rows.Scan(&entry.ID, &entry.SessionID, &entry.AppName, &level, &entry.Message, &ts); err != nil {
			return nil, fmt.Errorf("tracking: failed to scan log: %w", err)
		}
		entry.Level = types.Level(level)
		entry.Timestamp = time.Unix(0, ts)
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tracking: error iterating logs: %w", err)
	}
	return entries, nil
}

// InsertFile inserts an upload metadata row.
func (s *SQLiteStore) InsertFile(ctx context.Context, record *types.FileRecord) (*types.FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("tracking: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := sessionExists(ctx, tx, record.SessionID); err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO file (session_id, organization, project, filename, upload_ts)
		VALUES (?, ?, ?, ?, ?)`,
		record.SessionID, record.Organization, record.Project, record.Filename, record.UploadTS.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("tracking: failed to insert file: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("tracking: failed to read file id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("tracking: failed to commit transaction: %w", err)
	}

	stored := *record
	stored.ID = id
	return &stored, nil
}

// ListFiles returns a session's file records in insertion order.
func (s *SQLiteStore) ListFiles(ctx context.Context, sessionID string) ([]*types.FileRecord, error) {
	return s.queryFiles(ctx, `
		SELECT id, session_id, organization, project, filename, upload_ts
		FROM file
		WHERE session_id = ?
		ORDER BY id`, sessionID)
}

// FilesSince returns file records uploaded at or after since.
func (s *SQLiteStore) FilesSince(ctx context.Context, since time.Time) ([]*types.FileRecord, error) {
	return s.queryFiles(ctx, `
		SELECT id, session_id, organization, project, filename, upload_ts
		FROM file
		WHERE upload_ts >= ?
		ORDER BY id`, since.UnixNano())
}

func (s *SQLiteStore) queryFiles(ctx context.Context, query string, args ...interface{}) ([]*types.FileRecord, error) {
	rows, err := s.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("tracking: failed to query files: %w", err)
	}
	defer rows.Close()

	var records []*types.FileRecord
	for rows.Next() {
		var record types.FileRecord
		var ts int64
		if err := rows.Scan(&record.ID, &record.SessionID, &record.Organization, &record.Project, &record.Filename, &ts); err != nil {
			return nil, fmt.Errorf("tracking: failed to scan file: %w", err)
		}
		record.UploadTS = time.Unix(0, ts)
		records = append(records, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tracking: error iterating files: %w", err)
	}
	return records, nil
}

// Close closes the read pool first, then the write connection.
func (s *SQLiteStore) Close() error {
	if err := s.readDB.Close(); err != nil {
		s.db.Close()
		return err
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*types.Session, error) {
	var session types.Session
	var start int64
	var end sql.NullInt64

	err := row.Scan(&session.SessionID, &session.AppName, &session.Status, &start, &end)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("tracking: failed to scan session: %w", err)
	}

	session.Start = time.Unix(0, start)
	if end.Valid {
		t := time.Unix(0, end.Int64)
		session.End = &t
	}
	return &session, nil
}

func sessionExists(ctx context.Context, tx *sql.Tx, sessionID string) error {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM status WHERE session_id = ?`, sessionID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("tracking: failed to look up session: %w", err)
	}
	return nil
}

func nullableNanos(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}
