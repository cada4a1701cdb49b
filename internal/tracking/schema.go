// Package tracking implements the manager's session, log and file
// bookkeeping: the SQLite store and the service operations on top of it.
package tracking

// Schema contains the SQL schema definitions for the tracking database.
// Timestamps are stored as unix nanoseconds.

// CreateStatusTableSQL creates the session table. Rows are never deleted.
const CreateStatusTableSQL = `
CREATE TABLE IF NOT EXISTS status (
    session_id TEXT PRIMARY KEY,
    app_name TEXT NOT NULL,
    status TEXT NOT NULL,
    "start" INTEGER NOT NULL,
    "end" INTEGER
)`

// CreateLogTableSQL creates the append-only log table.
const CreateLogTableSQL = `
CREATE TABLE IF NOT EXISTS log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    app_name TEXT NOT NULL,
    level TEXT NOT NULL CHECK (level IN ('INFO', 'WARNING', 'ERROR', 'CRITICAL')),
    message TEXT NOT NULL,
    "timestamp" INTEGER NOT NULL,
    FOREIGN KEY (session_id) REFERENCES status(session_id)
)`

// CreateFileTableSQL creates the append-only upload metadata table.
const CreateFileTableSQL = `
CREATE TABLE IF NOT EXISTS file (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    organization TEXT NOT NULL,
    project TEXT NOT NULL,
    filename TEXT NOT NULL,
    upload_ts INTEGER NOT NULL,
    FOREIGN KEY (session_id) REFERENCES status(session_id)
)`

// CreateIndexesSQL creates the lookup indexes.
var CreateIndexesSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_status_app ON status(app_name, "start")`,
	`CREATE INDEX IF NOT EXISTS idx_log_session ON log(session_id, id)`,
	`CREATE INDEX IF NOT EXISTS idx_file_session ON file(session_id, id)`,

	// Recent uploads window scan
	`CREATE INDEX IF NOT EXISTS idx_file_upload_ts ON file(upload_ts)`,
}

// AllSchemaSQL returns all SQL statements needed to initialize the database.
func AllSchemaSQL() []string {
	statements := []string{
		CreateStatusTableSQL,
		CreateLogTableSQL,
		CreateFileTableSQL,
	}
	return append(statements, CreateIndexesSQL...)
}
