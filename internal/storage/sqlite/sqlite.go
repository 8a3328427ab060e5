package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStorage implements the pipeline Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// New creates a new SQLite storage backend
func New(path string) (*SQLiteStorage, error) {
	dsn := path
	if path == ":memory:" {
		// Shared cache keeps all connections in the pool pointed at the
		// same in-memory database
		dsn = "file::memory:?cache=shared&_foreign_keys=ON"
	} else {
		// Ensure directory exists
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		// WAL mode for better concurrency between pipeline stages
		dsn = path + "?_journal_mode=WAL&_foreign_keys=ON"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// isUniqueConstraintError checks if an error is a unique constraint violation
func isUniqueConstraintError(err error) bool {
	// SQLite reports "UNIQUE constraint failed: table.column"
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// marshalVector serializes an embedding vector as JSON for storage.
// Returns a NULL-able value so absent embeddings stay NULL.
func marshalVector(vec []float64) (sql.NullString, error) {
	if len(vec) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(vec)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal vector: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// unmarshalVector deserializes a stored embedding vector
func unmarshalVector(raw sql.NullString) ([]float64, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var vec []float64
	if err := json.Unmarshal([]byte(raw.String), &vec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal vector: %w", err)
	}
	return vec, nil
}
