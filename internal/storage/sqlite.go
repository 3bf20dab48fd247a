package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const dbFile = "pdfqa.db"

// Store wraps a SQLite database holding ask and sync history.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) pdfqa.db in dataDir and applies pending migrations.
// Pass ":memory:" for a throwaway in-memory database.
func Open(dataDir string) (*Store, error) {
	dsn, err := dsnFor(dataDir)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One writer at a time; the busy timeout covers a concurrent CLI run.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// dsnFor builds a modernc DSN whose pragmas apply to every connection.
func dsnFor(dataDir string) (string, error) {
	if dataDir == ":memory:" {
		return ":memory:", nil
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", fmt.Errorf("creating data directory: %w", err)
	}
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")
	return "file:" + filepath.Join(dataDir, dbFile) + "?" + q.Encode(), nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// timeLayout is fixed width so that created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

// --- Interactions ---

// SaveInteraction inserts i, filling in ID, CreatedAt and Status when empty.
// It returns the stored ID.
func (s *Store) SaveInteraction(i Interaction) (string, error) {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	status := i.Status
	if status == "" {
		status = "completed"
	}
	_, err := s.db.Exec(`
		INSERT INTO interactions (id, created_at, prompt, directory, vector_store_id, run_id, answer, status, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		i.ID, formatTime(i.CreatedAt), i.Prompt, i.Directory,
		i.VectorStoreID, i.RunID, i.Answer, status, i.Error,
	)
	if err != nil {
		return "", err
	}
	return i.ID, nil
}

const interactionColumns = `id, created_at, prompt, directory, vector_store_id, run_id, answer, status, error`

type scanner interface {
	Scan(dest ...any) error
}

func scanInteraction(row scanner) (Interaction, error) {
	var i Interaction
	var createdAt string
	if err := row.Scan(&i.ID, &createdAt, &i.Prompt, &i.Directory, &i.VectorStoreID, &i.RunID, &i.Answer, &i.Status, &i.Error); err != nil {
		return Interaction{}, err
	}
	t, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return Interaction{}, fmt.Errorf("parsing created_at: %w", err)
	}
	i.CreatedAt = t
	return i, nil
}

func (s *Store) GetInteraction(id string) (Interaction, error) {
	i, err := scanInteraction(s.db.QueryRow(`SELECT `+interactionColumns+` FROM interactions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Interaction{}, ErrNotFound
	}
	return i, err
}

// GetRecentInteractions returns up to limit interactions, newest first.
func (s *Store) GetRecentInteractions(limit int) ([]Interaction, error) {
	rows, err := s.db.Query(`
		SELECT `+interactionColumns+`
		FROM interactions ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Interaction
	for rows.Next() {
		i, err := scanInteraction(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, i)
	}
	return results, rows.Err()
}

// --- Sync runs ---

func (s *Store) SaveSyncRun(r SyncRun) (string, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	source := r.Source
	if source == "" {
		source = "cli"
	}
	created := 0
	if r.Created {
		created = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO sync_runs (id, created_at, directory, vector_store_id, created, attached, source)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, formatTime(r.CreatedAt), r.Directory, r.VectorStoreID, created, r.Attached, source,
	)
	if err != nil {
		return "", err
	}
	return r.ID, nil
}

// GetRecentSyncRuns returns up to limit sync runs, newest first.
func (s *Store) GetRecentSyncRuns(limit int) ([]SyncRun, error) {
	rows, err := s.db.Query(`
		SELECT id, created_at, directory, vector_store_id, created, attached, source
		FROM sync_runs ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SyncRun
	for rows.Next() {
		var r SyncRun
		var createdAt string
		var created int
		if err := rows.Scan(&r.ID, &createdAt, &r.Directory, &r.VectorStoreID, &created, &r.Attached, &r.Source); err != nil {
			return nil, err
		}
		t, err := time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		r.CreatedAt = t
		r.Created = created != 0
		results = append(results, r)
	}
	return results, rows.Err()
}
