package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/doeshing/cmdrelay/internal/domain"
	"github.com/doeshing/cmdrelay/internal/ports"
)

// storedTimeFormat is fixed-width UTC so rows sort and compare as text.
const storedTimeFormat = "2006-01-02T15:04:05.000000000Z"

// JournalStats summarizes the journal table.
type JournalStats struct {
	Total      int                     `json:"total"`
	Succeeded  int                     `json:"succeeded"`
	Failed     int                     `json:"failed"`
	ByCategory map[domain.Category]int `json:"by_category"`
	Oldest     time.Time               `json:"oldest"`
	Newest     time.Time               `json:"newest"`
}

// SQLiteJournal persists recorded commands in a SQLite database.
type SQLiteJournal struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// OpenSQLiteJournal creates (or opens) the journal database at path.
func OpenSQLiteJournal(path string) (*SQLiteJournal, error) {
	if path == "" {
		return nil, fmt.Errorf("journal path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), domain.DirectoryPermissions); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// one writer at a time keeps SQLite from returning SQLITE_BUSY
	db.SetMaxOpenConns(1)

	store := &SQLiteJournal{db: db, path: path}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init journal: %w", err)
	}
	return store, nil
}

func (s *SQLiteJournal) init() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS journal (
		id TEXT PRIMARY KEY,
		timestamp TEXT NOT NULL,
		command TEXT NOT NULL,
		response TEXT,
		success INTEGER,
		category TEXT
	);`); err != nil {
		return err
	}
	_, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS journal_timestamp ON journal(timestamp);`)
	return err
}

// Append implements ports.Journal.
func (s *SQLiteJournal) Append(ctx context.Context, record domain.JournalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `INSERT INTO journal
		(id, timestamp, command, response, success, category)
		VALUES (?, ?, ?, ?, ?, ?)`,
		record.ID,
		formatTime(record.Timestamp),
		record.Command,
		record.Response,
		boolToInt(record.Success),
		string(record.Category),
	)
	return err
}

// Records returns journal rows newest first (limit/search optional).
func (s *SQLiteJournal) Records(ctx context.Context, limit int, search string) ([]domain.JournalRecord, error) {
	builder := strings.Builder{}
	builder.WriteString("SELECT id, timestamp, command, response, success, category FROM journal")
	var args []interface{}
	if search != "" {
		builder.WriteString(" WHERE command LIKE ? OR response LIKE ?")
		args = append(args, "%"+search+"%", "%"+search+"%")
	}
	builder.WriteString(" ORDER BY timestamp DESC, rowid DESC")
	if limit > 0 {
		builder.WriteString(" LIMIT ?")
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, builder.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.JournalRecord
	for rows.Next() {
		var rec domain.JournalRecord
		var ts, category string
		var success int
		if err := rows.Scan(&rec.ID, &ts, &rec.Command, &rec.Response, &success, &category); err != nil {
			return nil, err
		}
		rec.Timestamp = parseTime(ts)
		rec.Success = success == 1
		rec.Category = domain.Category(category)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Stats aggregates counts over the whole journal.
func (s *SQLiteJournal) Stats(ctx context.Context) (JournalStats, error) {
	stats := JournalStats{ByCategory: map[domain.Category]int{}}

	var oldest, newest sql.NullString
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(success), 0), MIN(timestamp), MAX(timestamp) FROM journal`)
	if err := row.Scan(&stats.Total, &stats.Succeeded, &oldest, &newest); err != nil {
		return stats, err
	}
	stats.Failed = stats.Total - stats.Succeeded
	if oldest.Valid {
		stats.Oldest = parseTime(oldest.String)
	}
	if newest.Valid {
		stats.Newest = parseTime(newest.String)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT category, COUNT(*) FROM journal GROUP BY category`)
	if err != nil {
		return stats, err
	}
	defer rows.Close()
	for rows.Next() {
		var category string
		var count int
		if err := rows.Scan(&category, &count); err != nil {
			return stats, err
		}
		stats.ByCategory[domain.Category(category)] = count
	}
	return stats, rows.Err()
}

// Clear deletes all journal rows.
func (s *SQLiteJournal) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, "DELETE FROM journal")
	return err
}

// PruneOlderThan deletes rows recorded before cutoff and reports how many went.
func (s *SQLiteJournal) PruneOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, "DELETE FROM journal WHERE timestamp < ?", formatTime(cutoff))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ExportJSON writes every journal row to dest as JSON lines, oldest first.
func (s *SQLiteJournal) ExportJSON(ctx context.Context, dest string) (int, error) {
	records, err := s.Records(ctx, 0, "")
	if err != nil {
		return 0, err
	}
	file, err := os.Create(dest)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	for i := len(records) - 1; i >= 0; i-- {
		if err := enc.Encode(records[i]); err != nil {
			return 0, err
		}
	}
	return len(records), nil
}

// Path returns the sqlite database path.
func (s *SQLiteJournal) Path() string {
	return s.path
}

// Close releases the database handle.
func (s *SQLiteJournal) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(storedTimeFormat)
}

func parseTime(s string) time.Time {
	if t, err := time.Parse(storedTimeFormat, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	return time.Time{}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var (
	_ ports.Journal       = (*SQLiteJournal)(nil)
	_ ports.JournalReader = (*SQLiteJournal)(nil)
)
