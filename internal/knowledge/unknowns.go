package knowledge

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"testnerd/internal/logging"
	"testnerd/internal/types"
)

// UnknownStatus is the review state of an unrecognized condition. Only
// humans advance it; the engine creates records as NEW.
type UnknownStatus string

const (
	UnknownNew            UnknownStatus = "NEW"
	UnknownReviewed       UnknownStatus = "REVIEWED"
	UnknownPatternCreated UnknownStatus = "PATTERN_CREATED"
	UnknownIgnored        UnknownStatus = "IGNORED"
)

// ParseUnknownStatus is case-insensitive.
func ParseUnknownStatus(s string) (UnknownStatus, error) {
	st := UnknownStatus(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case UnknownNew, UnknownReviewed, UnknownPatternCreated, UnknownIgnored:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// UnknownRecord is one deduplicated unrecognized condition.
type UnknownRecord struct {
	Hash          string
	ConditionType types.ConditionType
	ExceptionType string
	Locator       string
	URLPath       string
	Message       string
	Event         *types.ConditionEvent
	Status        UnknownStatus
	HitCount      int
	FirstSeen     time.Time
	LastSeen      time.Time
}

// UnknownSink receives conditions that neither the checkers nor the
// knowledge base recognized while running offline.
type UnknownSink interface {
	Record(ctx context.Context, ev *types.ConditionEvent) (UnknownRecord, error)
}

// DedupHash identifies repeats of the same unrecognized condition:
// condition type, exception type, locator value and URL path.
func DedupHash(ev *types.ConditionEvent) string {
	h := sha256.New()
	for _, part := range []string{string(ev.Type), ev.ResolvedExceptionType(), ev.Locator.Value, urlPath(ev.CurrentURL)} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// SQLiteUnknownSink stores unknown conditions in a SQLite database.
type SQLiteUnknownSink struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// OpenUnknownSink opens or creates the database at path.
func OpenUnknownSink(path string) (*SQLiteUnknownSink, error) {
	timer := logging.StartTimer(logging.CategoryUnknowns, "OpenUnknownSink")
	defer timer.Stop()

	if path == "" {
		return nil, ErrNoDatabasePath
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one connection keeps :memory: databases coherent and serializes writers
	db.SetMaxOpenConns(1)

	s := &SQLiteUnknownSink{db: db, path: path, now: time.Now}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	logging.Unknowns("unknown-condition sink ready at %s", path)
	return s, nil
}

func (s *SQLiteUnknownSink) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS unknown_conditions (
		hash TEXT PRIMARY KEY,
		condition_type TEXT NOT NULL,
		exception_type TEXT,
		locator TEXT,
		url_path TEXT,
		message TEXT,
		event_json TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'NEW',
		hit_count INTEGER NOT NULL DEFAULT 1,
		first_seen DATETIME NOT NULL,
		last_seen DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_unknown_status ON unknown_conditions(status);
	CREATE INDEX IF NOT EXISTS idx_unknown_last_seen ON unknown_conditions(last_seen);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create unknown_conditions table: %w", err)
	}
	return nil
}

// Close releases the database.
func (s *SQLiteUnknownSink) Close() error {
	return s.db.Close()
}

// Record inserts ev as NEW, or bumps the hit count of its duplicate. The
// stored event keeps the latest capture but not the screenshot.
func (s *SQLiteUnknownSink) Record(ctx context.Context, ev *types.ConditionEvent) (UnknownRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *ev
	stored.Screenshot = nil
	payload, err := json.Marshal(&stored)
	if err != nil {
		return UnknownRecord{}, fmt.Errorf("encode event: %w", err)
	}

	hash := DedupHash(ev)
	now := s.now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO unknown_conditions
			(hash, condition_type, exception_type, locator, url_path, message, event_json, status, hit_count, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(hash) DO UPDATE SET
			hit_count = hit_count + 1,
			last_seen = excluded.last_seen,
			message = excluded.message,
			event_json = excluded.event_json`,
		hash, string(ev.Type), ev.ResolvedExceptionType(), ev.Locator.Value, urlPath(ev.CurrentURL),
		ev.Message, string(payload), string(UnknownNew), now, now)
	if err != nil {
		logging.UnknownsError("record %s failed: %v", hash[:12], err)
		return UnknownRecord{}, fmt.Errorf("record unknown condition: %w", err)
	}

	rec, err := s.get(ctx, hash)
	if err != nil {
		return UnknownRecord{}, err
	}
	logging.Unknowns("recorded unknown %s %s (hits=%d)", hash[:12], ev.Type, rec.HitCount)
	return rec, nil
}

// Get returns the record with the given hash.
func (s *SQLiteUnknownSink) Get(ctx context.Context, hash string) (UnknownRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(ctx, hash)
}

const unknownColumns = `hash, condition_type, exception_type, locator, url_path, message, event_json, status, hit_count, first_seen, last_seen`

func (s *SQLiteUnknownSink) get(ctx context.Context, hash string) (UnknownRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+unknownColumns+` FROM unknown_conditions WHERE hash = ?`, hash)
	rec, err := scanUnknown(row)
	if errors.Is(err, sql.ErrNoRows) {
		return UnknownRecord{}, fmt.Errorf("%w: %s", ErrUnknownNotFound, hash)
	}
	return rec, err
}

// List returns records, most recently seen first. An empty status lists all.
func (s *SQLiteUnknownSink) List(ctx context.Context, status UnknownStatus, limit int) ([]UnknownRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT ` + unknownColumns + ` FROM unknown_conditions`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY last_seen DESC, hash`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list unknown conditions: %w", err)
	}
	defer rows.Close()

	var out []UnknownRecord
	for rows.Next() {
		rec, err := scanUnknown(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SetStatus records a human review decision.
func (s *SQLiteUnknownSink) SetStatus(ctx context.Context, hash string, status UnknownStatus) error {
	if _, err := ParseUnknownStatus(string(status)); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE unknown_conditions SET status = ? WHERE hash = ?`, string(status), hash)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownNotFound, hash)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUnknown(r rowScanner) (UnknownRecord, error) {
	var (
		rec                           UnknownRecord
		condType, status, payload     string
		exception, locator, path, msg sql.NullString
	)
	if err := r.Scan(&rec.Hash, &condType, &exception, &locator, &path, &msg, &payload,
		&status, &rec.HitCount, &rec.FirstSeen, &rec.LastSeen); err != nil {
		return UnknownRecord{}, err
	}
	rec.ConditionType = types.ConditionType(condType)
	rec.ExceptionType = exception.String
	rec.Locator = locator.String
	rec.URLPath = path.String
	rec.Message = msg.String
	rec.Status = UnknownStatus(status)

	var ev types.ConditionEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		logging.UnknownsError("stored event %s unreadable: %v", rec.Hash, err)
	} else {
		rec.Event = &ev
	}
	return rec, nil
}
