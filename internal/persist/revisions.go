package persist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// ErrRevisionNotFound is returned when no revision matches.
var ErrRevisionNotFound = errors.New("revision not found")

// Revision describes one stored snapshot.
type Revision struct {
	ID        int64
	Name      string
	CreatedAt time.Time
	Elements  int
	Bytes     int
}

// RevisionStore keeps named snapshot revisions in a SQLite database.
type RevisionStore struct {
	db  *sql.DB
	now func() time.Time
}

// RevisionOption configures a RevisionStore.
type RevisionOption func(*RevisionStore)

// WithRevisionClock sets the clock used for CreatedAt.
func WithRevisionClock(now func() time.Time) RevisionOption {
	return func(s *RevisionStore) {
		if now != nil {
			s.now = now
		}
	}
}

// OpenRevisions opens or creates the database at path. ":memory:" gives a
// private in-memory database.
func OpenRevisions(path string, opts ...RevisionOption) (*RevisionStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open revisions: %w", err)
	}
	// An in-memory database lives only as long as its connection.
	db.SetMaxOpenConns(1)

	s := &RevisionStore{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *RevisionStore) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS revisions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			elements INTEGER NOT NULL,
			body BLOB NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create revisions table: %w", err)
	}
	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_revisions_name ON revisions(name)"); err != nil {
		return fmt.Errorf("create revisions index: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *RevisionStore) Close() error {
	return s.db.Close()
}

// Save stores snap under name and returns the new revision.
func (s *RevisionStore) Save(ctx context.Context, name string, snap Snapshot) (Revision, error) {
	if name == "" {
		return Revision{}, errors.New("revision name is empty")
	}
	body, err := Marshal(snap)
	if err != nil {
		return Revision{}, err
	}
	created := s.now().UTC()
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO revisions (name, created_at, elements, body) VALUES (?, ?, ?, ?)",
		name, created.UnixNano(), len(snap.Elements), body)
	if err != nil {
		return Revision{}, fmt.Errorf("save revision: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Revision{}, fmt.Errorf("save revision: %w", err)
	}
	return Revision{ID: id, Name: name, CreatedAt: created, Elements: len(snap.Elements), Bytes: len(body)}, nil
}

// List returns revisions newest first. A non-empty name filters by name.
func (s *RevisionStore) List(ctx context.Context, name string) ([]Revision, error) {
	query := "SELECT id, name, created_at, elements, length(body) FROM revisions"
	var args []any
	if name != "" {
		query += " WHERE name = ?"
		args = append(args, name)
	}
	query += " ORDER BY id DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list revisions: %w", err)
	}
	defer rows.Close()

	var out []Revision
	for rows.Next() {
		var r Revision
		var created int64
		if err := rows.Scan(&r.ID, &r.Name, &created, &r.Elements, &r.Bytes); err != nil {
			return nil, fmt.Errorf("scan revision: %w", err)
		}
		r.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// Load decodes the revision with the given id.
func (s *RevisionStore) Load(ctx context.Context, id int64) (Snapshot, error) {
	return s.load(ctx, "SELECT body FROM revisions WHERE id = ?", id)
}

// LoadLatest decodes the newest revision saved under name.
func (s *RevisionStore) LoadLatest(ctx context.Context, name string) (Snapshot, error) {
	return s.load(ctx, "SELECT body FROM revisions WHERE name = ? ORDER BY id DESC LIMIT 1", name)
}

func (s *RevisionStore) load(ctx context.Context, query string, arg any) (Snapshot, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrRevisionNotFound, arg)
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("load revision: %w", err)
	}
	return Unmarshal(body)
}

// Delete removes a revision.
func (s *RevisionStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM revisions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete revision: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %d", ErrRevisionNotFound, id)
	}
	return nil
}
