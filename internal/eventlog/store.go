package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store persists events in a sqlite database. Append is the only mutation
// primitive. Appends to the same thread are serialized; appends to different
// threads proceed independently.
type Store struct {
	db *sql.DB

	mu      sync.Mutex
	threads map[string]*sync.Mutex // per-thread append serialization
}

// Open creates (or opens) the event database at dbPath and initializes the
// schema.
func Open(ctx context.Context, dbPath string) (*Store, error) {
	// WAL mode allows readers to proceed while a write is in flight.
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open event database: %w", err)
	}

	// SQLite does not support multiple concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping event database: %w", err)
	}

	s := &Store{
		db:      db,
		threads: make(map[string]*sync.Mutex),
	}
	if err := s.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize event schema: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS threads (
		thread_id  TEXT PRIMARY KEY,
		parent_id  TEXT,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS events (
		seq       INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id  TEXT NOT NULL UNIQUE,
		thread_id TEXT NOT NULL,
		type      TEXT NOT NULL,
		ts_unix   INTEGER NOT NULL,
		data      TEXT NOT NULL,
		FOREIGN KEY (thread_id) REFERENCES threads(thread_id)
	);

	CREATE INDEX IF NOT EXISTS idx_events_thread ON events(thread_id, seq);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return err
	}
	return nil
}

// threadMu returns the append mutex for a thread, creating it on first use.
func (s *Store) threadMu(threadID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	mu, ok := s.threads[threadID]
	if !ok {
		mu = &sync.Mutex{}
		s.threads[threadID] = mu
	}
	return mu
}

// CreateThread registers a new thread id. Creating an existing thread is an
// error; threads are created once and never destroyed.
func (s *Store) CreateThread(ctx context.Context, id string) error {
	return s.createThread(ctx, id, "")
}

// CreateChildThread creates a delegate thread under parentID and returns its
// id. The child is a first-class thread with its own log.
func (s *Store) CreateChildThread(ctx context.Context, parentID string) (string, error) {
	ok, err := s.ThreadExists(ctx, parentID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("parent thread not found: %s", parentID)
	}
	id := uuid.NewString()
	if err := s.createThread(ctx, id, parentID); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) createThread(ctx context.Context, id, parentID string) error {
	var parent any
	if parentID != "" {
		parent = parentID
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO threads (thread_id, parent_id, created_at) VALUES (?, ?, ?)`,
		id, parent, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to create thread %s: %w", id, err)
	}
	return nil
}

// EnsureThread creates the thread if it does not exist yet.
func (s *Store) EnsureThread(ctx context.Context, id string) error {
	ok, err := s.ThreadExists(ctx, id)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	return s.CreateThread(ctx, id)
}

// ThreadExists reports whether the thread id is registered.
func (s *Store) ThreadExists(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM threads WHERE thread_id = ?`, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to query thread %s: %w", id, err)
	}
	return n > 0, nil
}

// Threads returns all registered thread ids with their parents, oldest first.
func (s *Store) Threads(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT thread_id, COALESCE(parent_id, '') FROM threads ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var id, parent string
		if err := rows.Scan(&id, &parent); err != nil {
			return nil, fmt.Errorf("failed to scan thread row: %w", err)
		}
		out[id] = parent
	}
	return out, rows.Err()
}

// Append stores one event for the thread and returns it with its assigned
// id, sequence and timestamp. The insert is a single statement, so the event
// is either durably stored or the call fails outright; partial writes are
// not observable. Payloads must marshal to JSON.
func (s *Store) Append(ctx context.Context, threadID string, typ EventType, payload any) (Event, error) {
	if !validTypes[typ] {
		return Event{}, fmt.Errorf("unknown event type: %s", typ)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal %s payload: %w", typ, err)
	}

	ev := Event{
		ID:        uuid.NewString(),
		ThreadID:  threadID,
		Type:      typ,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	mu := s.threadMu(threadID)
	mu.Lock()
	defer mu.Unlock()

	ok, err := s.ThreadExists(ctx, threadID)
	if err != nil {
		return Event{}, err
	}
	if !ok {
		return Event{}, fmt.Errorf("thread not found: %s", threadID)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO events (event_id, thread_id, type, ts_unix, data) VALUES (?, ?, ?, ?, ?)`,
		ev.ID, ev.ThreadID, string(ev.Type), ev.Timestamp.UnixMilli(), string(data))
	if err != nil {
		return Event{}, fmt.Errorf("failed to append %s event: %w", typ, err)
	}
	ev.Seq, err = res.LastInsertId()
	if err != nil {
		return Event{}, fmt.Errorf("failed to read event sequence: %w", err)
	}
	return ev, nil
}

// Read returns the full ordered event sequence for a thread. Used at startup
// for replay and by the agent to rebuild provider history.
func (s *Store) Read(ctx context.Context, threadID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, event_id, type, ts_unix, data FROM events WHERE thread_id = ? ORDER BY seq`,
		threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to read thread %s: %w", threadID, err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			ev  Event
			typ string
			ts  int64
			raw string
		)
		if err := rows.Scan(&ev.Seq, &ev.ID, &typ, &ts, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		ev.ThreadID = threadID
		ev.Type = EventType(typ)
		ev.Timestamp = time.UnixMilli(ts).UTC()
		ev.Data = json.RawMessage(raw)
		events = append(events, ev)
	}
	return events, rows.Err()
}
