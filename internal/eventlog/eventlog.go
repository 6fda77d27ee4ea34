// Package eventlog indexes arena and server events in SQLite so operators
// can query them after the fact.
package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"solemnsky/server/internal/arena"
	"solemnsky/server/internal/logging"
	"solemnsky/server/internal/server"
)

// ErrClosed is returned by queries on a closed log.
var ErrClosed = errors.New("eventlog: closed")

const (
	queueSize     = 4096
	commitEvery   = 256
	commitMaxWait = time.Second
)

// Entry is one stored event.
type Entry struct {
	Seq        int64           `json:"seq"`
	Source     string          `json:"source"`
	Session    string          `json:"session"`
	UptimeMs   int64           `json:"uptime_ms"`
	Kind       string          `json:"kind"`
	Text       string          `json:"text"`
	RecordedAt time.Time       `json:"recorded_at"`
	Raw        json.RawMessage `json:"raw"`
}

type reqKind int

const (
	reqArena reqKind = iota + 1
	reqServer
	reqRecent
)

type req struct {
	kind reqKind
	row  Entry

	limit int
	reply chan recentResult
}

type recentResult struct {
	entries []Entry
	err     error
}

// Log is the SQLite event index. All database access happens on one writer
// goroutine fed by a buffered channel; recording never blocks the caller.
type Log struct {
	db      *sql.DB
	log     *logging.Logger
	session string
	now     func() time.Time

	ch chan req
	wg sync.WaitGroup

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

var _ server.EventSink = (*Log)(nil)

// Option configures a Log.
type Option func(*Log)

func WithLogger(logger *logging.Logger) Option {
	return func(l *Log) {
		if logger != nil {
			l.log = logger.Named(logging.OriginServer, "eventlog")
		}
	}
}

// WithSession tags every row with the id of the running server session.
func WithSession(id string) Option { return func(l *Log) { l.session = id } }

// WithClock replaces the wall clock stamped on rows.
func WithClock(clock func() time.Time) Option {
	return func(l *Log) {
		if clock != nil {
			l.now = clock
		}
	}
}

// Open creates or opens the database at path in WAL mode.
func Open(path string, opts ...Option) (*Log, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	var seq int64
	if err := db.QueryRow(`SELECT COALESCE(MAX(seq), 0) FROM (
		SELECT seq FROM arena_events UNION ALL SELECT seq FROM server_events)`).Scan(&seq); err != nil {
		_ = db.Close()
		return nil, err
	}

	l := &Log{
		db:  db,
		log: logging.L().Named(logging.OriginServer, "eventlog"),
		now: time.Now,
		ch:  make(chan req, queueSize),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.loop(seq)
	}()
	return l, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS arena_events (
			seq INTEGER PRIMARY KEY,
			session TEXT NOT NULL,
			uptime_ms INTEGER NOT NULL,
			kind TEXT NOT NULL,
			text TEXT NOT NULL,
			recorded_at INTEGER NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_arena_events_kind ON arena_events(kind, seq);`,
		`CREATE TABLE IF NOT EXISTS server_events (
			seq INTEGER PRIMARY KEY,
			session TEXT NOT NULL,
			uptime_ms INTEGER NOT NULL,
			kind TEXT NOT NULL,
			text TEXT NOT NULL,
			recorded_at INTEGER NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_server_events_kind ON server_events(kind, seq);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (l *Log) RecordArena(uptime time.Duration, event arena.ArenaEvent) {
	l.enqueue(reqArena, uptime, event.Kind.String(), event.String(), event)
}

func (l *Log) RecordServer(uptime time.Duration, event server.ServerEvent) {
	l.enqueue(reqServer, uptime, event.Kind.String(), event.String(), event)
}

func (l *Log) enqueue(kind reqKind, uptime time.Duration, eventKind, text string, event any) {
	raw, err := json.Marshal(event)
	if err != nil {
		l.log.Warn("event not encodable", logging.String("kind", eventKind), logging.Error(err))
		return
	}
	r := req{kind: kind, row: Entry{
		Session:    l.session,
		UptimeMs:   uptime.Milliseconds(),
		Kind:       eventKind,
		Text:       text,
		RecordedAt: l.now().UTC(),
		Raw:        raw,
	}}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.ch <- r:
	default:
		if l.dropped.Add(1) == 1 {
			l.log.Warn("event queue full, dropping events")
		}
	}
}

// Dropped counts the events lost to a full queue.
func (l *Log) Dropped() int64 { return l.dropped.Load() }

// Recent returns up to limit events of both tables, newest first.
func (l *Log) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	reply := make(chan recentResult, 1)
	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return nil, ErrClosed
	}
	select {
	case l.ch <- req{kind: reqRecent, limit: limit, reply: reply}:
		l.mu.RUnlock()
	case <-ctx.Done():
		l.mu.RUnlock()
		return nil, ctx.Err()
	}
	select {
	case res := <-reply:
		return res.entries, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close drains the queue, commits and closes the database.
func (l *Log) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.ch)
	l.mu.Unlock()
	l.wg.Wait()
	return l.db.Close()
}

func (l *Log) loop(seq int64) {
	ctx := context.Background()
	insertArena, errArena := l.db.Prepare(`INSERT INTO arena_events(seq,session,uptime_ms,kind,text,recorded_at,raw_json) VALUES(?,?,?,?,?,?,?)`)
	insertServer, errServer := l.db.Prepare(`INSERT INTO server_events(seq,session,uptime_ms,kind,text,recorded_at,raw_json) VALUES(?,?,?,?,?,?,?)`)
	if err := errors.Join(errArena, errServer); err != nil {
		l.log.Error("prepare failed", logging.Error(err))
	}
	defer func() {
		if insertArena != nil {
			_ = insertArena.Close()
		}
		if insertServer != nil {
			_ = insertServer.Close()
		}
	}()

	var (
		tx         *sql.Tx
		pending    int
		lastCommit = time.Now()
	)
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			l.log.Warn("commit failed", logging.Error(err), logging.Int("events", pending))
		}
		tx = nil
		pending = 0
		lastCommit = time.Now()
	}

	for r := range l.ch {
		if r.kind == reqRecent {
			commit()
			entries, err := l.recent(ctx, r.limit)
			r.reply <- recentResult{entries: entries, err: err}
			continue
		}

		stmt := insertArena
		if r.kind == reqServer {
			stmt = insertServer
		}
		if stmt == nil {
			continue
		}
		if tx == nil {
			txx, err := l.db.BeginTx(ctx, nil)
			if err != nil {
				l.log.Warn("begin failed", logging.Error(err))
				continue
			}
			tx = txx
		}
		seq++
		row := r.row
		if _, err := tx.Stmt(stmt).Exec(seq, row.Session, row.UptimeMs, row.Kind, row.Text,
			row.RecordedAt.UnixNano(), string(row.Raw)); err != nil {
			l.log.Warn("insert failed", logging.Error(err), logging.String("kind", row.Kind))
			_ = tx.Rollback()
			tx = nil
			pending = 0
			continue
		}
		pending++
		if pending >= commitEvery || time.Since(lastCommit) >= commitMaxWait || len(l.ch) == 0 {
			commit()
		}
	}
	commit()
}

func (l *Log) recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT seq, 'arena', session, uptime_ms, kind, text, recorded_at, raw_json FROM arena_events
		UNION ALL
		SELECT seq, 'server', session, uptime_ms, kind, text, recorded_at, raw_json FROM server_events
		ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e        Entry
			recorded int64
			raw      string
		)
		if err := rows.Scan(&e.Seq, &e.Source, &e.Session, &e.UptimeMs, &e.Kind, &e.Text, &recorded, &raw); err != nil {
			return nil, err
		}
		e.RecordedAt = time.Unix(0, recorded).UTC()
		e.Raw = json.RawMessage(raw)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
