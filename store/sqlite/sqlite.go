// Package sqlite implements store.Store on a single SQLite file via the pure
// Go modernc.org/sqlite driver. WAL mode and a busy timeout keep concurrent
// readers and the single writer from tripping over each other.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/memfuse/memfuse/core"
	"github.com/memfuse/memfuse/store"
)

// Store is the sqlite-backed implementation of store.Store.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// New opens (creating if needed) the database at dbPath and initializes the
// schema.
func New(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS chat_events (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		seq INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_session ON chat_events(session_id, seq);

	CREATE TABLE IF NOT EXISTS entities (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		source TEXT NOT NULL,
		ref_table TEXT NOT NULL DEFAULT '',
		ref_id TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_entities_session ON entities(session_id, created_at);

	CREATE TABLE IF NOT EXISTS memories (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		text TEXT NOT NULL,
		embedding BLOB,
		importance REAL NOT NULL,
		ttl_days INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_memories_user ON memories(user_id, created_at);

	CREATE TABLE IF NOT EXISTS memory_summaries (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		session_window INTEGER NOT NULL,
		summary TEXT NOT NULL,
		embedding BLOB,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_summaries_user ON memory_summaries(user_id, created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// AppendEvent implements store.Store. The per-session sequence number is
// assigned inside a transaction so concurrent appends never collide.
func (s *Store) AppendEvent(ctx context.Context, ev core.ChatEvent) (core.ChatEvent, error) {
	if !ev.Role.Valid() {
		return core.ChatEvent{}, fmt.Errorf("invalid role %q", ev.Role)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.ChatEvent{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM chat_events WHERE session_id = ?`,
		ev.SessionID).Scan(&seq)
	if err != nil {
		return core.ChatEvent{}, fmt.Errorf("next seq: %w", err)
	}
	ev.Seq = seq

	_, err = tx.ExecContext(ctx,
		`INSERT INTO chat_events (id, session_id, role, content, seq, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.SessionID, string(ev.Role), ev.Content, ev.Seq, ev.CreatedAt.UnixMilli())
	if err != nil {
		return core.ChatEvent{}, fmt.Errorf("insert event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return core.ChatEvent{}, fmt.Errorf("commit: %w", err)
	}
	return ev, nil
}

// SessionEvents implements store.Store.
func (s *Store) SessionEvents(ctx context.Context, sessionID string, limit int) ([]core.ChatEvent, error) {
	q := `SELECT id, session_id, role, content, seq, created_at FROM chat_events WHERE session_id = ? ORDER BY seq ASC`
	rows, err := s.db.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []core.ChatEvent
	for rows.Next() {
		var ev core.ChatEvent
		var role string
		var createdAt int64
		if err := rows.Scan(&ev.ID, &ev.SessionID, &role, &ev.Content, &ev.Seq, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Role = core.Role(role)
		ev.CreatedAt = time.UnixMilli(createdAt).UTC()
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events, nil
}

// InsertEntity implements store.Store.
func (s *Store) InsertEntity(ctx context.Context, e core.Entity) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entities (id, session_id, name, type, source, ref_table, ref_id, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SessionID, e.Name, string(e.Type), string(e.Source), e.ExternalRef.Table, e.ExternalRef.ID, e.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert entity: %w", err)
	}
	return nil
}

// SessionEntities implements store.Store.
func (s *Store) SessionEntities(ctx context.Context, sessionID string) ([]core.Entity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, name, type, source, ref_table, ref_id, created_at FROM entities WHERE session_id = ? ORDER BY created_at ASC, id ASC`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}
	defer rows.Close()

	var out []core.Entity
	for rows.Next() {
		var e core.Entity
		var typ, source string
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Name, &typ, &source, &e.ExternalRef.Table, &e.ExternalRef.ID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		e.Type = core.EntityType(typ)
		e.Source = core.EntitySource(source)
		e.CreatedAt = time.UnixMilli(createdAt).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// InsertMemory implements store.Store.
func (s *Store) InsertMemory(ctx context.Context, m core.Memory) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memories (id, session_id, user_id, kind, text, embedding, importance, ttl_days, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.SessionID, m.UserID, string(m.Kind), m.Text, encodeVector(m.Embedding), m.Importance, m.TTLDays, m.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

// Memory implements store.Store.
func (s *Store) Memory(ctx context.Context, id string) (core.Memory, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, user_id, kind, text, embedding, importance, ttl_days, created_at FROM memories WHERE id = ?`, id)
	m, err := scanMemory(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Memory{}, fmt.Errorf("memory %s: %w", id, core.ErrNotFound)
	}
	return m, err
}

// BumpImportance implements store.Store. Raises are applied atomically; a
// value at or below the stored importance leaves the row unchanged.
func (s *Store) BumpImportance(ctx context.Context, memoryID string, importance float64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var current float64
	err = tx.QueryRowContext(ctx, `SELECT importance FROM memories WHERE id = ?`, memoryID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("memory %s: %w", memoryID, core.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("read importance: %w", err)
	}
	if importance > current {
		if _, err := tx.ExecContext(ctx, `UPDATE memories SET importance = ? WHERE id = ?`, importance, memoryID); err != nil {
			return fmt.Errorf("update importance: %w", err)
		}
	}
	return tx.Commit()
}

// SimilarMemories implements store.Store. Similarity is computed by scanning
// the user's embeddings; at this store's scale a scan beats maintaining a
// separate index.
func (s *Store) SimilarMemories(ctx context.Context, userID string, embedding []float32, limit int, now time.Time) ([]core.ScoredMemory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, user_id, kind, text, embedding, importance, ttl_days, created_at
		 FROM memories
		 WHERE user_id = ? AND (ttl_days <= 0 OR created_at + ttl_days * 86400000 > ?)`,
		userID, now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	var scored []core.ScoredMemory
	for rows.Next() {
		m, err := scanMemory(rows.Scan)
		if err != nil {
			return nil, err
		}
		scored = append(scored, core.ScoredMemory{
			Memory:     m,
			Similarity: core.Cosine(embedding, m.Embedding),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memories: %w", err)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Similarity != scored[j].Similarity {
			return scored[i].Similarity > scored[j].Similarity
		}
		return scored[i].Memory.CreatedAt.After(scored[j].Memory.CreatedAt)
	})
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// KeywordMemories implements store.Store using LIKE over lowercased text.
func (s *Store) KeywordMemories(ctx context.Context, userID string, terms []string, limit int, now time.Time) ([]core.Memory, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	var sb strings.Builder
	args := []any{userID, now.UnixMilli()}
	sb.WriteString(`SELECT id, session_id, user_id, kind, text, embedding, importance, ttl_days, created_at
		FROM memories
		WHERE user_id = ? AND (ttl_days <= 0 OR created_at + ttl_days * 86400000 > ?) AND (`)
	for i, term := range terms {
		if i > 0 {
			sb.WriteString(" OR ")
		}
		sb.WriteString("LOWER(text) LIKE ?")
		args = append(args, "%"+strings.ToLower(term)+"%")
	}
	sb.WriteString(") ORDER BY created_at DESC")
	if limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("keyword query: %w", err)
	}
	defer rows.Close()

	var out []core.Memory
	for rows.Next() {
		m, err := scanMemory(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// RecentSessionMemories implements store.Store.
func (s *Store) RecentSessionMemories(ctx context.Context, userID string, sessions int) ([]core.Memory, error) {
	q := `SELECT id, session_id, user_id, kind, text, embedding, importance, ttl_days, created_at
		FROM memories WHERE user_id = ?`
	args := []any{userID}
	if sessions > 0 {
		q += ` AND session_id IN (
			SELECT session_id FROM memories WHERE user_id = ?
			GROUP BY session_id ORDER BY MAX(created_at) DESC LIMIT ?)`
		args = append(args, userID, sessions)
	}
	q += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query session memories: %w", err)
	}
	defer rows.Close()

	var out []core.Memory
	for rows.Next() {
		m, err := scanMemory(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// AppendSummary implements store.Store.
func (s *Store) AppendSummary(ctx context.Context, sum core.MemorySummary) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_summaries (id, user_id, session_window, summary, embedding, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		sum.ID, sum.UserID, sum.SessionWindow, sum.Summary, encodeVector(sum.Embedding), sum.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert summary: %w", err)
	}
	return nil
}

// Summaries implements store.Store.
func (s *Store) Summaries(ctx context.Context, userID string) ([]core.MemorySummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, session_window, summary, embedding, created_at FROM memory_summaries WHERE user_id = ? ORDER BY created_at DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("query summaries: %w", err)
	}
	defer rows.Close()

	var out []core.MemorySummary
	for rows.Next() {
		var sum core.MemorySummary
		var blob []byte
		var createdAt int64
		if err := rows.Scan(&sum.ID, &sum.UserID, &sum.SessionWindow, &sum.Summary, &blob, &createdAt); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		sum.Embedding = decodeVector(blob)
		sum.CreatedAt = time.UnixMilli(createdAt).UTC()
		out = append(out, sum)
	}
	return out, rows.Err()
}

// SimilarSummaries implements store.Store.
func (s *Store) SimilarSummaries(ctx context.Context, userID string, embedding []float32, limit int) ([]store.ScoredSummary, error) {
	sums, err := s.Summaries(ctx, userID)
	if err != nil {
		return nil, err
	}
	scored := make([]store.ScoredSummary, 0, len(sums))
	for _, sum := range sums {
		scored = append(scored, store.ScoredSummary{
			Summary:    sum,
			Similarity: core.Cosine(embedding, sum.Embedding),
		})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// Close implements store.Store.
func (s *Store) Close() error { return s.db.Close() }

func scanMemory(scan func(dest ...any) error) (core.Memory, error) {
	var m core.Memory
	var kind string
	var blob []byte
	var createdAt int64
	if err := scan(&m.ID, &m.SessionID, &m.UserID, &kind, &m.Text, &blob, &m.Importance, &m.TTLDays, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Memory{}, err
		}
		return core.Memory{}, fmt.Errorf("scan memory: %w", err)
	}
	m.Kind = core.MemoryKind(kind)
	m.Embedding = decodeVector(blob)
	m.CreatedAt = time.UnixMilli(createdAt).UTC()
	return m, nil
}

// encodeVector packs a float32 slice as little-endian bytes for BLOB storage.
func encodeVector(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	if len(buf) < 4 {
		return nil
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}
