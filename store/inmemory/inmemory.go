// Package inmemory implements store.Store in process memory, with a
// chromem-go collection per user as the vector index for memories and
// summaries. Events and entities live in plain maps under a RWMutex. Suited
// to tests, examples and single-process deployments without durability needs.
package inmemory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/memfuse/memfuse/core"
	"github.com/memfuse/memfuse/store"
)

// Store is the process-local implementation of store.Store.
type Store struct {
	db *chromem.DB

	mu        sync.RWMutex
	events    map[string][]core.ChatEvent // session id -> events in seq order
	entities  map[string][]core.Entity    // session id -> entities
	memories  map[string]core.Memory      // memory id -> memory
	byUser    map[string][]string         // user id -> memory ids in insert order
	summaries map[string][]core.MemorySummary

	memCols map[string]*chromem.Collection
	sumCols map[string]*chromem.Collection
}

var _ store.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		db:        chromem.NewDB(),
		events:    make(map[string][]core.ChatEvent),
		entities:  make(map[string][]core.Entity),
		memories:  make(map[string]core.Memory),
		byUser:    make(map[string][]string),
		summaries: make(map[string][]core.MemorySummary),
		memCols:   make(map[string]*chromem.Collection),
		sumCols:   make(map[string]*chromem.Collection),
	}
}

// collection returns the per-user chromem collection from cols, creating it
// on first use. Caller must hold the write lock.
func (s *Store) collection(cols map[string]*chromem.Collection, prefix, userID string) (*chromem.Collection, error) {
	if col, ok := cols[userID]; ok {
		return col, nil
	}
	name := prefix + "_" + userID
	if userID == "" {
		name = prefix + "_global"
	}
	col, err := s.db.CreateCollection(name, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	cols[userID] = col
	return col, nil
}

// AppendEvent implements store.Store.
func (s *Store) AppendEvent(_ context.Context, ev core.ChatEvent) (core.ChatEvent, error) {
	if !ev.Role.Valid() {
		return core.ChatEvent{}, fmt.Errorf("invalid role %q", ev.Role)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ev.Seq = int64(len(s.events[ev.SessionID])) + 1
	s.events[ev.SessionID] = append(s.events[ev.SessionID], ev)
	return ev, nil
}

// SessionEvents implements store.Store.
func (s *Store) SessionEvents(_ context.Context, sessionID string, limit int) ([]core.ChatEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := s.events[sessionID]
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	out := make([]core.ChatEvent, len(events))
	copy(out, events)
	return out, nil
}

// InsertEntity implements store.Store.
func (s *Store) InsertEntity(_ context.Context, e core.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities[e.SessionID] = append(s.entities[e.SessionID], e)
	return nil
}

// SessionEntities implements store.Store.
func (s *Store) SessionEntities(_ context.Context, sessionID string) ([]core.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Entity, len(s.entities[sessionID]))
	copy(out, s.entities[sessionID])
	return out, nil
}

// InsertMemory implements store.Store.
func (s *Store) InsertMemory(ctx context.Context, m core.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.memories[m.ID]; exists {
		return fmt.Errorf("memory %s already exists", m.ID)
	}
	if len(m.Embedding) > 0 {
		col, err := s.collection(s.memCols, "memories", m.UserID)
		if err != nil {
			return err
		}
		err = col.AddDocument(ctx, chromem.Document{
			ID:        m.ID,
			Content:   m.Text,
			Embedding: m.Embedding,
			Metadata:  map[string]string{"user_id": m.UserID, "kind": string(m.Kind)},
		})
		if err != nil {
			return fmt.Errorf("index memory: %w", err)
		}
	}
	s.memories[m.ID] = m
	s.byUser[m.UserID] = append(s.byUser[m.UserID], m.ID)
	return nil
}

// Memory implements store.Store.
func (s *Store) Memory(_ context.Context, id string) (core.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.memories[id]
	if !ok {
		return core.Memory{}, fmt.Errorf("memory %s: %w", id, core.ErrNotFound)
	}
	return m, nil
}

// BumpImportance implements store.Store.
func (s *Store) BumpImportance(_ context.Context, memoryID string, importance float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[memoryID]
	if !ok {
		return fmt.Errorf("memory %s: %w", memoryID, core.ErrNotFound)
	}
	if importance > m.Importance {
		m.Importance = importance
		s.memories[memoryID] = m
	}
	return nil
}

// SimilarMemories implements store.Store. The chromem index ranks by cosine
// similarity; expired memories are filtered out of the ranked list.
func (s *Store) SimilarMemories(ctx context.Context, userID string, embedding []float32, limit int, now time.Time) ([]core.ScoredMemory, error) {
	s.mu.Lock()
	col, err := s.collection(s.memCols, "memories", userID)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	// chromem requires nResults <= collection size; rank everything and
	// truncate after the expiry filter.
	n := col.Count()
	if n == 0 {
		return nil, nil
	}
	results, err := col.QueryEmbedding(ctx, embedding, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var scored []core.ScoredMemory
	for _, r := range results {
		m, ok := s.memories[r.ID]
		if !ok || m.Expired(now) {
			continue
		}
		scored = append(scored, core.ScoredMemory{Memory: m, Similarity: float64(r.Similarity)})
		if limit > 0 && len(scored) == limit {
			break
		}
	}
	return scored, nil
}

// KeywordMemories implements store.Store.
func (s *Store) KeywordMemories(_ context.Context, userID string, terms []string, limit int, now time.Time) ([]core.Memory, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []core.Memory
	for _, id := range s.byUser[userID] {
		m := s.memories[id]
		if m.Expired(now) {
			continue
		}
		text := strings.ToLower(m.Text)
		for _, term := range terms {
			if strings.Contains(text, strings.ToLower(term)) {
				out = append(out, m)
				break
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// RecentSessionMemories implements store.Store.
func (s *Store) RecentSessionMemories(_ context.Context, userID string, sessions int) ([]core.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	latest := make(map[string]time.Time)
	for _, id := range s.byUser[userID] {
		m := s.memories[id]
		if m.CreatedAt.After(latest[m.SessionID]) {
			latest[m.SessionID] = m.CreatedAt
		}
	}

	keep := make(map[string]bool, len(latest))
	if sessions > 0 && sessions < len(latest) {
		type sessionAge struct {
			id   string
			last time.Time
		}
		ordered := make([]sessionAge, 0, len(latest))
		for id, last := range latest {
			ordered = append(ordered, sessionAge{id, last})
		}
		sort.Slice(ordered, func(i, j int) bool { return ordered[i].last.After(ordered[j].last) })
		for _, sa := range ordered[:sessions] {
			keep[sa.id] = true
		}
	} else {
		for id := range latest {
			keep[id] = true
		}
	}

	var out []core.Memory
	for _, id := range s.byUser[userID] {
		m := s.memories[id]
		if keep[m.SessionID] {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// AppendSummary implements store.Store.
func (s *Store) AppendSummary(ctx context.Context, sum core.MemorySummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(sum.Embedding) > 0 {
		col, err := s.collection(s.sumCols, "summaries", sum.UserID)
		if err != nil {
			return err
		}
		err = col.AddDocument(ctx, chromem.Document{
			ID:        sum.ID,
			Content:   sum.Summary,
			Embedding: sum.Embedding,
			Metadata:  map[string]string{"user_id": sum.UserID},
		})
		if err != nil {
			return fmt.Errorf("index summary: %w", err)
		}
	}
	s.summaries[sum.UserID] = append([]core.MemorySummary{sum}, s.summaries[sum.UserID]...)
	return nil
}

// Summaries implements store.Store.
func (s *Store) Summaries(_ context.Context, userID string) ([]core.MemorySummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.MemorySummary, len(s.summaries[userID]))
	copy(out, s.summaries[userID])
	return out, nil
}

// SimilarSummaries implements store.Store.
func (s *Store) SimilarSummaries(ctx context.Context, userID string, embedding []float32, limit int) ([]store.ScoredSummary, error) {
	s.mu.Lock()
	col, err := s.collection(s.sumCols, "summaries", userID)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	n := col.Count()
	if n == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > n {
		limit = n
	}
	results, err := col.QueryEmbedding(ctx, embedding, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	byID := make(map[string]core.MemorySummary)
	for _, sums := range s.summaries {
		for _, sum := range sums {
			byID[sum.ID] = sum
		}
	}
	var scored []store.ScoredSummary
	for _, r := range results {
		sum, ok := byID[r.ID]
		if !ok {
			continue
		}
		scored = append(scored, store.ScoredSummary{Summary: sum, Similarity: float64(r.Similarity)})
	}
	return scored, nil
}

// Close implements store.Store.
func (s *Store) Close() error { return nil }
