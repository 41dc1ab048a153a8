package disambig

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/memfuse/memfuse/core"
	"github.com/memfuse/memfuse/logging"
	"github.com/memfuse/memfuse/provider"
	"github.com/memfuse/memfuse/store"
)

const (
	defaultTTL           = 5 * time.Minute
	defaultMaxCandidates = 4

	aliasImportance = 0.8
)

var (
	aliasTargetPattern = regexp.MustCompile(`(?i)^alias mapping: '(.+)' refers to '(.+)'$`)

	ordinalWords = map[string]int{
		"first": 1, "second": 2, "third": 3, "fourth": 4, "fifth": 5,
		"1st": 1, "2nd": 2, "3rd": 3, "4th": 4, "5th": 5,
	}
	rejectionPhrases = []string{"none of these", "none of those", "none of them", "neither", "no, none"}
)

// Options configure the disambiguation engine.
type Options struct {
	// TTL bounds how long a pending clarification stays answerable.
	TTL time.Duration
	// MaxCandidates caps how many candidates a question lists.
	MaxCandidates int
	// Embedder, when set, embeds alias memories before they are stored.
	Embedder provider.Embedder
	Logger   logging.Logger
	// Now is the clock; overridden in tests.
	Now func() time.Time
}

// Engine holds the pending clarification states, keyed by session. All state
// access is serialized; callers for distinct sessions never block each other
// beyond the map lookup.
type Engine struct {
	store         store.Store
	embed         provider.Embedder
	logger        logging.Logger
	ttl           time.Duration
	maxCandidates int
	now           func() time.Time

	mu     sync.Mutex
	states map[string]*core.DisambiguationState
}

// Outcome is the result of processing one clarification reply.
type Outcome struct {
	// PendingMention is the surface form the clarification was about.
	PendingMention string
	// Selected is the candidate the reply picked, nil when nothing resolved.
	Selected *core.ScoredLink
	// Entity is the persisted entity row for a resolved or degraded mention.
	Entity *core.Entity
	// Rejected reports an explicit "none of these" reply.
	Rejected bool
	// Reask reports that the reply was unparseable and the question was
	// issued again; Question carries the text to show the user.
	Reask    bool
	Question string
	// OriginalText is the utterance that triggered the clarification, so the
	// caller can resume processing it with the mention resolved.
	OriginalText string
}

// New creates a disambiguation engine backed by the given memory store.
func New(st store.Store, optFns ...func(o *Options)) *Engine {
	opts := Options{
		TTL:           defaultTTL,
		MaxCandidates: defaultMaxCandidates,
		Logger:        logging.NoOpLogger{},
		Now:           time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Engine{
		store:         st,
		embed:         opts.Embedder,
		logger:        opts.Logger,
		ttl:           opts.TTL,
		maxCandidates: opts.MaxCandidates,
		now:           opts.Now,
		states:        map[string]*core.DisambiguationState{},
	}
}

// Pending returns the session's outstanding clarification state, if any.
// Expired state is discarded here, so a stale reply falls through to normal
// turn processing as a fresh utterance.
func (e *Engine) Pending(sessionID string) (core.DisambiguationState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.states[sessionID]
	if !ok {
		return core.DisambiguationState{}, false
	}
	if s.Expired(e.now()) {
		delete(e.states, sessionID)
		e.logger.Debug("discarded expired disambiguation state", "session_id", sessionID)
		return core.DisambiguationState{}, false
	}
	return *s, true
}

// Begin starts a clarification for an ambiguous mention. When a stored alias
// already maps the mention's surface to one of the candidates, the mention
// resolves immediately and no question is asked; otherwise the pending state
// replaces any prior one for the session and the question text is returned.
func (e *Engine) Begin(ctx context.Context, sessionID, userID string, mention core.CandidateMention, originalText string) (question string, resolved *core.ScoredLink, err error) {
	if link, ok := e.resolveAlias(ctx, userID, mention); ok {
		e.logger.Debug("alias resolved ambiguous mention",
			"session_id", sessionID, "mention", mention.SurfaceText, "name", link.Name)
		return "", &link, nil
	}

	candidates := mention.Links
	if len(candidates) > e.maxCandidates {
		candidates = candidates[:e.maxCandidates]
	}
	state := &core.DisambiguationState{
		SessionID:      sessionID,
		PendingMention: mention.SurfaceText,
		OriginalText:   originalText,
		Candidates:     candidates,
		Asked:          1,
		ExpiresAt:      e.now().Add(e.ttl),
	}

	e.mu.Lock()
	e.states[sessionID] = state
	e.mu.Unlock()

	return formatQuestion(state), nil, nil
}

// Resolve consumes the session's pending state using the user's reply.
//
// A parseable selection persists a db-sourced entity for the chosen
// candidate and stores an alias memory for the surface form. An explicit
// rejection, or a second unparseable reply, persists an unlinked
// message-sourced entity instead. A first unparseable reply re-asks and
// keeps the state pending. With no pending state the call returns
// ErrDisambiguationExpired.
func (e *Engine) Resolve(ctx context.Context, sessionID, userID, reply string) (Outcome, error) {
	e.mu.Lock()
	state, ok := e.states[sessionID]
	if ok && state.Expired(e.now()) {
		delete(e.states, sessionID)
		ok = false
	}
	e.mu.Unlock()
	if !ok {
		return Outcome{}, core.ErrDisambiguationExpired
	}

	if isRejection(reply) {
		e.clear(sessionID)
		ent, err := e.recordUnresolved(ctx, state)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{PendingMention: state.PendingMention, Rejected: true, Entity: ent, OriginalText: state.OriginalText}, nil
	}

	link, ok := ParseSelection(reply, state.Candidates)
	if !ok {
		if state.Asked >= 2 {
			e.clear(sessionID)
			ent, err := e.recordUnresolved(ctx, state)
			if err != nil {
				return Outcome{}, err
			}
			e.logger.Info("clarification degraded to unresolved",
				"session_id", sessionID, "mention", state.PendingMention)
			return Outcome{PendingMention: state.PendingMention, Entity: ent, OriginalText: state.OriginalText}, nil
		}
		e.mu.Lock()
		state.Asked++
		state.ExpiresAt = e.now().Add(e.ttl)
		e.mu.Unlock()
		return Outcome{PendingMention: state.PendingMention, Reask: true, Question: formatQuestion(state), OriginalText: state.OriginalText}, nil
	}

	e.clear(sessionID)

	ent := core.NewEntity(state.SessionID, link.Name, link.Type).Resolved(link.Ref)
	if err := e.store.InsertEntity(ctx, ent); err != nil {
		return Outcome{}, fmt.Errorf("persist resolved entity: %w", err)
	}
	if err := e.storeAlias(ctx, state, userID, link); err != nil {
		// A missing alias only costs a future question.
		e.logger.Warn("storing alias mapping failed",
			"session_id", sessionID, "alias", state.PendingMention, "error", err)
	}
	return Outcome{PendingMention: state.PendingMention, Selected: &link, Entity: &ent, OriginalText: state.OriginalText}, nil
}

// ParseSelection interprets a clarification reply against the presented
// candidates: by ordinal ("2", "the first one"), by name substring, or by at
// least half of a candidate's name tokens appearing in the reply.
func ParseSelection(reply string, candidates []core.ScoredLink) (core.ScoredLink, bool) {
	lower := strings.ToLower(strings.TrimSpace(reply))
	if lower == "" || len(candidates) == 0 {
		return core.ScoredLink{}, false
	}

	if n, ok := ordinal(lower); ok && n >= 1 && n <= len(candidates) {
		return candidates[n-1], true
	}

	for _, c := range candidates {
		if lower == strings.ToLower(c.Name) {
			return c, true
		}
	}

	// Longest name first, so "Kai Media Europe" is not captured by a
	// candidate named "Kai Media".
	bySpecificity := make([]core.ScoredLink, len(candidates))
	copy(bySpecificity, candidates)
	sort.SliceStable(bySpecificity, func(i, j int) bool {
		return len(bySpecificity[i].Name) > len(bySpecificity[j].Name)
	})
	for _, c := range bySpecificity {
		if strings.Contains(lower, strings.ToLower(c.Name)) {
			return c, true
		}
	}

	replyWords := map[string]bool{}
	for _, w := range strings.Fields(lower) {
		replyWords[strings.Trim(w, ".,!?;:'\"")] = true
	}
	for _, c := range bySpecificity {
		nameWords := strings.Fields(strings.ToLower(c.Name))
		matched := 0
		for _, w := range nameWords {
			if replyWords[w] {
				matched++
			}
		}
		if matched*2 >= len(nameWords) && matched > 0 {
			return c, true
		}
	}
	return core.ScoredLink{}, false
}

func (e *Engine) clear(sessionID string) {
	e.mu.Lock()
	delete(e.states, sessionID)
	e.mu.Unlock()
}

// recordUnresolved persists the mention as an unlinked message-sourced
// entity so the conversation still has a row for it.
func (e *Engine) recordUnresolved(ctx context.Context, state *core.DisambiguationState) (*core.Entity, error) {
	typ := core.EntityTopic
	if len(state.Candidates) > 0 {
		typ = state.Candidates[0].Type
	}
	ent := core.NewEntity(state.SessionID, state.PendingMention, typ)
	if err := e.store.InsertEntity(ctx, ent); err != nil {
		return nil, fmt.Errorf("persist unresolved entity: %w", err)
	}
	return &ent, nil
}

// storeAlias writes a permanent semantic memory mapping the ambiguous
// surface to the chosen candidate. Skipped when the reply picked a candidate
// whose name equals the surface, where the alias would add nothing.
func (e *Engine) storeAlias(ctx context.Context, state *core.DisambiguationState, userID string, link core.ScoredLink) error {
	alias := strings.ToLower(strings.TrimSpace(state.PendingMention))
	if alias == "" || strings.EqualFold(alias, link.Name) {
		return nil
	}
	mem := core.NewMemory(state.SessionID, userID, core.KindSemantic,
		fmt.Sprintf("Alias mapping: '%s' refers to '%s'", alias, link.Name))
	mem.Importance = aliasImportance
	if e.embed != nil {
		vec, err := e.embed.Embed(ctx, alias+" "+link.Name)
		if err != nil {
			e.logger.Warn("embedding alias memory failed", "alias", alias, "error", err)
		} else {
			mem.Embedding = vec
		}
	}
	return e.store.InsertMemory(ctx, mem)
}

// resolveAlias checks stored alias memories for the mention's surface and
// returns the matching candidate when one maps.
func (e *Engine) resolveAlias(ctx context.Context, userID string, mention core.CandidateMention) (core.ScoredLink, bool) {
	alias := strings.ToLower(strings.TrimSpace(mention.SurfaceText))
	if alias == "" {
		return core.ScoredLink{}, false
	}
	term := fmt.Sprintf("alias mapping: '%s' refers to", alias)
	memories, err := e.store.KeywordMemories(ctx, userID, []string{term}, 5, e.now())
	if err != nil {
		e.logger.Warn("alias lookup failed", "alias", alias, "error", err)
		return core.ScoredLink{}, false
	}
	for _, mem := range memories {
		m := aliasTargetPattern.FindStringSubmatch(mem.Text)
		if m == nil || !strings.EqualFold(m[1], alias) {
			continue
		}
		for _, c := range mention.Links {
			if strings.EqualFold(c.Name, m[2]) {
				return c, true
			}
		}
	}
	return core.ScoredLink{}, false
}

// formatQuestion renders the clarification question for a pending state.
func formatQuestion(state *core.DisambiguationState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "I found multiple possible matches for %q. Which one did you mean?\n", state.PendingMention)
	for i, c := range state.Candidates {
		fmt.Fprintf(&b, "%d. %s\n", i+1, c.Name)
	}
	b.WriteString(`Please respond with the number or the name, or "none of these".`)
	return b.String()
}

func ordinal(lower string) (int, bool) {
	fields := strings.Fields(lower)
	for _, f := range fields {
		f = strings.Trim(f, ".,!?;:'\"")
		if n, ok := ordinalWords[f]; ok {
			return n, true
		}
		if len(f) == 1 && f[0] >= '1' && f[0] <= '9' {
			return int(f[0] - '0'), true
		}
	}
	return 0, false
}

func isRejection(reply string) bool {
	lower := strings.ToLower(strings.TrimSpace(reply))
	for _, p := range rejectionPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return lower == "none" || lower == "no"
}
