package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/memfuse/memfuse/config"
	"github.com/memfuse/memfuse/consolidate"
	"github.com/memfuse/memfuse/core"
	"github.com/memfuse/memfuse/disambig"
	"github.com/memfuse/memfuse/domainfact"
	"github.com/memfuse/memfuse/extract"
	"github.com/memfuse/memfuse/intent"
	"github.com/memfuse/memfuse/logging"
	"github.com/memfuse/memfuse/pii"
	"github.com/memfuse/memfuse/provider"
	"github.com/memfuse/memfuse/retrieval"
	"github.com/memfuse/memfuse/store"
)

const fallbackReply = "I couldn't reach the language model just now, but I've recorded your message and will keep its context in mind."

const replySystemPrompt = `You are a helpful business operations assistant with long-term memory.
Use the provided memory context and live record snapshots to answer precisely.
If the context does not cover the question, say so rather than inventing details.`

// Options configure the turn pipeline.
type Options struct {
	// Config carries the mode, thresholds, weights and provider timeout. The
	// zero value is replaced by config defaults.
	Config *config.Config
	// Embedder and Completer are the model providers. Either may be nil;
	// the affected stages degrade per the error design.
	Embedder  provider.Embedder
	Completer provider.Completer
	// Facts is the read-only business database used for entity linking and
	// fact attachment.
	Facts     domainfact.Store
	Logger    logging.Logger
	Callbacks *CallbackManager
}

// Engine wires the pipeline stages together and serializes turns per
// session.
type Engine struct {
	store         store.Store
	extractor     *extract.Engine
	disambiguator *disambig.Engine
	classifier    *intent.Classifier
	writer        *intent.Writer
	retriever     *retrieval.Engine
	consolidator  *consolidate.Engine
	completer     provider.Completer
	cfg           *config.Config
	logger        logging.Logger
	callbacks     *CallbackManager

	mu           sync.Mutex
	sessionLocks map[string]*sync.Mutex
}

// New assembles the pipeline over the given memory store. Stage engines are
// constructed from the configuration; the simple mode additionally captures
// small talk as short-lived memories.
func New(st store.Store, optFns ...func(o *Options)) *Engine {
	opts := Options{
		Logger:    logging.NoOpLogger{},
		Callbacks: NewCallbackManager(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}

	extractor := extract.New(opts.Facts, st, func(o *extract.Options) {
		o.Thresholds = cfg.Extraction
		o.Embedder = opts.Embedder
		o.Logger = opts.Logger
	})
	disambiguator := disambig.New(st, func(o *disambig.Options) {
		o.TTL = cfg.Disambiguation.TTL
		o.MaxCandidates = cfg.Disambiguation.MaxCandidates
		o.Embedder = opts.Embedder
		o.Logger = opts.Logger
	})
	classifier := intent.NewClassifier(func(o *intent.ClassifierOptions) {
		o.Completer = opts.Completer
		o.Logger = opts.Logger
	})
	writer := intent.NewWriter(st, func(o *intent.WriterOptions) {
		o.Embedder = opts.Embedder
		o.Logger = opts.Logger
		o.CaptureSmallTalk = cfg.Mode == config.ModeSimple
	})
	retriever := retrieval.New(st, func(o *retrieval.Options) {
		o.Weights = cfg.Retrieval
		o.Embedder = opts.Embedder
		o.Facts = opts.Facts
		o.Logger = opts.Logger
	})
	consolidator := consolidate.New(st, func(o *consolidate.Options) {
		o.Config = cfg.Consolidation
		o.Embedder = opts.Embedder
		o.Logger = opts.Logger
	})

	return &Engine{
		store:         st,
		extractor:     extractor,
		disambiguator: disambiguator,
		classifier:    classifier,
		writer:        writer,
		retriever:     retriever,
		consolidator:  consolidator,
		completer:     opts.Completer,
		cfg:           cfg,
		logger:        opts.Logger,
		callbacks:     opts.Callbacks,
	}
}

// Turn processes one user message end to end and returns the reply with its
// context. Turns for the same session are serialized; a missing session id
// starts a new session.
func (e *Engine) Turn(ctx context.Context, req core.TurnRequest) (core.TurnResult, error) {
	if req.UserID == "" {
		return core.TurnResult{}, errors.New("user id is required")
	}
	if strings.TrimSpace(req.Message) == "" {
		return core.TurnResult{}, errors.New("message is empty")
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = core.NewID()
	}
	unlock := e.lockSession(sessionID)
	defer unlock()

	cc := &CallbackContext{SessionID: sessionID, UserID: req.UserID, Message: req.Message}
	if err := e.callbacks.Execute(ctx, CallbackBeforeTurn, cc); err != nil {
		return core.TurnResult{}, fmt.Errorf("before-turn callback: %w", err)
	}

	result, err := e.runTurn(ctx, sessionID, req.UserID, req.Message)
	if err != nil {
		cc.Err = err
		if cbErr := e.callbacks.Execute(ctx, CallbackOnError, cc); cbErr != nil {
			e.logger.Warn("on-error callback failed", "error", cbErr)
		}
		return core.TurnResult{}, err
	}

	cc.Result = &result
	if cbErr := e.callbacks.Execute(ctx, CallbackAfterTurn, cc); cbErr != nil {
		e.logger.Warn("after-turn callback failed", "error", cbErr)
	}
	return result, nil
}

func (e *Engine) runTurn(ctx context.Context, sessionID, userID, message string) (core.TurnResult, error) {
	// PII never reaches storage: the masked form is what the pipeline sees.
	masked, piiMatches := pii.Filter(message)
	if len(piiMatches) > 0 {
		e.logger.Info("masked pii in message", "session_id", sessionID, "matches", len(piiMatches))
	}

	if _, err := e.store.AppendEvent(ctx, core.NewChatEvent(sessionID, core.RoleUser, masked)); err != nil {
		return core.TurnResult{}, fmt.Errorf("append user event: %w", err)
	}

	// A pending clarification consumes the reply before anything else.
	if state, pending := e.disambiguator.Pending(sessionID); pending {
		out, err := e.disambiguator.Resolve(ctx, sessionID, userID, masked)
		switch {
		case err == nil && out.Reask:
			// The re-ask presents the same candidates as the first question.
			return e.finishClarification(ctx, sessionID, out.Question, state.Candidates)
		case err == nil:
			// Resolved, rejected, or degraded: resume the original turn
			// with the mention settled.
			var resolved []core.ExternalRef
			var mentions []core.CandidateMention
			if out.Entity != nil {
				if !out.Entity.ExternalRef.IsZero() {
					resolved = append(resolved, out.Entity.ExternalRef)
				}
				// Keyed by the original surface form so that re-extracting
				// the utterance does not raise the same clarification again.
				m := core.CandidateMention{SurfaceText: out.PendingMention, Type: out.Entity.Type}
				if sel := out.Selected; sel != nil {
					m.Links = []core.ScoredLink{*sel}
				}
				mentions = append(mentions, m)
			}
			return e.processUtterance(ctx, sessionID, userID, out.OriginalText, mentions, resolved)
		case errors.Is(err, core.ErrDisambiguationExpired):
			// Stale reply, fall through as a fresh utterance.
		default:
			return core.TurnResult{}, fmt.Errorf("resolve clarification: %w", err)
		}
	}

	return e.processUtterance(ctx, sessionID, userID, masked, nil, nil)
}

// processUtterance runs extraction through reply generation for one
// utterance. Pre-resolved mentions from a clarification are merged with
// whatever extraction finds.
func (e *Engine) processUtterance(ctx context.Context, sessionID, userID, text string, preResolved []core.CandidateMention, resolved []core.ExternalRef) (core.TurnResult, error) {
	degraded := false

	mentions, err := e.extractor.Extract(ctx, text, sessionID)
	if err != nil {
		// Entity linking is an enrichment; a domain-store outage must not
		// drop the turn.
		e.logger.Warn("entity extraction failed", "session_id", sessionID, "error", err)
		mentions = nil
		degraded = true
	}
	mentions = append(mentions, preResolved...)

	for _, m := range mentions {
		if !m.Ambiguous || containsMention(preResolved, m) {
			continue
		}
		question, autoResolved, err := e.disambiguator.Begin(ctx, sessionID, userID, m, text)
		if err != nil {
			return core.TurnResult{}, fmt.Errorf("begin clarification: %w", err)
		}
		if autoResolved != nil {
			ent := core.NewEntity(sessionID, autoResolved.Name, autoResolved.Type).Resolved(autoResolved.Ref)
			if err := e.store.InsertEntity(ctx, ent); err != nil {
				return core.TurnResult{}, fmt.Errorf("persist alias-resolved entity: %w", err)
			}
			resolved = append(resolved, autoResolved.Ref)
			continue
		}
		// The stored state holds the capped candidate list the question
		// presents.
		candidates := m.Links
		if state, ok := e.disambiguator.Pending(sessionID); ok {
			candidates = state.Candidates
		}
		return e.finishClarification(ctx, sessionID, question, candidates)
	}

	// Persist the unambiguous entities and collect their references for
	// fact attachment.
	for _, m := range mentions {
		if m.Ambiguous || len(preResolved) > 0 && containsMention(preResolved, m) {
			continue
		}
		ent := core.NewEntity(sessionID, m.SurfaceText, m.Type)
		if best, ok := m.Best(); ok && !best.Ref.IsZero() {
			ent = core.NewEntity(sessionID, best.Name, best.Type).Resolved(best.Ref)
			resolved = append(resolved, best.Ref)
		}
		if err := e.store.InsertEntity(ctx, ent); err != nil {
			return core.TurnResult{}, fmt.Errorf("persist entity: %w", err)
		}
	}

	cls := e.classify(ctx, text)

	var rc core.RankedContext
	skipRetrieval := e.cfg.Mode == config.ModeSimple &&
		(cls.Label == intent.LabelSmallTalk || cls.Label == intent.LabelOther) &&
		!cls.RememberDirective
	if !skipRetrieval {
		rc, err = e.retriever.Retrieve(ctx, text, userID, e.cfg.Retrieval.TopK, resolved)
		if err != nil {
			return core.TurnResult{}, fmt.Errorf("retrieve context: %w", err)
		}
	}
	degraded = degraded || rc.Degraded

	reply, replyDegraded := e.generateReply(ctx, sessionID, userID, text, &rc, skipRetrieval)
	degraded = degraded || replyDegraded

	written, err := e.writer.Write(ctx, sessionID, userID, text, cls, mentions)
	if err != nil {
		return core.TurnResult{}, fmt.Errorf("write memories: %w", err)
	}
	kinds := make([]core.MemoryKind, 0, len(written))
	for _, m := range written {
		kinds = append(kinds, m.Kind)
	}

	if _, err := e.store.AppendEvent(ctx, core.NewChatEvent(sessionID, core.RoleAssistant, reply)); err != nil {
		return core.TurnResult{}, fmt.Errorf("append assistant event: %w", err)
	}

	status := core.TurnFull
	if degraded {
		status = core.TurnDegraded
	}
	return core.TurnResult{
		SessionID:   sessionID,
		Reply:       reply,
		Status:      status,
		Context:     &rc,
		StoredKinds: kinds,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// finishClarification records the question as the assistant turn and
// short-circuits the pipeline.
func (e *Engine) finishClarification(ctx context.Context, sessionID, question string, candidates []core.ScoredLink) (core.TurnResult, error) {
	if _, err := e.store.AppendEvent(ctx, core.NewChatEvent(sessionID, core.RoleAssistant, question)); err != nil {
		return core.TurnResult{}, fmt.Errorf("append clarification event: %w", err)
	}
	return core.TurnResult{
		SessionID:  sessionID,
		Reply:      question,
		Status:     core.TurnClarification,
		Candidates: candidates,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

func (e *Engine) classify(ctx context.Context, text string) intent.Classification {
	ctx, cancel := e.providerContext(ctx)
	defer cancel()
	return e.classifier.Classify(ctx, text)
}

// generateReply asks the language model for the turn's answer, falling back
// to a canned reply on provider failure. The turn is still recorded either
// way.
func (e *Engine) generateReply(ctx context.Context, sessionID, userID, text string, rc *core.RankedContext, brief bool) (string, bool) {
	if e.completer == nil {
		return fallbackReply, true
	}

	cc := &CallbackContext{SessionID: sessionID, UserID: userID, Message: text}
	if err := e.callbacks.Execute(ctx, CallbackBeforeModel, cc); err != nil {
		e.logger.Warn("before-model callback failed", "error", err)
	}

	prompt := text
	if !brief {
		prompt = buildPrompt(text, rc)
	}

	mctx, cancel := e.providerContext(ctx)
	defer cancel()
	reply, err := provider.CompleteWithRetry(mctx, e.completer, replySystemPrompt, prompt, 3)

	if cbErr := e.callbacks.Execute(ctx, CallbackAfterModel, cc); cbErr != nil {
		e.logger.Warn("after-model callback failed", "error", cbErr)
	}
	if err != nil {
		e.logger.Warn("reply generation failed, using fallback",
			"session_id", sessionID, "error", err)
		return fallbackReply, true
	}
	return reply, false
}

// Consolidate merges the user's recent memories into a new summary
// checkpoint. On-demand only.
func (e *Engine) Consolidate(ctx context.Context, userID string) (core.MemorySummary, error) {
	if userID == "" {
		return core.MemorySummary{}, errors.New("user id is required")
	}
	return e.consolidator.Consolidate(ctx, userID)
}

// lockSession serializes turns per session. Locks are never removed; the
// registry grows with the number of distinct live sessions.
func (e *Engine) lockSession(sessionID string) func() {
	e.mu.Lock()
	if e.sessionLocks == nil {
		e.sessionLocks = map[string]*sync.Mutex{}
	}
	lock, ok := e.sessionLocks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		e.sessionLocks[sessionID] = lock
	}
	e.mu.Unlock()
	lock.Lock()
	return lock.Unlock
}

func (e *Engine) providerContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.ProviderTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.cfg.ProviderTimeout)
}

// buildPrompt renders the retrieval context ahead of the question: summary
// checkpoint first, then ranked memories, then live record snapshots.
func buildPrompt(text string, rc *core.RankedContext) string {
	var b strings.Builder
	if rc.Summary != nil {
		b.WriteString("Consolidated memory summary:\n")
		b.WriteString(rc.Summary.Summary)
		b.WriteString("\n\n")
	}
	if len(rc.Memories) > 0 {
		b.WriteString("Relevant memories:\n")
		for _, m := range rc.Memories {
			fmt.Fprintf(&b, "- %s\n", m.Memory.Text)
		}
		b.WriteString("\n")
	}
	if len(rc.DomainFacts) > 0 {
		b.WriteString("Current records:\n")
		for _, f := range rc.DomainFacts {
			fmt.Fprintf(&b, "- %s/%s: %v\n", f.Table, f.ID, f.Data)
		}
		b.WriteString("\n")
	}
	if len(rc.Conflicts) > 0 {
		b.WriteString("Conflicting memories (the newer one is current):\n")
		for _, c := range rc.Conflicts {
			fmt.Fprintf(&b, "- now: %s (was: %s)\n", c.Newer.Text, c.Older.Text)
		}
		b.WriteString("\n")
	}
	if len(rc.Inconsistencies) > 0 {
		b.WriteString("Records contradicting remembered state (trust the record):\n")
		for _, inc := range rc.Inconsistencies {
			fmt.Fprintf(&b, "- %s is %s, not %s\n", inc.Reference, inc.FactStatus, inc.MemoryStatus)
		}
		b.WriteString("\n")
	}
	b.WriteString("User message: ")
	b.WriteString(text)
	return b.String()
}

func containsMention(mentions []core.CandidateMention, m core.CandidateMention) bool {
	for _, x := range mentions {
		if strings.EqualFold(x.SurfaceText, m.SurfaceText) {
			return true
		}
	}
	return false
}
