package intent

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/memfuse/memfuse/core"
	"github.com/memfuse/memfuse/logging"
	"github.com/memfuse/memfuse/provider"
	"github.com/memfuse/memfuse/store"
)

// Retention policy per label.
const (
	actionImportance     = 0.8
	actionTTLDays        = 30
	preferenceImportance = 0.9
	smallTalkImportance  = 0.3
	smallTalkTTLDays     = 7
)

var (
	netTermsPattern = regexp.MustCompile(`(?i)\bNET\s?(\d+)\b`)
	weekdays        = []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}
)

// WriterOptions configure the memory writer.
type WriterOptions struct {
	// Embedder computes the embedding of each memory's normalized text.
	// Embedding failure is non-fatal; the memory is stored without a vector
	// and stays reachable through keyword retrieval.
	Embedder provider.Embedder
	Logger   logging.Logger
	// CaptureSmallTalk stores chit-chat as short-lived episodic rows. Used
	// by the simple pipeline mode, off in the full pipeline.
	CaptureSmallTalk bool
}

// Writer turns a classified utterance into zero or more persisted memories.
type Writer struct {
	store            store.Store
	embed            provider.Embedder
	logger           logging.Logger
	captureSmallTalk bool
}

// NewWriter creates a memory writer over the given store.
func NewWriter(st store.Store, optFns ...func(o *WriterOptions)) *Writer {
	opts := WriterOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Writer{
		store:            st,
		embed:            opts.Embedder,
		logger:           opts.Logger,
		captureSmallTalk: opts.CaptureSmallTalk,
	}
}

// Write applies the retention policy for the classification and persists the
// resulting memories. The returned slice holds what was written, possibly
// empty. A persistence failure is fatal to the turn; an embedding failure is
// not.
func (w *Writer) Write(ctx context.Context, sessionID, userID, text string, cls Classification, mentions []core.CandidateMention) ([]core.Memory, error) {
	subject := subjectOf(mentions)

	var drafts []core.Memory
	switch cls.Label {
	case LabelAction:
		m := core.NewMemory(sessionID, userID, core.KindEpisodic, normalizeAction(text, subject))
		m.Importance = actionImportance
		m.TTLDays = actionTTLDays
		drafts = append(drafts, m)
		if pref, ok := implicitPreference(text, subject); ok {
			p := core.NewMemory(sessionID, userID, core.KindSemantic, pref)
			p.Importance = preferenceImportance
			drafts = append(drafts, p)
		}
	case LabelPreference:
		m := core.NewMemory(sessionID, userID, core.KindSemantic, normalizePreference(text, subject))
		m.Importance = preferenceImportance
		drafts = append(drafts, m)
	case LabelSmallTalk, LabelOther:
		if !w.captureSmallTalk {
			return nil, nil
		}
		m := core.NewMemory(sessionID, userID, core.KindEpisodic, strings.TrimSpace(text))
		m.Importance = smallTalkImportance
		m.TTLDays = smallTalkTTLDays
		drafts = append(drafts, m)
	default:
		return nil, nil
	}

	written := make([]core.Memory, 0, len(drafts))
	for _, m := range drafts {
		if w.embed != nil {
			vec, err := w.embed.Embed(ctx, m.Text)
			if err != nil {
				w.logger.Warn("embedding memory failed, storing without vector",
					"memory_id", m.ID, "error", err)
			} else {
				m.Embedding = vec
			}
		}
		if err := w.store.InsertMemory(ctx, m); err != nil {
			return written, fmt.Errorf("insert %s memory: %w", m.Kind, err)
		}
		w.logger.Debug("memory written",
			"kind", string(m.Kind), "importance", m.Importance, "ttl_days", m.TTLDays)
		written = append(written, m)
	}
	return written, nil
}

// subjectOf picks the subject for normalized memory text: the best resolved
// link among the mentions, else the first mention's surface form.
func subjectOf(mentions []core.CandidateMention) string {
	for _, m := range mentions {
		if m.Ambiguous {
			continue
		}
		if best, ok := m.Best(); ok {
			return best.Name
		}
	}
	if len(mentions) > 0 {
		return mentions[0].SurfaceText
	}
	return ""
}

// normalizeAction renders a stable episodic text for common operations so
// repeated phrasings of the same action embed close together.
func normalizeAction(text, subject string) string {
	lower := strings.ToLower(text)
	forSubject := func(base string) string {
		if subject == "" {
			return base
		}
		return base + " for " + subject
	}
	switch {
	case strings.Contains(lower, "reschedule"):
		return forSubject("Work order rescheduled")
	case (strings.Contains(lower, "draft") || strings.Contains(lower, "send")) && strings.Contains(lower, "email"):
		return forSubject("Invoice reminder email initiated")
	case strings.Contains(lower, "mark") && strings.Contains(lower, "done"):
		return forSubject("Task marked as completed")
	case strings.Contains(lower, "schedule") && strings.Contains(lower, "deliver"):
		return forSubject("Delivery scheduled")
	}
	return strings.TrimSpace(text)
}

// normalizePreference renders a stable semantic text for recognized
// preference shapes, falling back to the raw statement.
func normalizePreference(text, subject string) string {
	lower := strings.ToLower(text)
	who := subject
	if who == "" {
		who = "Customer"
	}
	switch {
	case containsWeekday(lower) && strings.Contains(lower, "deliver"):
		return fmt.Sprintf("%s prefers %s deliveries; align scheduling accordingly.", who, weekdayIn(lower))
	case netTermsPattern.MatchString(text):
		m := netTermsPattern.FindStringSubmatch(text)
		return fmt.Sprintf("%s uses NET%s payment terms", who, m[1])
	case strings.Contains(lower, "ach"):
		return fmt.Sprintf("%s prefers ACH payments", who)
	case strings.Contains(lower, "credit card"):
		return fmt.Sprintf("%s prefers credit card payments", who)
	}
	return strings.TrimSpace(text)
}

// implicitPreference derives a standing preference from a scheduling action:
// rescheduling to a named weekday implies the customer wants that weekday.
func implicitPreference(text, subject string) (string, bool) {
	lower := strings.ToLower(text)
	if !strings.Contains(lower, "reschedule") || !containsWeekday(lower) {
		return "", false
	}
	who := subject
	if who == "" {
		who = "Customer"
	}
	return fmt.Sprintf("%s prefers %s; align work order scheduling accordingly.", who, weekdayIn(lower)), true
}

func containsWeekday(lower string) bool { return weekdayIn(lower) != "" }

// weekdayIn returns the first weekday named in lower, capitalized.
func weekdayIn(lower string) string {
	for _, d := range weekdays {
		if strings.Contains(lower, d) {
			return strings.ToUpper(d[:1]) + d[1:]
		}
	}
	return ""
}
