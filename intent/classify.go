package intent

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/memfuse/memfuse/logging"
	"github.com/memfuse/memfuse/provider"
)

// Label is the closed set of utterance intents.
type Label string

const (
	LabelAction     Label = "ACTION"
	LabelPreference Label = "PREFERENCE"
	LabelQuestion   Label = "QUESTION"
	LabelSmallTalk  Label = "SMALL_TALK"
	LabelOther      Label = "OTHER"
)

// Classification is the classifier's verdict for one utterance.
type Classification struct {
	Label      Label   `json:"label"`
	Confidence float64 `json:"confidence"`
	// RememberDirective reports an explicit "remember ..." request, which
	// forces a memory write regardless of the surface label.
	RememberDirective bool `json:"remember_directive"`
}

// WritesMemory reports whether this classification produces a persisted
// memory under the default policy.
func (c Classification) WritesMemory() bool {
	return c.RememberDirective || c.Label == LabelAction || c.Label == LabelPreference
}

const classifySystemPrompt = `You are an expert at analyzing business communication intent.
Classify the user's message into exactly one intent:
- ACTION: the user performs or requests a concrete operation (draft, send, reschedule, create, mark done)
- PREFERENCE: the user states a preference, rule, or policy
- QUESTION: the user asks for information
- SMALL_TALK: greetings, thanks, chit-chat
- OTHER: anything else
Respond with JSON only: {"label": "...", "confidence": 0.0-1.0}`

var (
	actionKeywords = []string{
		"draft", "send", "create", "reschedule", "schedule", "cancel",
		"mark", "update", "assign", "ship",
	}
	preferenceKeywords = []string{
		"prefers", "prefer", "likes", "always", "never", "policy", "payment terms",
	}
	rememberKeywords = []string{
		"remember", "don't forget", "dont forget", "note that", "keep in mind", "make a note",
	}
	questionStarters = []string{
		"what", "when", "where", "who", "why", "how", "which",
		"is ", "are ", "do ", "does ", "can ", "could ", "did ", "will ",
	}
	smallTalkPhrases = []string{
		"hi", "hello", "hey", "thanks", "thank you", "good morning",
		"good afternoon", "good evening", "how are you", "bye", "goodbye",
	}
)

// ClassifierOptions configure the intent classifier.
type ClassifierOptions struct {
	// Completer, when set, is asked first; rule-based classification is the
	// fallback. A nil completer means rules only.
	Completer provider.Completer
	// MaxTries bounds completion retries on rate limits.
	MaxTries uint
	Logger   logging.Logger
}

// Classifier maps an utterance to an intent label.
type Classifier struct {
	completer provider.Completer
	maxTries  uint
	logger    logging.Logger
}

// NewClassifier creates an intent classifier.
func NewClassifier(optFns ...func(o *ClassifierOptions)) *Classifier {
	opts := ClassifierOptions{
		MaxTries: 3,
		Logger:   logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Classifier{
		completer: opts.Completer,
		maxTries:  opts.MaxTries,
		logger:    opts.Logger,
	}
}

// Classify returns the intent of text. Model failures degrade to the rule
// pass; the remember-directive override applies to both paths.
func (c *Classifier) Classify(ctx context.Context, text string) Classification {
	cls, ok := c.classifyLLM(ctx, text)
	if !ok {
		cls = classifyRules(text)
	}
	if hasRememberDirective(text) {
		cls.RememberDirective = true
		// A remembered statement is a preference unless it clearly records
		// an action.
		if cls.Label != LabelAction {
			cls.Label = LabelPreference
		}
		if cls.Confidence < 0.9 {
			cls.Confidence = 0.9
		}
	}
	return cls
}

func (c *Classifier) classifyLLM(ctx context.Context, text string) (Classification, bool) {
	if c.completer == nil {
		return Classification{}, false
	}
	raw, err := provider.CompleteWithRetry(ctx, c.completer,
		classifySystemPrompt, `Classify this message: "`+text+`"`, c.maxTries)
	if err != nil {
		c.logger.Warn("intent classification via model failed", "error", err)
		return Classification{}, false
	}
	var parsed struct {
		Label      string  `json:"label"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(extractJSON(raw)), &parsed); err != nil {
		c.logger.Warn("intent classification returned malformed JSON", "raw", raw)
		return Classification{}, false
	}
	label := Label(strings.ToUpper(strings.TrimSpace(parsed.Label)))
	switch label {
	case LabelAction, LabelPreference, LabelQuestion, LabelSmallTalk, LabelOther:
	default:
		return Classification{}, false
	}
	if parsed.Confidence <= 0 || parsed.Confidence > 1 {
		parsed.Confidence = 0.5
	}
	return Classification{Label: label, Confidence: parsed.Confidence}, true
}

// classifyRules is the deterministic fallback.
func classifyRules(text string) Classification {
	lower := strings.ToLower(strings.TrimSpace(text))

	for _, kw := range actionKeywords {
		if strings.Contains(lower, kw) {
			return Classification{Label: LabelAction, Confidence: 0.7}
		}
	}
	for _, kw := range preferenceKeywords {
		if strings.Contains(lower, kw) {
			return Classification{Label: LabelPreference, Confidence: 0.7}
		}
	}
	if strings.HasSuffix(lower, "?") || hasPrefixAny(lower, questionStarters) {
		return Classification{Label: LabelQuestion, Confidence: 0.6}
	}
	for _, p := range smallTalkPhrases {
		if lower == p || strings.HasPrefix(lower, p+" ") || strings.HasPrefix(lower, p+",") || strings.HasPrefix(lower, p+"!") {
			return Classification{Label: LabelSmallTalk, Confidence: 0.6}
		}
	}
	return Classification{Label: LabelOther, Confidence: 0.5}
}

func hasRememberDirective(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range rememberKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func hasPrefixAny(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// extractJSON strips any prose or code fences the model wrapped around its
// JSON object.
func extractJSON(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return raw
	}
	return raw[start : end+1]
}
