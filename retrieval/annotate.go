package retrieval

import (
	"regexp"
	"strings"

	"github.com/memfuse/memfuse/core"
)

// Annotation passes run after ranking: they compare the retrieved memories
// against each other and against the attached domain facts, flagging
// contradictions so the reply can acknowledge them instead of repeating
// stale information.

const (
	resolutionMostRecent = "most_recent"
	resolutionPreferDB   = "prefer_db"
)

// Term pairs that cannot both hold for the same preference.
var opposingTerms = [][2]string{
	{"monday", "tuesday"},
	{"tuesday", "wednesday"},
	{"wednesday", "thursday"},
	{"thursday", "friday"},
	{"morning", "afternoon"},
	{"afternoon", "evening"},
}

var preferenceVerbs = []string{"prefer", "like", "want"}

var statusQueryTerms = []string{"status", "complete", "done", "finished", "fulfilled"}

var docNumberPattern = regexp.MustCompile(`\b(?:SO|INV|WO)-\d+\b`)

// Memory wordings that contradict each live document status.
var contradictedBy = map[string][]string{
	"in_fulfillment": {"fulfilled", "complete", "done", "finished"},
	"draft":          {"fulfilled", "complete", "done", "finished"},
	"open":           {"paid", "complete", "done", "finished"},
	"queued":         {"done", "complete", "finished"},
}

// detectConflicts scans the ranked semantic preference memories pairwise for
// opposing terms about a shared subject. Each conflict resolves to the most
// recently created memory.
func detectConflicts(memories []core.ScoredMemory) []core.MemoryConflict {
	var prefs []core.Memory
	for _, sm := range memories {
		if sm.Memory.Kind != core.KindSemantic {
			continue
		}
		if !containsAny(strings.ToLower(sm.Memory.Text), preferenceVerbs) {
			continue
		}
		prefs = append(prefs, sm.Memory)
	}

	var out []core.MemoryConflict
	for i := 0; i < len(prefs); i++ {
		for j := i + 1; j < len(prefs); j++ {
			if !opposed(prefs[i].Text, prefs[j].Text) || !sharedSubject(prefs[i].Text, prefs[j].Text) {
				continue
			}
			newer, older := prefs[i], prefs[j]
			if older.CreatedAt.After(newer.CreatedAt) {
				newer, older = older, newer
			}
			out = append(out, core.MemoryConflict{
				Newer:      newer,
				Older:      older,
				Resolution: resolutionMostRecent,
			})
		}
	}
	return out
}

// detectInconsistencies cross-checks status-style queries: when the query
// names a document number and a live fact carries its status, any memory
// claiming a further-along status for that document is flagged.
func detectInconsistencies(query string, memories []core.ScoredMemory, facts []core.DomainFact) []core.FactInconsistency {
	if !containsAny(strings.ToLower(query), statusQueryTerms) {
		return nil
	}

	var out []core.FactInconsistency
	for _, number := range docNumberPattern.FindAllString(query, -1) {
		fact, ok := factForNumber(facts, number)
		if !ok {
			continue
		}
		status, _ := fact.Data["status"].(string)
		claims, ok := contradictedBy[strings.ToLower(status)]
		if !ok {
			continue
		}
		for _, sm := range memories {
			text := strings.ToLower(sm.Memory.Text)
			if !strings.Contains(text, strings.ToLower(number)) {
				continue
			}
			for _, claim := range claims {
				if strings.Contains(text, claim) {
					out = append(out, core.FactInconsistency{
						Reference:    number,
						FactStatus:   status,
						MemoryStatus: claim,
						MemoryID:     sm.Memory.ID,
						Resolution:   resolutionPreferDB,
					})
					break
				}
			}
		}
	}
	return out
}

func factForNumber(facts []core.DomainFact, number string) (core.DomainFact, bool) {
	for _, f := range facts {
		for _, key := range []string{"so_number", "invoice_number", "number"} {
			if v, ok := f.Data[key].(string); ok && strings.EqualFold(v, number) {
				return f, true
			}
		}
	}
	return core.DomainFact{}, false
}

// opposed reports whether the two texts split across any opposing term pair.
func opposed(a, b string) bool {
	la, lb := strings.ToLower(a), strings.ToLower(b)
	for _, pair := range opposingTerms {
		if strings.Contains(la, pair[0]) && strings.Contains(lb, pair[1]) {
			return true
		}
		if strings.Contains(la, pair[1]) && strings.Contains(lb, pair[0]) {
			return true
		}
	}
	return false
}

// sharedSubject requires both texts to open with the same proper-noun
// phrase, so preferences about different subjects never pair up. "Gai Media"
// and "Kai Media" are distinct subjects despite the shared word.
func sharedSubject(a, b string) bool {
	sa, sb := subjectPhrase(a), subjectPhrase(b)
	return sa != "" && sa == sb
}

// subjectPhrase returns the first run of consecutive capitalized words,
// lowercased.
func subjectPhrase(s string) string {
	var run []string
	for _, w := range strings.Fields(s) {
		w = strings.Trim(w, ".,!?;:'\"")
		if len(w) > 1 && w[0] >= 'A' && w[0] <= 'Z' {
			run = append(run, strings.ToLower(w))
			continue
		}
		if len(run) > 0 {
			break
		}
	}
	return strings.Join(run, " ")
}

func containsAny(text string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(text, t) {
			return true
		}
	}
	return false
}
