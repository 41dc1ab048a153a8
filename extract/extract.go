// Package extract turns raw utterance text into candidate entity mentions
// and links them against known session entities and domain records.
//
// Links come from three signals: exact matches against customer names,
// document numbers and known entities (confidence 1.0), token-overlap fuzzy
// matches (0.8), and embedding similarity between a mention span and
// candidate names when an embedder is configured. Thresholds decide the
// outcome per mention: zero surviving links records a new message-sourced
// entity, a single strong link auto-resolves, and close or middling scores
// mark the mention ambiguous for the disambiguation engine.
package extract

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"strings"

	"github.com/memfuse/memfuse/config"
	"github.com/memfuse/memfuse/core"
	"github.com/memfuse/memfuse/domainfact"
	"github.com/memfuse/memfuse/logging"
	"github.com/memfuse/memfuse/provider"
	"github.com/memfuse/memfuse/store"
)

var (
	orderPattern     = regexp.MustCompile(`(?i)\bSO-\d{3,}\b`)
	invoicePattern   = regexp.MustCompile(`(?i)\bINV-\d{3,}\b`)
	workOrderPattern = regexp.MustCompile(`(?i)\bWO-\d{1,}\b`)
	// Two or more capitalized words in a row, e.g. "Gai Media".
	properNamePattern = regexp.MustCompile(`\b[A-Z][a-zA-Z]+(?: [A-Z][a-zA-Z]+)+\b`)
)

const (
	fuzzyConfidence  = 0.8
	prefixConfidence = 0.6
)

// Options configure the extraction engine.
type Options struct {
	Thresholds config.ExtractionConfig
	Embedder   provider.Embedder // nil disables the similarity signal
	Logger     logging.Logger
}

// Engine extracts and links entity mentions.
type Engine struct {
	facts  domainfact.Store
	store  store.Store
	embed  provider.Embedder
	cfg    config.ExtractionConfig
	logger logging.Logger
}

// New creates an extraction engine over the given domain store and memory
// store. A nil domain store disables linking; mentions are still produced,
// just without candidate links.
func New(facts domainfact.Store, st store.Store, optFns ...func(o *Options)) *Engine {
	opts := Options{
		Thresholds: config.ExtractionConfig{
			AcceptThreshold:   0.75,
			ConsiderThreshold: 0.40,
			ClosenessMargin:   0.05,
		},
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Engine{
		facts:  facts,
		store:  st,
		embed:  opts.Embedder,
		cfg:    opts.Thresholds,
		logger: opts.Logger,
	}
}

// Extract returns the candidate mentions found in text, each with its scored
// links ordered by descending confidence and its ambiguity flag set per the
// configured thresholds.
func (e *Engine) Extract(ctx context.Context, text, sessionID string) ([]core.CandidateMention, error) {
	var mentions []core.CandidateMention
	claimed := map[string]bool{} // lowercased surfaces already mentioned

	docMentions, err := e.documentMentions(ctx, text)
	if err != nil {
		return nil, err
	}
	for _, m := range docMentions {
		claimed[strings.ToLower(m.SurfaceText)] = true
	}
	mentions = append(mentions, docMentions...)

	customerMentions, err := e.customerMentions(ctx, text, claimed)
	if err != nil {
		return nil, err
	}
	mentions = append(mentions, customerMentions...)

	nameMentions, err := e.properNameMentions(ctx, text, sessionID, claimed)
	if err != nil {
		return nil, err
	}
	mentions = append(mentions, nameMentions...)

	for i := range mentions {
		e.finalize(&mentions[i])
	}
	e.logger.Debug("extracted mentions", "count", len(mentions), "session_id", sessionID)
	return mentions, nil
}

// documentMentions matches SO/INV/WO document numbers and resolves them
// against the domain store. Unknown numbers still produce an unlinked
// mention so the conversation records what was referenced.
func (e *Engine) documentMentions(ctx context.Context, text string) ([]core.CandidateMention, error) {
	var mentions []core.CandidateMention
	seen := map[string]bool{}

	for _, match := range orderPattern.FindAllString(text, -1) {
		number := strings.ToUpper(match)
		if seen[number] {
			continue
		}
		seen[number] = true
		m := core.CandidateMention{SurfaceText: number, Type: core.EntityOrder}
		if e.facts != nil {
			rec, err := e.facts.FindOrderByNumber(ctx, number)
			if err == nil {
				m.Links = []core.ScoredLink{{Name: rec.Label, Type: core.EntityOrder, Ref: rec.Ref(), Confidence: 1.0}}
			} else if !isNotFound(err) {
				return nil, err
			}
		}
		mentions = append(mentions, m)
	}

	for _, match := range invoicePattern.FindAllString(text, -1) {
		number := strings.ToUpper(match)
		if seen[number] {
			continue
		}
		seen[number] = true
		m := core.CandidateMention{SurfaceText: number, Type: core.EntityInvoice}
		if e.facts != nil {
			rec, err := e.facts.FindInvoiceByNumber(ctx, number)
			if err == nil {
				m.Links = []core.ScoredLink{{Name: rec.Label, Type: core.EntityInvoice, Ref: rec.Ref(), Confidence: 1.0}}
			} else if !isNotFound(err) {
				return nil, err
			}
		}
		mentions = append(mentions, m)
	}

	// Work orders carry no user-facing number in the domain schema, so a
	// WO reference stays an unlinked mention.
	for _, match := range workOrderPattern.FindAllString(text, -1) {
		number := strings.ToUpper(match)
		if seen[number] {
			continue
		}
		seen[number] = true
		mentions = append(mentions, core.CandidateMention{SurfaceText: number, Type: core.EntityOrder})
	}
	return mentions, nil
}

// customerMentions scans every customer name against the text. Full-name
// matches (exact or fuzzy) each become their own mention; a bare first-name
// token shared by several customers ("Kai" for "Kai Media" and "Kai Media
// Europe") becomes a single mention carrying one close-scored link per
// candidate, which the thresholds then mark ambiguous.
func (e *Engine) customerMentions(ctx context.Context, text string, claimed map[string]bool) ([]core.CandidateMention, error) {
	if e.facts == nil {
		return nil, nil
	}
	customers, err := e.facts.Customers(ctx)
	if err != nil {
		return nil, err
	}
	// Longest names first so "Kai Media Europe" claims its span before
	// "Kai Media" can.
	sort.SliceStable(customers, func(i, j int) bool {
		return len(customers[i].Label) > len(customers[j].Label)
	})
	lowerText := strings.ToLower(text)

	var mentions []core.CandidateMention
	matched := map[string]bool{} // customer ids with a full-name match
	for _, c := range customers {
		lowerName := strings.ToLower(c.Label)
		if claimed[lowerName] || coveredByClaim(lowerName, claimed) {
			continue
		}
		var confidence float64
		switch {
		case strings.Contains(lowerText, lowerName):
			confidence = 1.0
		case fuzzyMatch(c.Label, text):
			confidence = fuzzyConfidence
		default:
			continue
		}
		claimed[lowerName] = true
		matched[c.ID] = true
		mentions = append(mentions, core.CandidateMention{
			SurfaceText: c.Label,
			Type:        core.EntityCustomer,
			Links: []core.ScoredLink{{
				Name:       c.Label,
				Type:       core.EntityCustomer,
				Ref:        c.Ref(),
				Confidence: confidence,
			}},
		})
	}

	// Bare-prefix pass: a standalone token matching the first word of one or
	// more multi-word customer names.
	prefixLinks := map[string][]core.ScoredLink{}
	textTokens := tokenSet(text)
	for _, c := range customers {
		if matched[c.ID] {
			continue
		}
		words := strings.Fields(strings.ToLower(c.Label))
		if len(words) < 2 {
			continue
		}
		first := words[0]
		if !textTokens[first] || claimed[first] || coveredByClaim(first, claimed) {
			continue
		}
		prefixLinks[first] = append(prefixLinks[first], core.ScoredLink{
			Name:       c.Label,
			Type:       core.EntityCustomer,
			Ref:        c.Ref(),
			Confidence: prefixConfidence,
		})
	}
	for surface, links := range prefixLinks {
		claimed[surface] = true
		mentions = append(mentions, core.CandidateMention{
			SurfaceText: surface,
			Type:        core.EntityCustomer,
			Links:       links,
		})
	}
	return mentions, nil
}

// properNameMentions picks up capitalized multi-word spans not already
// claimed by a customer or document match and scores them against known
// session entities and customer names by embedding similarity.
func (e *Engine) properNameMentions(ctx context.Context, text, sessionID string, claimed map[string]bool) ([]core.CandidateMention, error) {
	spans := properNamePattern.FindAllString(text, -1)
	if len(spans) == 0 {
		return nil, nil
	}

	known, err := e.store.SessionEntities(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	var customers []domainfact.Record
	if e.facts != nil {
		customers, err = e.facts.Customers(ctx)
		if err != nil {
			return nil, err
		}
	}

	var mentions []core.CandidateMention
	for _, span := range spans {
		lower := strings.ToLower(span)
		if claimed[lower] || coveredByClaim(lower, claimed) {
			continue
		}
		claimed[lower] = true

		m := core.CandidateMention{SurfaceText: span, Type: core.EntityPerson}

		// Exact match against entities already established this session.
		for _, ent := range known {
			if strings.EqualFold(ent.Name, span) {
				m.Type = ent.Type
				if !ent.ExternalRef.IsZero() {
					m.Links = append(m.Links, core.ScoredLink{
						Name:       ent.Name,
						Type:       ent.Type,
						Ref:        ent.ExternalRef,
						Confidence: 1.0,
					})
				}
			}
		}

		if len(m.Links) == 0 && e.embed != nil {
			links, err := e.similarityLinks(ctx, span, customers)
			if err != nil {
				// Embedding failure degrades to an unlinked mention.
				e.logger.Warn("similarity linking failed", "span", span, "error", err)
			} else if len(links) > 0 {
				m.Type = core.EntityCustomer
				m.Links = links
			}
		}
		mentions = append(mentions, m)
	}
	return mentions, nil
}

// similarityLinks scores a span against customer names by embedding cosine.
func (e *Engine) similarityLinks(ctx context.Context, span string, customers []domainfact.Record) ([]core.ScoredLink, error) {
	spanVec, err := e.embed.Embed(ctx, span)
	if err != nil {
		return nil, err
	}
	var links []core.ScoredLink
	for _, c := range customers {
		nameVec, err := e.embed.Embed(ctx, c.Label)
		if err != nil {
			return nil, err
		}
		sim := core.Cosine(spanVec, nameVec)
		if sim < e.cfg.ConsiderThreshold {
			continue
		}
		links = append(links, core.ScoredLink{
			Name:       c.Label,
			Type:       core.EntityCustomer,
			Ref:        c.Ref(),
			Confidence: sim,
		})
	}
	return links, nil
}

// finalize orders links, applies thresholds and sets the ambiguity flag.
func (e *Engine) finalize(m *core.CandidateMention) {
	kept := m.Links[:0]
	for _, l := range m.Links {
		if l.Confidence >= e.cfg.ConsiderThreshold {
			kept = append(kept, l)
		}
	}
	m.Links = kept
	sort.SliceStable(m.Links, func(i, j int) bool {
		return m.Links[i].Confidence > m.Links[j].Confidence
	})

	if len(m.Links) == 0 {
		m.Ambiguous = false
		return
	}
	top := m.Links[0].Confidence
	if len(m.Links) > 1 && top-m.Links[1].Confidence < e.cfg.ClosenessMargin {
		m.Ambiguous = true
		return
	}
	m.Ambiguous = top < e.cfg.AcceptThreshold
}

// fuzzyMatch reports whether at least 80% of the name's tokens appear in the
// text.
func fuzzyMatch(name, text string) bool {
	nameWords := strings.Fields(strings.ToLower(name))
	if len(nameWords) == 0 {
		return false
	}
	textWords := tokenSet(text)
	matched := 0
	for _, w := range nameWords {
		if textWords[w] {
			matched++
		}
	}
	return float64(matched)/float64(len(nameWords)) >= 0.8
}

func tokenSet(text string) map[string]bool {
	tokens := map[string]bool{}
	for _, w := range strings.Fields(strings.ToLower(text)) {
		tokens[strings.Trim(w, ".,!?;:'\"")] = true
	}
	return tokens
}

// coveredByClaim reports whether the span overlaps an already claimed
// surface in either direction: "Kai Media" inside "Kai Media Europe", or a
// wider capitalized span around a claimed customer name.
func coveredByClaim(lower string, claimed map[string]bool) bool {
	for surface := range claimed {
		if strings.Contains(surface, lower) || strings.Contains(lower, surface) {
			return true
		}
	}
	return false
}

func isNotFound(err error) bool {
	return errors.Is(err, core.ErrNotFound)
}
