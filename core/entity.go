package core

import "time"

// EntityType categorizes what an extracted mention refers to.
type EntityType string

// Recognized entity types. Topic is the catch-all for conversational
// subjects that have no domain-store counterpart.
const (
	EntityCustomer EntityType = "customer"
	EntityOrder    EntityType = "order"
	EntityInvoice  EntityType = "invoice"
	EntityPerson   EntityType = "person"
	EntityTask     EntityType = "task"
	EntityTopic    EntityType = "topic"
)

// EntitySource records where an entity's identity was established: extracted
// from message text only, or resolved against the domain store.
type EntitySource string

const (
	SourceMessage EntitySource = "message"
	SourceDB      EntitySource = "db"
)

// ExternalRef is an opaque pointer into the domain fact store: a table name
// plus a record id. A zero ExternalRef means the entity is unlinked.
type ExternalRef struct {
	Table string `json:"table,omitempty"`
	ID    string `json:"id,omitempty"`
}

// IsZero reports whether the reference points at nothing.
func (r ExternalRef) IsZero() bool { return r.Table == "" && r.ID == "" }

// Entity is an extracted, optionally domain-linked mention scoped to a
// session. Entities are never mutated; a resolution after disambiguation
// supersedes the row with a new one carrying the updated link.
type Entity struct {
	ID          string       `json:"id"`
	SessionID   string       `json:"session_id"`
	Name        string       `json:"name"`
	Type        EntityType   `json:"type"`
	Source      EntitySource `json:"source"`
	ExternalRef ExternalRef  `json:"external_ref,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// NewEntity creates an unlinked, message-sourced entity.
func NewEntity(sessionID, name string, typ EntityType) Entity {
	return Entity{
		ID:        NewID(),
		SessionID: sessionID,
		Name:      name,
		Type:      typ,
		Source:    SourceMessage,
		CreatedAt: time.Now().UTC(),
	}
}

// Resolved returns a copy of e linked to ref with Source flipped to db.
// The copy carries a fresh id so the original row stays untouched.
func (e Entity) Resolved(ref ExternalRef) Entity {
	e.ID = NewID()
	e.Source = SourceDB
	e.ExternalRef = ref
	e.CreatedAt = time.Now().UTC()
	return e
}

// ScoredLink is one candidate resolution for a mention: a reference into the
// domain store (or a known entity) with a confidence score in [0,1].
type ScoredLink struct {
	Name       string      `json:"name"`
	Type       EntityType  `json:"type"`
	Ref        ExternalRef `json:"ref"`
	Confidence float64     `json:"confidence"`
}

// CandidateMention is the extraction engine's output for one span of text: a
// surface form, a guessed type and zero or more scored links, ordered by
// descending confidence.
type CandidateMention struct {
	SurfaceText string       `json:"surface_text"`
	Type        EntityType   `json:"type"`
	Links       []ScoredLink `json:"links,omitempty"`
	Ambiguous   bool         `json:"ambiguous"`
}

// Best returns the top-scored link, or false when the mention has none.
func (m CandidateMention) Best() (ScoredLink, bool) {
	if len(m.Links) == 0 {
		return ScoredLink{}, false
	}
	return m.Links[0], true
}
