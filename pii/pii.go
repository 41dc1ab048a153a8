// Package pii masks phone numbers in utterance text before it reaches the
// memory pipeline.
//
// Only phone numbers are handled; the filter records why a number appeared
// (urgent escalation, contact request, reminder) so the masked memory keeps
// its meaning without retaining the number itself.
package pii

import (
	"regexp"
	"sort"
	"strings"
)

const phoneMask = "***-***-****"

var phonePattern = regexp.MustCompile(`\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`)

// purposeKeywords map a detected purpose to its trigger words, checked in a
// fixed order so the extracted purpose is deterministic.
var purposeOrder = []string{"urgent", "contact", "reminder"}

var purposeKeywords = map[string][]string{
	"urgent":   {"urgent", "emergency", "alert", "critical"},
	"contact":  {"contact", "call", "reach", "notify"},
	"reminder": {"reminder", "remind"},
}

// Match is one detected PII span.
type Match struct {
	Original string `json:"original"`
	Masked   string `json:"masked"`
	Type     string `json:"type"`
	Purpose  string `json:"purpose,omitempty"`
}

// Detect returns the phone numbers found in text, each annotated with the
// purpose inferred from the surrounding sentence.
func Detect(text string) []Match {
	numbers := phonePattern.FindAllString(text, -1)
	if len(numbers) == 0 {
		return nil
	}
	purpose := extractPurpose(text)
	matches := make([]Match, 0, len(numbers))
	for _, n := range numbers {
		matches = append(matches, Match{
			Original: n,
			Masked:   phoneMask,
			Type:     "phone",
			Purpose:  purpose,
		})
	}
	return matches
}

// Mask replaces every matched span in text with its mask.
func Mask(text string, matches []Match) string {
	for _, m := range matches {
		text = strings.ReplaceAll(text, m.Original, m.Masked)
	}
	return text
}

// MaskedMemoryText renders the memory-safe form of text: spans masked, with
// the detected purposes appended so the memory stays useful.
func MaskedMemoryText(text string, matches []Match) string {
	if len(matches) == 0 {
		return text
	}
	masked := Mask(text, matches)

	seen := map[string]bool{}
	var purposes []string
	for _, m := range matches {
		if m.Purpose != "" && !seen[m.Purpose] {
			seen[m.Purpose] = true
			purposes = append(purposes, m.Purpose)
		}
	}
	if len(purposes) == 0 {
		return masked
	}
	sort.Strings(purposes)
	return masked + " (for " + strings.Join(purposes, ", ") + ")"
}

// Filter is the one-call form used by the pipeline: detect and mask in a
// single pass, returning the safe text and what was found.
func Filter(text string) (string, []Match) {
	matches := Detect(text)
	return MaskedMemoryText(text, matches), matches
}

func extractPurpose(text string) string {
	lower := strings.ToLower(text)
	for _, purpose := range purposeOrder {
		for _, kw := range purposeKeywords[purpose] {
			if strings.Contains(lower, kw) {
				return purpose
			}
		}
	}
	return ""
}
