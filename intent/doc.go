// Package intent tags each utterance with a business intent and turns that
// tag into memory writes.
//
// The Classifier asks the language model for a JSON verdict and falls back to
// deterministic keyword rules when the model is unavailable or returns
// garbage, so a turn never fails on classification. An explicit remember
// directive ("remember that ...") overrides whatever the surface form looks
// like. The Writer applies the retention policy per label: actions become
// episodic memories with a TTL, preferences become permanent semantic
// memories, questions and small talk write nothing. Memory text is
// normalized before embedding so near-identical phrasings consolidate well.
package intent
