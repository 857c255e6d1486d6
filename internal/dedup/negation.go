package dedup

import "strings"

// NegationDetector catches the common case the LLM verifier sometimes
// gets wrong under a temperature-0, single-word-answer prompt: a one-sided
// negation between two memories it just called DUPLICATE ("I drink
// coffee" / "I do not drink coffee"). Checker.Check runs this after the
// LLM, and downgrades a DUPLICATE verdict to VerdictDistinct when it
// fires, per spec.md §4.5's negation-gate requirement.
type NegationDetector struct {
	markers []string
}

func NewNegationDetector() *NegationDetector {
	return &NegationDetector{
		markers: []string{
			"no longer", "not anymore", "used to", "stopped", "quit",
			"doesn't", "does not", "don't", "do not", "didn't", "did not",
			"never", "isn't", "is not", "wasn't", "was not", "can't", "cannot",
		},
	}
}

// Contradicts reports whether exactly one of newContent and
// existingContent carries a negation marker and the two share substantial
// word overlap, suggesting one negates the same fact rather than
// introducing an unrelated one.
func (n *NegationDetector) Contradicts(newContent, existingContent string) bool {
	lowerNew := strings.ToLower(newContent)
	lowerExisting := strings.ToLower(existingContent)

	hasMarkerNew := containsAny(lowerNew, n.markers)
	hasMarkerExisting := containsAny(lowerExisting, n.markers)
	if hasMarkerNew == hasMarkerExisting {
		// both negated or both affirmative: not a negation flip
		return false
	}

	return wordOverlap(lowerNew, lowerExisting) >= 0.4
}

func containsAny(text string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}

// wordOverlap returns the fraction of the smaller word set present in
// the larger, a cheap proxy for "these two sentences are about the same
// thing."
func wordOverlap(a, b string) float64 {
	setA := wordSet(a)
	setB := wordSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	small, large := setA, setB
	if len(large) < len(small) {
		small, large = large, small
	}

	shared := 0
	for w := range small {
		if _, ok := large[w]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(small))
}

func wordSet(text string) map[string]struct{} {
	words := strings.Fields(text)
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		w = strings.Trim(w, ".,!?;:\"'")
		if len(w) <= 3 {
			continue // skip short stopword-like tokens
		}
		set[w] = struct{}{}
	}
	return set
}
