// Package normalizer reduces raw article text to the canonical token string
// used for embedding and clustering.
package normalizer

import (
	"regexp"
	"strings"
)

var (
	// urlPattern removes links and anything attached to them up to the next
	// whitespace. Case-insensitive so that "HTTPS://" never survives lowering.
	urlPattern = regexp.MustCompile(`(?i)http\S+`)

	// nonAlpha collapses digits, punctuation and non-ASCII letters.
	nonAlpha = regexp.MustCompile(`[^A-Za-z]+`)
)

// Normalize cleans raw text: links are removed, everything but ASCII letters
// becomes whitespace, stop-words are dropped and the result is lower-cased
// and single-spaced. The result is empty when nothing meaningful remains.
//
// Normalize is idempotent.
func Normalize(raw string) string {
	if raw == "" {
		return ""
	}

	text := urlPattern.ReplaceAllString(raw, "")
	text = nonAlpha.ReplaceAllString(text, " ")

	tokens := strings.Fields(text)
	kept := tokens[:0]
	for _, tok := range tokens {
		tok = strings.ToLower(tok)
		if IsStopWord(tok) {
			continue
		}
		kept = append(kept, tok)
	}

	return strings.TrimSpace(strings.Join(kept, " "))
}

// NormalizeAny normalizes v when it is a string and returns "" otherwise.
// Decoded JSON values (null, numbers, objects) therefore never fail.
func NormalizeAny(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return Normalize(s)
}
