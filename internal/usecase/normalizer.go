package usecase

import (
	"regexp"
	"strings"
)

// Package-level compiled regex patterns for performance
var (
	// Keep letters, digits, whitespace, '.' (decimals) and '%' (ABV); everything
	// else becomes a space.
	punctuationRegex = regexp.MustCompile(`[^\p{L}\p{N}\s.%]`)

	multipleSpacesRegex = regexp.MustCompile(`\s+`)

	// OCR reads a trailing lowercase L as the digit 1 ("coo1" for "cool").
	// Only fires on tokens with at least two letters before the 1.
	trailingOneRegex = regexp.MustCompile(`\b([a-zA-Z]{2,})1\b`)

	// A zero between two letters is an OCR confusable for the letter o
	// ("c0la"). Zeros next to digits are real digits and must survive for
	// the field extractor ("330ml").
	zeroConfusableRegex = regexp.MustCompile(`(\p{L})0(\p{L})`)
)

// confusableReplacer transliterates characters OCR commonly confuses or that
// Nordic labels carry. The table is deliberately explicit so it can be audited
// and extended.
var confusableReplacer = strings.NewReplacer(
	"æ", "ae",
	"ø", "o",
	"å", "a",
	"é", "e",
	"è", "e",
	"ü", "u",
	"|", "l",
)

// promotionalStopPhrases are marketing phrases that add noise to label text.
// Longer phrases are listed first so they are removed before their substrings.
var promotionalStopPhrases = []string{
	"limited edition",
	"new recipe",
	"new look",
	"since 1886",
	"now even better",
	"great taste",
	"new",
}

var stopPhraseRegexes = compileStopPhrases(promotionalStopPhrases)

func compileStopPhrases(phrases []string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(phrases))
	for _, phrase := range phrases {
		compiled = append(compiled, regexp.MustCompile(`\b`+regexp.QuoteMeta(phrase)+`\b`))
	}
	return compiled
}

// NormalizeText canonicalizes a raw string for comparison: lowercase,
// confusable transliteration, punctuation stripping, promotional stop-phrase
// removal, trailing-1 repair, whitespace collapse. Deterministic and
// idempotent: NormalizeText(NormalizeText(s)) == NormalizeText(s).
func NormalizeText(s string) string {
	value := strings.ToLower(strings.TrimSpace(s))
	value = confusableReplacer.Replace(value)
	value = replaceZeroConfusables(value)
	value = punctuationRegex.ReplaceAllString(value, " ")
	value = multipleSpacesRegex.ReplaceAllString(value, " ")
	value = strings.TrimSpace(value)
	value = removeStopPhrases(value)
	value = trailingOneRegex.ReplaceAllString(value, "${1}l")
	value = multipleSpacesRegex.ReplaceAllString(value, " ")
	return strings.TrimSpace(value)
}

// removeStopPhrases strips promotional phrases until stable. Removing one
// occurrence can splice its neighbors into a fresh occurrence ("limited
// limited edition edition"), so the stage loops like replaceZeroConfusables;
// spaces are collapsed between passes so the word boundaries line up again.
// Every productive pass strictly shortens the string, so the loop terminates.
func removeStopPhrases(s string) string {
	for {
		result := s
		for _, re := range stopPhraseRegexes {
			result = re.ReplaceAllString(result, " ")
		}
		result = strings.TrimSpace(multipleSpacesRegex.ReplaceAllString(result, " "))
		if result == s {
			return result
		}
		s = result
	}
}

// replaceZeroConfusables rewrites letter-0-letter runs until stable. The loop
// handles overlapping matches ("c0l0r"); it terminates because every pass
// strictly reduces the number of zeros.
func replaceZeroConfusables(s string) string {
	for {
		replaced := zeroConfusableRegex.ReplaceAllString(s, "${1}o${2}")
		if replaced == s {
			return replaced
		}
		s = replaced
	}
}

// Tokenize normalizes then splits on spaces, discarding tokens of length <= 1.
func Tokenize(s string) []string {
	normalized := NormalizeText(s)
	if normalized == "" {
		return nil
	}
	var tokens []string
	for _, token := range strings.Split(normalized, " ") {
		if len(token) <= 1 {
			continue
		}
		tokens = append(tokens, token)
	}
	return tokens
}

// tokenSet builds a membership set from already-normalized text.
func tokenSet(tokens []string) map[string]bool {
	set := make(map[string]bool, len(tokens))
	for _, token := range tokens {
		set[token] = true
	}
	return set
}
