package survey

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Terminator closes a free-form segment.
const Terminator = "#"

var (
	digitsRe     = regexp.MustCompile(`\d+`)
	nonWordRe    = regexp.MustCompile(`[^\w+ ]+`)
	whitespaceRe = regexp.MustCompile(`\s+`)

	menuKeywords = []string{"menu", "menú", "0"}

	// Normalized spellings of "prefer not to answer".
	optOutSynonyms = []string{
		"prefiero no responder",
		"prefiero no contestar",
		"no respondo",
		"no contestar",
	}
)

// Digits returns the first run of ASCII digits in s, or "".
func Digits(s string) string {
	return digitsRe.FindString(s)
}

// Normalize folds case, strips diacritics, drops punctuation other than
// word characters, '+' and spaces, and collapses whitespace.
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)))
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	stripped = strings.ToLower(stripped)
	stripped = nonWordRe.ReplaceAllString(stripped, "")
	stripped = whitespaceRe.ReplaceAllString(stripped, " ")
	return strings.TrimSpace(stripped)
}

// PickOption resolves free input against a fixed option list: a number in
// [1, len(options)] first, then an opt-out synonym, then an exact
// normalized match.
func PickOption(input string, options []string) (string, bool) {
	if d := Digits(input); d != "" {
		if n, err := strconv.Atoi(d); err == nil && n >= 1 && n <= len(options) {
			return options[n-1], true
		}
	}

	in := Normalize(input)
	if in == "" || len(options) == 0 {
		return "", false
	}

	for _, syn := range optOutSynonyms {
		if in == syn {
			canonical := Normalize(PreferNotToAnswer)
			for _, o := range options {
				if Normalize(o) == canonical {
					return o, true
				}
			}
			return options[len(options)-1], true
		}
	}

	for _, o := range options {
		if Normalize(o) == in {
			return o, true
		}
	}
	return "", false
}

// PickNumber returns the leading number of input if it belongs to allowed.
func PickNumber(input string, allowed []int) (int, bool) {
	n, err := strconv.Atoi(Digits(input))
	if err != nil {
		return 0, false
	}
	for _, a := range allowed {
		if a == n {
			return n, true
		}
	}
	return 0, false
}

// IsMenuKeyword reports whether text asks to go back to the main menu.
func IsMenuKeyword(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	for _, k := range menuKeywords {
		if t == k {
			return true
		}
	}
	return false
}

// IsTerminator reports whether text closes the current segment.
func IsTerminator(text string) bool {
	return strings.TrimSpace(text) == Terminator
}
