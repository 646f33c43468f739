package catalog

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/width"
)

var lower = cases.Lower(language.Und)

// NormalizeName folds full-width characters, lowercases and drops all
// whitespace, so "Ventus  S1" and "ＶＥＮＴＵＳ s1" compare equal.
func NormalizeName(name string) string {
	folded := lower.String(width.Fold.String(name))
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, folded)
}

// NormalizeSpecification keeps only ASCII digits: "225/45R18" -> "2254518".
func NormalizeSpecification(spec string) string {
	folded := width.Fold.String(spec)
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, folded)
}
