// Package normalizers rewrites field values and column headers before they
// are compared.
package normalizers

import (
	"regexp"
	"strings"
	"unicode"
)

// Normalizer rewrites one value. Normalizers are referenced by name from
// match rule configuration.
type Normalizer func(string) string

var registry = map[string]Normalizer{
	"lowercase":           strings.ToLower,
	"trim":                strings.TrimSpace,
	"collapse_whitespace": CollapseWhitespace,
	"remove_punctuation":  RemovePunctuation,
	"alphanumeric":        Alphanumeric,
	"digits_only":         DigitsOnly,
	"naddress":            NormalizeAddress,
}

func Get(name string) (Normalizer, bool) {
	fn, ok := registry[name]
	return fn, ok
}

// ApplyChain runs the named normalizers left to right. Unknown names are
// skipped; rule validation rejects them before a run starts.
func ApplyChain(value string, names ...string) string {
	for _, name := range names {
		if fn, ok := registry[name]; ok {
			value = fn(value)
		}
	}
	return value
}

// Identifier is the default chain for identifying fields: case, punctuation
// and spacing differences never distinguish two buildings.
func Identifier(s string) string {
	return ApplyChain(s, "lowercase", "remove_punctuation", "collapse_whitespace", "trim")
}

// Header normalizes a spreadsheet column header before fuzzy comparison.
func Header(s string) string {
	return ApplyChain(s, "lowercase", "collapse_whitespace", "trim")
}

var spaceRe = regexp.MustCompile(`\s+`)

func CollapseWhitespace(s string) string {
	return spaceRe.ReplaceAllString(s, " ")
}

func keep(s string, pred func(rune) bool) string {
	return strings.Map(func(r rune) rune {
		if pred(r) {
			return r
		}
		return -1
	}, s)
}

func RemovePunctuation(s string) string {
	return keep(s, func(r rune) bool { return !unicode.IsPunct(r) })
}

func DigitsOnly(s string) string {
	return keep(s, unicode.IsDigit)
}

func Alphanumeric(s string) string {
	return keep(s, func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) })
}

// addressAbbreviations is applied word by word, so "northwest" is left alone.
var addressAbbreviations = map[string]string{
	"street":    "st",
	"avenue":    "ave",
	"boulevard": "blvd",
	"drive":     "dr",
	"road":      "rd",
	"lane":      "ln",
	"court":     "ct",
	"circle":    "cir",
	"place":     "pl",
	"apartment": "apt",
	"suite":     "ste",
	"north":     "n",
	"south":     "s",
	"east":      "e",
	"west":      "w",
}

// NormalizeAddress lowercases an address, strips punctuation and abbreviates
// common street words.
func NormalizeAddress(s string) string {
	words := strings.Fields(strings.ToLower(RemovePunctuation(s)))
	for i, w := range words {
		if abbr, ok := addressAbbreviations[w]; ok {
			words[i] = abbr
		}
	}
	return strings.Join(words, " ")
}
