// Package similarity provides the string comparisons used to score building
// records and column headers.
package similarity

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// Comparator scores two normalized values between 0.0 and 1.0.
type Comparator func(a, b string) float64

const (
	ComparatorExact       = "exact"
	ComparatorRatio       = "ratio"
	ComparatorJaroWinkler = "jaro_winkler"
)

var comparators = map[string]Comparator{
	ComparatorExact:       Exact,
	ComparatorRatio:       Ratio,
	ComparatorJaroWinkler: JaroWinkler,
}

// Get returns a named comparator.
func Get(name string) (Comparator, bool) {
	c, ok := comparators[name]
	return c, ok
}

// Exact returns 1.0 for identical values, 0.0 otherwise
func Exact(a, b string) float64 {
	if a == b {
		return 1.0
	}
	return 0.0
}

// Ratio is the Ratcliff/Obershelp similarity over characters: twice the
// matched characters divided by the total length. Two empty strings score 1.0.
func Ratio(a, b string) float64 {
	m := difflib.NewMatcher(strings.Split(a, ""), strings.Split(b, ""))
	return m.Ratio()
}

// Percent is Ratio scaled to a rounded integer percentage.
func Percent(a, b string) int {
	return int(Ratio(a, b)*100 + 0.5)
}

// JaroWinkler calculates the Jaro-Winkler similarity between two strings
func JaroWinkler(a, b string) float64 {
	if a == b {
		return 1.0
	}

	jaro := Jaro(a, b)

	prefixLen := 0
	for i := 0; i < len(a) && i < len(b) && i < 4; i++ {
		if a[i] != b[i] {
			break
		}
		prefixLen++
	}

	return jaro + float64(prefixLen)*0.1*(1.0-jaro)
}

// Jaro calculates the Jaro similarity between two strings
func Jaro(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	matchDist := max(max(len(a), len(b))/2-1, 0)

	aMatches := make([]bool, len(a))
	bMatches := make([]bool, len(b))

	matches := 0
	for i := 0; i < len(a); i++ {
		start := max(0, i-matchDist)
		end := min(len(b), i+matchDist+1)
		for j := start; j < end; j++ {
			if bMatches[j] || a[i] != b[j] {
				continue
			}
			aMatches[i] = true
			bMatches[j] = true
			matches++
			break
		}
	}

	if matches == 0 {
		return 0.0
	}

	transpositions := 0
	k := 0
	for i := 0; i < len(a); i++ {
		if !aMatches[i] {
			continue
		}
		for !bMatches[k] {
			k++
		}
		if a[i] != b[k] {
			transpositions++
		}
		k++
	}

	m := float64(matches)
	t := float64(transpositions) / 2
	return (m/float64(len(a)) + m/float64(len(b)) + (m-t)/m) / 3
}

// WeightedScore is the weighted mean of the scores. Fields without a weight count once.
func WeightedScore(scores map[string]float64, weights map[string]float64) float64 {
	var totalWeight, weightedSum float64
	for field, score := range scores {
		weight := 1.0
		if w, ok := weights[field]; ok {
			weight = w
		}
		weightedSum += score * weight
		totalWeight += weight
	}

	if totalWeight == 0 {
		return 0.0
	}
	return weightedSum / totalWeight
}
