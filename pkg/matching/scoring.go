package matching

import (
	"fmt"

	"github.com/afrojet/seed/pkg/models"
	"github.com/afrojet/seed/pkg/normalizers"
	"github.com/afrojet/seed/pkg/similarity"
)

// identifierChain is the chain behind normalizers.Identifier.
var identifierChain = []string{"lowercase", "remove_punctuation", "collapse_whitespace", "trim"}

// FieldRule scores one identifying field.
type FieldRule struct {
	Field       string   `koanf:"field" json:"field" validate:"required"`
	Comparator  string   `koanf:"comparator" json:"comparator" validate:"required,oneof=exact ratio jaro_winkler"`
	Normalizers []string `koanf:"normalizers" json:"normalizers"`
	Weight      float64  `koanf:"weight" json:"weight" validate:"gt=0"`
}

// Config contains configuration for the match engine
type Config struct {
	AutoMergeThreshold float64     // Score at or above which to auto-merge (default: 1.0)
	PossibleMatchFloor float64     // Score a possible match must exceed (default: 0.4)
	Rules              []FieldRule // Identifying fields compared between snapshots
}

// DefaultRules compares identifiers exactly and address/name fuzzily at half weight.
func DefaultRules() []FieldRule {
	return []FieldRule{
		{Field: models.FieldPMPropertyID, Comparator: similarity.ComparatorExact, Normalizers: identifierChain, Weight: 1.0},
		{Field: models.FieldTaxLotID, Comparator: similarity.ComparatorExact, Normalizers: identifierChain, Weight: 1.0},
		{Field: models.FieldCustomID1, Comparator: similarity.ComparatorExact, Normalizers: identifierChain, Weight: 1.0},
		{Field: models.FieldAddressLine1, Comparator: similarity.ComparatorRatio, Normalizers: []string{"naddress"}, Weight: 0.5},
		{Field: models.FieldPropertyName, Comparator: similarity.ComparatorRatio, Normalizers: identifierChain, Weight: 0.5},
	}
}

// DefaultConfig returns default engine configuration
func DefaultConfig() Config {
	return Config{
		AutoMergeThreshold: 1.0,
		PossibleMatchFloor: 0.4,
		Rules:              DefaultRules(),
	}
}

type compiledRule struct {
	FieldRule
	compare similarity.Comparator
}

// Scorer computes the weighted similarity of two snapshots over the
// identifying fields present on both sides.
type Scorer struct {
	rules   []compiledRule
	weights map[string]float64
}

func NewScorer(rules []FieldRule) (*Scorer, error) {
	if len(rules) == 0 {
		return nil, fmt.Errorf("scorer requires at least one field rule")
	}

	s := &Scorer{weights: make(map[string]float64, len(rules))}
	for _, r := range rules {
		if !models.IsCanonicalField(r.Field) {
			return nil, fmt.Errorf("rule field %q is not a canonical field", r.Field)
		}
		compare, ok := similarity.Get(r.Comparator)
		if !ok {
			return nil, fmt.Errorf("unknown comparator %q for field %s", r.Comparator, r.Field)
		}
		for _, n := range r.Normalizers {
			if _, ok := normalizers.Get(n); !ok {
				return nil, fmt.Errorf("unknown normalizer %q for field %s", n, r.Field)
			}
		}
		if r.Weight <= 0 {
			return nil, fmt.Errorf("rule weight for field %s must be positive", r.Field)
		}
		s.rules = append(s.rules, compiledRule{FieldRule: r, compare: compare})
		s.weights[r.Field] = r.Weight
	}
	return s, nil
}

// Values holds the normalized identifying values of one snapshot.
type Values map[string]string

// Normalize extracts the identifying values of s. Fields that normalize to
// the empty string are treated as missing.
func (s *Scorer) Normalize(snapshot *models.Snapshot) Values {
	values := make(Values, len(s.rules))
	for _, r := range s.rules {
		raw, ok := snapshot.Value(r.Field)
		if !ok {
			continue
		}
		if v := normalizers.ApplyChain(raw, r.Normalizers...); v != "" {
			values[r.Field] = v
		}
	}
	return values
}

// Compare returns the weighted mean over fields both sides carry and how
// many fields were compared. Nothing in common scores 0.
func (s *Scorer) Compare(a, b Values) (float64, int) {
	scores := make(map[string]float64, len(s.rules))
	for _, r := range s.rules {
		av, aok := a[r.Field]
		bv, bok := b[r.Field]
		if !aok || !bok {
			continue
		}
		scores[r.Field] = r.compare(av, bv)
	}
	return similarity.WeightedScore(scores, s.weights), len(scores)
}

// Score normalizes and compares two snapshots.
func (s *Scorer) Score(a, b *models.Snapshot) (float64, int) {
	return s.Compare(s.Normalize(a), s.Normalize(b))
}
