// Package columnmapper resolves raw spreadsheet headers to canonical fields.
// Saved organization mappings always win; otherwise the closest synonym by
// Ratcliff/Obershelp ratio is suggested.
package columnmapper

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"

	seederrors "github.com/afrojet/seed/pkg/errors"
	"github.com/afrojet/seed/pkg/models"
	"github.com/afrojet/seed/pkg/normalizers"
	"github.com/afrojet/seed/pkg/similarity"
	"github.com/afrojet/seed/pkg/tracing"
)

const (
	// DefaultThreshold is the lowest confidence returned as a suggestion.
	DefaultThreshold = 20
	// SavedConfidence is reported for mappings an organization already confirmed.
	SavedConfidence = 100
)

type Store interface {
	Upsert(ctx context.Context, mapping *models.ColumnMapping) error
	Find(ctx context.Context, organizationID string, sourceType models.SourceType, columnRaw string) (*models.ColumnMapping, error)
	List(ctx context.Context, organizationID string, sourceType models.SourceType) ([]models.ColumnMapping, error)
}

// Suggestion is the proposed target of one raw header. Field is empty when
// nothing scored at or above the threshold.
type Suggestion struct {
	Raw        string `json:"raw"`
	Field      string `json:"field"`
	Confidence int    `json:"confidence"`
	Saved      bool   `json:"saved"`
}

// Pair is one confirmed mapping. More than one raw column means the values
// are concatenated in order.
type Pair struct {
	Raw   []string `json:"raw" validate:"required,min=1,dive,required"`
	Field string   `json:"field" validate:"required"`
}

type Mapper struct {
	store     Store
	logger    ectologger.Logger
	threshold int
	fields    []models.CanonicalField
}

func NewMapper(store Store, logger ectologger.Logger) *Mapper {
	return &Mapper{
		store:     store,
		logger:    logger,
		threshold: DefaultThreshold,
		fields:    models.CanonicalFields,
	}
}

// WithThreshold overrides the minimum suggestion confidence.
func (m *Mapper) WithThreshold(threshold int) *Mapper {
	m.threshold = threshold
	return m
}

// Suggest proposes a canonical field for every header, in header order.
func (m *Mapper) Suggest(ctx context.Context, organizationID string, sourceType models.SourceType, headers []string) ([]Suggestion, error) {
	ctx, span := tracing.StartSpan(ctx, "columnmapper.Mapper.Suggest")
	defer span.End()

	saved, err := m.store.List(ctx, organizationID, sourceType)
	if err != nil {
		return nil, err
	}
	byRaw := make(map[string]string, len(saved))
	for _, mapping := range saved {
		byRaw[mapping.ColumnRaw] = mapping.ColumnMapped
	}

	suggestions := make([]Suggestion, 0, len(headers))
	for _, header := range headers {
		if field, ok := byRaw[header]; ok {
			suggestions = append(suggestions, Suggestion{Raw: header, Field: field, Confidence: SavedConfidence, Saved: true})
			continue
		}
		field, confidence := m.Best(header)
		suggestions = append(suggestions, Suggestion{Raw: header, Field: field, Confidence: confidence})
	}

	m.logger.WithContext(ctx).WithFields(map[string]any{
		"organization_id": organizationID,
		"headers":         len(headers),
		"saved":           len(ectolinq.Filter(suggestions, func(s Suggestion) bool { return s.Saved })),
	}).Debug("Suggested column mappings")

	return suggestions, nil
}

// Best scores header against every synonym of every canonical field. Ties go
// to the field listed first. Scores under the threshold yield an empty field
// while still reporting the score.
func (m *Mapper) Best(header string) (string, int) {
	raw := normalizers.Header(header)

	best, bestScore := "", -1
	for _, field := range m.fields {
		for _, synonym := range field.SynonymsOf() {
			if score := similarity.Percent(raw, synonym); score > bestScore {
				best, bestScore = field.Name, score
			}
		}
	}

	if bestScore < m.threshold {
		return "", max(bestScore, 0)
	}
	return best, bestScore
}

// Save persists confirmed mappings. Re-saving a key updates it in place.
func (m *Mapper) Save(ctx context.Context, organizationID, userID string, sourceType models.SourceType, pairs []Pair) ([]models.ColumnMapping, error) {
	ctx, span := tracing.StartSpan(ctx, "columnmapper.Mapper.Save")
	defer span.End()

	saved := make([]models.ColumnMapping, 0, len(pairs))
	for _, pair := range pairs {
		if !models.IsCanonicalField(pair.Field) {
			return saved, seederrors.NewValidationError("field", pair.Field, fmt.Sprintf("%q is not a mappable column", pair.Field))
		}
		if len(pair.Raw) == 0 {
			return saved, seederrors.NewValidationError("raw", pair.Raw, "at least one raw column is required")
		}

		mapping := &models.ColumnMapping{
			OrganizationID: organizationID,
			SourceType:     sourceType,
			ColumnRaw:      models.RawColumnsRepr(pair.Raw),
			ColumnMapped:   pair.Field,
			UserID:         userID,
		}
		if err := m.store.Upsert(ctx, mapping); err != nil {
			return saved, err
		}
		saved = append(saved, *mapping)
	}

	m.logger.WithContext(ctx).WithFields(map[string]any{
		"organization_id": organizationID,
		"user_id":         userID,
		"mappings":        len(saved),
	}).Info("Saved column mappings")

	return saved, nil
}

// GetColumnMapping returns the saved target of a raw column with full confidence.
func (m *Mapper) GetColumnMapping(ctx context.Context, organizationID string, sourceType models.SourceType, raw []string) (string, int, error) {
	ctx, span := tracing.StartSpan(ctx, "columnmapper.Mapper.GetColumnMapping")
	defer span.End()

	mapping, err := m.store.Find(ctx, organizationID, sourceType, models.RawColumnsRepr(raw))
	if err != nil {
		return "", 0, err
	}
	return mapping.ColumnMapped, SavedConfidence, nil
}

// GetColumnMappings returns every saved mapping as raw repr -> canonical field.
func (m *Mapper) GetColumnMappings(ctx context.Context, organizationID string, sourceType models.SourceType) (map[string]string, error) {
	ctx, span := tracing.StartSpan(ctx, "columnmapper.Mapper.GetColumnMappings")
	defer span.End()

	saved, err := m.store.List(ctx, organizationID, sourceType)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(saved))
	for _, mapping := range saved {
		out[mapping.ColumnRaw] = mapping.ColumnMapped
	}
	return out, nil
}

// Resolve inverts the saved mappings into canonical field -> ordered raw
// columns, the form the mapping executor consumes. When two raw columns
// target the same field the first in column_raw order is kept.
func (m *Mapper) Resolve(ctx context.Context, organizationID string, sourceType models.SourceType) (map[string][]string, error) {
	ctx, span := tracing.StartSpan(ctx, "columnmapper.Mapper.Resolve")
	defer span.End()

	saved, err := m.store.List(ctx, organizationID, sourceType)
	if err != nil {
		return nil, err
	}

	resolved := make(map[string][]string, len(saved))
	for _, mapping := range saved {
		if _, taken := resolved[mapping.ColumnMapped]; taken {
			m.logger.WithContext(ctx).WithFields(map[string]any{
				"field":      mapping.ColumnMapped,
				"column_raw": mapping.ColumnRaw,
			}).Warn("Ignoring duplicate mapping for field")
			continue
		}
		resolved[mapping.ColumnMapped] = mapping.RawColumns()
	}
	return resolved, nil
}
