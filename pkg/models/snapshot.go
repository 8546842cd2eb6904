package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// SourceType records which pipeline stage produced a snapshot. Immutable once set.
type SourceType int

const (
	SourceTypeRawAssessed SourceType = iota
	SourceTypeRawPortfolio
	SourceTypeMappedAssessed
	SourceTypeMappedPortfolio
	SourceTypeComposite
)

var sourceTypeNames = map[SourceType]string{
	SourceTypeRawAssessed:     "RAW_ASSESSED",
	SourceTypeRawPortfolio:    "RAW_PORTFOLIO",
	SourceTypeMappedAssessed:  "MAPPED_ASSESSED",
	SourceTypeMappedPortfolio: "MAPPED_PORTFOLIO",
	SourceTypeComposite:       "COMPOSITE",
}

func (t SourceType) String() string {
	if name, ok := sourceTypeNames[t]; ok {
		return name
	}
	return "SOURCE_TYPE(" + strconv.Itoa(int(t)) + ")"
}

func (t SourceType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *SourceType) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseSourceType(name)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func ParseSourceType(name string) (SourceType, error) {
	for t, n := range sourceTypeNames {
		if n == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown source type %q", name)
}

func (t SourceType) IsRaw() bool {
	return t == SourceTypeRawAssessed || t == SourceTypeRawPortfolio
}

func (t SourceType) IsMapped() bool {
	return t == SourceTypeMappedAssessed || t == SourceTypeMappedPortfolio
}

// Mapped returns the mapped counterpart of a raw source type.
func (t SourceType) Mapped() SourceType {
	switch t {
	case SourceTypeRawAssessed:
		return SourceTypeMappedAssessed
	case SourceTypeRawPortfolio:
		return SourceTypeMappedPortfolio
	default:
		return t
	}
}

type MatchType int

const (
	MatchTypeUnknown MatchType = iota
	MatchTypeSystemMatch
	MatchTypePossibleMatch
	MatchTypeUserMatch
)

var matchTypeNames = map[MatchType]string{
	MatchTypeUnknown:       "UNKNOWN",
	MatchTypeSystemMatch:   "SYSTEM_MATCH",
	MatchTypePossibleMatch: "POSSIBLE_MATCH",
	MatchTypeUserMatch:     "USER_MATCH",
}

func (m MatchType) String() string {
	if name, ok := matchTypeNames[m]; ok {
		return name
	}
	return "MATCH_TYPE(" + strconv.Itoa(int(m)) + ")"
}

func (m MatchType) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON reads unknown names as MatchTypeUnknown.
func (m *MatchType) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	*m = MatchTypeUnknown
	for t, n := range matchTypeNames {
		if n == name {
			*m = t
		}
	}
	return nil
}

// Snapshot is one version of a building's attributes. Source pointers are
// plain ids of the snapshot that contributed each value; they never own it.
type Snapshot struct {
	ID                  uuid.UUID            `json:"id"`
	OrganizationID      string               `json:"organization_id"`
	ImportFileID        *uuid.UUID           `json:"import_file_id,omitempty"`
	SourceType          SourceType           `json:"source_type"`
	MatchType           MatchType            `json:"match_type"`
	Confidence          *float64             `json:"confidence,omitempty"`
	CanonicalBuildingID *uuid.UUID           `json:"canonical_building_id,omitempty"`
	Fields              map[string]string    `json:"fields"`
	FieldSources        map[string]uuid.UUID `json:"field_sources"`
	ExtraData           map[string]string    `json:"extra_data"`
	ExtraDataSources    map[string]uuid.UUID `json:"extra_data_sources"`
	LastModifiedBy      string               `json:"last_modified_by,omitempty"`
	CreatedAt           time.Time            `json:"created_at"`
	UpdatedAt           time.Time            `json:"updated_at"`
}

// NewSnapshot allocates a snapshot with a time ordered id, so id order is creation order.
func NewSnapshot(organizationID string, sourceType SourceType) *Snapshot {
	now := time.Now().UTC()
	return &Snapshot{
		ID:               uuid.Must(uuid.NewV7()),
		OrganizationID:   organizationID,
		SourceType:       sourceType,
		Fields:           map[string]string{},
		FieldSources:     map[string]uuid.UUID{},
		ExtraData:        map[string]string{},
		ExtraDataSources: map[string]uuid.UUID{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func (s *Snapshot) Value(field string) (string, bool) {
	v, ok := s.Fields[field]
	return v, ok && v != ""
}

func (s *Snapshot) Source(field string) (uuid.UUID, bool) {
	id, ok := s.FieldSources[field]
	return id, ok
}

// Set stores a canonical field value and the snapshot it came from.
func (s *Snapshot) Set(field, value string, source uuid.UUID) {
	if s.Fields == nil {
		s.Fields = map[string]string{}
	}
	if s.FieldSources == nil {
		s.FieldSources = map[string]uuid.UUID{}
	}
	s.Fields[field] = value
	s.FieldSources[field] = source
}

func (s *Snapshot) Unset(field string) {
	delete(s.Fields, field)
	delete(s.FieldSources, field)
}

// SetExtra stores an uncanonicalized column value and its source.
func (s *Snapshot) SetExtra(key, value string, source uuid.UUID) {
	if s.ExtraData == nil {
		s.ExtraData = map[string]string{}
	}
	if s.ExtraDataSources == nil {
		s.ExtraDataSources = map[string]uuid.UUID{}
	}
	s.ExtraData[key] = value
	s.ExtraDataSources[key] = source
}

func (s *Snapshot) Float(field string) (float64, bool) {
	v, ok := s.Value(field)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	return f, err == nil
}

func (s *Snapshot) Date(field string) (time.Time, bool) {
	v, ok := s.Value(field)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(DateLayout, v)
	return t, err == nil
}

func (s *Snapshot) YearBuilt() (int, bool) {
	v, ok := s.Value(FieldYearBuilt)
	if !ok {
		return 0, false
	}
	year, err := strconv.Atoi(v)
	return year, err == nil
}

// FieldNames lists the populated canonical fields in registry order.
func (s *Snapshot) FieldNames() []string {
	names := make([]string, 0, len(s.Fields))
	for _, f := range CanonicalFields {
		if _, ok := s.Value(f.Name); ok {
			names = append(names, f.Name)
		}
	}
	return names
}

// ExtraKeys lists extra_data keys in a stable order.
func (s *Snapshot) ExtraKeys() []string {
	keys := make([]string, 0, len(s.ExtraData))
	for k := range s.ExtraData {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Validate checks the per-record invariants that do not need the graph.
func (s *Snapshot) Validate() error {
	if len(s.ExtraData) != len(s.ExtraDataSources) {
		return fmt.Errorf("snapshot %s: extra_data and extra_data_sources keys differ", s.ID)
	}
	for k := range s.ExtraData {
		if _, ok := s.ExtraDataSources[k]; !ok {
			return fmt.Errorf("snapshot %s: extra_data key %q has no source", s.ID, k)
		}
	}
	for k := range s.FieldSources {
		if _, ok := s.Fields[k]; !ok {
			return fmt.Errorf("snapshot %s: source for unset field %q", s.ID, k)
		}
	}
	return nil
}

func (s *Snapshot) String() string {
	return fmt.Sprintf("snapshot %s (%s)", s.ID, s.SourceType)
}
