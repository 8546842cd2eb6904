package models

// FieldType drives value coercion when raw values are mapped.
type FieldType string

const (
	FieldTypeString FieldType = "string"
	FieldTypeFloat  FieldType = "float"
	FieldTypeDate   FieldType = "date"
	FieldTypeYear   FieldType = "year"
)

// DateLayout is the normalized representation of date fields.
const DateLayout = "2006-01-02"

const (
	FieldPMPropertyID  = "pm_property_id"
	FieldTaxLotID      = "tax_lot_id"
	FieldCustomID1     = "custom_id_1"
	FieldPropertyName  = "property_name"
	FieldAddressLine1  = "address_line_1"
	FieldAddressLine2  = "address_line_2"
	FieldCity          = "city"
	FieldPostalCode    = "postal_code"
	FieldYearBuilt     = "year_built"
	FieldBuildingCount = "building_count"
)

// CanonicalField describes one column of the canonical building schema.
type CanonicalField struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Synonyms []string  `json:"synonyms,omitempty"`
}

// CanonicalFields is the fixed canonical schema in registry order. Column
// suggestions break score ties by this order.
var CanonicalFields = []CanonicalField{
	{Name: FieldPMPropertyID, Type: FieldTypeString, Synonyms: []string{"pm property id", "portfolio manager property id"}},
	{Name: FieldTaxLotID, Type: FieldTypeString, Synonyms: []string{"tax lot", "bbl"}},
	{Name: FieldCustomID1, Type: FieldTypeString},
	{Name: FieldPropertyName, Type: FieldTypeString},
	{Name: FieldAddressLine1, Type: FieldTypeString},
	{Name: FieldAddressLine2, Type: FieldTypeString},
	{Name: FieldCity, Type: FieldTypeString},
	{Name: "state_province", Type: FieldTypeString, Synonyms: []string{"state"}},
	{Name: FieldPostalCode, Type: FieldTypeString, Synonyms: []string{"zip", "zip code", "postal code"}},
	{Name: "block_number", Type: FieldTypeString},
	{Name: "lot_number", Type: FieldTypeString},
	{Name: "district", Type: FieldTypeString},
	{Name: "owner", Type: FieldTypeString},
	{Name: "owner_address", Type: FieldTypeString},
	{Name: "owner_city_state", Type: FieldTypeString},
	{Name: "owner_email", Type: FieldTypeString},
	{Name: "owner_postal_code", Type: FieldTypeString},
	{Name: "owner_telephone", Type: FieldTypeString},
	{Name: "property_notes", Type: FieldTypeString},
	{Name: "use_description", Type: FieldTypeString},
	{Name: "building_certification", Type: FieldTypeString},
	{Name: "energy_alerts", Type: FieldTypeString},
	{Name: "space_alerts", Type: FieldTypeString},
	{Name: FieldBuildingCount, Type: FieldTypeFloat},
	{Name: "gross_floor_area", Type: FieldTypeFloat, Synonyms: []string{"gfa", "floor area"}},
	{Name: "conditioned_floor_area", Type: FieldTypeFloat},
	{Name: "occupied_floor_area", Type: FieldTypeFloat},
	{Name: "energy_score", Type: FieldTypeFloat, Synonyms: []string{"energy star score"}},
	{Name: "site_eui", Type: FieldTypeFloat, Synonyms: []string{"site energy use intensity"}},
	{Name: "site_eui_weather_normalized", Type: FieldTypeFloat},
	{Name: "source_eui", Type: FieldTypeFloat},
	{Name: "source_eui_weather_normalized", Type: FieldTypeFloat},
	{Name: FieldYearBuilt, Type: FieldTypeYear, Synonyms: []string{"year of construction"}},
	{Name: "generation_date", Type: FieldTypeDate},
	{Name: "recent_sale_date", Type: FieldTypeDate},
	{Name: "release_date", Type: FieldTypeDate},
	{Name: "year_ending", Type: FieldTypeDate},
}

var fieldIndex = func() map[string]CanonicalField {
	idx := make(map[string]CanonicalField, len(CanonicalFields))
	for _, f := range CanonicalFields {
		idx[f.Name] = f
	}
	return idx
}()

// LookupField returns the registry entry for name.
func LookupField(name string) (CanonicalField, bool) {
	f, ok := fieldIndex[name]
	return f, ok
}

func IsCanonicalField(name string) bool {
	_, ok := fieldIndex[name]
	return ok
}

// MappableColumns lists every canonical field a raw column may map onto.
func MappableColumns() []string {
	names := make([]string, len(CanonicalFields))
	for i, f := range CanonicalFields {
		names[i] = f.Name
	}
	return names
}

// SynonymsOf returns the names a raw header is compared against, the field name first.
func (f CanonicalField) SynonymsOf() []string {
	return append([]string{f.Name}, f.Synonyms...)
}
