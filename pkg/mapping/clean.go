package mapping

import (
	"strconv"
	"strings"
	"time"

	seederrors "github.com/afrojet/seed/pkg/errors"
	"github.com/afrojet/seed/pkg/models"
)

// dateLayouts are tried in order; the first that parses wins.
var dateLayouts = []string{
	models.DateLayout,
	"01/02/2006",
	"1/2/2006",
	"01/02/06",
	"1/2/06",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
}

// Clean coerces a raw value for field. ok is false when there is nothing to
// store: blank input, or a value that failed coercion, in which case err says why.
func Clean(field models.CanonicalField, raw string) (value string, ok bool, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, nil
	}

	switch field.Type {
	case models.FieldTypeFloat:
		f, err := parseNumber(raw)
		if err != nil {
			return "", false, seederrors.NewValidationError(field.Name, raw, "not a number")
		}
		return strconv.FormatFloat(f, 'f', -1, 64), true, nil
	case models.FieldTypeDate:
		t, err := parseDate(raw)
		if err != nil {
			return "", false, seederrors.NewValidationError(field.Name, raw, "not a recognised date")
		}
		return t.Format(models.DateLayout), true, nil
	case models.FieldTypeYear:
		year, err := parseYear(raw)
		if err != nil {
			return "", false, seederrors.NewValidationError(field.Name, raw, "not a year")
		}
		return strconv.Itoa(year), true, nil
	default:
		return raw, true, nil
	}
}

func parseNumber(raw string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(raw, ",", ""), 64)
}

func parseDate(raw string) (time.Time, error) {
	var err error
	for _, layout := range dateLayouts {
		var t time.Time
		if t, err = time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}

// parseYear accepts 1999, 1999.0 and any recognised date.
func parseYear(raw string) (int, error) {
	if f, err := parseNumber(raw); err == nil {
		return int(f), nil
	}
	t, err := parseDate(raw)
	if err != nil {
		return 0, err
	}
	return t.Year(), nil
}
