package mapper

import (
	"strings"
	"time"

	"github.com/cleared-dev/bcsync/internal/model"
)

// FieldMap copies one record field to one or more payload fields.
type FieldMap struct {
	Source       string
	Destinations []string
}

// F is shorthand for a FieldMap.
func F(source string, destinations ...string) FieldMap {
	return FieldMap{Source: source, Destinations: destinations}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// MapFields projects present, non-null record fields into out. Later
// entries win when two write the same destination.
func MapFields(rec model.Record, table []FieldMap, out map[string]any) {
	for _, fm := range table {
		v, ok := rec.Value(fm.Source)
		if !ok {
			continue
		}
		for _, dest := range fm.Destinations {
			out[dest] = formatValue(dest, v)
		}
	}
}

// formatValue renders timestamps as ISO-8601, trimmed to the date when the
// destination is a *Date field.
func formatValue(dest string, v any) any {
	var t time.Time
	switch tv := v.(type) {
	case time.Time:
		t = tv
	case string:
		parsed, ok := parseTime(tv)
		if !ok {
			return v
		}
		t = parsed
	default:
		return v
	}
	if strings.HasSuffix(dest, "Date") {
		return t.Format("2006-01-02")
	}
	return t.Format(time.RFC3339)
}

func parseTime(s string) (time.Time, bool) {
	if len(s) < len("2006-01-02") || s[4] != '-' {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
