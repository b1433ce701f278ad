// Package dimension resolves the dimension values a record asks for and
// decides, per dimension, whether the remote assignment is created or patched.
package dimension

import (
	"fmt"

	"github.com/cleared-dev/bcsync/internal/model"
	"github.com/cleared-dev/bcsync/internal/syncerr"
)

// FieldMapping binds a logical record field to a dimension code. For
// Field "class" the record may carry classId, classExternalId or className.
type FieldMapping struct {
	Field string `yaml:"field"`
	Code  string `yaml:"code"`
}

// Assignment is one resolved dimension value for a record. ExistingID is set
// when the remote record already carries an assignment for the dimension.
type Assignment struct {
	DimensionID   string
	DimensionCode string
	ValueID       string
	ValueCode     string
	ExistingID    string
}

// ArrayField is the record field holding explicit dimension entries.
const ArrayField = "dimensions"

// Map resolves root-field dimensions first, then the explicit dimensions
// array. The first source to assign a dimension wins; later entries for the
// same dimension are dropped.
func Map(rec model.Record, company *model.Company, mappings []FieldMapping, existing []model.Entity) ([]Assignment, error) {
	var out []Assignment
	seen := make(map[string]bool)

	for _, m := range mappings {
		valueID := rec.String(m.Field + "Id")
		valueCode := rec.String(m.Field + "ExternalId")
		valueName := rec.String(m.Field + "Name")
		if valueID == "" && valueCode == "" && valueName == "" {
			continue
		}

		dim, ok := model.Lookup(company.Dimensions, "", m.Code, "")
		if !ok {
			return nil, syncerr.NewField(syncerr.KindDimensionDefinitionNotFound, m.Field,
				"dimension %q not found in company %s", m.Code, company.Name)
		}
		a, err := resolveValue(dim, valueID, valueCode, valueName, m.Field)
		if err != nil {
			return nil, err
		}
		if seen[a.DimensionID] {
			continue
		}
		seen[a.DimensionID] = true
		out = append(out, a)
	}

	for i, entry := range rec.Records(ArrayField) {
		field := fmt.Sprintf("%s[%d]", ArrayField, i)
		dim, ok := model.Lookup(company.Dimensions, entry.String("id"), entry.String("code"), entry.String("name"))
		if !ok {
			return nil, syncerr.NewField(syncerr.KindDimensionDefinitionNotFound, field,
				"dimension id=%q code=%q name=%q not found in company %s",
				entry.String("id"), entry.String("code"), entry.String("name"), company.Name)
		}
		if seen[dim.ID] {
			continue
		}
		a, err := resolveValue(dim, entry.String("valueId"), entry.String("valueCode"), entry.String("value"), field)
		if err != nil {
			return nil, err
		}
		seen[dim.ID] = true
		out = append(out, a)
	}

	attachExisting(out, existing)
	return out, nil
}

func resolveValue(dim model.Dimension, valueID, valueCode, valueName, field string) (Assignment, error) {
	if valueID == "" && valueCode == "" && valueName == "" {
		return Assignment{}, syncerr.NewField(syncerr.KindInvalidDimensionValue, field,
			"no value given for dimension %s", dim.Code)
	}
	v, ok := model.Lookup(dim.Values, valueID, valueCode, valueName)
	if !ok || (v.DimensionID != "" && v.DimensionID != dim.ID) {
		return Assignment{}, syncerr.NewField(syncerr.KindInvalidDimensionValue, field,
			"value id=%q code=%q name=%q not found under dimension %s", valueID, valueCode, valueName, dim.Code)
	}
	return Assignment{
		DimensionID:   dim.ID,
		DimensionCode: dim.Code,
		ValueID:       v.ID,
		ValueCode:     v.Code,
	}, nil
}

// WithExisting returns a copy of assignments with ExistingID recomputed
// against a freshly fetched set of remote assignments.
func WithExisting(assignments []Assignment, existing []model.Entity) []Assignment {
	out := make([]Assignment, len(assignments))
	for i, a := range assignments {
		a.ExistingID = ""
		out[i] = a
	}
	attachExisting(out, existing)
	return out
}

// attachExisting copies the id of any existing remote assignment onto the
// matching output entry. Default dimensions name their dimension in
// dimensionId; dimension set lines use the dimension id as their own id.
func attachExisting(out []Assignment, existing []model.Entity) {
	for i := range out {
		for _, e := range existing {
			dimID := e.String("dimensionId")
			if dimID == "" {
				dimID = e.ID()
			}
			if dimID == out[i].DimensionID {
				out[i].ExistingID = e.ID()
				break
			}
		}
	}
}

// Validate checks every configured mapping against every company's live
// dimension definitions. A failure here is fatal for the whole run.
func Validate(companies []model.Company, mappingsFor func(model.Company) []FieldMapping) error {
	for _, c := range companies {
		fields := make(map[string]bool)
		for _, m := range mappingsFor(c) {
			if m.Field == "" || m.Code == "" {
				return fmt.Errorf("company %s: dimension mapping needs both field and code", c.Name)
			}
			if fields[m.Field] {
				return fmt.Errorf("company %s: field %q mapped to more than one dimension", c.Name, m.Field)
			}
			fields[m.Field] = true
			if _, ok := model.Lookup(c.Dimensions, "", m.Code, ""); !ok {
				return fmt.Errorf("company %s: %w", c.Name,
					syncerr.NewField(syncerr.KindDimensionDefinitionNotFound, m.Field, "dimension %q is not defined", m.Code))
			}
		}
	}
	return nil
}
