package dimension

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/bcsync/internal/model"
	"github.com/cleared-dev/bcsync/internal/syncerr"
)

func testCompany() *model.Company {
	return &model.Company{
		ID:   "c1",
		Name: "CRONUS",
		Dimensions: []model.Dimension{
			{ID: "dim-class", Code: "CLASS", DisplayName: "Class", Values: []model.DimensionValue{
				{ID: "v-retail", Code: "RETAIL", DisplayName: "Retail", DimensionID: "dim-class"},
				{ID: "v-whole", Code: "WHOLESALE", DisplayName: "Wholesale", DimensionID: "dim-class"},
			}},
			{ID: "dim-dept", Code: "DEPARTMENT", DisplayName: "Department", Values: []model.DimensionValue{
				{ID: "v-sales", Code: "SALES", DisplayName: "Sales", DimensionID: "dim-dept"},
			}},
		},
	}
}

var classMapping = []FieldMapping{{Field: "class", Code: "CLASS"}}

func TestMap_RootField(t *testing.T) {
	tests := []struct {
		name string
		rec  model.Record
		want string
	}{
		{"by id", model.Record{"classId": "v-whole"}, "v-whole"},
		{"by external id", model.Record{"classExternalId": "RETAIL"}, "v-retail"},
		{"by name", model.Record{"className": "Wholesale"}, "v-whole"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Map(tt.rec, testCompany(), classMapping, nil)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, "dim-class", got[0].DimensionID)
			assert.Equal(t, tt.want, got[0].ValueID)
		})
	}
}

func TestMap_RootFieldAbsentSkips(t *testing.T) {
	got, err := Map(model.Record{"name": "x"}, testCompany(), classMapping, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMap_RootFieldWinsOverArray(t *testing.T) {
	rec := model.Record{
		"classExternalId": "RETAIL",
		"dimensions": []any{
			map[string]any{"code": "CLASS", "valueCode": "WHOLESALE"},
			map[string]any{"code": "DEPARTMENT", "value": "Sales"},
		},
	}
	got, err := Map(rec, testCompany(), classMapping, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "v-retail", got[0].ValueID)
	assert.Equal(t, "dim-dept", got[1].DimensionID)
	assert.Equal(t, "v-sales", got[1].ValueID)
}

func TestMap_ArrayDuplicateKeepsFirst(t *testing.T) {
	rec := model.Record{"dimensions": []any{
		map[string]any{"id": "dim-class", "valueId": "v-retail"},
		map[string]any{"name": "Class", "valueCode": "WHOLESALE"},
	}}
	got, err := Map(rec, testCompany(), nil, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "v-retail", got[0].ValueID)
}

func TestMap_Errors(t *testing.T) {
	tests := []struct {
		name     string
		rec      model.Record
		mappings []FieldMapping
		want     error
	}{
		{
			name:     "configured dimension missing",
			rec:      model.Record{"regionName": "West"},
			mappings: []FieldMapping{{Field: "region", Code: "REGION"}},
			want:     syncerr.ErrDimensionDefinitionNotFound,
		},
		{
			name:     "root value missing",
			rec:      model.Record{"classExternalId": "NOPE"},
			mappings: classMapping,
			want:     syncerr.ErrInvalidDimensionValue,
		},
		{
			name: "array dimension missing",
			rec:  model.Record{"dimensions": []any{map[string]any{"code": "REGION", "value": "West"}}},
			want: syncerr.ErrDimensionDefinitionNotFound,
		},
		{
			name: "array entry without value",
			rec:  model.Record{"dimensions": []any{map[string]any{"code": "CLASS"}}},
			want: syncerr.ErrInvalidDimensionValue,
		},
		{
			name: "value under another dimension",
			rec:  model.Record{"dimensions": []any{map[string]any{"code": "CLASS", "valueCode": "SALES"}}},
			want: syncerr.ErrInvalidDimensionValue,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Map(tt.rec, testCompany(), tt.mappings, nil)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestMap_AttachesExistingAssignment(t *testing.T) {
	existing := []model.Entity{
		{"id": "dd-1", "dimensionId": "dim-class", "dimensionValueId": "v-whole"},
		{"id": "dim-dept", "code": "DEPARTMENT", "valueId": "v-sales"},
	}
	rec := model.Record{
		"classExternalId": "RETAIL",
		"dimensions":      []any{map[string]any{"code": "DEPARTMENT", "valueCode": "SALES"}},
	}
	got, err := Map(rec, testCompany(), classMapping, existing)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "dd-1", got[0].ExistingID)
	assert.Equal(t, "dim-dept", got[1].ExistingID)
}

func TestValidate(t *testing.T) {
	companies := []model.Company{*testCompany()}

	err := Validate(companies, func(model.Company) []FieldMapping { return classMapping })
	require.NoError(t, err)

	err = Validate(companies, func(model.Company) []FieldMapping {
		return []FieldMapping{{Field: "region", Code: "REGION"}}
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, syncerr.ErrDimensionDefinitionNotFound))

	err = Validate(companies, func(model.Company) []FieldMapping {
		return []FieldMapping{{Field: "class", Code: "CLASS"}, {Field: "class", Code: "DEPARTMENT"}}
	})
	assert.ErrorContains(t, err, "more than one dimension")
}

func TestWithExisting(t *testing.T) {
	in := []Assignment{{DimensionID: "dim-class", ValueID: "v-retail", ExistingID: "stale"}}
	got := WithExisting(in, []model.Entity{{"id": "dim-class", "valueId": "v-whole"}})
	assert.Equal(t, "dim-class", got[0].ExistingID)
	assert.Equal(t, "stale", in[0].ExistingID, "input is not modified")

	got = WithExisting(in, nil)
	assert.Empty(t, got[0].ExistingID)
}
