package mapper

import (
	"github.com/cleared-dev/bcsync/internal/dimension"
	"github.com/cleared-dev/bcsync/internal/model"
	"github.com/cleared-dev/bcsync/internal/refdata"
)

var vendorFields = []FieldMap{
	F("vendorNumber", "number"),
	F("vendorName", "displayName"),
	F("email", "email"),
	F("website", "website"),
	F("taxNumber", "taxRegistrationNumber"),
}

type vendorMapper struct{ base }

// NewVendorMapper maps the Vendors stream.
func NewVendorMapper(opts Options) Mapper {
	return &vendorMapper{base{
		stream:     "Vendors",
		entityType: "vendors",
		matcher: KeyMatcher{Keys: []KeyCandidate{
			{RecordField: "id", RemoteField: "id", RequiredIfPresent: true},
			{RecordField: "vendorNumber", RemoteField: "number"},
		}},
		fields: vendorFields,
		opts:   opts,
	}}
}

func (m *vendorMapper) Map(rec model.Record, ref *refdata.Store) (*WriteRequest, error) {
	w, err := m.begin(rec, ref)
	if err != nil {
		return nil, err
	}
	if err := mapContact(rec, w); err != nil {
		return nil, err
	}
	w.Dimensions, err = dimension.Map(rec, w.Company, m.opts.dimensionsFor(w.Company), w.Existing.Children("defaultDimensions"))
	if err != nil {
		return nil, err
	}
	return w, nil
}
