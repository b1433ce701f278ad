package mapper

import (
	"github.com/cleared-dev/bcsync/internal/dimension"
	"github.com/cleared-dev/bcsync/internal/model"
	"github.com/cleared-dev/bcsync/internal/refdata"
)

var customerFields = []FieldMap{
	F("customerNumber", "number"),
	F("customerName", "displayName"),
	F("companyName", "displayName"),
	F("email", "email"),
	F("website", "website"),
	F("taxable", "taxLiable"),
}

type customerMapper struct{ base }

// NewCustomerMapper maps the Customers stream.
func NewCustomerMapper(opts Options) Mapper {
	return &customerMapper{base{
		stream:     "Customers",
		entityType: "customers",
		matcher: KeyMatcher{Keys: []KeyCandidate{
			{RecordField: "id", RemoteField: "id", RequiredIfPresent: true},
			{RecordField: "customerNumber", RemoteField: "number"},
		}},
		fields: customerFields,
		opts:   opts,
	}}
}

func (m *customerMapper) Map(rec model.Record, ref *refdata.Store) (*WriteRequest, error) {
	w, err := m.begin(rec, ref)
	if err != nil {
		return nil, err
	}
	if err := mapContact(rec, w); err != nil {
		return nil, err
	}
	if isPerson, ok := rec.Bool("isPerson"); ok {
		if isPerson {
			w.Fields["type"] = "Person"
		} else {
			w.Fields["type"] = "Company"
		}
	}
	w.Dimensions, err = dimension.Map(rec, w.Company, m.opts.dimensionsFor(w.Company), w.Existing.Children("defaultDimensions"))
	if err != nil {
		return nil, err
	}
	return w, nil
}

// mapContact fills the address, phone, currency, payment method and
// blocked flag shared by customers and vendors.
func mapContact(rec model.Record, w *WriteRequest) error {
	if err := MapAddress(rec, w.Fields); err != nil {
		return err
	}
	MapPhone(rec, w.Fields)
	mapCurrency(rec, w.Company, w.Fields)
	mapPaymentMethod(rec, w.Company, w.Fields)
	if active, ok := rec.Bool("isActive"); ok {
		if active {
			w.Fields["blocked"] = " "
		} else {
			w.Fields["blocked"] = "All"
		}
	}
	return nil
}
