package mapper

import (
	"github.com/cleared-dev/bcsync/internal/dimension"
	"github.com/cleared-dev/bcsync/internal/model"
	"github.com/cleared-dev/bcsync/internal/refdata"
	"github.com/cleared-dev/bcsync/internal/syncerr"
)

var itemFields = []FieldMap{
	F("itemNumber", "number"),
	F("displayName", "displayName"),
	F("type", "type"),
	F("unitPrice", "unitPrice"),
	F("unitCost", "unitCost"),
	F("baseUnitOfMeasureCode", "baseUnitOfMeasureCode"),
}

var itemTypes = map[string]bool{
	"Inventory":     true,
	"Service":       true,
	"Non-Inventory": true,
}

type itemMapper struct{ base }

// NewItemMapper maps the Items stream.
func NewItemMapper(opts Options) Mapper {
	return &itemMapper{base{
		stream:     "Items",
		entityType: "items",
		matcher: KeyMatcher{Keys: []KeyCandidate{
			{RecordField: "id", RemoteField: "id", RequiredIfPresent: true},
			{RecordField: "itemNumber", RemoteField: "number"},
			{RecordField: "displayName", RemoteField: "displayName"},
		}},
		fields: itemFields,
		opts:   opts,
	}}
}

func (m *itemMapper) Map(rec model.Record, ref *refdata.Store) (*WriteRequest, error) {
	if t := rec.String("type"); t != "" && !itemTypes[t] {
		return nil, syncerr.NewField(syncerr.KindInvalidFieldValue, "type",
			"%q is not one of Inventory, Service, Non-Inventory", t)
	}
	w, err := m.begin(rec, ref)
	if err != nil {
		return nil, err
	}
	if active, ok := rec.Bool("isActive"); ok {
		w.Fields["blocked"] = !active
	}
	w.Dimensions, err = dimension.Map(rec, w.Company, m.opts.dimensionsFor(w.Company), w.Existing.Children("defaultDimensions"))
	if err != nil {
		return nil, err
	}
	return w, nil
}
