package sink

import (
	"context"
	"fmt"

	"github.com/cleared-dev/bcsync/internal/dynamics"
	"github.com/cleared-dev/bcsync/internal/mapper"
	"github.com/cleared-dev/bcsync/internal/model"
	"github.com/cleared-dev/bcsync/internal/refdata"
)

// lookupKey feeds the values of one record field into a remote filter.
type lookupKey struct {
	RecordField string
	RemoteField string
	// Nested names a child array whose records supply the value instead of
	// the record itself.
	Nested string
}

// prefetch describes one remote collection to load ahead of mapping.
type prefetch struct {
	EntityType string
	Keys       []lookupKey
	Expand     string
}

// filters builds one filter per remote field. Keys that share a remote
// field are merged into it.
func (p prefetch) filters(records []model.Record) []dynamics.Filter {
	var out []dynamics.Filter
	index := map[string]int{}
	seen := map[string]bool{}
	for _, k := range p.Keys {
		for _, rec := range records {
			sources := []model.Record{rec}
			if k.Nested != "" {
				sources = rec.Records(k.Nested)
			}
			for _, src := range sources {
				v := src.String(k.RecordField)
				if v == "" || seen[k.RemoteField+"\x00"+v] {
					continue
				}
				seen[k.RemoteField+"\x00"+v] = true
				i, ok := index[k.RemoteField]
				if !ok {
					i = len(out)
					index[k.RemoteField] = i
					out = append(out, dynamics.Filter{Field: k.RemoteField})
				}
				out[i].Values = append(out[i].Values, v)
			}
		}
	}
	return out
}

// byCompany groups records by their resolved company, in first-seen order.
// Records whose company cannot be resolved are skipped here and fail later
// during mapping.
func byCompany(records []model.Record, ref *refdata.Store) ([]string, map[string][]model.Record) {
	var order []string
	groups := map[string][]model.Record{}
	for _, rec := range records {
		c, err := mapper.ResolveCompany(rec, ref)
		if err != nil {
			continue
		}
		if _, ok := groups[c.ID]; !ok {
			order = append(order, c.ID)
		}
		groups[c.ID] = append(groups[c.ID], rec)
	}
	return order, groups
}

// fetch loads every spec for every company present in records and returns
// ref extended with the results.
func fetch(ctx context.Context, client dynamics.Client, ref *refdata.Store, records []model.Record, specs ...prefetch) (*refdata.Store, error) {
	order, groups := byCompany(records, ref)
	for _, companyID := range order {
		for _, p := range specs {
			filters := p.filters(groups[companyID])
			if len(filters) == 0 {
				continue
			}
			entities, err := client.GetEntities(ctx, p.EntityType, dynamics.CompanyParams(companyID), filters, p.Expand)
			if err != nil {
				return nil, fmt.Errorf("fetching %s for company %s: %w", p.EntityType, companyID, err)
			}
			ref = ref.With(p.EntityType, companyID, entities)
		}
	}
	return ref, nil
}
