// Package refdata holds the company-scoped snapshot of remote lookup data
// that every mapping in a run resolves against.
package refdata

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/cleared-dev/bcsync/internal/dynamics"
	"github.com/cleared-dev/bcsync/internal/model"
)

// Store is an immutable snapshot. With returns an augmented copy, so a store
// handed to a batch never changes underneath it.
type Store struct {
	companies []model.Company
	byID      map[string]int
	// entityType -> companyID -> entities
	entities map[string]map[string][]model.Entity
}

// NewStore creates a Store from a list of companies.
func NewStore(companies []model.Company) *Store {
	byID := make(map[string]int, len(companies))
	for i, c := range companies {
		byID[c.ID] = i
	}
	return &Store{
		companies: companies,
		byID:      byID,
		entities:  make(map[string]map[string][]model.Entity),
	}
}

// Companies returns all known companies.
func (s *Store) Companies() []model.Company {
	return s.companies
}

// CompanyByID returns a company by id.
func (s *Store) CompanyByID(id string) (*model.Company, bool) {
	i, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	return &s.companies[i], true
}

// CompanyByName returns the first company whose name or display name equals
// name exactly.
func (s *Store) CompanyByName(name string) (*model.Company, bool) {
	for i := range s.companies {
		if s.companies[i].Name == name || s.companies[i].DisplayName == name {
			return &s.companies[i], true
		}
	}
	return nil, false
}

// Entities returns the cached remote entities of a type for a company.
func (s *Store) Entities(entityType, companyID string) []model.Entity {
	return s.entities[entityType][companyID]
}

// With returns a copy of the store with entities merged into the cache for
// entityType/companyID. Entities with an id already cached replace the old
// copy.
func (s *Store) With(entityType, companyID string, entities []model.Entity) *Store {
	next := &Store{
		companies: s.companies,
		byID:      s.byID,
		entities:  make(map[string]map[string][]model.Entity, len(s.entities)+1),
	}
	for t, byCompany := range s.entities {
		next.entities[t] = byCompany
	}

	byCompany := make(map[string][]model.Entity, len(s.entities[entityType])+1)
	for c, list := range s.entities[entityType] {
		byCompany[c] = list
	}

	old := byCompany[companyID]
	merged := make([]model.Entity, 0, len(old)+len(entities))
	index := make(map[string]int, len(old))
	for _, e := range old {
		if eid := e.ID(); eid != "" {
			index[eid] = len(merged)
		}
		merged = append(merged, e)
	}
	for _, e := range entities {
		if i, ok := index[e.ID()]; ok && e.ID() != "" {
			merged[i] = e
			continue
		}
		if eid := e.ID(); eid != "" {
			index[eid] = len(merged)
		}
		merged = append(merged, e)
	}
	byCompany[companyID] = merged
	next.entities[entityType] = byCompany
	return next
}

// Load bootstraps the snapshot: every company plus its currencies, payment
// methods, dimensions with values, accounts and locations.
func Load(ctx context.Context, client dynamics.Client, log logrus.FieldLogger) (*Store, error) {
	raw, err := client.GetEntities(ctx, "companies", nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("loading companies: %w", err)
	}

	companies := make([]model.Company, 0, len(raw))
	for _, e := range raw {
		var c model.Company
		if err := e.Decode(&c); err != nil {
			return nil, fmt.Errorf("company %s: %w", e.ID(), err)
		}
		params := dynamics.CompanyParams(c.ID)

		if err := loadInto(ctx, client, "currencies", params, "", &c.Currencies); err != nil {
			return nil, err
		}
		if err := loadInto(ctx, client, "paymentMethods", params, "", &c.PaymentMethods); err != nil {
			return nil, err
		}
		if err := loadInto(ctx, client, "dimensions", params, "dimensionValues", &c.Dimensions); err != nil {
			return nil, err
		}
		if err := loadInto(ctx, client, "accounts", params, "", &c.Accounts); err != nil {
			return nil, err
		}
		if err := loadInto(ctx, client, "locations", params, "", &c.Locations); err != nil {
			return nil, err
		}

		log.WithFields(logrus.Fields{
			"company":    c.Name,
			"dimensions": len(c.Dimensions),
			"accounts":   len(c.Accounts),
		}).Debug("loaded company reference data")
		companies = append(companies, c)
	}
	return NewStore(companies), nil
}

func loadInto[T any](ctx context.Context, client dynamics.Client, entityType string, params dynamics.Params, expand string, dst *[]T) error {
	raw, err := client.GetEntities(ctx, entityType, params, nil, expand)
	if err != nil {
		return fmt.Errorf("loading %s for company %s: %w", entityType, params["companyId"], err)
	}
	out := make([]T, 0, len(raw))
	for _, e := range raw {
		var v T
		if err := e.Decode(&v); err != nil {
			return fmt.Errorf("%s %s: %w", entityType, e.ID(), err)
		}
		out = append(out, v)
	}
	*dst = out
	return nil
}
