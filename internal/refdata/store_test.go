package refdata

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/bcsync/internal/dynamics"
	"github.com/cleared-dev/bcsync/internal/model"
)

func TestCompanyLookup(t *testing.T) {
	s := NewStore([]model.Company{
		{ID: "c1", Name: "CRONUS USA, Inc.", DisplayName: "CRONUS USA"},
		{ID: "c2", Name: "My Company"},
	})

	c, ok := s.CompanyByID("c2")
	require.True(t, ok)
	assert.Equal(t, "My Company", c.Name)

	c, ok = s.CompanyByName("CRONUS USA")
	require.True(t, ok)
	assert.Equal(t, "c1", c.ID)

	_, ok = s.CompanyByName("cronus usa")
	assert.False(t, ok, "name match is exact")
	_, ok = s.CompanyByID("c9")
	assert.False(t, ok)
}

func TestWithIsCopyOnWrite(t *testing.T) {
	base := NewStore([]model.Company{{ID: "c1"}})
	first := base.With("vendors", "c1", []model.Entity{{"id": "v1", "number": "V1"}})
	second := first.With("vendors", "c1", []model.Entity{
		{"id": "v1", "number": "V1-renamed"},
		{"id": "v2", "number": "V2"},
	})

	assert.Empty(t, base.Entities("vendors", "c1"))
	require.Len(t, first.Entities("vendors", "c1"), 1)
	assert.Equal(t, "V1", first.Entities("vendors", "c1")[0].String("number"))

	got := second.Entities("vendors", "c1")
	require.Len(t, got, 2)
	assert.Equal(t, "V1-renamed", got[0].String("number"))
	assert.Equal(t, "v2", got[1].ID())
	assert.Empty(t, second.Entities("vendors", "c2"))
}

type fakeFetcher struct {
	data  map[string][]model.Entity
	calls []string
}

func (f *fakeFetcher) MakeBatchRequest(context.Context, []dynamics.Request, dynamics.TransactionMode) ([]dynamics.Response, error) {
	return nil, nil
}

func (f *fakeFetcher) GetEntities(_ context.Context, entityType string, params dynamics.Params, _ []dynamics.Filter, expand string) ([]model.Entity, error) {
	f.calls = append(f.calls, entityType+"|"+expand)
	return f.data[entityType], nil
}

func TestLoad(t *testing.T) {
	f := &fakeFetcher{data: map[string][]model.Entity{
		"companies":      {{"id": "c1", "name": "CRONUS"}},
		"currencies":     {{"id": "cur1", "code": "EUR", "displayName": "Euro"}},
		"paymentMethods": {{"id": "pm1", "code": "BANK"}},
		"dimensions": {{"id": "d1", "code": "DEPT", "dimensionValues": []any{
			map[string]any{"id": "dv1", "code": "SALES", "dimensionId": "d1"},
		}}},
		"accounts":  {{"id": "a1", "number": "6100", "displayName": "Rent"}},
		"locations": {{"id": "l1", "code": "EAST"}},
	}}
	log := logrus.New()
	log.SetOutput(io.Discard)

	s, err := Load(context.Background(), f, log)
	require.NoError(t, err)

	c, ok := s.CompanyByID("c1")
	require.True(t, ok)
	assert.Equal(t, "EUR", c.Currencies[0].Code)
	assert.Equal(t, "BANK", c.PaymentMethods[0].Code)
	require.Len(t, c.Dimensions, 1)
	assert.Equal(t, "SALES", c.Dimensions[0].Values[0].Code)
	assert.Equal(t, "6100", c.Accounts[0].Number)
	assert.Equal(t, "EAST", c.Locations[0].Code)
	assert.Contains(t, f.calls, "dimensions|dimensionValues")
}
