package mapper

import (
	"github.com/cleared-dev/bcsync/internal/dimension"
	"github.com/cleared-dev/bcsync/internal/model"
	"github.com/cleared-dev/bcsync/internal/refdata"
)

func testCompany() model.Company {
	return model.Company{
		ID:   "c1",
		Name: "CRONUS USA, Inc.",
		Currencies: []model.Currency{
			{ID: "cur-eur", Code: "EUR", DisplayName: "Euro"},
		},
		PaymentMethods: []model.PaymentMethod{
			{ID: "pm-bank", Code: "BANK", DisplayName: "Bank Transfer"},
		},
		Accounts: []model.Account{
			{ID: "acct-rent", Number: "6100", DisplayName: "Rent"},
			{ID: "acct-cash", Number: "1010", DisplayName: "Cash"},
		},
		Locations: []model.Location{
			{ID: "loc-east", Code: "EAST", DisplayName: "East Warehouse"},
		},
		Dimensions: []model.Dimension{
			{ID: "dim-class", Code: "CLASS", DisplayName: "Class", Values: []model.DimensionValue{
				{ID: "v-retail", Code: "RETAIL", DisplayName: "Retail", DimensionID: "dim-class"},
			}},
		},
	}
}

func testStore() *refdata.Store {
	s := refdata.NewStore([]model.Company{testCompany()})
	s = s.With("vendors", "c1", []model.Entity{
		{"id": "ven-1", "number": "V0001", "displayName": "Fabrikam"},
	})
	s = s.With("customers", "c1", []model.Entity{
		{"id": "cus-1", "number": "C0001", "displayName": "Adatum", "defaultDimensions": []any{
			map[string]any{"id": "dd-1", "dimensionId": "dim-class", "dimensionValueId": "v-retail"},
		}},
	})
	s = s.With("items", "c1", []model.Entity{
		{"id": "item-1", "number": "1000", "displayName": "Bicycle"},
	})
	s = s.With("purchaseInvoices", "c1", []model.Entity{
		{"id": "bill-1", "number": "108001", "vendorInvoiceNumber": "INV-1", "status": "Draft",
			"purchaseInvoiceLines": []any{
				map[string]any{"id": "line-1", "sequence": "10000", "itemId": "item-1", "description": "Wheels"},
			}},
		{"id": "bill-2", "number": "108002", "vendorInvoiceNumber": "INV-2", "status": "Open"},
	})
	s = s.With("vendorPaymentJournals", "c1", []model.Entity{
		{"id": "pj-1", "code": "PAYMENT", "displayName": "Payments"},
		{"id": "pj-2", "code": "BANK", "displayName": "Bank"},
	})
	s = s.With("vendorPayments", "c1", []model.Entity{
		{"id": "pay-1", "journalId": "pj-2", "documentNumber": "PAY-1"},
	})
	s = s.With("journals", "c1", []model.Entity{
		{"id": "jr-1", "displayName": "JE-OLD", "code": "ABC"},
	})
	return s
}

func testOptions() Options {
	return Options{
		Dimensions: func(model.Company) []dimension.FieldMapping {
			return []dimension.FieldMapping{{Field: "class", Code: "CLASS"}}
		},
	}
}
