package mapper

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/bcsync/internal/model"
	"github.com/cleared-dev/bcsync/internal/refdata"
	"github.com/cleared-dev/bcsync/internal/syncerr"
)

func TestRegistry(t *testing.T) {
	r := DefaultRegistry(Options{})
	for _, stream := range []string{"Customers", "vendors", "ITEMS", "Bills", "BillPayments", "JournalEntries"} {
		assert.NotNil(t, r.Get(stream), stream)
	}
	assert.Nil(t, r.Get("Invoices"))
	assert.Panics(t, func() { r.Register(NewVendorMapper(Options{})) })
}

func TestCustomerMapper(t *testing.T) {
	rec := model.Record{
		"subsidiaryId":    "c1",
		"customerNumber":  "C0001",
		"companyName":     "Adatum Corporation",
		"isPerson":        false,
		"isActive":        false,
		"currency":        "EUR",
		"classExternalId": "RETAIL",
		"addresses": []any{
			map[string]any{"line1": "1 Main", "country": "United States"},
		},
	}
	w, err := NewCustomerMapper(testOptions()).Map(rec, testStore())
	require.NoError(t, err)

	assert.Equal(t, "cus-1", w.ExistingID)
	assert.True(t, w.IsUpdate())
	assert.Equal(t, "customers", w.EntityType)
	assert.Equal(t, "Adatum Corporation", w.Fields["displayName"])
	assert.Equal(t, "Company", w.Fields["type"])
	assert.Equal(t, "All", w.Fields["blocked"])
	assert.Equal(t, "cur-eur", w.Fields["currencyId"])
	assert.Equal(t, "US", w.Fields["country"])
	assert.NotContains(t, w.Fields, "id")
	require.Len(t, w.Dimensions, 1)
	assert.Equal(t, "dd-1", w.Dimensions[0].ExistingID)
}

func TestCustomerMapperNewRecord(t *testing.T) {
	rec := model.Record{"subsidiaryName": "CRONUS USA, Inc.", "customerNumber": "C0099", "isActive": true, "currency": "XYZ"}
	w, err := NewCustomerMapper(Options{}).Map(rec, testStore())
	require.NoError(t, err)
	assert.False(t, w.IsUpdate())
	assert.Equal(t, " ", w.Fields["blocked"])
	assert.Equal(t, "XYZ", w.Fields["currencyCode"])
	assert.NotContains(t, w.Fields, "currencyId")
}

func TestVendorMapperUnknownID(t *testing.T) {
	_, err := NewVendorMapper(Options{}).Map(model.Record{"subsidiaryId": "c1", "id": "nope", "vendorNumber": "V0001"}, testStore())
	assert.True(t, errors.Is(err, syncerr.ErrRecordNotFound))
}

func TestVendorMapperEmptyID(t *testing.T) {
	w, err := NewVendorMapper(Options{}).Map(model.Record{"subsidiaryId": "c1", "id": "", "vendorNumber": "V0001"}, testStore())
	require.NoError(t, err)
	assert.Equal(t, "ven-1", w.ExistingID, "an empty id falls through to the number")

	w, err = NewVendorMapper(Options{}).Map(model.Record{"subsidiaryId": "c1", "id": "", "vendorNumber": "V0099"}, testStore())
	require.NoError(t, err)
	assert.False(t, w.IsUpdate())
}

func TestItemMapperType(t *testing.T) {
	_, err := NewItemMapper(Options{}).Map(model.Record{"subsidiaryId": "c1", "type": "Gadget"}, testStore())
	assert.True(t, errors.Is(err, syncerr.ErrInvalidFieldValue))

	w, err := NewItemMapper(Options{}).Map(model.Record{"subsidiaryId": "c1", "displayName": "Bicycle", "type": "Inventory", "isActive": false}, testStore())
	require.NoError(t, err)
	assert.Equal(t, "item-1", w.ExistingID)
	assert.Equal(t, true, w.Fields["blocked"])
}

func TestBillMapper_PrimaryKeyPrecedence(t *testing.T) {
	_, err := NewBillMapper(Options{}).Map(model.Record{"subsidiaryId": "c1", "id": "X", "billNumber": "INV-1"}, testStore())
	require.Error(t, err)
	assert.True(t, errors.Is(err, syncerr.ErrRecordNotFound))
	var se *syncerr.Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "id", se.Field)
}

func TestBillMapper_PostedBillStillMaps(t *testing.T) {
	w, err := NewBillMapper(Options{}).Map(model.Record{"subsidiaryId": "c1", "billNumber": "INV-2"}, testStore())
	require.NoError(t, err)
	assert.Equal(t, "bill-2", w.ExistingID)
	assert.Equal(t, "Open", w.Existing.String("status"))
}

func TestBillMapper_CreateNeedsVendor(t *testing.T) {
	_, err := NewBillMapper(Options{}).Map(model.Record{"subsidiaryId": "c1", "billNumber": "INV-9"}, testStore())
	assert.True(t, errors.Is(err, syncerr.ErrInvalidInput))
}

func TestBillMapper_Lines(t *testing.T) {
	rec := model.Record{
		"subsidiaryId":    "c1",
		"billNumber":      "INV-1",
		"issueDate":       "2024-05-01T00:00:00Z",
		"classExternalId": "RETAIL",
		"lineItems": []any{
			map[string]any{
				"externalId":     "10000",
				"itemExternalId": "1000",
				"description":    "Wheels",
				"quantity":       json.Number("2"),
				"unitPrice":      json.Number("15.25"),
				"locationCode":   "EAST",
			},
			map[string]any{"itemName": "Bicycle", "description": "Frame", "quantity": json.Number("1")},
		},
		"expenses": []any{
			map[string]any{"accountNumber": "6100", "amount": json.Number("99.99"), "description": "Rent"},
		},
	}
	w, err := NewBillMapper(testOptions()).Map(rec, testStore())
	require.NoError(t, err)

	assert.Equal(t, "bill-1", w.ExistingID)
	assert.Equal(t, "2024-05-01", w.Fields["invoiceDate"])
	assert.Equal(t, "INV-1", w.Fields["vendorInvoiceNumber"])
	assert.False(t, w.Draft)
	require.Len(t, w.Dimensions, 1)
	require.Len(t, w.Lines, 3)

	first := w.Lines[0]
	assert.Equal(t, "line-1", first.ExistingID)
	assert.Equal(t, "Item", first.Fields["lineType"])
	assert.Equal(t, "item-1", first.Fields["itemId"])
	assert.Equal(t, "loc-east", first.Fields["locationId"])
	assert.Equal(t, json.Number("10000"), first.Fields["sequence"])
	assert.Equal(t, map[string]any{"unitCost": json.Number("15.25")}, first.Corrective)

	second := w.Lines[1]
	assert.Empty(t, second.ExistingID)
	assert.Nil(t, second.Corrective, "no location, nothing to correct")

	expense := w.Lines[2]
	assert.Equal(t, "Account", expense.Fields["lineType"])
	assert.Equal(t, "acct-rent", expense.Fields["accountId"])
	assert.Equal(t, 1, expense.Fields["quantity"])
	assert.Equal(t, json.Number("99.99"), expense.Fields["unitCost"])
}

func TestBillMapper_ExpenseNeedsAccount(t *testing.T) {
	rec := model.Record{
		"subsidiaryId": "c1",
		"vendorNumber": "V0001",
		"expenses":     []any{map[string]any{"amount": json.Number("10")}},
	}
	_, err := NewBillMapper(Options{}).Map(rec, testStore())
	assert.True(t, errors.Is(err, syncerr.ErrInvalidInput))
	assert.Contains(t, err.Error(), "expenses[0]")
}

func TestBillMapper_Attachments(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "receipt.pdf"), []byte("%PDF"), 0o644))
	opts := Options{AttachmentsDir: dir}

	rec := model.Record{
		"subsidiaryId": "c1",
		"vendorId":     "ven-1",
		"attachments":  []any{map[string]any{"fileName": "receipt.pdf"}},
	}
	w, err := NewBillMapper(opts).Map(rec, testStore())
	require.NoError(t, err)
	require.Len(t, w.Attachments, 1)
	assert.Equal(t, []byte("%PDF"), w.Attachments[0].Content)

	rec["attachments"] = []any{map[string]any{"fileName": "missing.pdf"}}
	_, err = NewBillMapper(opts).Map(rec, testStore())
	assert.True(t, errors.Is(err, syncerr.ErrInvalidInput))
}

func TestBillPaymentMapper(t *testing.T) {
	base := func() model.Record {
		return model.Record{
			"subsidiaryId":      "c1",
			"externalId":        "PMT-1",
			"journalExternalId": "BANK",
			"vendorNumber":      "V0001",
			"billNumber":        "INV-1",
			"paymentNumber":     "PAY-1",
			"paymentDate":       "2024-06-01",
			"amount":            json.Number("100.00"),
		}
	}

	w, err := NewBillPaymentMapper(Options{}).Map(base(), testStore())
	require.NoError(t, err)
	assert.Equal(t, "pay-1", w.ExistingID)
	assert.Equal(t, "pj-2", w.ParentID)
	assert.Equal(t, "ven-1", w.Fields["vendorId"])
	assert.Equal(t, "bill-1", w.Fields["appliesToInvoiceId"])
	assert.Equal(t, "PAY-1", w.Fields["documentNumber"])
	assert.Equal(t, "2024-06-01", w.Fields["postingDate"])
	assert.Equal(t, json.Number("100"), w.Fields["amount"])

	other := base()
	other["journalExternalId"] = "PAYMENT"
	w, err = NewBillPaymentMapper(Options{}).Map(other, testStore())
	require.NoError(t, err)
	assert.Empty(t, w.ExistingID, "payments only match inside their own journal")

	tests := []struct {
		name   string
		mutate func(model.Record)
		want   error
	}{
		{"missing externalId", func(r model.Record) { delete(r, "externalId") }, syncerr.ErrMissingField},
		{"long externalId", func(r model.Record) { r["externalId"] = "123456789012345678901" }, syncerr.ErrInvalidInput},
		{"no bill given", func(r model.Record) { delete(r, "billNumber") }, syncerr.ErrInvalidInput},
		{"bill not found", func(r model.Record) { r["billNumber"] = "INV-404" }, syncerr.ErrRecordNotFound},
		{"no journal", func(r model.Record) { delete(r, "journalExternalId") }, syncerr.ErrInvalidInput},
		{"no vendor", func(r model.Record) { delete(r, "vendorNumber") }, syncerr.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := base()
			tt.mutate(rec)
			_, err := NewBillPaymentMapper(Options{}).Map(rec, testStore())
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func journalRecord() model.Record {
	return model.Record{
		"subsidiaryId":    "c1",
		"externalId":      "JE-0001",
		"transactionDate": "2024-02-29T12:00:00Z",
		"state":           "posted",
		"lineItems": []any{
			map[string]any{"accountNumber": "6100", "entryType": "Debit", "debitAmount": json.Number("150.10"), "classExternalId": "RETAIL"},
			map[string]any{"accountNumber": "1010", "entryType": "Credit", "creditAmount": json.Number("-150.10"), "description": "cash"},
		},
	}
}

func TestJournalEntryMapper(t *testing.T) {
	w, err := NewJournalEntryMapper(testOptions()).Map(journalRecord(), testStore())
	require.NoError(t, err)

	assert.False(t, w.IsUpdate())
	assert.False(t, w.Draft)
	assert.Equal(t, "JE-0001", w.Fields["displayName"])
	assert.Len(t, w.Fields["code"], 10)
	require.Len(t, w.Lines, 2)
	assert.Equal(t, json.Number("150.1"), w.Lines[0].Fields["amount"])
	assert.Equal(t, json.Number("-150.1"), w.Lines[1].Fields["amount"])
	assert.Equal(t, "2024-02-29", w.Lines[0].Fields["postingDate"])
	assert.Equal(t, "JE-0001", w.Lines[1].Fields["documentNumber"])
	assert.Len(t, w.Lines[0].Dimensions, 1)
}

func TestJournalEntryMapper_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(model.Record)
		want   error
	}{
		{"unbalanced", func(r model.Record) {
			r["lineItems"].([]any)[1].(map[string]any)["creditAmount"] = json.Number("150.00")
		}, syncerr.ErrInvalidInput},
		{"externalId too long", func(r model.Record) { r["externalId"] = "JE-00000001" }, syncerr.ErrInvalidInput},
		{"missing externalId", func(r model.Record) { delete(r, "externalId") }, syncerr.ErrMissingField},
		{"missing date", func(r model.Record) { delete(r, "transactionDate") }, syncerr.ErrMissingField},
		{"no lines", func(r model.Record) { r["lineItems"] = []any{} }, syncerr.ErrMissingField},
		{"bad entry type", func(r model.Record) {
			r["lineItems"].([]any)[0].(map[string]any)["entryType"] = "Both"
		}, syncerr.ErrInvalidFieldValue},
		{"unknown account", func(r model.Record) {
			r["lineItems"].([]any)[0].(map[string]any)["accountNumber"] = "9999"
		}, syncerr.ErrRecordNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := journalRecord()
			tt.mutate(rec)
			_, err := NewJournalEntryMapper(Options{}).Map(rec, testStore())
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestJournalEntryMapper_Draft(t *testing.T) {
	rec := journalRecord()
	rec["state"] = "draft"
	w, err := NewJournalEntryMapper(Options{}).Map(rec, testStore())
	require.NoError(t, err)
	assert.True(t, w.Draft)
}

func TestCanonicalStable(t *testing.T) {
	a, err := NewJournalEntryMapper(Options{}).Map(journalRecord(), testStore())
	require.NoError(t, err)
	b, err := NewJournalEntryMapper(Options{}).Map(journalRecord(), testStore())
	require.NoError(t, err)

	ja, err := json.Marshal(a.Canonical())
	require.NoError(t, err)
	jb, err := json.Marshal(b.Canonical())
	require.NoError(t, err)
	assert.JSONEq(t, string(ja), string(jb))
	assert.NotContains(t, string(ja), "subsidiaryId", "source record is not part of the content")
}

func TestCanonicalIgnoresRemoteMatch(t *testing.T) {
	rec := model.Record{"subsidiaryId": "c1", "customerNumber": "C0001", "classExternalId": "RETAIL"}

	matched, err := NewCustomerMapper(testOptions()).Map(rec, testStore())
	require.NoError(t, err)
	require.True(t, matched.IsUpdate())
	fresh, err := NewCustomerMapper(testOptions()).Map(rec, refdata.NewStore([]model.Company{testCompany()}))
	require.NoError(t, err)
	require.False(t, fresh.IsUpdate())

	jm, err := json.Marshal(matched.Canonical())
	require.NoError(t, err)
	jf, err := json.Marshal(fresh.Canonical())
	require.NoError(t, err)
	assert.JSONEq(t, string(jf), string(jm), "creating a record does not change its hash")
	assert.NotContains(t, string(jm), "cus-1")
	assert.NotContains(t, string(jm), "dd-1")
}
