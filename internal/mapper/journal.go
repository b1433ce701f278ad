package mapper

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/bcsync/internal/dimension"
	"github.com/cleared-dev/bcsync/internal/id"
	"github.com/cleared-dev/bcsync/internal/model"
	"github.com/cleared-dev/bcsync/internal/refdata"
	"github.com/cleared-dev/bcsync/internal/syncerr"
)

const maxJournalExternalID = 10

var journalLineFields = []FieldMap{
	F("description", "description"),
}

type journalEntryMapper struct{ base }

// NewJournalEntryMapper maps the JournalEntries stream onto general journals.
func NewJournalEntryMapper(opts Options) Mapper {
	return &journalEntryMapper{base{
		stream:     "JournalEntries",
		entityType: "journals",
		matcher: KeyMatcher{Keys: []KeyCandidate{
			{RecordField: "externalId", RemoteField: "displayName"},
		}},
		opts: opts,
	}}
}

func (m *journalEntryMapper) Map(rec model.Record, ref *refdata.Store) (*WriteRequest, error) {
	ext := rec.String("externalId")
	if ext == "" {
		return nil, syncerr.Missing("externalId")
	}
	if len(ext) > maxJournalExternalID {
		return nil, syncerr.NewField(syncerr.KindInvalidFieldValue, "externalId",
			"%q is longer than %d characters", ext, maxJournalExternalID)
	}
	if !rec.Has("transactionDate") {
		return nil, syncerr.Missing("transactionDate")
	}
	lines := rec.Records("lineItems")
	if len(lines) == 0 {
		return nil, syncerr.Missing("lineItems")
	}

	w, err := m.begin(rec, ref)
	if err != nil {
		return nil, err
	}
	w.Fields["displayName"] = ext
	w.Fields["code"] = id.JournalCode(ext)
	w.Draft = rec.String("state") == "draft"

	postingDate := formatValue("postingDate", rec["transactionDate"])
	mappings := m.opts.dimensionsFor(w.Company)
	total := decimal.Zero
	for i, line := range lines {
		l, amount, err := mapJournalLine(line, w.Company, mappings)
		if err != nil {
			return nil, fmt.Errorf("lineItems[%d]: %w", i, err)
		}
		l.Fields["postingDate"] = postingDate
		l.Fields["documentNumber"] = ext
		total = total.Add(amount)
		w.Lines = append(w.Lines, l)
	}

	if !total.IsZero() {
		return nil, syncerr.New(syncerr.KindInvalidInput,
			"journal is out of balance by %s; check the amount on each line", total.String())
	}
	return w, nil
}

// mapJournalLine returns the line and its signed amount: debits positive,
// credits negative.
func mapJournalLine(line model.Record, company *model.Company, mappings []dimension.FieldMapping) (LineRequest, decimal.Decimal, error) {
	acct, _, err := ResolveKeyed(line, company.Accounts, accountRef)
	if err != nil {
		return LineRequest{}, decimal.Zero, err
	}

	var amountField string
	switch t := line.String("entryType"); t {
	case "Debit":
		amountField = "debitAmount"
	case "Credit":
		amountField = "creditAmount"
	default:
		return LineRequest{}, decimal.Zero, syncerr.NewField(syncerr.KindInvalidFieldValue, "entryType",
			"%q is not one of Credit, Debit", t)
	}
	raw, ok, err := line.Decimal(amountField)
	if err != nil {
		return LineRequest{}, decimal.Zero, syncerr.NewField(syncerr.KindInvalidFieldValue, amountField, "%v", err)
	}
	if !ok {
		return LineRequest{}, decimal.Zero, syncerr.Missing(amountField)
	}
	amount := raw.Abs()
	if amountField == "creditAmount" {
		amount = amount.Neg()
	}

	fields := map[string]any{
		"accountId": acct.ID,
		"amount":    model.Number(amount),
	}
	MapFields(line, journalLineFields, fields)

	dims, err := dimension.Map(line, company, mappings, nil)
	if err != nil {
		return LineRequest{}, decimal.Zero, err
	}
	return LineRequest{Fields: fields, Dimensions: dims}, amount, nil
}
