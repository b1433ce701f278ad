package mapper

import (
	"github.com/cleared-dev/bcsync/internal/dimension"
	"github.com/cleared-dev/bcsync/internal/model"
	"github.com/cleared-dev/bcsync/internal/refdata"
	"github.com/cleared-dev/bcsync/internal/syncerr"
)

const maxPaymentExternalID = 20

var billPaymentFields = []FieldMap{
	F("paymentNumber", "documentNumber"),
	F("transactionNumber", "lineNumber"),
	F("paymentDate", "postingDate"),
	F("amount", "amount"),
	F("description", "description"),
}

var (
	paymentJournalRef = EntityRef{
		Ref:        Ref{Name: "payment journal", IDField: "journalId", CodeField: "journalExternalId", NameField: "journalName", Required: true},
		RemoteCode: "code",
		RemoteName: "displayName",
	}
	billRef = EntityRef{
		Ref:        Ref{Name: "bill", IDField: "billId", CodeField: "billNumber", NameField: "billExternalId", Required: true},
		RemoteCode: "vendorInvoiceNumber",
		RemoteName: "vendorInvoiceNumber",
	}
)

var billPaymentKeys = []KeyCandidate{
	{RecordField: "id", RemoteField: "id", RequiredIfPresent: true},
	{RecordField: "paymentNumber", RemoteField: "documentNumber"},
}

type billPaymentMapper struct{ base }

// NewBillPaymentMapper maps the BillPayments stream onto vendor payments.
// Existing payments only match inside the same payment journal.
func NewBillPaymentMapper(opts Options) Mapper {
	return &billPaymentMapper{base{
		stream:     "BillPayments",
		entityType: "vendorPayments",
		fields:     billPaymentFields,
		opts:       opts,
	}}
}

func (m *billPaymentMapper) Map(rec model.Record, ref *refdata.Store) (*WriteRequest, error) {
	company, err := ResolveCompany(rec, ref)
	if err != nil {
		return nil, err
	}
	ext := rec.String("externalId")
	if ext == "" {
		return nil, syncerr.Missing("externalId")
	}
	if len(ext) > maxPaymentExternalID {
		return nil, syncerr.NewField(syncerr.KindInvalidFieldValue, "externalId",
			"%q is longer than %d characters", ext, maxPaymentExternalID)
	}

	journal, _, err := ResolveEntity(rec, ref.Entities("vendorPaymentJournals", company.ID), paymentJournalRef)
	if err != nil {
		return nil, err
	}
	journalID := journal.ID()

	matcher := KeyMatcher{
		Keys:       billPaymentKeys,
		Constraint: func(e model.Entity) bool { return e.String("journalId") == journalID },
	}
	existing, err := matcher.FindExisting(rec, ref.Entities(m.entityType, company.ID))
	if err != nil {
		return nil, err
	}

	w := &WriteRequest{
		Stream:     m.stream,
		EntityType: m.entityType,
		Company:    company,
		ParentID:   journalID,
		Fields:     make(map[string]any),
		Source:     rec,
	}
	if existing != nil {
		w.Existing = existing
		w.ExistingID = existing.ID()
	}

	vr := vendorRef
	vr.Required = true
	vendor, _, err := ResolveEntity(rec, ref.Entities("vendors", company.ID), vr)
	if err != nil {
		return nil, err
	}
	w.Fields["vendorId"] = vendor.ID()

	bill, _, err := ResolveEntity(rec, ref.Entities("purchaseInvoices", company.ID), billRef)
	if err != nil {
		return nil, err
	}
	w.Fields["appliesToInvoiceId"] = bill.ID()

	m.project(rec, company, w.Fields)
	if amt, ok, err := rec.Decimal("amount"); err != nil {
		return nil, syncerr.NewField(syncerr.KindInvalidFieldValue, "amount", "%v", err)
	} else if ok {
		w.Fields["amount"] = model.Number(amt)
	}

	w.Dimensions, err = dimension.Map(rec, company, m.opts.dimensionsFor(company), w.Existing.Children("dimensionSetLines"))
	if err != nil {
		return nil, err
	}
	return w, nil
}
