package mapper

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cleared-dev/bcsync/internal/dimension"
	"github.com/cleared-dev/bcsync/internal/model"
	"github.com/cleared-dev/bcsync/internal/refdata"
	"github.com/cleared-dev/bcsync/internal/syncerr"
)

var billFields = []FieldMap{
	F("externalId", "vendorInvoiceNumber"),
	F("billNumber", "vendorInvoiceNumber"),
	F("dueDate", "dueDate"),
	F("issueDate", "invoiceDate"),
	F("postingDate", "postingDate"),
}

var itemLineFields = []FieldMap{
	F("externalId", "sequence"),
	F("description", "description"),
	F("taxCode", "taxCode"),
	F("discount", "discountAmount"),
	F("quantity", "quantity"),
	F("unitPrice", "unitCost"),
}

var expenseLineFields = []FieldMap{
	F("externalId", "sequence"),
	F("description", "description"),
	F("taxCode", "taxCode"),
	F("discount", "discountAmount"),
	F("amount", "unitCost"),
}

var (
	vendorRef = EntityRef{
		Ref:        Ref{Name: "vendor", IDField: "vendorId", CodeField: "vendorNumber", NameField: "vendorName"},
		RemoteCode: "number",
		RemoteName: "displayName",
	}
	itemRef = EntityRef{
		Ref:        Ref{Name: "item", IDField: "itemId", CodeField: "itemExternalId", NameField: "itemName"},
		RemoteCode: "number",
		RemoteName: "displayName",
	}
	accountRef  = Ref{Name: "account", IDField: "accountId", CodeField: "accountNumber", NameField: "accountName", Required: true}
	locationRef = Ref{Name: "location", IDField: "locationId", CodeField: "locationCode", NameField: "locationName"}
)

type billMapper struct{ base }

// NewBillMapper maps the Bills stream onto purchase invoices.
func NewBillMapper(opts Options) Mapper {
	return &billMapper{base{
		stream:     "Bills",
		entityType: "purchaseInvoices",
		matcher: KeyMatcher{Keys: []KeyCandidate{
			{RecordField: "id", RemoteField: "id", RequiredIfPresent: true},
			{RecordField: "transactionNumber", RemoteField: "number"},
			{RecordField: "billNumber", RemoteField: "vendorInvoiceNumber"},
			{RecordField: "externalId", RemoteField: "vendorInvoiceNumber"},
		}},
		fields: billFields,
		opts:   opts,
	}}
}

func (m *billMapper) Map(rec model.Record, ref *refdata.Store) (*WriteRequest, error) {
	w, err := m.begin(rec, ref)
	if err != nil {
		return nil, err
	}
	vr := vendorRef
	vr.Required = !w.IsUpdate()
	vendor, ok, err := ResolveEntity(rec, ref.Entities("vendors", w.Company.ID), vr)
	if err != nil {
		return nil, err
	}
	if ok {
		w.Fields["vendorId"] = vendor.ID()
	}
	mapCurrency(rec, w.Company, w.Fields)

	mappings := m.opts.dimensionsFor(w.Company)
	w.Dimensions, err = dimension.Map(rec, w.Company, mappings, w.Existing.Children("dimensionSetLines"))
	if err != nil {
		return nil, err
	}

	existingLines := w.Existing.Children("purchaseInvoiceLines")
	for i, line := range rec.Records("lineItems") {
		l, err := m.mapLine(line, w.Company, ref, existingLines, mappings, false)
		if err != nil {
			return nil, fmt.Errorf("lineItems[%d]: %w", i, err)
		}
		w.Lines = append(w.Lines, l)
	}
	for i, line := range rec.Records("expenses") {
		l, err := m.mapLine(line, w.Company, ref, existingLines, mappings, true)
		if err != nil {
			return nil, fmt.Errorf("expenses[%d]: %w", i, err)
		}
		w.Lines = append(w.Lines, l)
	}

	w.Attachments, err = m.mapAttachments(rec, w.Existing.Children("attachments"))
	if err != nil {
		return nil, err
	}
	draft, _ := rec.Bool("isDraft")
	w.Draft = draft
	return w, nil
}

func (m *billMapper) mapLine(line model.Record, company *model.Company, ref *refdata.Store, existing []model.Entity, mappings []dimension.FieldMapping, expense bool) (LineRequest, error) {
	fields := make(map[string]any)
	var matchField, matchID string

	if expense {
		acct, _, err := ResolveKeyed(line, company.Accounts, accountRef)
		if err != nil {
			return LineRequest{}, err
		}
		MapFields(line, expenseLineFields, fields)
		fields["lineType"] = "Account"
		fields["accountId"] = acct.ID
		fields["quantity"] = 1
		matchField, matchID = "accountId", acct.ID
	} else {
		item, ok, err := ResolveEntity(line, ref.Entities("items", company.ID), itemRef)
		if err != nil {
			return LineRequest{}, err
		}
		MapFields(line, itemLineFields, fields)
		fields["lineType"] = "Item"
		if ok {
			fields["itemId"] = item.ID()
			matchField, matchID = "itemId", item.ID()
		}
	}
	if seq, ok := fields["sequence"]; ok {
		if d, err := model.AsDecimal(seq); err == nil {
			fields["sequence"] = model.Number(d)
		}
	}

	loc, ok, err := ResolveKeyed(line, company.Locations, locationRef)
	if err != nil {
		return LineRequest{}, err
	}
	if ok {
		fields["locationId"] = loc.ID
	}

	l := LineRequest{Fields: fields}
	match := findLine(existing, line.String("externalId"), matchField, matchID, line.String("description"))
	if match != nil {
		l.ExistingID = match.ID()
	}

	l.Dimensions, err = dimension.Map(line, company, mappings, match.Children("dimensionSetLines"))
	if err != nil {
		return LineRequest{}, err
	}

	// The remote side overwrites unit cost and discount from the item card
	// when a location is set on an item line.
	if !expense && ok {
		corrective := make(map[string]any)
		for _, k := range []string{"unitCost", "discountAmount"} {
			if v, has := fields[k]; has {
				corrective[k] = v
			}
		}
		if len(corrective) > 0 {
			l.Corrective = corrective
		}
	}
	return l, nil
}

// findLine matches an existing line by sequence, then by item or account
// together with the description.
func findLine(existing []model.Entity, sequence, refField, refID, description string) model.Entity {
	if sequence != "" {
		for _, e := range existing {
			if e.String("sequence") == sequence {
				return e
			}
		}
	}
	if refID != "" && description != "" {
		for _, e := range existing {
			if e.String(refField) == refID && e.String("description") == description {
				return e
			}
		}
	}
	return nil
}

func (m *billMapper) mapAttachments(rec model.Record, existing []model.Entity) ([]AttachmentRequest, error) {
	var out []AttachmentRequest
	for i, a := range rec.Records("attachments") {
		name := a.String("fileName")
		if name == "" {
			return nil, syncerr.Missing(fmt.Sprintf("attachments[%d].fileName", i))
		}
		path := filepath.Join(m.opts.AttachmentsDir, filepath.Base(name))
		content, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, syncerr.NewField(syncerr.KindInvalidFieldValue, "attachments",
					"attachment file %s does not exist", path)
			}
			return nil, fmt.Errorf("reading attachment %s: %w", path, err)
		}
		req := AttachmentRequest{FileName: name, Content: content}
		for _, e := range existing {
			if (a.String("id") != "" && e.ID() == a.String("id")) || e.String("fileName") == name {
				req.ExistingID = e.ID()
				break
			}
		}
		out = append(out, req)
	}
	return out, nil
}
