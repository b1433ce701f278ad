package mapper

import (
	"github.com/cleared-dev/bcsync/internal/model"
	"github.com/cleared-dev/bcsync/internal/refdata"
)

// base carries what every top-level mapper shares: company resolution, the
// existing-record strategy and the static field table.
type base struct {
	stream     string
	entityType string
	matcher    Matcher
	fields     []FieldMap
	opts       Options
}

func (b base) Stream() string {
	return b.stream
}

// begin resolves the company and existing record and projects the static
// and configured fields.
func (b base) begin(rec model.Record, ref *refdata.Store) (*WriteRequest, error) {
	company, err := ResolveCompany(rec, ref)
	if err != nil {
		return nil, err
	}
	w := &WriteRequest{
		Stream:     b.stream,
		EntityType: b.entityType,
		Company:    company,
		Fields:     make(map[string]any),
		Source:     rec,
	}
	if b.matcher != nil {
		existing, err := b.matcher.FindExisting(rec, ref.Entities(b.entityType, company.ID))
		if err != nil {
			return nil, err
		}
		if existing != nil {
			w.Existing = existing
			w.ExistingID = existing.ID()
		}
	}
	b.project(rec, company, w.Fields)
	return w, nil
}

func (b base) project(rec model.Record, company *model.Company, out map[string]any) {
	MapFields(rec, b.fields, out)
	MapFields(rec, b.opts.fieldsFor(company, b.stream), out)
}

// mapCurrency sets currencyId and currencyCode. An unknown currency code is
// passed through on its own so the remote side can decide.
func mapCurrency(rec model.Record, company *model.Company, out map[string]any) {
	ref := Ref{Name: "currency", IDField: "currencyId", CodeField: "currency", NameField: "currencyName"}
	cur, ok, _ := ResolveKeyed(rec, company.Currencies, ref)
	switch {
	case ok:
		out["currencyId"] = cur.ID
		out["currencyCode"] = cur.Code
	case rec.String("currency") != "":
		out["currencyCode"] = rec.String("currency")
	}
}

func mapPaymentMethod(rec model.Record, company *model.Company, out map[string]any) {
	ref := Ref{Name: "payment method", IDField: "paymentMethodId", CodeField: "paymentMethod", NameField: "paymentMethodName"}
	pm, ok, _ := ResolveKeyed(rec, company.PaymentMethods, ref)
	if ok {
		out["paymentMethodId"] = pm.ID
	}
}
