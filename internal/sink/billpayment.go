package sink

import (
	"context"
	"fmt"
	"maps"

	"github.com/sirupsen/logrus"

	"github.com/cleared-dev/bcsync/internal/dimension"
	"github.com/cleared-dev/bcsync/internal/dynamics"
	"github.com/cleared-dev/bcsync/internal/mapper"
	"github.com/cleared-dev/bcsync/internal/model"
	"github.com/cleared-dev/bcsync/internal/refdata"
	"github.com/cleared-dev/bcsync/internal/syncerr"
)

type billPaymentSink struct {
	Deps
}

// NewBillPaymentSink writes the BillPayments stream as vendor payments in a
// payment journal.
func NewBillPaymentSink(d Deps) Sink {
	return &billPaymentSink{Deps: d.guarded()}
}

func (s *billPaymentSink) Stream() string { return "BillPayments" }

// Preprocess loads payment journals, then the payments of every journal the
// batch could refer to. Payments are tagged with their journalId so the
// matcher can scope candidates to one journal.
func (s *billPaymentSink) Preprocess(ctx context.Context, records []model.Record, ref *refdata.Store) (*refdata.Store, error) {
	ref, err := fetch(ctx, s.Client, ref, records,
		vendorLookup,
		prefetch{
			EntityType: "purchaseInvoices",
			Keys: []lookupKey{
				{RecordField: "billId", RemoteField: "id"},
				{RecordField: "billNumber", RemoteField: "vendorInvoiceNumber"},
				{RecordField: "billExternalId", RemoteField: "vendorInvoiceNumber"},
			},
		},
	)
	if err != nil {
		return nil, err
	}

	payments := prefetch{
		EntityType: "vendorPayments",
		Expand:     "dimensionSetLines",
		Keys: []lookupKey{
			{RecordField: "id", RemoteField: "id"},
			{RecordField: "paymentNumber", RemoteField: "documentNumber"},
		},
	}
	order, groups := byCompany(records, ref)
	for _, companyID := range order {
		journals, err := s.Client.GetEntities(ctx, "vendorPaymentJournals", dynamics.CompanyParams(companyID), nil, "")
		if err != nil {
			return nil, fmt.Errorf("fetching payment journals for company %s: %w", companyID, err)
		}
		ref = ref.With("vendorPaymentJournals", companyID, journals)

		filters := payments.filters(groups[companyID])
		if len(filters) == 0 {
			continue
		}
		for _, j := range referencedJournals(groups[companyID], journals) {
			found, err := s.Client.GetEntities(ctx, payments.EntityType,
				dynamics.ChildParams(companyID, j.ID()), filters, payments.Expand)
			if err != nil {
				return nil, fmt.Errorf("fetching payments of journal %s: %w", j.String("code"), err)
			}
			tagged := make([]model.Entity, len(found))
			for i, p := range found {
				p = maps.Clone(p)
				p["journalId"] = j.ID()
				tagged[i] = p
			}
			ref = ref.With(payments.EntityType, companyID, tagged)
		}
	}
	return ref, nil
}

// referencedJournals returns the journals named by any record, by id, code
// or display name.
func referencedJournals(records []model.Record, journals []model.Entity) []model.Entity {
	var out []model.Entity
	for _, j := range journals {
		for _, rec := range records {
			if rec.String("journalId") == j.ID() ||
				(rec.Has("journalExternalId") && rec.String("journalExternalId") == j.String("code")) ||
				(rec.Has("journalName") && rec.String("journalName") == j.String("displayName")) {
				out = append(out, j)
				break
			}
		}
	}
	return out
}

func (s *billPaymentSink) Submit(ctx context.Context, reqs []*mapper.WriteRequest) []Result {
	out := make([]Result, len(reqs))
	for i, w := range reqs {
		out[i] = s.submitOne(ctx, w)
	}
	return out
}

func (s *billPaymentSink) submitOne(ctx context.Context, w *mapper.WriteRequest) Result {
	company := w.Company.ID
	journal := dynamics.ChildParams(company, w.ParentID)

	r, err := dynamics.UpsertRequest("vendorPayments", journal, w.ExistingID, w.Fields, "")
	if err != nil {
		return Result{Err: err}
	}
	resps, err := send(ctx, s.Client, []dynamics.Request{r}, dynamics.NonAtomic)
	if err != nil {
		return Result{Err: err}
	}
	paymentID := w.ExistingID
	if paymentID == "" {
		if paymentID, err = entityID(resps[0]); err != nil {
			return Result{Err: err}
		}
	}
	if len(w.Dimensions) == 0 {
		return Result{ID: paymentID, IsUpdated: w.IsUpdate()}
	}

	dims, err := s.currentDimensions(ctx, journal, paymentID, w.Dimensions)
	if err == nil {
		params := dynamics.Params{"companyId": company, "journalId": w.ParentID, "parentId": paymentID}
		var dimReqs []dynamics.Request
		dimReqs, err = dynamics.DimensionRequests("vendorPaymentDimensionSetLines", params, dynamics.SetLines, dims)
		if err == nil {
			_, err = send(ctx, s.Client, dimReqs, dynamics.NonAtomic)
		}
	}
	if err == nil {
		return Result{ID: paymentID, IsUpdated: w.IsUpdate()}
	}
	if w.IsUpdate() {
		return Result{ID: paymentID, IsUpdated: true, Err: fmt.Errorf("payment dimensions: %w", err)}
	}

	log := s.logger().WithFields(logrus.Fields{"stream": "BillPayments", "company": company, "remote_id": paymentID})
	del, derr := dynamics.DeleteRequest("vendorPayments", journal, paymentID)
	if derr == nil {
		_, derr = send(ctx, s.Client, []dynamics.Request{del}, dynamics.NonAtomic)
	}
	if derr != nil {
		log.WithError(derr).Warn("could not delete partially created payment")
	}
	return Result{Err: fmt.Errorf("payment dimensions: %w", err)}
}

// currentDimensions re-reads the payment after it was written. The server
// copies the vendor's default dimensions onto a new payment, and those set
// lines have to be patched rather than posted again.
func (s *billPaymentSink) currentDimensions(ctx context.Context, journal dynamics.Params, paymentID string, dims []dimension.Assignment) ([]dimension.Assignment, error) {
	found, err := s.Client.GetEntities(ctx, "vendorPayments", journal,
		[]dynamics.Filter{{Field: "id", Values: []string{paymentID}}}, "dimensionSetLines")
	if err != nil {
		return nil, fmt.Errorf("re-reading payment %s: %w", paymentID, err)
	}
	if len(found) == 0 {
		return nil, syncerr.New(syncerr.KindRecordNotFound, "payment %s vanished after write", paymentID)
	}
	return dimension.WithExisting(dims, found[0].Children("dimensionSetLines")), nil
}
