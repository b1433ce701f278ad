package sink

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/cleared-dev/bcsync/internal/dimension"
	"github.com/cleared-dev/bcsync/internal/dynamics"
	"github.com/cleared-dev/bcsync/internal/id"
	"github.com/cleared-dev/bcsync/internal/mapper"
	"github.com/cleared-dev/bcsync/internal/model"
	"github.com/cleared-dev/bcsync/internal/refdata"
	"github.com/cleared-dev/bcsync/internal/syncerr"
)

const (
	billExpandHeader = "dimensionSetLines"
	billExpandLines  = "dimensionSetLines,purchaseInvoiceLines($expand=dimensionSetLines)"
	billExpandFull   = billExpandLines + ",attachments"
)

var vendorLookup = prefetch{
	EntityType: "vendors",
	Keys: []lookupKey{
		{RecordField: "vendorId", RemoteField: "id"},
		{RecordField: "vendorNumber", RemoteField: "number"},
		{RecordField: "vendorName", RemoteField: "displayName"},
	},
}

type billSink struct {
	Deps
}

// NewBillSink writes the Bills stream. Each bill is a sequence of dependent
// envelopes: header, header dimensions, lines, line corrections, line
// dimensions, attachments, and finally the post action.
func NewBillSink(d Deps) Sink {
	return &billSink{Deps: d.guarded()}
}

func (s *billSink) Stream() string { return "Bills" }

func (s *billSink) Preprocess(ctx context.Context, records []model.Record, ref *refdata.Store) (*refdata.Store, error) {
	return fetch(ctx, s.Client, ref, records,
		prefetch{
			EntityType: "purchaseInvoices",
			Expand:     billExpandFull,
			Keys: []lookupKey{
				{RecordField: "id", RemoteField: "id"},
				{RecordField: "transactionNumber", RemoteField: "number"},
				{RecordField: "billNumber", RemoteField: "vendorInvoiceNumber"},
				{RecordField: "externalId", RemoteField: "vendorInvoiceNumber"},
			},
		},
		vendorLookup,
		prefetch{
			EntityType: "items",
			Keys: []lookupKey{
				{RecordField: "itemId", RemoteField: "id", Nested: "lineItems"},
				{RecordField: "itemExternalId", RemoteField: "number", Nested: "lineItems"},
				{RecordField: "itemName", RemoteField: "displayName", Nested: "lineItems"},
			},
		},
	)
}

func (s *billSink) Submit(ctx context.Context, reqs []*mapper.WriteRequest) []Result {
	out := make([]Result, len(reqs))
	for i, w := range reqs {
		out[i] = s.submitOne(ctx, w)
	}
	return out
}

func (s *billSink) submitOne(ctx context.Context, w *mapper.WriteRequest) Result {
	company := w.Company.ID
	log := s.logger().WithFields(logrus.Fields{"stream": "Bills", "company": company})

	// Checked here rather than while mapping so that resubmitting a bill that
	// has since been posted is still recognised as already written.
	if w.IsUpdate() && w.Existing.String("status") != "Draft" {
		return Result{Err: syncerr.New(syncerr.KindInvalidRecordState,
			"bill %s is %q; only Draft bills can be updated", w.ExistingID, w.Existing.String("status"))}
	}

	header, err := dynamics.UpsertRequest("purchaseInvoices", dynamics.CompanyParams(company), w.ExistingID, w.Fields, "")
	if err != nil {
		return Result{Err: err}
	}
	resps, err := send(ctx, s.Client, []dynamics.Request{header}, dynamics.NonAtomic)
	if err != nil {
		return Result{Err: err}
	}
	billID := w.ExistingID
	if billID == "" {
		if billID, err = entityID(resps[0]); err != nil {
			return Result{Err: err}
		}
	}
	log = log.WithField("remote_id", billID)

	if err := s.writeBody(ctx, w, billID); err != nil {
		if w.IsUpdate() {
			// Updates are left as far as they got; the bill is still a draft.
			return Result{ID: billID, IsUpdated: true, Err: err}
		}
		s.compensate(ctx, log, company, billID)
		return Result{Err: err}
	}
	return Result{ID: billID, IsUpdated: w.IsUpdate()}
}

// writeBody runs every step after the header has been written.
func (s *billSink) writeBody(ctx context.Context, w *mapper.WriteRequest, billID string) error {
	company := w.Company.ID
	child := dynamics.ChildParams(company, billID)

	if len(w.Dimensions) > 0 {
		bill, err := s.refetch(ctx, company, billID, billExpandHeader)
		if err != nil {
			return err
		}
		dims := dimension.WithExisting(w.Dimensions, bill.Children("dimensionSetLines"))
		reqs, err := dynamics.DimensionRequests("purchaseInvoiceDimensionSetLines", child, dynamics.SetLines, dims)
		if err != nil {
			return err
		}
		if _, err := send(ctx, s.Client, reqs, dynamics.NonAtomic); err != nil {
			return fmt.Errorf("bill dimensions: %w", err)
		}
	}

	lineIDs, err := s.writeLines(ctx, w, child)
	if err != nil {
		return err
	}
	if err := s.writeLineDimensions(ctx, w, billID, lineIDs); err != nil {
		return err
	}
	if err := s.writeAttachments(ctx, w, billID); err != nil {
		return err
	}

	if w.Draft {
		return nil
	}
	post, err := dynamics.ActionRequest("purchaseInvoices", dynamics.CompanyParams(company), billID, "post")
	if err != nil {
		return err
	}
	resps, err := s.Client.MakeBatchRequest(ctx, []dynamics.Request{post}, dynamics.NonAtomic)
	if err != nil {
		return err
	}
	if len(resps) == 0 {
		return errNoResponse
	}
	if err := expectStatus(resps[0], http.StatusNoContent); err != nil {
		return fmt.Errorf("posting bill: %w", err)
	}
	return nil
}

// writeLines upserts all lines in one envelope, then re-applies corrective
// values the server overwrote. It returns the remote id of every line.
func (s *billSink) writeLines(ctx context.Context, w *mapper.WriteRequest, child dynamics.Params) ([]string, error) {
	if len(w.Lines) == 0 {
		return nil, nil
	}
	reqs := make([]dynamics.Request, 0, len(w.Lines))
	for i, l := range w.Lines {
		reqID := l.ExistingID
		if reqID == "" {
			reqID = id.TempLineID(i)
		}
		r, err := dynamics.UpsertRequest("purchaseInvoiceLines", child, l.ExistingID, l.Fields, reqID)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, r)
	}
	resps, err := s.sendChunked(ctx, reqs)
	if err != nil {
		return nil, fmt.Errorf("bill lines: %w", err)
	}

	ids := make([]string, len(w.Lines))
	var corrective []dynamics.Request
	for i, l := range w.Lines {
		ids[i] = l.ExistingID
		if ids[i] == "" {
			if ids[i], err = entityID(resps[i]); err != nil {
				return nil, err
			}
		}
		if len(l.Corrective) == 0 {
			continue
		}
		r, err := dynamics.UpsertRequest("purchaseInvoiceLines", child, ids[i], l.Corrective, "")
		if err != nil {
			return nil, err
		}
		corrective = append(corrective, r)
	}
	if _, err := s.sendChunked(ctx, corrective); err != nil {
		return nil, fmt.Errorf("bill line corrections: %w", err)
	}
	return ids, nil
}

func (s *billSink) writeLineDimensions(ctx context.Context, w *mapper.WriteRequest, billID string, lineIDs []string) error {
	hasDims := false
	for _, l := range w.Lines {
		if len(l.Dimensions) > 0 {
			hasDims = true
			break
		}
	}
	if !hasDims {
		return nil
	}

	bill, err := s.refetch(ctx, w.Company.ID, billID, billExpandLines)
	if err != nil {
		return err
	}
	remote := map[string]model.Entity{}
	for _, e := range bill.Children("purchaseInvoiceLines") {
		remote[e.ID()] = e
	}

	var reqs []dynamics.Request
	for i, l := range w.Lines {
		if len(l.Dimensions) == 0 {
			continue
		}
		dims := dimension.WithExisting(l.Dimensions, remote[lineIDs[i]].Children("dimensionSetLines"))
		r, err := dynamics.DimensionRequests("purchaseInvoiceLineDimensionSetLines",
			dynamics.ChildParams(w.Company.ID, lineIDs[i]), dynamics.SetLines, dims)
		if err != nil {
			return err
		}
		reqs = append(reqs, r...)
	}
	if _, err := s.sendChunked(ctx, reqs); err != nil {
		return fmt.Errorf("bill line dimensions: %w", err)
	}
	return nil
}

// writeAttachments creates attachment records that do not exist yet, then
// uploads the content of every attachment.
func (s *billSink) writeAttachments(ctx context.Context, w *mapper.WriteRequest, billID string) error {
	if len(w.Attachments) == 0 {
		return nil
	}
	params := dynamics.CompanyParams(w.Company.ID)
	ids := make([]string, len(w.Attachments))
	var (
		creates []dynamics.Request
		pending []int
	)
	for i, a := range w.Attachments {
		ids[i] = a.ExistingID
		if a.ExistingID != "" {
			continue
		}
		r, err := dynamics.UpsertRequest("attachments", params, "", map[string]any{
			"parentId":   billID,
			"fileName":   a.FileName,
			"parentType": "Purchase Invoice",
		}, "")
		if err != nil {
			return err
		}
		creates = append(creates, r)
		pending = append(pending, i)
	}
	resps, err := s.sendChunked(ctx, creates)
	if err != nil {
		return fmt.Errorf("bill attachments: %w", err)
	}
	for j, i := range pending {
		if ids[i], err = entityID(resps[j]); err != nil {
			return err
		}
	}

	uploads := make([]dynamics.Request, 0, len(w.Attachments))
	for i, a := range w.Attachments {
		r, err := dynamics.ContentRequest("attachments", params, ids[i], "attachmentContent", a.Content)
		if err != nil {
			return err
		}
		uploads = append(uploads, r)
	}
	if _, err := s.sendChunked(ctx, uploads); err != nil {
		return fmt.Errorf("bill attachment content: %w", err)
	}
	return nil
}

// refetch reads the bill back with the given expansion.
func (s *billSink) refetch(ctx context.Context, companyID, billID, expand string) (model.Entity, error) {
	found, err := s.Client.GetEntities(ctx, "purchaseInvoices", dynamics.CompanyParams(companyID),
		[]dynamics.Filter{{Field: "id", Values: []string{billID}}}, expand)
	if err != nil {
		return nil, fmt.Errorf("re-reading bill %s: %w", billID, err)
	}
	if len(found) == 0 {
		return nil, syncerr.New(syncerr.KindRecordNotFound, "bill %s vanished after write", billID)
	}
	return found[0], nil
}

// compensate deletes a bill whose creation could not be completed.
func (s *billSink) compensate(ctx context.Context, log logrus.FieldLogger, companyID, billID string) {
	del, err := dynamics.DeleteRequest("purchaseInvoices", dynamics.CompanyParams(companyID), billID)
	if err == nil {
		_, err = send(ctx, s.Client, []dynamics.Request{del}, dynamics.NonAtomic)
	}
	if err != nil {
		log.WithError(err).Warn("could not delete partially created bill")
		return
	}
	log.Info("deleted partially created bill")
}

