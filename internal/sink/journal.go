package sink

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/cleared-dev/bcsync/internal/dimension"
	"github.com/cleared-dev/bcsync/internal/dynamics"
	"github.com/cleared-dev/bcsync/internal/mapper"
	"github.com/cleared-dev/bcsync/internal/model"
	"github.com/cleared-dev/bcsync/internal/refdata"
	"github.com/cleared-dev/bcsync/internal/syncerr"
)

type journalEntrySink struct {
	Deps
}

// NewJournalEntrySink writes the JournalEntries stream. A journal is created
// in one deep insert together with its lines, then posted and removed in one
// atomic envelope unless it is a draft.
func NewJournalEntrySink(d Deps) Sink {
	return &journalEntrySink{Deps: d.guarded()}
}

func (s *journalEntrySink) Stream() string { return "JournalEntries" }

func (s *journalEntrySink) Preprocess(ctx context.Context, records []model.Record, ref *refdata.Store) (*refdata.Store, error) {
	return fetch(ctx, s.Client, ref, records, prefetch{
		EntityType: "journals",
		Keys:       []lookupKey{{RecordField: "externalId", RemoteField: "displayName"}},
	})
}

func (s *journalEntrySink) Submit(ctx context.Context, reqs []*mapper.WriteRequest) []Result {
	out := make([]Result, len(reqs))
	for i, w := range reqs {
		out[i] = s.submitOne(ctx, w)
	}
	return out
}

func (s *journalEntrySink) submitOne(ctx context.Context, w *mapper.WriteRequest) Result {
	if w.IsUpdate() {
		return Result{Err: syncerr.New(syncerr.KindDuplicatedRecord,
			"journal %q already exists as %s", w.Fields["displayName"], w.ExistingID)}
	}
	company := w.Company.ID
	params := dynamics.CompanyParams(company)

	create, err := dynamics.UpsertRequest("journals", params, "", journalBody(w), "")
	if err != nil {
		return Result{Err: err}
	}
	resps, err := send(ctx, s.Client, []dynamics.Request{create}, dynamics.NonAtomic)
	if err != nil {
		return Result{Err: err}
	}
	if err := expectStatus(resps[0], http.StatusCreated); err != nil {
		return Result{Err: err}
	}
	journalID, err := entityID(resps[0])
	if err != nil {
		return Result{Err: err}
	}
	if w.Draft {
		return Result{ID: journalID}
	}

	if err := s.postAndRemove(ctx, params, journalID); err != nil {
		log := s.logger().WithFields(logrus.Fields{"stream": "JournalEntries", "company": company, "remote_id": journalID})
		del, derr := dynamics.DeleteRequest("journals", params, journalID)
		if derr == nil {
			_, derr = send(ctx, s.Client, []dynamics.Request{del}, dynamics.NonAtomic)
		}
		if derr != nil {
			log.WithError(derr).Warn("could not delete unposted journal")
		}
		return Result{Err: fmt.Errorf("posting journal: %w", err)}
	}
	return Result{ID: journalID}
}

// postAndRemove posts the journal and deletes the then empty batch in one
// atomic envelope. Both must answer 204.
func (s *journalEntrySink) postAndRemove(ctx context.Context, params dynamics.Params, journalID string) error {
	post, err := dynamics.ActionRequest("journals", params, journalID, "post")
	if err != nil {
		return err
	}
	del, err := dynamics.DeleteRequest("journals", params, journalID)
	if err != nil {
		return err
	}
	resps, err := s.Client.MakeBatchRequest(ctx, []dynamics.Request{post, del}, dynamics.Atomic)
	if err != nil {
		return err
	}
	if len(resps) < 2 {
		return errNoResponse
	}
	if err := firstFailure(resps); err != nil {
		return err
	}
	for _, r := range resps {
		if err := expectStatus(r, http.StatusNoContent); err != nil {
			return err
		}
	}
	return nil
}

// journalBody renders the deep insert: journal, lines, and line dimension
// set lines.
func journalBody(w *mapper.WriteRequest) map[string]any {
	body := cloneFields(w.Fields)
	lines := make([]map[string]any, 0, len(w.Lines))
	for _, l := range w.Lines {
		line := cloneFields(l.Fields)
		if len(l.Dimensions) > 0 {
			line["dimensionSetLines"] = setLines(l.Dimensions)
		}
		lines = append(lines, line)
	}
	body["journalLines"] = lines
	return body
}

func setLines(as []dimension.Assignment) []map[string]any {
	out := make([]map[string]any, 0, len(as))
	for _, a := range as {
		out = append(out, map[string]any{"id": a.DimensionID, "valueId": a.ValueID})
	}
	return out
}
