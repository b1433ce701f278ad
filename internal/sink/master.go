package sink

import (
	"context"
	"net/http"

	"github.com/cleared-dev/bcsync/internal/dynamics"
	"github.com/cleared-dev/bcsync/internal/mapper"
	"github.com/cleared-dev/bcsync/internal/model"
	"github.com/cleared-dev/bcsync/internal/refdata"
)

// masterSink writes master records (customers, vendors, items) together
// with their default dimensions.
type masterSink struct {
	Deps
	stream        string
	entityType    string
	dimensionType string
	prefetch      prefetch
	// atomic puts each record in its own atomicity group. Otherwise all
	// records share non-atomic envelopes.
	atomic bool
}

// NewCustomerSink writes the Customers stream, one atomic group per record.
func NewCustomerSink(d Deps) Sink {
	return &masterSink{
		Deps:          d.guarded(),
		stream:        "Customers",
		entityType:    "customers",
		dimensionType: "customerDefaultDimensions",
		atomic:        true,
		prefetch: prefetch{
			EntityType: "customers",
			Expand:     "defaultDimensions",
			Keys: []lookupKey{
				{RecordField: "id", RemoteField: "id"},
				{RecordField: "customerNumber", RemoteField: "number"},
			},
		},
	}
}

// NewVendorSink writes the Vendors stream, one atomic group per record.
func NewVendorSink(d Deps) Sink {
	return &masterSink{
		Deps:          d.guarded(),
		stream:        "Vendors",
		entityType:    "vendors",
		dimensionType: "vendorDefaultDimensions",
		atomic:        true,
		prefetch: prefetch{
			EntityType: "vendors",
			Expand:     "defaultDimensions",
			Keys: []lookupKey{
				{RecordField: "id", RemoteField: "id"},
				{RecordField: "vendorNumber", RemoteField: "number"},
			},
		},
	}
}

// NewItemSink writes the Items stream in shared non-atomic envelopes.
func NewItemSink(d Deps) Sink {
	return &masterSink{
		Deps:          d.guarded(),
		stream:        "Items",
		entityType:    "items",
		dimensionType: "itemDefaultDimensions",
		prefetch: prefetch{
			EntityType: "items",
			Expand:     "defaultDimensions",
			Keys: []lookupKey{
				{RecordField: "id", RemoteField: "id"},
				{RecordField: "itemNumber", RemoteField: "number"},
				{RecordField: "displayName", RemoteField: "displayName"},
			},
		},
	}
}

func (s *masterSink) Stream() string { return s.stream }

func (s *masterSink) Preprocess(ctx context.Context, records []model.Record, ref *refdata.Store) (*refdata.Store, error) {
	return fetch(ctx, s.Client, ref, records, s.prefetch)
}

// requests decomposes w. The first request is always the record itself.
func (s *masterSink) requests(w *mapper.WriteRequest) ([]dynamics.Request, error) {
	params := dynamics.CompanyParams(w.Company.ID)
	if !w.IsUpdate() {
		body := cloneFields(w.Fields)
		if len(w.Dimensions) > 0 {
			body["defaultDimensions"] = dynamics.InlineDefaultDimensions(w.Dimensions)
		}
		r, err := dynamics.UpsertRequest(s.entityType, params, "", body, "")
		if err != nil {
			return nil, err
		}
		return []dynamics.Request{r}, nil
	}

	r, err := dynamics.UpsertRequest(s.entityType, params, w.ExistingID, w.Fields, "")
	if err != nil {
		return nil, err
	}
	dims, err := dynamics.DimensionRequests(s.dimensionType,
		dynamics.ChildParams(w.Company.ID, w.ExistingID), dynamics.DefaultDimensions, w.Dimensions)
	if err != nil {
		return nil, err
	}
	return append([]dynamics.Request{r}, dims...), nil
}

// result reads the outcome of one record's request group.
func result(w *mapper.WriteRequest, resps []dynamics.Response) Result {
	if err := firstFailure(resps); err != nil {
		return Result{Err: err}
	}
	if len(resps) == 0 {
		return Result{Err: errNoResponse}
	}
	parent := resps[0]
	if w.IsUpdate() {
		return Result{ID: w.ExistingID, IsUpdated: parent.Status == http.StatusOK}
	}
	id, err := entityID(parent)
	if err != nil {
		return Result{Err: err}
	}
	return Result{ID: id, IsUpdated: parent.Status == http.StatusOK}
}

func (s *masterSink) Submit(ctx context.Context, reqs []*mapper.WriteRequest) []Result {
	if s.atomic {
		return s.submitAtomic(ctx, reqs)
	}
	return s.submitShared(ctx, reqs)
}

func (s *masterSink) submitAtomic(ctx context.Context, reqs []*mapper.WriteRequest) []Result {
	out := make([]Result, len(reqs))
	for i, w := range reqs {
		group, err := s.requests(w)
		if err != nil {
			out[i] = Result{Err: err}
			continue
		}
		resps, err := s.Client.MakeBatchRequest(ctx, group, dynamics.Atomic)
		if err != nil {
			out[i] = Result{Err: err}
			continue
		}
		out[i] = result(w, resps)
	}
	return out
}

// submitShared packs whole record groups into envelopes of at most
// batchSize sub-requests.
func (s *masterSink) submitShared(ctx context.Context, reqs []*mapper.WriteRequest) []Result {
	out := make([]Result, len(reqs))
	type span struct{ index, start, n int }

	var (
		envelope []dynamics.Request
		spans    []span
	)
	flush := func() {
		if len(envelope) == 0 {
			return
		}
		resps, err := s.Client.MakeBatchRequest(ctx, envelope, dynamics.NonAtomic)
		for _, sp := range spans {
			switch {
			case err != nil:
				out[sp.index] = Result{Err: err}
			case sp.start+sp.n > len(resps):
				out[sp.index] = Result{Err: errNoResponse}
			default:
				out[sp.index] = result(reqs[sp.index], resps[sp.start:sp.start+sp.n])
			}
		}
		envelope, spans = nil, nil
	}

	for i, w := range reqs {
		group, err := s.requests(w)
		if err != nil {
			out[i] = Result{Err: err}
			continue
		}
		if len(envelope)+len(group) > s.batchSize() {
			flush()
		}
		spans = append(spans, span{index: i, start: len(envelope), n: len(group)})
		envelope = append(envelope, group...)
	}
	flush()
	return out
}
