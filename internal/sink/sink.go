// Package sink writes mapped records to Business Central. Each stream has a
// Sink that knows which remote state to prefetch and how to decompose a
// WriteRequest into ordered $batch sub-requests.
package sink

import (
	"context"
	"errors"
	"maps"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/cleared-dev/bcsync/internal/dynamics"
	"github.com/cleared-dev/bcsync/internal/mapper"
	"github.com/cleared-dev/bcsync/internal/model"
	"github.com/cleared-dev/bcsync/internal/refdata"
	"github.com/cleared-dev/bcsync/internal/syncerr"
)

// MaxBatchRequests is the service limit on sub-requests per $batch.
const MaxBatchRequests = 100

var errNoResponse = errors.New("batch returned no response for request")

// Result is the outcome of submitting one WriteRequest.
type Result struct {
	ID        string
	IsUpdated bool
	Err       error
}

// Sink writes one stream.
type Sink interface {
	Stream() string
	// Preprocess fetches the remote records the batch may match against and
	// returns ref extended with them.
	Preprocess(ctx context.Context, records []model.Record, ref *refdata.Store) (*refdata.Store, error)
	// Submit writes reqs and returns one Result per request, in order.
	Submit(ctx context.Context, reqs []*mapper.WriteRequest) []Result
}

// Deps are shared by every sink.
type Deps struct {
	Client dynamics.Client
	Log    logrus.FieldLogger
	// BatchSize caps sub-requests per $batch envelope.
	BatchSize int
}

func (d Deps) batchSize() int {
	if d.BatchSize <= 0 || d.BatchSize > MaxBatchRequests {
		return MaxBatchRequests
	}
	return d.BatchSize
}

func (d Deps) logger() logrus.FieldLogger {
	if d.Log == nil {
		return logrus.StandardLogger()
	}
	return d.Log
}

// Registry holds sinks by stream name.
type Registry struct {
	sinks map[string]Sink
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sinks: make(map[string]Sink)}
}

// Register adds a sink. Panics on duplicate stream.
func (r *Registry) Register(s Sink) {
	key := strings.ToLower(s.Stream())
	if _, ok := r.sinks[key]; ok {
		panic("duplicate sink stream: " + key)
	}
	r.sinks[key] = s
}

// Get returns the sink for stream, or nil.
func (r *Registry) Get(stream string) Sink {
	return r.sinks[strings.ToLower(stream)]
}

// DefaultRegistry returns a registry with every built-in sink.
func DefaultRegistry(d Deps) *Registry {
	r := NewRegistry()
	r.Register(NewCustomerSink(d))
	r.Register(NewVendorSink(d))
	r.Register(NewItemSink(d))
	r.Register(NewBillSink(d))
	r.Register(NewBillPaymentSink(d))
	r.Register(NewJournalEntrySink(d))
	return r
}

// send runs reqs as one envelope and fails when the envelope itself fails
// or any sub-request is not 2xx.
func send(ctx context.Context, c dynamics.Client, reqs []dynamics.Request, mode dynamics.TransactionMode) ([]dynamics.Response, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	resps, err := c.MakeBatchRequest(ctx, reqs, mode)
	if err != nil {
		return nil, err
	}
	if err := firstFailure(resps); err != nil {
		return resps, err
	}
	if len(resps) < len(reqs) {
		return resps, errNoResponse
	}
	return resps, nil
}

// sendChunked sends reqs in non-atomic envelopes of at most batchSize and
// returns all responses in order.
func (d Deps) sendChunked(ctx context.Context, reqs []dynamics.Request) ([]dynamics.Response, error) {
	var out []dynamics.Response
	for start := 0; start < len(reqs); start += d.batchSize() {
		end := min(start+d.batchSize(), len(reqs))
		resps, err := send(ctx, d.Client, reqs[start:end], dynamics.NonAtomic)
		if err != nil {
			return nil, err
		}
		out = append(out, resps...)
	}
	return out, nil
}

// firstFailure returns the error of the first failed sub-request. A 424 only
// says another request in the group failed, so a real cause is preferred.
func firstFailure(resps []dynamics.Response) error {
	var dependent error
	for _, r := range resps {
		if r.OK() {
			continue
		}
		if r.Status == http.StatusFailedDependency {
			if dependent == nil {
				dependent = r.Err()
			}
			continue
		}
		return r.Err()
	}
	return dependent
}

// entityID extracts the id from a write response body.
func entityID(r dynamics.Response) (string, error) {
	e, err := r.Entity()
	if err != nil {
		return "", err
	}
	if e.ID() == "" {
		return "", syncerr.Remote(r.Status, "response carries no id", string(r.Body))
	}
	return e.ID(), nil
}

// expectStatus checks a sub-request returned exactly want.
func expectStatus(r dynamics.Response, want int) error {
	if !r.OK() {
		return r.Err()
	}
	if r.Status != want {
		return syncerr.Remote(r.Status, "unexpected status, want "+http.StatusText(want), string(r.Body))
	}
	return nil
}

// failAll gives every request the same error.
func failAll(n int, err error) []Result {
	out := make([]Result, n)
	for i := range out {
		out[i] = Result{Err: err}
	}
	return out
}

// cloneFields copies a request body so it can be extended.
func cloneFields(fields map[string]any) map[string]any {
	out := maps.Clone(fields)
	if out == nil {
		out = map[string]any{}
	}
	return out
}
