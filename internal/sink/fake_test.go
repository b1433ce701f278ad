package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/cleared-dev/bcsync/internal/dimension"
	"github.com/cleared-dev/bcsync/internal/dynamics"
	"github.com/cleared-dev/bcsync/internal/mapper"
	"github.com/cleared-dev/bcsync/internal/model"
	"github.com/cleared-dev/bcsync/internal/refdata"
)

type batchCall struct {
	Requests []dynamics.Request
	Mode     dynamics.TransactionMode
}

type getCall struct {
	EntityType string
	Params     dynamics.Params
	Filters    []dynamics.Filter
	Expand     string
}

// fakeClient answers writes with plausible statuses and reads from an
// in-memory entity table. Created entities become readable with the body
// they were posted with.
type fakeClient struct {
	entities map[string][]model.Entity
	// fail returns a non-zero status for a sub-request that should fail.
	fail func(r dynamics.Request) int
	// onCreate lets a test add the fields the server fills in on create.
	onCreate func(collection string, created model.Entity)
	// getErr and batchErr fail whole calls, as an unreachable service does.
	getErr   error
	batchErr error
	batches  []batchCall
	gets     []getCall
	next     int
}

func newFakeClient() *fakeClient {
	return &fakeClient{entities: map[string][]model.Entity{}}
}

const rejected = `{"error":{"code":"BadRequest","message":"rejected by server"}}`

func (f *fakeClient) MakeBatchRequest(_ context.Context, reqs []dynamics.Request, mode dynamics.TransactionMode) ([]dynamics.Response, error) {
	f.batches = append(f.batches, batchCall{Requests: reqs, Mode: mode})
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	out := make([]dynamics.Response, len(reqs))
	failed := false
	for i, r := range reqs {
		if f.fail != nil {
			if status := f.fail(r); status != 0 {
				out[i] = dynamics.Response{ID: r.ID, Status: status, Body: json.RawMessage(rejected)}
				failed = true
				continue
			}
		}
		out[i] = f.succeed(r)
	}
	if mode == dynamics.Atomic && failed {
		for i := range out {
			if out[i].OK() {
				out[i] = dynamics.Response{ID: out[i].ID, Status: http.StatusFailedDependency}
			}
		}
	}
	return out, nil
}

func (f *fakeClient) succeed(r dynamics.Request) dynamics.Response {
	switch {
	case r.Method == http.MethodDelete, strings.Contains(r.URL, "/Microsoft.NAV."):
		return dynamics.Response{ID: r.ID, Status: http.StatusNoContent}
	case r.Method == http.MethodPatch:
		return dynamics.Response{ID: r.ID, Status: http.StatusOK, Body: json.RawMessage(`{"id":"patched"}`)}
	}
	f.next++
	newID := fmt.Sprintf("new-%d", f.next)
	collection := r.URL[strings.LastIndex(r.URL, "/")+1:]
	created := model.Entity{}
	if body, ok := r.Body.(map[string]any); ok {
		for k, v := range body {
			created[k] = v
		}
	}
	created["id"] = newID
	if f.onCreate != nil {
		f.onCreate(collection, created)
	}
	f.entities[collection] = append(f.entities[collection], created)
	return dynamics.Response{ID: r.ID, Status: http.StatusCreated, Body: json.RawMessage(fmt.Sprintf(`{"id":%q}`, newID))}
}

func (f *fakeClient) GetEntities(_ context.Context, entityType string, params dynamics.Params, filters []dynamics.Filter, expand string) ([]model.Entity, error) {
	f.gets = append(f.gets, getCall{EntityType: entityType, Params: params, Filters: filters, Expand: expand})
	if f.getErr != nil {
		return nil, f.getErr
	}
	var out []model.Entity
	for _, e := range f.entities[entityType] {
		if len(filters) == 0 {
			out = append(out, e)
			continue
		}
		for _, flt := range filters {
			if slices.Contains(flt.Values, e.String(flt.Field)) {
				out = append(out, e)
				break
			}
		}
	}
	return out, nil
}

// urls flattens every batch into "METHOD url" lines.
func (f *fakeClient) urls() []string {
	var out []string
	for _, b := range f.batches {
		for _, r := range b.Requests {
			out = append(out, r.Method+" "+r.URL)
		}
	}
	return out
}

func testCompany() model.Company {
	return model.Company{
		ID:   "c1",
		Name: "CRONUS USA, Inc.",
		Dimensions: []model.Dimension{
			{ID: "dim-class", Code: "CLASS", DisplayName: "Class", Values: []model.DimensionValue{
				{ID: "v-retail", Code: "RETAIL", DisplayName: "Retail", DimensionID: "dim-class"},
			}},
		},
	}
}

func testStore() *refdata.Store {
	return refdata.NewStore([]model.Company{testCompany()})
}

func testMappers() *mapper.Registry {
	return mapper.DefaultRegistry(mapper.Options{
		Dimensions: func(model.Company) []dimension.FieldMapping {
			return []dimension.FieldMapping{{Field: "class", Code: "CLASS"}}
		},
	})
}

func classRetail() []dimension.Assignment {
	return []dimension.Assignment{{DimensionID: "dim-class", DimensionCode: "CLASS", ValueID: "v-retail", ValueCode: "RETAIL"}}
}
