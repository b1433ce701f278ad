// Package dynamics talks to the Business Central OData v4 API: it builds
// $batch sub-requests and reads filtered entity collections.
package dynamics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/cleared-dev/bcsync/internal/id"
	"github.com/cleared-dev/bcsync/internal/model"
)

// Client is the transport the sinks depend on.
type Client interface {
	MakeBatchRequest(ctx context.Context, reqs []Request, mode TransactionMode) ([]Response, error)
	GetEntities(ctx context.Context, entityType string, params Params, filters []Filter, expand string) ([]model.Entity, error)
}

// Filter restricts a query to entities whose Field equals one of Values.
// Filters on different fields are issued as separate queries and unioned.
type Filter struct {
	Field  string
	Values []string
}

// maxFilterValues bounds how many "or" terms go into one $filter to keep
// request URLs under the gateway limit.
const maxFilterValues = 15

// DefaultBaseURL returns the API root for a tenant environment.
func DefaultBaseURL(tenantID, environment string) string {
	return fmt.Sprintf("https://api.businesscentral.dynamics.com/v2.0/%s/%s/api/v2.0/", tenantID, environment)
}

// HTTPClient implements Client over net/http. The supplied *http.Client is
// expected to attach bearer credentials.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	log     logrus.FieldLogger
}

// NewHTTPClient creates a client rooted at baseURL.
func NewHTTPClient(baseURL string, hc *http.Client, log logrus.FieldLogger) *HTTPClient {
	if hc == nil {
		hc = &http.Client{Timeout: 120 * time.Second}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/") + "/",
		http:    hc,
		log:     log,
	}
}

// MakeBatchRequest sends reqs as one $batch envelope and returns the
// responses in request order.
func (c *HTTPClient) MakeBatchRequest(ctx context.Context, reqs []Request, mode TransactionMode) ([]Response, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	headers := map[string]string{}
	if mode == Atomic {
		group := "g-" + id.RequestID()
		grouped := make([]Request, len(reqs))
		for i, r := range reqs {
			r.AtomicityGroup = group
			grouped[i] = r
		}
		reqs = grouped
		headers["Isolation"] = "snapshot"
	} else {
		headers["Prefer"] = "odata.continue-on-error"
	}

	payload, err := json.Marshal(map[string]any{"requests": reqs})
	if err != nil {
		return nil, fmt.Errorf("encoding batch: %w", err)
	}
	c.log.WithFields(logrus.Fields{"requests": len(reqs), "mode": mode}).Debug("sending batch")

	body, err := c.do(ctx, http.MethodPost, c.baseURL+"$batch", bytes.NewReader(payload), headers)
	if err != nil {
		return nil, err
	}
	return parseBatch(body, reqs), nil
}

// parseBatch correlates responses to requests by id. Requests with no
// response (skipped after an atomic failure) are reported as 424.
func parseBatch(body []byte, reqs []Request) []Response {
	byID := make(map[string]Response)
	var positional []Response
	gjson.GetBytes(body, "responses").ForEach(func(_, v gjson.Result) bool {
		r := Response{
			ID:     v.Get("id").String(),
			Status: int(v.Get("status").Int()),
		}
		if b := v.Get("body"); b.Exists() {
			r.Body = json.RawMessage(b.Raw)
		}
		if r.ID != "" {
			byID[r.ID] = r
		}
		positional = append(positional, r)
		return true
	})

	out := make([]Response, len(reqs))
	for i, req := range reqs {
		if r, ok := byID[req.ID]; ok {
			out[i] = r
			continue
		}
		if len(byID) == 0 && i < len(positional) {
			out[i] = positional[i]
			out[i].ID = req.ID
			continue
		}
		out[i] = Response{ID: req.ID, Status: http.StatusFailedDependency}
	}
	return out
}

// GetEntities reads a collection, one query per filter field and chunk of
// values, following @odata.nextLink. Results are unioned by id.
func (c *HTTPClient) GetEntities(ctx context.Context, entityType string, params Params, filters []Filter, expand string) ([]model.Entity, error) {
	path, err := Path(entityType, params)
	if err != nil {
		return nil, err
	}

	var queries []url.Values
	for _, f := range filters {
		for _, expr := range FilterExpressions(f) {
			q := url.Values{}
			q.Set("$filter", expr)
			queries = append(queries, q)
		}
	}
	if len(filters) == 0 {
		queries = append(queries, url.Values{})
	}

	var out []model.Entity
	seen := make(map[string]bool)
	for _, q := range queries {
		if expand != "" {
			q.Set("$expand", expand)
		}
		next := c.baseURL + path
		if len(q) > 0 {
			next += "?" + encodeQuery(q)
		}
		for next != "" {
			body, err := c.do(ctx, http.MethodGet, next, nil, nil)
			if err != nil {
				return nil, fmt.Errorf("fetching %s: %w", entityType, err)
			}
			var decodeErr error
			gjson.GetBytes(body, "value").ForEach(func(_, v gjson.Result) bool {
				e, err := decodeEntity([]byte(v.Raw))
				if err != nil {
					decodeErr = err
					return false
				}
				if eid := e.ID(); eid != "" {
					if seen[eid] {
						return true
					}
					seen[eid] = true
				}
				out = append(out, e)
				return true
			})
			if decodeErr != nil {
				return nil, fmt.Errorf("decoding %s: %w", entityType, decodeErr)
			}
			next = gjson.GetBytes(body, `@odata\.nextLink`).String()
		}
	}
	return out, nil
}

// FilterExpressions renders "field eq 'a' or field eq 'b'" expressions, at
// most maxFilterValues terms each. Quotes inside values are doubled and GUID
// values are left unquoted.
func FilterExpressions(f Filter) []string {
	var exprs []string
	for start := 0; start < len(f.Values); start += maxFilterValues {
		end := min(start+maxFilterValues, len(f.Values))
		terms := make([]string, 0, end-start)
		for _, v := range f.Values[start:end] {
			terms = append(terms, fmt.Sprintf("%s eq %s", f.Field, Literal(v)))
		}
		exprs = append(exprs, strings.Join(terms, " or "))
	}
	return exprs
}

// Literal renders a filter value as an OData literal.
func Literal(v string) string {
	if id.IsGUID(v) {
		return v
	}
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

// encodeQuery keeps "$" literal in parameter names, which url.Values.Encode
// would escape.
func encodeQuery(q url.Values) string {
	parts := make([]string, 0, len(q))
	for _, k := range []string{"$filter", "$expand"} {
		if v := q.Get(k); v != "" {
			parts = append(parts, k+"="+url.QueryEscape(v))
		}
	}
	return strings.Join(parts, "&")
}

func (c *HTTPClient) do(ctx context.Context, method, target string, body io.Reader, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := gjson.GetBytes(data, "error.message").String()
		if msg == "" {
			msg = strings.TrimSpace(string(data))
		}
		return nil, fmt.Errorf("dynamics api error %d: %s", resp.StatusCode, msg)
	}
	return data, nil
}

func decodeEntity(data []byte) (model.Entity, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var e model.Entity
	if err := dec.Decode(&e); err != nil {
		return nil, err
	}
	return e, nil
}
