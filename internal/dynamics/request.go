package dynamics

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/cleared-dev/bcsync/internal/dimension"
	"github.com/cleared-dev/bcsync/internal/id"
	"github.com/cleared-dev/bcsync/internal/model"
	"github.com/cleared-dev/bcsync/internal/syncerr"
)

// TransactionMode selects how a $batch envelope treats failing sub-requests.
type TransactionMode string

const (
	// NonAtomic continues past individual failures.
	NonAtomic TransactionMode = "non_atomic"
	// Atomic runs every sub-request in one atomicity group; any failure rolls
	// the whole group back.
	Atomic TransactionMode = "atomic"
)

// Request is one $batch sub-request.
type Request struct {
	ID             string            `json:"id"`
	Method         string            `json:"method"`
	URL            string            `json:"url"`
	Headers        map[string]string `json:"headers,omitempty"`
	Body           any               `json:"body,omitempty"`
	AtomicityGroup string            `json:"atomicityGroup,omitempty"`
}

// Response is the outcome of one sub-request, correlated by ID.
type Response struct {
	ID     string
	Status int
	Body   json.RawMessage
}

// OK reports a 2xx status.
func (r Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Entity decodes the response body.
func (r Response) Entity() (model.Entity, error) {
	if len(r.Body) == 0 {
		return model.Entity{}, nil
	}
	return decodeEntity([]byte(r.Body))
}

// Err returns the remote failure carried by a non-2xx response, nil otherwise.
func (r Response) Err() error {
	if r.OK() {
		return nil
	}
	msg := gjson.GetBytes(r.Body, "error.message").String()
	return syncerr.Remote(r.Status, msg, string(r.Body))
}

func defaultHeaders() map[string]string {
	return map[string]string{
		"Content-Type": "application/json",
		"If-Match":     "*",
	}
}

func newRequest(method, url string, body any, requestID string) Request {
	if requestID == "" {
		requestID = id.RequestID()
	}
	return Request{
		ID:      requestID,
		Method:  method,
		URL:     url,
		Headers: defaultHeaders(),
		Body:    body,
	}
}

// UpsertRequest creates the entity when entityID is empty and patches it
// otherwise.
func UpsertRequest(entityType string, params Params, entityID string, body any, requestID string) (Request, error) {
	path, err := Path(entityType, params)
	if err != nil {
		return Request{}, err
	}
	if entityID == "" {
		return newRequest("POST", path, body, requestID), nil
	}
	return newRequest("PATCH", keyed(path, entityID), body, requestID), nil
}

// ActionRequest invokes a bound Microsoft.NAV action such as "post".
func ActionRequest(entityType string, params Params, entityID, action string) (Request, error) {
	path, err := Path(entityType, params)
	if err != nil {
		return Request{}, err
	}
	return newRequest("POST", keyed(path, entityID)+"/Microsoft.NAV."+action, nil, ""), nil
}

// DeleteRequest removes one entity.
func DeleteRequest(entityType string, params Params, entityID string) (Request, error) {
	path, err := Path(entityType, params)
	if err != nil {
		return Request{}, err
	}
	return newRequest("DELETE", keyed(path, entityID), nil, ""), nil
}

// ContentRequest uploads binary content to a media property.
func ContentRequest(entityType string, params Params, entityID, property string, content []byte) (Request, error) {
	path, err := Path(entityType, params)
	if err != nil {
		return Request{}, err
	}
	r := newRequest("PATCH", keyed(path, entityID)+"/"+property, content, "")
	r.Headers["Content-Type"] = "application/octet-stream"
	return r, nil
}

// DimensionStyle distinguishes the two dimension sub-resources.
type DimensionStyle int

const (
	// SetLines are document level assignments keyed by the dimension id.
	SetLines DimensionStyle = iota
	// DefaultDimensions are master-record assignments with their own id.
	DefaultDimensions
)

// DimensionRequests builds one request per assignment: PATCH when the
// assignment already exists remotely, POST otherwise.
func DimensionRequests(entityType string, params Params, style DimensionStyle, assignments []dimension.Assignment) ([]Request, error) {
	reqs := make([]Request, 0, len(assignments))
	for _, a := range assignments {
		var body map[string]any
		switch {
		case style == SetLines && a.ExistingID != "":
			body = map[string]any{"valueId": a.ValueID}
		case style == SetLines:
			body = map[string]any{"id": a.DimensionID, "valueId": a.ValueID}
		case a.ExistingID != "":
			body = map[string]any{"dimensionValueId": a.ValueID}
		default:
			body = map[string]any{"dimensionId": a.DimensionID, "dimensionValueId": a.ValueID}
		}
		r, err := UpsertRequest(entityType, params, a.ExistingID, body, "")
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, r)
	}
	return reqs, nil
}

// InlineDefaultDimensions renders assignments for a deep insert on create.
func InlineDefaultDimensions(assignments []dimension.Assignment) []map[string]any {
	out := make([]map[string]any, 0, len(assignments))
	for _, a := range assignments {
		out = append(out, map[string]any{
			"dimensionId":      a.DimensionID,
			"dimensionValueId": a.ValueID,
		})
	}
	return out
}

// keyed appends an OData key segment. GUID keys are unquoted.
func keyed(path, key string) string {
	if id.IsGUID(key) {
		return fmt.Sprintf("%s(%s)", path, key)
	}
	return fmt.Sprintf("%s('%s')", path, strings.ReplaceAll(key, "'", "''"))
}
