// Package mapper turns unified records into Business Central write requests.
package mapper

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/cleared-dev/bcsync/internal/dimension"
	"github.com/cleared-dev/bcsync/internal/model"
	"github.com/cleared-dev/bcsync/internal/refdata"
)

// WriteRequest is the immutable result of mapping one record. The sink
// decomposes it into ordered sub-requests; nothing mutates it afterwards.
type WriteRequest struct {
	Stream     string
	EntityType string
	Company    *model.Company
	// ExistingID is the remote id of the matched record. Empty means create.
	ExistingID string
	Existing   model.Entity
	// ParentID addresses entities nested under a parent collection, e.g. the
	// payment journal of a vendor payment.
	ParentID    string
	Fields      map[string]any
	Dimensions  []dimension.Assignment
	Lines       []LineRequest
	Attachments []AttachmentRequest
	Draft       bool
	Source      model.Record
}

// LineRequest is one document line.
type LineRequest struct {
	ExistingID string
	Fields     map[string]any
	Dimensions []dimension.Assignment
	// Corrective holds values to re-apply after the line is written.
	Corrective map[string]any
}

// AttachmentRequest is one file to attach to the parent document.
type AttachmentRequest struct {
	ExistingID string
	FileName   string
	Content    []byte
}

// IsUpdate reports whether the request targets an existing remote record.
func (w *WriteRequest) IsUpdate() bool {
	return w.ExistingID != ""
}

// Canonical returns the content that identifies this write for dedup
// hashing: only what derives from the input record. Remote ids picked up by
// matching an existing record are left out, so a record hashes the same
// before and after it has been created.
func (w *WriteRequest) Canonical() map[string]any {
	lines := make([]map[string]any, 0, len(w.Lines))
	for _, l := range w.Lines {
		lines = append(lines, map[string]any{
			"fields":     l.Fields,
			"dimensions": canonicalDims(l.Dimensions),
			"corrective": l.Corrective,
		})
	}
	attachments := make([]map[string]any, 0, len(w.Attachments))
	for _, a := range w.Attachments {
		sum := sha256.Sum256(a.Content)
		attachments = append(attachments, map[string]any{
			"fileName": a.FileName,
			"content":  hex.EncodeToString(sum[:]),
		})
	}
	companyID := ""
	if w.Company != nil {
		companyID = w.Company.ID
	}
	return map[string]any{
		"stream":      w.Stream,
		"entityType":  w.EntityType,
		"companyId":   companyID,
		"parentId":    w.ParentID,
		"fields":      w.Fields,
		"dimensions":  canonicalDims(w.Dimensions),
		"lines":       lines,
		"attachments": attachments,
		"draft":       w.Draft,
	}
}

func canonicalDims(as []dimension.Assignment) []map[string]string {
	out := make([]map[string]string, 0, len(as))
	for _, a := range as {
		out = append(out, map[string]string{
			"dimensionId": a.DimensionID,
			"valueId":     a.ValueID,
		})
	}
	return out
}

// Mapper maps records of one stream.
type Mapper interface {
	Stream() string
	Map(rec model.Record, ref *refdata.Store) (*WriteRequest, error)
}

// Options carries per-company run-time configuration into the mappers.
type Options struct {
	// Dimensions returns the root-field dimension mappings for a company.
	Dimensions func(company model.Company) []dimension.FieldMapping
	// Fields returns extra field mappings for a company and stream.
	Fields func(company model.Company, stream string) []FieldMap
	// AttachmentsDir is where attachment files named by records live.
	AttachmentsDir string
}

func (o Options) dimensionsFor(c *model.Company) []dimension.FieldMapping {
	if o.Dimensions == nil {
		return nil
	}
	return o.Dimensions(*c)
}

func (o Options) fieldsFor(c *model.Company, stream string) []FieldMap {
	if o.Fields == nil {
		return nil
	}
	return o.Fields(*c, stream)
}

// Registry holds mappers by stream name.
type Registry struct {
	mappers map[string]Mapper
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{mappers: make(map[string]Mapper)}
}

// Register adds a mapper. Panics on duplicate stream.
func (r *Registry) Register(m Mapper) {
	key := strings.ToLower(m.Stream())
	if _, ok := r.mappers[key]; ok {
		panic("duplicate mapper stream: " + key)
	}
	r.mappers[key] = m
}

// Get returns the mapper for stream, or nil.
func (r *Registry) Get(stream string) Mapper {
	return r.mappers[strings.ToLower(stream)]
}

// DefaultRegistry returns a registry with every built-in mapper.
func DefaultRegistry(opts Options) *Registry {
	r := NewRegistry()
	r.Register(NewCustomerMapper(opts))
	r.Register(NewVendorMapper(opts))
	r.Register(NewItemMapper(opts))
	r.Register(NewBillMapper(opts))
	r.Register(NewBillPaymentMapper(opts))
	r.Register(NewJournalEntryMapper(opts))
	return r
}
