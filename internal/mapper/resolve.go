package mapper

import (
	"github.com/cleared-dev/bcsync/internal/model"
	"github.com/cleared-dev/bcsync/internal/refdata"
	"github.com/cleared-dev/bcsync/internal/syncerr"
)

// ResolveCompany finds the record's company by subsidiaryId, then by
// subsidiaryName.
func ResolveCompany(rec model.Record, ref *refdata.Store) (*model.Company, error) {
	if id := rec.String("subsidiaryId"); id != "" {
		if c, ok := ref.CompanyByID(id); ok {
			return c, nil
		}
	}
	if name := rec.String("subsidiaryName"); name != "" {
		if c, ok := ref.CompanyByName(name); ok {
			return c, nil
		}
	}
	return nil, syncerr.New(syncerr.KindCompanyNotFound,
		"no company for subsidiaryId=%q subsidiaryName=%q", rec.String("subsidiaryId"), rec.String("subsidiaryName"))
}

// KeyCandidate is one way of finding an existing remote record.
type KeyCandidate struct {
	RecordField string
	RemoteField string
	// RequiredIfPresent makes a present but unmatched field fatal instead of
	// falling through to the next candidate.
	RequiredIfPresent bool
}

// Matcher finds the remote counterpart of a record.
type Matcher interface {
	FindExisting(rec model.Record, candidates []model.Entity) (model.Entity, error)
}

// KeyMatcher tries an ordered list of key candidates.
type KeyMatcher struct {
	Keys []KeyCandidate
	// Constraint, when set, must also hold for a match.
	Constraint func(model.Entity) bool
}

// FindExisting returns the first match, nil when the record is new. A key
// that renders empty counts as not given, so it neither matches a remote
// record lacking the field nor fails a required lookup.
func (m KeyMatcher) FindExisting(rec model.Record, candidates []model.Entity) (model.Entity, error) {
	for _, k := range m.Keys {
		want := rec.String(k.RecordField)
		if want == "" {
			continue
		}
		for _, e := range candidates {
			if e.String(k.RemoteField) != want {
				continue
			}
			if m.Constraint != nil && !m.Constraint(e) {
				continue
			}
			return e, nil
		}
		if k.RequiredIfPresent {
			return nil, syncerr.NewField(syncerr.KindRecordNotFound, k.RecordField,
				"record %s=%q not found", k.RecordField, want)
		}
	}
	return nil, nil
}

// Ref names the record fields that identify a cross-reference, tried in the
// order id, code, name.
type Ref struct {
	Name      string
	IDField   string
	CodeField string
	NameField string
	Required  bool
}

func (r Ref) given(rec model.Record) (id, code, name string) {
	if r.IDField != "" {
		id = rec.String(r.IDField)
	}
	if r.CodeField != "" {
		code = rec.String(r.CodeField)
	}
	if r.NameField != "" {
		name = rec.String(r.NameField)
	}
	return id, code, name
}

// outcome turns a lookup result into the error contract shared by all
// cross-references: required and unidentified is invalid input, required and
// unmatched is not found, optional and unmatched is silently omitted.
func (r Ref) outcome(found bool, id, code, name string) error {
	if found || !r.Required {
		return nil
	}
	if id == "" && code == "" && name == "" {
		return syncerr.NewField(syncerr.KindMissingField, r.IDField,
			"%s is required: provide one of %s", r.Name, r.fieldList())
	}
	return syncerr.NewField(syncerr.KindRecordNotFound, r.IDField,
		"%s not found for %s=%q %s=%q %s=%q", r.Name, r.IDField, id, r.CodeField, code, r.NameField, name)
}

func (r Ref) fieldList() string {
	out := ""
	for _, f := range []string{r.IDField, r.CodeField, r.NameField} {
		if f == "" {
			continue
		}
		if out != "" {
			out += " / "
		}
		out += f
	}
	return out
}

// ResolveKeyed resolves a reference against a typed company list.
func ResolveKeyed[T model.Keyed](rec model.Record, items []T, r Ref) (T, bool, error) {
	id, code, name := r.given(rec)
	found, ok := model.Lookup(items, id, code, name)
	return found, ok, r.outcome(ok, id, code, name)
}

// EntityRef resolves against cached remote entities whose code and name
// live in the named remote fields.
type EntityRef struct {
	Ref
	RemoteCode string
	RemoteName string
}

// ResolveEntity resolves a reference against remote entities.
func ResolveEntity(rec model.Record, entities []model.Entity, r EntityRef) (model.Entity, bool, error) {
	id, code, name := r.given(rec)
	match := func(field, want string) model.Entity {
		if want == "" || field == "" {
			return nil
		}
		for _, e := range entities {
			if e.String(field) == want {
				return e
			}
		}
		return nil
	}
	found := match("id", id)
	if found == nil {
		found = match(r.RemoteCode, code)
	}
	if found == nil {
		found = match(r.RemoteName, name)
	}
	return found, found != nil, r.outcome(found != nil, id, code, name)
}
