package config

import (
	"fmt"
	"sort"
)

// ValidationError describes a single configuration problem.
type ValidationError struct {
	Field       string
	Description string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Description)
}

// Validate checks credentials, batch size and every company entry. It
// returns all problems found, not just the first.
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError
	required := func(field, value string) {
		if value == "" {
			errs = append(errs, ValidationError{Field: field, Description: "is required"})
		}
	}

	if c.Dynamics.BaseURL == "" {
		required("dynamics.tenant_id", c.Dynamics.TenantID)
		required("dynamics.environment", c.Dynamics.Environment)
	}
	required("dynamics.client_id", c.Dynamics.ClientID)
	required("dynamics.client_secret", c.Dynamics.ClientSecret)
	required("dynamics.refresh_token", c.Dynamics.RefreshToken)

	if c.Sync.BatchSize < 1 || c.Sync.BatchSize > MaxBatchSize {
		errs = append(errs, ValidationError{
			Field:       "sync.batch_size",
			Description: fmt.Sprintf("%d is outside 1..%d", c.Sync.BatchSize, MaxBatchSize),
		})
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, ValidationError{
			Field:       "logging.format",
			Description: fmt.Sprintf("%q is not json or text", c.Logging.Format),
		})
	}

	keys := make([]string, 0, len(c.Companies))
	for k := range c.Companies {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		errs = append(errs, validateCompany(key, c.Companies[key])...)
	}
	return errs
}

func validateCompany(key string, cc CompanyConfig) []ValidationError {
	var errs []ValidationError
	prefix := fmt.Sprintf("companies[%q]", key)

	seen := make(map[string]bool)
	for i, m := range cc.Dimensions {
		field := fmt.Sprintf("%s.dimensions[%d]", prefix, i)
		if m.Field == "" || m.Code == "" {
			errs = append(errs, ValidationError{Field: field, Description: "field and code are required"})
			continue
		}
		if seen[m.Field] {
			errs = append(errs, ValidationError{Field: field, Description: fmt.Sprintf("field %q is mapped twice", m.Field)})
		}
		seen[m.Field] = true
	}

	streams := make([]string, 0, len(cc.Fields))
	for s := range cc.Fields {
		streams = append(streams, s)
	}
	sort.Strings(streams)
	for _, stream := range streams {
		for i, f := range cc.Fields[stream] {
			if f.Source == "" || f.Destination == "" {
				errs = append(errs, ValidationError{
					Field:       fmt.Sprintf("%s.fields.%s[%d]", prefix, stream, i),
					Description: "source and destination are required",
				})
			}
		}
	}
	return errs
}
