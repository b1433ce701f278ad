package mapper

import (
	"strings"

	"github.com/biter777/countries"

	"github.com/cleared-dev/bcsync/internal/model"
	"github.com/cleared-dev/bcsync/internal/syncerr"
)

// MapAddress copies the shipping address, or the first address when none is
// flagged shipping, into out.
func MapAddress(rec model.Record, out map[string]any) error {
	addresses := rec.Records("addresses")
	if len(addresses) == 0 {
		return nil
	}
	addr := addresses[0]
	for _, a := range addresses {
		if strings.EqualFold(a.String("addressType"), "shipping") {
			addr = a
			break
		}
	}

	MapFields(addr, []FieldMap{
		F("line1", "addressLine1"),
		F("line2", "addressLine2"),
		F("city", "city"),
		F("state", "state"),
		F("postalCode", "postalCode"),
	}, out)

	if country := addr.String("country"); country != "" {
		code, err := CountryCode(country)
		if err != nil {
			return err
		}
		out["country"] = code
	}
	return nil
}

// MapPhone copies the phone number flagged "unknown", or the first one.
func MapPhone(rec model.Record, out map[string]any) {
	phones := rec.Records("phoneNumbers")
	if len(phones) == 0 {
		return
	}
	phone := phones[0]
	for _, p := range phones {
		if p.String("type") == "unknown" {
			phone = p
			break
		}
	}
	if n := phone.String("phoneNumber"); n != "" {
		out["phoneNumber"] = n
	}
}

// CountryCode normalizes a country to its ISO 3166-1 alpha-2 code. Values of
// two characters or fewer are taken to be codes already.
func CountryCode(country string) (string, error) {
	c := strings.TrimSpace(country)
	if len(c) <= 2 {
		return strings.ToUpper(c), nil
	}
	code := countries.ByName(c)
	if code == countries.Unknown {
		return "", syncerr.NewField(syncerr.KindInvalidFieldValue, "country", "unknown country %q", country)
	}
	return code.Alpha2(), nil
}
