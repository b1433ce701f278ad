package dynamics

import (
	"fmt"
	"strings"
)

// Params fills the {placeholders} of an entity path.
type Params map[string]string

// CompanyParams is the common case of a company-scoped collection.
func CompanyParams(companyID string) Params {
	return Params{"companyId": companyID}
}

// ChildParams addresses a collection nested under a parent entity.
func ChildParams(companyID, parentID string) Params {
	return Params{"companyId": companyID, "parentId": parentID}
}

var paths = map[string]string{
	"companies":             "companies",
	"currencies":            "companies({companyId})/currencies",
	"paymentMethods":        "companies({companyId})/paymentMethods",
	"dimensions":            "companies({companyId})/dimensions",
	"accounts":              "companies({companyId})/accounts",
	"locations":             "companies({companyId})/locations",
	"customers":             "companies({companyId})/customers",
	"vendors":               "companies({companyId})/vendors",
	"items":                 "companies({companyId})/items",
	"purchaseInvoices":      "companies({companyId})/purchaseInvoices",
	"journals":              "companies({companyId})/journals",
	"vendorPaymentJournals": "companies({companyId})/vendorPaymentJournals",
	"attachments":           "companies({companyId})/attachments",

	"customerDefaultDimensions":            "companies({companyId})/customers({parentId})/defaultDimensions",
	"vendorDefaultDimensions":              "companies({companyId})/vendors({parentId})/defaultDimensions",
	"itemDefaultDimensions":                "companies({companyId})/items({parentId})/defaultDimensions",
	"purchaseInvoiceLines":                 "companies({companyId})/purchaseInvoices({parentId})/purchaseInvoiceLines",
	"purchaseInvoiceDimensionSetLines":     "companies({companyId})/purchaseInvoices({parentId})/dimensionSetLines",
	"purchaseInvoiceLineDimensionSetLines": "companies({companyId})/purchaseInvoiceLines({parentId})/dimensionSetLines",
	"journalLines":                         "companies({companyId})/journals({parentId})/journalLines",
	"vendorPayments":                       "companies({companyId})/vendorPaymentJournals({parentId})/vendorPayments",
	"vendorPaymentDimensionSetLines":       "companies({companyId})/vendorPaymentJournals({journalId})/vendorPayments({parentId})/dimensionSetLines",
}

// Path resolves an entity type to its collection path relative to the API
// root.
func Path(entityType string, params Params) (string, error) {
	tmpl, ok := paths[entityType]
	if !ok {
		return "", fmt.Errorf("unknown entity type %q", entityType)
	}
	out := tmpl
	for k, v := range params {
		out = strings.ReplaceAll(out, "{"+k+"}", v)
	}
	if strings.Contains(out, "{") {
		return "", fmt.Errorf("entity type %s: missing parameter in %q", entityType, out)
	}
	return out, nil
}
