package model

// Company is a Business Central company together with the lookup lists that
// every cross-reference in that company resolves against.
type Company struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	DisplayName    string          `json:"displayName"`
	Currencies     []Currency      `json:"currencies,omitempty"`
	PaymentMethods []PaymentMethod `json:"paymentMethods,omitempty"`
	Dimensions     []Dimension     `json:"dimensions,omitempty"`
	Accounts       []Account       `json:"accounts,omitempty"`
	Locations      []Location      `json:"locations,omitempty"`
}

// Currency is a company currency.
type Currency struct {
	ID          string `json:"id"`
	Code        string `json:"code"`
	DisplayName string `json:"displayName"`
}

// PaymentMethod is a company payment method.
type PaymentMethod struct {
	ID          string `json:"id"`
	Code        string `json:"code"`
	DisplayName string `json:"displayName"`
}

// Dimension is a classification axis and its permitted values.
type Dimension struct {
	ID          string           `json:"id"`
	Code        string           `json:"code"`
	DisplayName string           `json:"displayName"`
	Values      []DimensionValue `json:"dimensionValues,omitempty"`
}

// DimensionValue is only valid under the dimension named by DimensionID.
type DimensionValue struct {
	ID          string `json:"id"`
	Code        string `json:"code"`
	DisplayName string `json:"displayName"`
	DimensionID string `json:"dimensionId"`
}

// Account is a general ledger account.
type Account struct {
	ID          string `json:"id"`
	Number      string `json:"number"`
	DisplayName string `json:"displayName"`
}

// Location is an inventory location.
type Location struct {
	ID          string `json:"id"`
	Code        string `json:"code"`
	DisplayName string `json:"displayName"`
}

// Keyed is anything that can be referenced by id, code or display name.
type Keyed interface {
	Keys() (id, code, name string)
}

func (c Currency) Keys() (string, string, string)       { return c.ID, c.Code, c.DisplayName }
func (p PaymentMethod) Keys() (string, string, string)  { return p.ID, p.Code, p.DisplayName }
func (d Dimension) Keys() (string, string, string)      { return d.ID, d.Code, d.DisplayName }
func (v DimensionValue) Keys() (string, string, string) { return v.ID, v.Code, v.DisplayName }
func (a Account) Keys() (string, string, string)        { return a.ID, a.Number, a.DisplayName }
func (l Location) Keys() (string, string, string)       { return l.ID, l.Code, l.DisplayName }

// Lookup finds the first item matching id, then code, then display name.
// Empty identifiers are skipped.
func Lookup[T Keyed](items []T, id, code, name string) (T, bool) {
	var zero T
	if id != "" {
		for _, it := range items {
			if itemID, _, _ := it.Keys(); itemID == id {
				return it, true
			}
		}
	}
	if code != "" {
		for _, it := range items {
			if _, itemCode, _ := it.Keys(); itemCode == code {
				return it, true
			}
		}
	}
	if name != "" {
		for _, it := range items {
			if _, _, itemName := it.Keys(); itemName == name {
				return it, true
			}
		}
	}
	return zero, false
}
