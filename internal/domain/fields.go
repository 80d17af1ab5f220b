package domain

import "strings"

// Canonical raw-row fields understood by the pipeline.
const (
	FieldName          = "productName"
	FieldPrice         = "price"
	FieldOriginalPrice = "originalPrice"
	FieldCategory      = "category"
	FieldBrand         = "brand"
	FieldQuantity      = "quantity"
	FieldExpiryDate    = "expiryDate"
)

var fieldAliases = map[string][]string{
	FieldName:          {"productname", "name", "product", "item", "itemname", "title"},
	FieldPrice:         {"price", "sellingprice", "saleprice", "unitprice"},
	FieldOriginalPrice: {"originalprice", "mrp", "listprice", "oldprice", "pricebeforediscount"},
	FieldCategory:      {"category", "type", "section"},
	FieldBrand:         {"brand", "manufacturer", "company"},
	FieldQuantity:      {"quantity", "qty", "amount", "productamount", "stock"},
	FieldExpiryDate:    {"expirydate", "expiry", "expdate", "expirationdate", "exp"},
}

// Field returns the value stored under any header alias of a canonical field.
// Headers are compared ignoring case, spaces, underscores and hyphens.
func (r RawRecord) Field(field string) string {
	aliases, ok := fieldAliases[field]
	if !ok {
		aliases = []string{field}
	}
	for _, a := range aliases {
		want := normalizeHeader(a)
		for k, v := range r {
			if normalizeHeader(k) == want && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		}
	}
	return ""
}

func normalizeHeader(h string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '_', '-', '.':
			return -1
		}
		return r
	}, strings.ToLower(strings.TrimSpace(h)))
}
