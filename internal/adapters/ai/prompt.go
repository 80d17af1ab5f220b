package ai

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/phenrril/pharmastore/internal/domain"
)

const systemPrompt = `You normalize pharmacy product rows uploaded by sellers for an online pharmacy catalog.
Always answer with a single JSON object that matches the given schema and nothing else.`

var productSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "productName":   {"type": "string"},
    "price":         {"type": "number"},
    "originalPrice": {"type": "number"},
    "brand":         {"type": ["string", "null"]},
    "category":      {"type": ["string", "null"]},
    "expiryDate":    {"type": ["string", "null"]},
    "quantity":      {"type": "number"},
    "description":   {"type": "string"},
    "rating":        {"type": "number"},
    "reviewCount":   {"type": "number"},
    "tags":          {"type": "array", "items": {"type": "string"}, "minItems": 10, "maxItems": 10}
  },
  "required": ["productName", "price", "originalPrice", "brand", "category", "expiryDate",
               "quantity", "description", "rating", "reviewCount", "tags"],
  "additionalProperties": false
}`)

type promptRow struct {
	ProductName   string `json:"productName"`
	Price         string `json:"price,omitempty"`
	OriginalPrice string `json:"originalPrice,omitempty"`
	Category      string `json:"category,omitempty"`
	Brand         string `json:"brand,omitempty"`
	Quantity      string `json:"quantity,omitempty"`
	ExpiryDate    string `json:"expiryDate,omitempty"`
	ImageURL      string `json:"imageUrl,omitempty"`
}

func buildPrompt(raw domain.RawRecord, imageURL string) string {
	row := promptRow{
		ProductName:   raw.Field(domain.FieldName),
		Price:         promptPrice(raw.Field(domain.FieldPrice)),
		OriginalPrice: promptPrice(raw.Field(domain.FieldOriginalPrice)),
		Category:      raw.Field(domain.FieldCategory),
		Brand:         raw.Field(domain.FieldBrand),
		Quantity:      raw.Field(domain.FieldQuantity),
		ExpiryDate:    raw.Field(domain.FieldExpiryDate),
		ImageURL:      imageURL,
	}
	b, _ := json.MarshalIndent(row, "", "  ")

	return fmt.Sprintf(`Seller row:
%s

Rules:
- productName: the product's commercial name, fixed for spelling and casing.
- price and originalPrice are numbers in the seller's currency. If originalPrice is missing use price.
- brand and category: infer them from the name when the row omits them, otherwise null.
- quantity: units available, at least 1.
- description: two or three factual sentences a pharmacist would accept. No medical claims.
- rating and reviewCount are always 0.
- tags: exactly 10 search tags, 5 in English followed by 5 in Arabic.
- expiryDate: keep the seller's value or null.
`, b)
}

// promptPrice sends the cleaned amount when the cell holds exactly one number
// and the raw cell otherwise, so the model can read what we could not.
func promptPrice(s string) string {
	if c := cleanPrice(s); c != "" {
		return c
	}
	return strings.TrimSpace(s)
}

func cleanPrice(s string) string {
	d, ok := parseDecimal(s)
	if !ok {
		return ""
	}
	return d.Round(2).String()
}

var numberRun = regexp.MustCompile(`[0-9٠-٩]+(?:[.,٫][0-9٠-٩]+)*`)

// parseDecimal reads a seller-typed amount such as "EGP 1,250.50", "Rs. 45",
// "1.250,50", "45,5" or "٤٥". Cells with no number or more than one number
// ("45 - 50", "2 x 45") are rejected.
func parseDecimal(s string) (decimal.Decimal, bool) {
	runs := numberRun.FindAllString(s, 2)
	if len(runs) != 1 {
		return decimal.Zero, false
	}
	var b strings.Builder
	for _, r := range runs[0] {
		switch {
		case r >= '٠' && r <= '٩':
			b.WriteRune('0' + (r - '٠'))
		case r == '٫':
			b.WriteRune('.')
		default:
			b.WriteRune(r)
		}
	}
	n := b.String()

	dot, comma := strings.LastIndex(n, "."), strings.LastIndex(n, ",")
	switch {
	case dot >= 0 && comma >= 0:
		// both present: the last one is the decimal mark
		if comma > dot {
			n = strings.ReplaceAll(n, ".", "")
			n = strings.Replace(n, ",", ".", 1)
		} else {
			n = strings.ReplaceAll(n, ",", "")
		}
	case comma >= 0:
		if strings.Count(n, ",") == 1 && len(n)-comma-1 <= 2 {
			n = strings.Replace(n, ",", ".", 1)
		} else {
			n = strings.ReplaceAll(n, ",", "")
		}
	case dot >= 0 && strings.Count(n, ".") > 1:
		n = strings.ReplaceAll(n, ".", "")
	}

	d, err := decimal.NewFromString(n)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}
