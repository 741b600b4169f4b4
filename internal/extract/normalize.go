package extract

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/spherical/sweetspot/internal/domain"
)

// aliases maps a folded field name (lower case, no spaces or underscores)
// to its canonical column.
var aliases = map[string]string{
	"productid":               domain.ColProductID,
	"sku":                     domain.ColSKU,
	"articledescriptionbatch": domain.ColDescription,
	"articledescription":      domain.ColDescription,
	"description":             domain.ColDescription,
	"expirydate":              domain.ColExpiryDate,
	"expiry":                  domain.ColExpiryDate,
	"eanserialno":             domain.ColEAN,
	"ean":                     domain.ColEAN,
	"remark":                  domain.ColRemark,
	"orderqty":                domain.ColOrderQTY,
	"shipqty":                 domain.ColShipQTY,
	"uom":                     domain.ColUOM,
	"pdfsource":               domain.ColSource,
}

func foldKey(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	return strings.NewReplacer(" ", "", "_", "", "-", "").Replace(k)
}

// CanonicalField returns the canonical column for a field name the
// inference service used, or the trimmed name itself when unknown.
func CanonicalField(name string) string {
	if col, ok := aliases[foldKey(name)]; ok {
		return col
	}
	return strings.TrimSpace(name)
}

// Normalize turns a candidate into a record with canonical column names.
// Values are stringified and trimmed; unknown fields are kept as extras.
// When several keys map to one column, a key spelled exactly as the column
// wins, otherwise the first key in sorted order.
func Normalize(c domain.Candidate) domain.ProductRecord {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var rec domain.ProductRecord
	exact := make(map[string]bool, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		col := CanonicalField(k)
		if col == "" || col == domain.ColUniqueID {
			continue
		}
		isExact := strings.TrimSpace(k) == col
		if exact[col] || (seen[col] && !isExact) {
			continue
		}
		rec.Set(col, stringify(c[k]))
		seen[col] = true
		exact[col] = isExact
	}
	return rec
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// FromVision builds a record from a vision item with the defaults used for
// photographed lists.
func FromVision(v domain.VisionCandidate) domain.ProductRecord {
	return domain.ProductRecord{
		ArticleDescriptionBatch: strings.TrimSpace(v.ProductName),
		ExpiryDate:              strings.TrimSpace(v.ExpiryDate),
		OrderQTY:                domain.ImageDefaultQTY,
		ShipQTY:                 domain.ImageDefaultQTY,
		UOM:                     domain.ImageDefaultUOM,
	}
}
