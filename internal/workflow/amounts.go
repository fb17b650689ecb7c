package workflow

import "math"

// Amounts are the derived money fields of a purchase request line.
// All values are in minor currency units (cents).
type Amounts struct {
	BaseAmount     int64
	DiscountAmount int64
	NetAmount      int64
	TaxAmount      int64
	TotalPrice     int64
}

// DeriveAmounts computes the derived money fields from a line's quantity,
// unit price and percentage rates. The derivation is referentially
// transparent; derived totals are never stored as independently authoritative
// values and must be recomputed from these inputs before any transition
// payload is built.
func DeriveAmounts(quantity float64, unitPrice int64, discountRate, taxRate float64) Amounts {
	base := roundToInt64(quantity * float64(unitPrice))
	discount := roundToInt64(float64(base) * discountRate / 100)
	net := base - discount
	tax := roundToInt64(float64(net) * taxRate / 100)

	return Amounts{
		BaseAmount:     base,
		DiscountAmount: discount,
		NetAmount:      net,
		TaxAmount:      tax,
		TotalPrice:     net + tax,
	}
}

func roundToInt64(v float64) int64 {
	return int64(math.Round(v))
}
