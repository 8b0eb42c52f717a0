package lms

import (
	"strconv"
)

// Taxes is the breakdown of a tax-inclusive paid amount.
type Taxes struct {
	Original       float64
	VAT            float64
	ServiceCharges float64
	Net            float64
}

// roundTo rounds to n decimals the way the amounts were always rounded:
// correctly rounded on the exact binary value, ties to even.
func roundTo(x float64, n int) float64 {
	v, _ := strconv.ParseFloat(strconv.FormatFloat(x, 'f', n, 64), 64)
	return v
}

// DeductTaxes removes VAT, then service charge, from a paid amount that includes both.
func DeductTaxes(paid, vatPct, servicePct float64) Taxes {
	vat := roundTo(paid-roundTo(paid/(1+vatPct/100), 6), 6)
	vatDeducted := paid - vat
	svc := roundTo(vatDeducted-roundTo(vatDeducted/(1+servicePct/100), 6), 6)
	return Taxes{
		Original:       paid,
		VAT:            vat,
		ServiceCharges: svc,
		Net:            roundTo(vatDeducted-svc, 2),
	}
}
