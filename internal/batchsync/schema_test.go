package batchsync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func leasingCancellationRow() map[string]string {
	return map[string]string{
		"email":                 " member@aldar.com ",
		"mobile_number":         "0501234567",
		"community_id":          "C1",
		"community_name":        "Yas Acres",
		"unit_id":               "U-1",
		"lease_contract_number": "LC-1",
		"cancellation_fee":      "1,000.50",
		"refund_amount":         "",
		"cancellation_datetime": "2024-03-01T10:00:00+0400",
	}
}

func TestCleanNormalizesValidRow(t *testing.T) {
	clean, errs, err := Clean(KindLeasingCancellations, leasingCancellationRow())
	require.NoError(t, err)
	require.Nil(t, errs)

	assert.Equal(t, "member@aldar.com", clean["email"])
	assert.Equal(t, "1000.5", clean["cancellation_fee"])
	assert.Equal(t, "0", clean["refund_amount"], "empty column takes its default")
	assert.Equal(t, "2024-03-01T10:00:00+0400", clean["csv_cancellation_datetime"])
}

func TestCleanReportsFieldErrors(t *testing.T) {
	row := leasingCancellationRow()
	row["email"] = "nope"
	row["refund_amount"] = "-5"
	row["cancellation_datetime"] = "yesterday"
	delete(row, "unit_id")

	clean, errs, err := Clean(KindLeasingCancellations, row)
	require.NoError(t, err)
	assert.Equal(t, FieldErrors{
		"email":                 {"Not a valid email address."},
		"refund_amount":         {"Must be greater than or equal to 0."},
		"cancellation_datetime": {"Not a valid datetime."},
		"unit_id":               {"Missing data for required field."},
	}, errs)
	assert.NotContains(t, clean, "email")
	assert.Equal(t, "LC-1", clean["lease_contract_number"])
}

func TestCleanSalesCancellation(t *testing.T) {
	row := map[string]string{
		"email":                 "member@aldar.com",
		"mobile_number":         "0501234567",
		"party_id":              "101",
		"community_id":          "C1",
		"community_name":        "Saadiyat",
		"unit_id":               "U-1",
		"sales_order_id":        "12.5",
		"cancellation_fee":      "0",
		"refund_amount":         "500",
		"cancellation_datetime": "1-3-2024:10:00:00",
	}
	_, errs, err := Clean(KindSalesCancellations, row)
	require.NoError(t, err)
	assert.Equal(t, FieldErrors{"sales_order_id": {"Not a valid integer."}}, errs)

	row["sales_order_id"] = "4411"
	row["refund_amount"] = "NaN"
	_, errs, err = Clean(KindSalesCancellations, row)
	require.NoError(t, err)
	assert.Equal(t, FieldErrors{"refund_amount": {"Special numeric values (nan or infinity) are not permitted."}}, errs)
}

func TestCleanTextLengthAndBooleans(t *testing.T) {
	row := map[string]string{
		"email":                          "member@aldar.com",
		"mobile_number":                  "0501234567",
		"school_id":                      "S1",
		"school_name":                    "",
		"enrolment_id":                   "12",
		"student_id":                     "34",
		"grade":                          "Year 07",
		"payment_reference_number":       "PR-1",
		"payment_for":                    "education_term_fee",
		"charge_id":                      "7",
		"description":                    "",
		"term_number":                    "1",
		"is_student_enrolment_this_year": "yes",
		"gross_amount":                   "2,500",
		"net_amount":                     "2500",
		"amount_paid_by_points":          "",
		"paid_amount":                    "2500",
		"points_redemption_reference":    "",
		"timestamp":                      "2024-03-01T10:00:00Z",
	}
	clean, errs, err := Clean(KindEducationPayment, row)
	require.NoError(t, err)
	require.Nil(t, errs)
	assert.Equal(t, "true", clean["is_student_enrolment_this_year"])
	assert.Equal(t, "School Name", clean["school_name"])
	assert.Equal(t, "NA", clean["description"])
	assert.Equal(t, "2500", clean["gross_amount"])

	row["mobile_number"] = "012345678901234567890"
	row["is_student_enrolment_this_year"] = "maybe"
	_, errs, err = Clean(KindEducationPayment, row)
	require.NoError(t, err)
	assert.Equal(t, []string{"Length must be between 1 and 20."}, errs["mobile_number"])
	assert.Equal(t, []string{"Not a valid boolean."}, errs["is_student_enrolment_this_year"])
}

func TestCleanUnknownKind(t *testing.T) {
	_, _, err := Clean(Kind("Nope"), map[string]string{})
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	names := Names()
	require.Len(t, names, 10)
	assert.Equal(t, "aldreduenrlmntcncltns", names[0])
	assert.Equal(t, "aldrslsinstapymnts", names[9])

	d, ok := Lookup("aldrslscncltns")
	require.True(t, ok)
	assert.True(t, d.Refund)
	assert.Equal(t, AssetSales, d.Asset)

	_, ok = Lookup("elsewhere")
	assert.False(t, ok)

	for _, d := range directories {
		_, ok := schemas[d.Kind]
		assert.True(t, ok, d.Name)
	}
}
