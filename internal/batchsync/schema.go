package batchsync

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/asaskevich/govalidator"
)

// Layouts accepted for the CSV date columns.
var (
	awareLayouts   = []string{"2006-01-02T15:04:05-0700", "2006-01-02T15:04:05-07:00", "2006-01-02T15:04:05Z07:00"}
	dateLayout     = "2-1-2006"
	dateTimeLayout = "2-1-2006:15:04:05"
)

type fieldKind int

const (
	textField fieldKind = iota
	emailField
	intField
	floatField
	boolField
	awareDateTimeField
	dateField
	dateTimeField
)

type fieldSpec struct {
	name   string
	kind   fieldKind
	max    int // length bound of text fields; the lower bound is always 1
	nonNeg bool
}

func text(name string, max int) fieldSpec { return fieldSpec{name: name, kind: textField, max: max} }
func integer(name string) fieldSpec       { return fieldSpec{name: name, kind: intField} }
func number(name string) fieldSpec        { return fieldSpec{name: name, kind: floatField} }
func amount(name string) fieldSpec        { return fieldSpec{name: name, kind: floatField, nonNeg: true} }
func boolean(name string) fieldSpec       { return fieldSpec{name: name, kind: boolField} }
func aware(name string) fieldSpec         { return fieldSpec{name: name, kind: awareDateTimeField} }
func date(name string) fieldSpec          { return fieldSpec{name: name, kind: dateField} }
func dateTime(name string) fieldSpec      { return fieldSpec{name: name, kind: dateTimeField} }

var emailSpec = fieldSpec{name: "email", kind: emailField, max: 255}

// schema cleans and validates one CSV row. Before validation every value is
// trimmed, commas are dropped from amounts, empty defaulted columns are
// filled, and each csvDates column is copied verbatim to csv_<column>.
type schema struct {
	fields   []fieldSpec
	defaults map[string]string
	amounts  []string
	csvDates []string
}

// FieldErrors maps a column to its validation messages.
type FieldErrors map[string][]string

// extraColumnsKey holds the error of a row with more values than the header.
const extraColumnsKey = "extra_columns"

func (s schema) load(row map[string]string) (map[string]string, FieldErrors) {
	data := make(map[string]string, len(row)+len(s.csvDates))
	for k, v := range row {
		data[k] = strings.TrimSpace(v)
	}
	for _, k := range s.amounts {
		data[k] = strings.ReplaceAll(data[k], ",", "")
	}
	for k, v := range s.defaults {
		if cur, ok := data[k]; ok && cur == "" {
			data[k] = v
		}
	}
	for _, k := range s.csvDates {
		data["csv_"+k] = data[k]
	}

	out := make(map[string]string, len(data))
	errs := FieldErrors{}
	for _, f := range s.allFields() {
		raw, ok := data[f.name]
		if !ok {
			errs[f.name] = []string{"Missing data for required field."}
			continue
		}
		v, msgs := f.validate(raw)
		if len(msgs) > 0 {
			errs[f.name] = msgs
			continue
		}
		out[f.name] = v
	}
	if len(errs) == 0 {
		return out, nil
	}
	return out, errs
}

func (s schema) allFields() []fieldSpec {
	all := make([]fieldSpec, 0, len(s.fields)+len(s.csvDates))
	all = append(all, s.fields...)
	for _, k := range s.csvDates {
		all = append(all, text("csv_"+k, 25))
	}
	return all
}

// validate returns the normalized value or the messages explaining why raw is rejected.
func (f fieldSpec) validate(raw string) (string, []string) {
	switch f.kind {
	case emailField:
		var msgs []string
		if !govalidator.IsEmail(raw) {
			msgs = append(msgs, "Not a valid email address.")
		}
		if m := lengthMessage(raw, f.max); m != "" {
			msgs = append(msgs, m)
		}
		return raw, msgs
	case textField:
		if m := lengthMessage(raw, f.max); m != "" {
			return "", []string{m}
		}
		return raw, nil
	case intField:
		// the record keeps the canonical rendering; govalidator.IsInt rejects "007"
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return "", []string{"Not a valid integer."}
		}
		if f.nonNeg && n < 0 {
			return "", []string{"Must be greater than or equal to 0."}
		}
		return strconv.FormatInt(n, 10), nil
	case floatField:
		x, err := strconv.ParseFloat(raw, 64)
		if err != nil || strings.HasPrefix(strings.ToLower(strings.TrimLeft(raw, "+-")), "0x") {
			return "", []string{"Not a valid number."}
		}
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return "", []string{"Special numeric values (nan or infinity) are not permitted."}
		}
		if f.nonNeg && x < 0 {
			return "", []string{"Must be greater than or equal to 0."}
		}
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case boolField:
		b, ok := parseBool(raw)
		if !ok {
			return "", []string{"Not a valid boolean."}
		}
		return strconv.FormatBool(b), nil
	case awareDateTimeField:
		if !isAware(raw) {
			return "", []string{"Not a valid datetime."}
		}
		return raw, nil
	case dateField:
		if !govalidator.IsTime(raw, dateLayout) {
			return "", []string{"Not a valid date."}
		}
		return raw, nil
	case dateTimeField:
		if !govalidator.IsTime(raw, dateTimeLayout) {
			return "", []string{"Not a valid datetime."}
		}
		return raw, nil
	}
	return raw, nil
}

func lengthMessage(v string, max int) string {
	if n := len([]rune(v)); n < 1 || n > max {
		return fmt.Sprintf("Length must be between 1 and %d.", max)
	}
	return ""
}

func parseBool(v string) (bool, bool) {
	switch strings.ToLower(v) {
	case "1", "t", "true", "y", "yes", "on":
		return true, true
	case "0", "f", "false", "n", "no", "off":
		return false, true
	}
	return false, false
}

func parseAware(v string) (time.Time, bool) {
	for _, layout := range awareLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func isAware(v string) bool {
	for _, layout := range awareLayouts {
		if govalidator.IsTime(v, layout) {
			return true
		}
	}
	return false
}

var instalmentAmounts = []string{"gross_amount", "net_amount", "amount_paid_by_points", "paid_amount"}

var schemas = map[Kind]schema{
	KindEducationPayment: {
		fields: []fieldSpec{
			emailSpec,
			text("mobile_number", 20),
			text("school_id", 30),
			text("school_name", 255),
			integer("enrolment_id"),
			integer("student_id"),
			text("grade", 30),
			text("payment_reference_number", 50),
			text("payment_for", 30),
			text("charge_id", 30),
			text("description", 255),
			{name: "term_number", kind: intField, nonNeg: true},
			boolean("is_student_enrolment_this_year"),
			amount("gross_amount"),
			amount("net_amount"),
			amount("amount_paid_by_points"),
			amount("paid_amount"),
			text("points_redemption_reference", 50),
			aware("timestamp"),
		},
		defaults: map[string]string{
			"school_name":                    "School Name",
			"description":                    "NA",
			"term_number":                    "0",
			"is_student_enrolment_this_year": "0",
			"net_amount":                     "0",
			"amount_paid_by_points":          "0",
			"paid_amount":                    "0",
			"points_redemption_reference":    "NA",
		},
		amounts:  instalmentAmounts,
		csvDates: []string{"timestamp"},
	},
	KindEducationCancellation: {
		fields: []fieldSpec{
			emailSpec,
			text("mobile_number", 20),
			text("school_id", 30),
			text("school_name", 255),
			integer("enrolment_id"),
			integer("student_id"),
			text("payment_for", 30),
			text("cancellation_reference_number", 50),
			amount("cancellation_fee"),
			amount("refund_amount"),
			aware("timestamp"),
		},
		defaults: map[string]string{"school_name": "School Name", "cancellation_fee": "0", "refund_amount": "0"},
		amounts:  []string{"cancellation_fee", "refund_amount"},
		csvDates: []string{"timestamp"},
	},
	KindLeasingInstalments: {
		fields: []fieldSpec{
			emailSpec,
			text("mobile_number", 20),
			text("community_id", 30),
			text("community_name", 255),
			text("unit_id", 50),
			text("lease_contract_number", 50),
			boolean("is_renewal"),
			text("lease_method", 50),
			text("property_type", 50),
			amount("contract_value"),
			integer("contract_period_in_months"),
			integer("number_of_installments"),
			text("payment_reference_number", 50),
			integer("installment_number"),
			date("installment_due_date"),
			amount("gross_amount"),
			amount("net_amount"),
			amount("amount_paid_by_points"),
			amount("paid_amount"),
			text("points_redemption_reference", 50),
			aware("payment_datetime"),
		},
		defaults: map[string]string{
			"is_renewal":                  "0",
			"gross_amount":                "0",
			"net_amount":                  "0",
			"amount_paid_by_points":       "0",
			"paid_amount":                 "0",
			"points_redemption_reference": "NA",
		},
		amounts:  append([]string{"contract_value"}, instalmentAmounts...),
		csvDates: []string{"payment_datetime", "installment_due_date"},
	},
	KindLeasingCancellations: {
		fields: []fieldSpec{
			emailSpec,
			text("mobile_number", 20),
			text("community_id", 30),
			text("community_name", 255),
			text("unit_id", 50),
			text("lease_contract_number", 50),
			amount("cancellation_fee"),
			amount("refund_amount"),
			aware("cancellation_datetime"),
		},
		defaults: map[string]string{"cancellation_fee": "0", "refund_amount": "0"},
		amounts:  []string{"cancellation_fee", "refund_amount"},
		csvDates: []string{"cancellation_datetime"},
	},
	KindMaintenanceInstalments: {
		fields: []fieldSpec{
			emailSpec,
			text("mobile_number", 20),
			text("community_id", 30),
			text("community_name", 255),
			text("unit_id", 50),
			text("maintenance_contract_number", 50),
			text("package_type", 50),
			text("package_id", 50),
			text("package_detail", 255),
			number("contract_value"),
			integer("number_of_installments"),
			text("payment_reference_number", 50),
			integer("installment_number"),
			text("property_type", 50),
			{name: "contract_period", kind: intField, nonNeg: true},
			amount("gross_amount"),
			amount("net_amount"),
			amount("amount_paid_by_points"),
			amount("paid_amount"),
			text("points_redemption_reference", 50),
			aware("booking_datetime"),
		},
		defaults: map[string]string{
			"contract_period":             "0",
			"gross_amount":                "0",
			"net_amount":                  "0",
			"amount_paid_by_points":       "0",
			"paid_amount":                 "0",
			"points_redemption_reference": "NA",
		},
		amounts:  append([]string{"contract_value"}, instalmentAmounts...),
		csvDates: []string{"booking_datetime"},
	},
	KindMaintenanceCancellation: {
		fields: []fieldSpec{
			emailSpec,
			text("mobile_number", 20),
			text("community_id", 30),
			text("community_name", 255),
			text("unit_id", 50),
			text("maintenance_contract_number", 50),
			number("package_amount"),
			amount("cancellation_fee"),
			amount("refund_amount"),
			aware("cancellation_datetime"),
		},
		defaults: map[string]string{"cancellation_fee": "0", "refund_amount": "0"},
		amounts:  []string{"package_amount", "cancellation_fee", "refund_amount"},
		csvDates: []string{"cancellation_datetime"},
	},
	KindSalesInstalments: {
		fields: []fieldSpec{
			emailSpec,
			text("mobile_number", 20),
			integer("party_id"),
			text("community_id", 30),
			text("community_name", 255),
			text("unit_id", 50),
			integer("sales_order_id"),
			text("property_type", 50),
			number("property_gross_value"),
			number("property_net_value"),
			date("order_date"),
			integer("number_of_installments"),
			text("payment_reference_number", 50),
			integer("installment_number"),
			date("installment_due_date"),
			boolean("is_handover"),
			number("gross_amount"),
			number("net_amount"),
			amount("amount_paid_by_points"),
			amount("paid_amount"),
			text("points_redemption_reference", 50),
			dateTime("payment_datetime"),
		},
		defaults: map[string]string{
			"is_handover":                 "0",
			"amount_paid_by_points":       "0",
			"paid_amount":                 "0",
			"points_redemption_reference": "NA",
		},
		amounts:  append([]string{"property_gross_value", "property_net_value"}, instalmentAmounts...),
		csvDates: []string{"payment_datetime", "order_date", "installment_due_date"},
	},
	KindSalesCancellations: {
		fields: []fieldSpec{
			emailSpec,
			text("mobile_number", 20),
			integer("party_id"),
			text("community_id", 30),
			text("community_name", 255),
			text("unit_id", 50),
			integer("sales_order_id"),
			amount("cancellation_fee"),
			amount("refund_amount"),
			dateTime("cancellation_datetime"),
		},
		defaults: map[string]string{"cancellation_fee": "0", "refund_amount": "0"},
		amounts:  []string{"cancellation_fee", "refund_amount"},
		csvDates: []string{"cancellation_datetime"},
	},
}

// Clean applies the schema of kind to one CSV row. errs is nil when the row is valid;
// otherwise the returned fields lack every rejected column.
func Clean(kind Kind, row map[string]string) (map[string]string, FieldErrors, error) {
	s, ok := schemas[kind]
	if !ok {
		return nil, nil, fmt.Errorf("batchsync: no schema for %s", kind)
	}
	clean, errs := s.load(row)
	return clean, errs, nil
}
