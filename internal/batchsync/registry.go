package batchsync

// Kind names the transaction family of a directory. It is stored in
// sftp_records.record_kind.
type Kind string

const (
	KindEducationCancellation   Kind = "EducationEnrollmentCancellation"
	KindEducationPayment        Kind = "EducationPayment"
	KindLeasingInstalments      Kind = "LeasingInstalmentPayments"
	KindLeasingCancellations    Kind = "LeasingContractCancellations"
	KindMaintenanceInstalments  Kind = "MaintenanceInstalmentPayments"
	KindMaintenanceCancellation Kind = "MaintenanceContractCancellations"
	KindSalesCancellations      Kind = "SalesContractCancellations"
	KindSalesInstalments        Kind = "SalesInstalmentPayments"
)

const (
	AssetEducation   = "Education"
	AssetLeasing     = "Leasing"
	AssetMaintenance = "Maintenance"
	AssetSales       = "Sales"
)

// DateKey restores the raw CSV date string (From) into the result log column To.
type DateKey struct {
	From string
	To   string
}

// Directory is one SFTP trigger directory. Refund directories call the LMS
// refund API, the others earn.
type Directory struct {
	Name     string
	Asset    string
	Kind     Kind
	Refund   bool
	Header   []string
	DateKeys []DateKey
}

var (
	educationCancellationHeader = []string{
		"email", "mobile_number", "school_id", "school_name", "enrolment_id", "student_id", "payment_for",
		"cancellation_reference_number", "cancellation_fee", "refund_amount", "timestamp",
	}
	educationPaymentHeader = []string{
		"email", "mobile_number", "school_id", "school_name", "enrolment_id", "student_id", "grade",
		"payment_reference_number", "payment_for", "charge_id", "description", "term_number",
		"is_student_enrolment_this_year", "gross_amount", "net_amount", "amount_paid_by_points", "paid_amount",
		"points_redemption_reference", "timestamp",
	}
	leasingInstalmentsHeader = []string{
		"email", "mobile_number", "community_id", "community_name", "unit_id", "lease_contract_number",
		"is_renewal", "lease_method", "property_type", "contract_value", "contract_period_in_months",
		"number_of_installments", "payment_reference_number", "installment_number", "installment_due_date",
		"gross_amount", "net_amount", "amount_paid_by_points", "paid_amount", "points_redemption_reference",
		"payment_datetime",
	}
	leasingCancellationsHeader = []string{
		"email", "mobile_number", "community_id", "community_name", "unit_id", "lease_contract_number",
		"cancellation_fee", "refund_amount", "cancellation_datetime",
	}
	maintenanceInstalmentsHeader = []string{
		"email", "mobile_number", "community_id", "community_name", "unit_id", "maintenance_contract_number",
		"package_type", "package_id", "package_detail", "contract_value", "number_of_installments",
		"payment_reference_number", "installment_number", "property_type", "contract_period", "gross_amount",
		"net_amount", "amount_paid_by_points", "paid_amount", "points_redemption_reference", "booking_datetime",
	}
	maintenanceCancellationsHeader = []string{
		"email", "mobile_number", "community_id", "community_name", "unit_id", "maintenance_contract_number",
		"package_amount", "cancellation_fee", "refund_amount", "cancellation_datetime",
	}
	salesCancellationsHeader = []string{
		"email", "mobile_number", "party_id", "community_id", "community_name", "unit_id", "sales_order_id",
		"cancellation_fee", "refund_amount", "cancellation_datetime",
	}
	salesInstalmentsHeader = []string{
		"email", "mobile_number", "party_id", "community_id", "community_name", "unit_id", "sales_order_id",
		"property_type", "property_gross_value", "property_net_value", "order_date", "number_of_installments",
		"payment_reference_number", "installment_number", "installment_due_date", "is_handover", "gross_amount",
		"net_amount", "amount_paid_by_points", "paid_amount", "points_redemption_reference", "payment_datetime",
	}
)

var (
	timestampKeys    = []DateKey{{From: "csv_timestamp", To: "timestamp"}}
	cancellationKeys = []DateKey{{From: "csv_cancellation_datetime", To: "cancellation_datetime"}}
	leasingKeys      = []DateKey{
		{From: "csv_payment_datetime", To: "payment_datetime"},
		{From: "csv_installment_due_date", To: "installment_due_date"},
	}
)

var directories = []Directory{
	{Name: "aldreduenrlmntcncltns", Asset: AssetEducation, Kind: KindEducationCancellation, Refund: true,
		Header: educationCancellationHeader, DateKeys: timestampKeys},
	{Name: "aldredupymnts", Asset: AssetEducation, Kind: KindEducationPayment,
		Header: educationPaymentHeader, DateKeys: timestampKeys},
	{Name: "aldrlsnginstapymnts", Asset: AssetLeasing, Kind: KindLeasingInstalments,
		Header: leasingInstalmentsHeader, DateKeys: leasingKeys},
	// leasing instalments collected by Sales
	{Name: "aldrlsnginstapymntssls", Asset: AssetLeasing, Kind: KindLeasingInstalments,
		Header: leasingInstalmentsHeader, DateKeys: leasingKeys},
	{Name: "aldrlsngslscncltns", Asset: AssetLeasing, Kind: KindLeasingCancellations, Refund: true,
		Header: leasingCancellationsHeader, DateKeys: cancellationKeys},
	{Name: "aldrlsngslscncltnssls", Asset: AssetLeasing, Kind: KindLeasingCancellations, Refund: true,
		Header: leasingCancellationsHeader, DateKeys: cancellationKeys},
	{Name: "aldrmntnginstapymnts", Asset: AssetMaintenance, Kind: KindMaintenanceInstalments,
		Header: maintenanceInstalmentsHeader, DateKeys: []DateKey{{From: "csv_booking_datetime", To: "booking_datetime"}}},
	{Name: "aldrmntnlsngslscncltns", Asset: AssetMaintenance, Kind: KindMaintenanceCancellation, Refund: true,
		Header: maintenanceCancellationsHeader, DateKeys: cancellationKeys},
	{Name: "aldrslscncltns", Asset: AssetSales, Kind: KindSalesCancellations, Refund: true,
		Header: salesCancellationsHeader, DateKeys: cancellationKeys},
	{Name: "aldrslsinstapymnts", Asset: AssetSales, Kind: KindSalesInstalments,
		Header: salesInstalmentsHeader, DateKeys: []DateKey{
			{From: "csv_payment_datetime", To: "payment_datetime"},
			{From: "csv_order_date", To: "order_date"},
			{From: "csv_installment_due_date", To: "installment_due_date"},
		}},
}

var byName = func() map[string]Directory {
	m := make(map[string]Directory, len(directories))
	for _, d := range directories {
		m[d.Name] = d
	}
	return m
}()

// Lookup returns the directory registered under name.
func Lookup(name string) (Directory, bool) {
	d, ok := byName[name]
	return d, ok
}

// Names lists every registered directory in processing order.
func Names() []string {
	out := make([]string, 0, len(directories))
	for _, d := range directories {
		out = append(out, d.Name)
	}
	return out
}
