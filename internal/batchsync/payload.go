package batchsync

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"aldar.app/internal/lms"
)

const (
	sftpChargeID   = "100"
	refundByAmount = "amount"

	triggerLeasing     = "leasing_instalment_payment"
	triggerMaintenance = "maintenance_instalment_payment"
	triggerSales       = "sales_instalment_payment"
	triggerTermFee     = "education_term_fee"
)

// candidate is a pending record that passed the reconciliation checks.
type candidate struct {
	rec              Record
	user             LMSUser
	conceptID        string
	propertyNetValue *float64
}

type fields map[string]string

func (f fields) float(k string) float64 {
	v, _ := strconv.ParseFloat(f[k], 64)
	return v
}

func (f fields) int(k string) int64 {
	v, _ := strconv.ParseInt(f[k], 10, 64)
	return v
}

func (f fields) flag(k string) int {
	if b, _ := parseBool(f[k]); b {
		return 1
	}
	return 0
}

func (f fields) or(k, def string) string {
	if v := f[k]; v != "" {
		return v
	}
	return def
}

func conceptKeys(kind Kind) (id, name string) {
	switch kind {
	case KindEducationPayment, KindEducationCancellation:
		return "school_id", "school_name"
	}
	return "community_id", "community_name"
}

// typed converts the stored strings back to the JSON types of their columns.
// csv_* copies are bookkeeping only and are not sent.
func typed(kind Kind, f fields) map[string]any {
	out := make(map[string]any, len(f))
	for _, spec := range schemas[kind].fields {
		v, ok := f[spec.name]
		if !ok {
			continue
		}
		switch spec.kind {
		case intField:
			out[spec.name] = f.int(spec.name)
		case floatField:
			out[spec.name] = f.float(spec.name)
		case boolField:
			out[spec.name] = f.flag(spec.name)
		default:
			out[spec.name] = v
		}
	}
	return out
}

// lmsDateTime renders an aware CSV timestamp the way the LMS expects it.
func lmsDateTime(v string) string {
	t, ok := parseAware(v)
	if !ok {
		return strings.Replace(v, "T", " ", 1)
	}
	return t.Format("2006-01-02 15:04:05-0700")
}

func isoDate(v, layout string) string {
	t, err := time.Parse(layout, v)
	if err != nil {
		return v
	}
	return t.Format("2006-01-02")
}

func earnTransaction(kind Kind, c candidate) (lms.EarnTransaction, error) {
	f := fields(c.rec.Fields)
	_, nameKey := conceptKeys(kind)
	tx := lms.EarnTransaction{
		Source:                lms.SourceSFTP,
		UserID:                c.user.ID,
		MemberID:              c.user.MemberID,
		ConceptID:             c.conceptID,
		ConceptName:           f[nameKey],
		ExternalTransactionID: f["payment_reference_number"],
		GrossTotalAmount:      f.float("gross_amount"),
		NetAmount:             f.float("net_amount"),
		PaidAmount:            f.float("paid_amount"),
		AmountPaidUsingPoints: f.float("amount_paid_by_points"),
		RedemptionReference:   f["points_redemption_reference"],
		Currency:              lms.CurrencyAED,
		ChargeID:              sftpChargeID,
		Extra:                 typed(kind, f),
	}
	extra := tx.Extra

	switch kind {
	case KindEducationPayment:
		tx.BusinessTrigger = f["payment_for"]
		tx.BusinessCategory = AssetEducation
		tx.ChargeID = f["charge_id"]
		tx.Description = f["description"]
		tx.TransactionDatetime = lmsDateTime(f["timestamp"])
		if tx.BusinessTrigger == triggerTermFee {
			progressed := 0
			if f.int("term_number") == 1 && f.flag("is_student_enrolment_this_year") == 0 &&
				(f["grade"] == "Year 07" || f["grade"] == "Grade 06") {
				progressed = 1
			}
			extra["is_progressed_from_primary_to_secondary"] = progressed
		}
	case KindLeasingInstalments:
		tx.BusinessTrigger = f.or("payment_for", triggerLeasing)
		tx.BusinessCategory = AssetLeasing
		tx.Description = "Leasing earn api call with SFTP data from TE to LMS"
		tx.TransactionDatetime = lmsDateTime(f["payment_datetime"])
		extra["payment_for"] = tx.BusinessTrigger
		extra["number_of_instalments"] = f.int("number_of_installments")
		extra["instalment_number"] = f.int("installment_number")
		extra["instalment_due_date"] = isoDate(f["installment_due_date"], dateLayout)
		extra["contract_period"] = f.int("contract_period_in_months")
	case KindMaintenanceInstalments:
		tx.BusinessTrigger = triggerMaintenance
		tx.BusinessCategory = AssetMaintenance
		tx.Description = "Maintenance earn api call with SFTP data from TE to LMS"
		tx.TransactionDatetime = lmsDateTime(f["booking_datetime"])
		extra["number_of_instalments"] = f.int("number_of_installments")
		extra["instalment_number"] = f.int("installment_number")
	case KindSalesInstalments:
		tx.BusinessTrigger = f.or("payment_for", triggerSales)
		tx.BusinessCategory = AssetSales
		tx.Description = "Sales earn api call with SFTP data from TE to LMS"
		tx.TransactionDatetime = isoDateTime(f["payment_datetime"])
		extra["payment_for"] = tx.BusinessTrigger
		extra["number_of_instalments"] = f.int("number_of_installments")
		extra["instalment_number"] = f.int("installment_number")
		extra["instalment_due_date"] = isoDate(f["installment_due_date"], dateLayout)
		extra["order_date"] = isoDate(f["order_date"], dateLayout)
		extra["is_handover_payment"] = f.flag("is_handover")
	default:
		return lms.EarnTransaction{}, fmt.Errorf("batchsync: %s is not an earn directory kind", kind)
	}
	return tx, nil
}

func isoDateTime(v string) string {
	t, err := time.Parse(dateTimeLayout, v)
	if err != nil {
		return v
	}
	return t.Format("2006-01-02 15:04:05")
}

func refundRequest(kind Kind, c candidate) (lms.RefundRequest, error) {
	f := fields(c.rec.Fields)
	_, nameKey := conceptKeys(kind)
	req := lms.RefundRequest{
		Source:           lms.SourceSFTP,
		UserID:           c.user.ID,
		ConceptID:        c.conceptID,
		ConceptName:      f[nameKey],
		MemberID:         c.user.MemberID,
		RefundPointsMode: refundByAmount,
		Value:            f.float("refund_amount"),
		Currency:         lms.CurrencyAED,
		PropertyNetValue: c.propertyNetValue,
	}
	switch kind {
	case KindEducationCancellation:
		req.BusinessCategory = AssetEducation
		req.BusinessTrigger = f["payment_for"]
		req.TransactionID = f["school_id"] + "#" + f["cancellation_reference_number"]
		req.Description = "Education refund api call with SFTP data from TE to LMS"
	case KindLeasingCancellations:
		req.BusinessCategory = AssetLeasing
		req.BusinessTrigger = triggerLeasing
		req.TransactionID = f["community_id"] + "#" + f["lease_contract_number"]
		req.Description = "Leasing refund api call with SFTP data from TE to LMS"
	case KindMaintenanceCancellation:
		req.BusinessCategory = AssetMaintenance
		req.BusinessTrigger = triggerMaintenance
		req.TransactionID = f["community_id"] + "#" + f["maintenance_contract_number"]
		req.Description = "Maintenance refund api call with SFTP data from TE to LMS"
	case KindSalesCancellations:
		req.BusinessCategory = AssetSales
		req.BusinessTrigger = triggerSales
		req.TransactionID = f["community_id"] + "#" + f["sales_order_id"]
		req.Description = "Sales refund api call with SFTP data from TE to LMS"
	default:
		return lms.RefundRequest{}, fmt.Errorf("batchsync: %s is not a refund directory kind", kind)
	}
	return req, nil
}
