package lms

import (
	"context"
	"encoding/json"
	"time"
)

const (
	CurrencyAED = "AED"

	SourceApp      = "app"
	SourceCLO      = "CLO"
	SourceSFTP     = "sftp"
	SourceFallback = "fallback-job"
)

// TaxTriggers are the business triggers whose paid amount includes VAT and service charge.
var TaxTriggers = map[string]bool{
	"hospitality_fnb":               true,
	"hospitality_golf_course":       true,
	"hospitality_spa":               true,
	"hospitality_sports_facilities": true,
}

// EarnTransaction is one element of the earn request array. Extra carries
// trigger specific keys (instalment numbers, due dates and similar) and is
// merged into the JSON object.
type EarnTransaction struct {
	Source string `json:"-"`
	UserID int64  `json:"-"`

	MemberID              string  `json:"member_id"`
	BusinessTrigger       string  `json:"business_trigger"`
	BusinessCategory      string  `json:"business_category"`
	ConceptID             string  `json:"concept_id"`
	ConceptName           string  `json:"concept_name"`
	ExternalTransactionID string  `json:"external_transaction_id"`
	GrossTotalAmount      float64 `json:"gross_total_amount"`
	NetAmount             float64 `json:"net_amount"`
	PaidAmount            float64 `json:"paid_amount"`
	AmountPaidUsingPoints float64 `json:"amount_paid_using_points"`
	RedemptionReference   string  `json:"redemption_reference,omitempty"`
	Currency              string  `json:"currency"`
	ChargeID              string  `json:"charge_id"`
	Description           string  `json:"description"`
	TransactionDatetime   string  `json:"transaction_datetime"`
	ExternalUserID        string  `json:"external_user_id,omitempty"`
	ExternalUserName      string  `json:"external_user_name,omitempty"`

	Extra map[string]any `json:"-"`
}

func (t EarnTransaction) MarshalJSON() ([]byte, error) {
	type plain EarnTransaction
	raw, err := json.Marshal(plain(t))
	if err != nil || len(t.Extra) == 0 {
		return raw, err
	}
	m := map[string]any{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	for k, v := range t.Extra {
		if _, exists := m[k]; !exists {
			m[k] = v
		}
	}
	return json.Marshal(m)
}

// RefundRequest is the body of a refund call plus audit-only fields.
type RefundRequest struct {
	Source      string `json:"-"`
	UserID      int64  `json:"-"`
	ConceptID   string `json:"-"`
	ConceptName string `json:"-"`

	MemberID         string   `json:"member_id"`
	BusinessCategory string   `json:"business_category"`
	BusinessTrigger  string   `json:"business_trigger"`
	TransactionID    string   `json:"transaction_id"`
	RefundPointsMode string   `json:"refund_points_mode"`
	Value            float64  `json:"value"`
	Currency         string   `json:"currency"`
	Description      string   `json:"description"`
	PropertyNetValue *float64 `json:"property_net_value,omitempty"`
}

// BurnRequest redeems points.
type BurnRequest struct {
	Source           string
	UserID           int64
	MemberID         string
	Value            float64
	BusinessTrigger  string
	BusinessCategory string
	TransactionID    string
	ConceptID        string
	ConceptName      string
	Description      string
	RedemptionMode   string
	Currency         string
	ExternalUserID   string
	ExternalUserName string
}

// Enrollment registers a member.
type Enrollment struct {
	Channel            string
	ExternalUserID     string
	FirstName          string
	LastName           string
	MembershipNumber   string
	Email              string
	MobileNumber       string
	RegistrationDate   time.Time
	ReferrerMemberID   string
	CountryOfResidence string
	Nationality        string
	Gender             string
	DateOfBirth        string
	AdditionalInfo     map[string]any
}

// EarnRecord is the audit row written before an earn call.
type EarnRecord struct {
	Source                string
	UserID                int64
	BusinessTrigger       string
	BusinessCategory      string
	ConceptID             string
	ConceptName           string
	ExternalTransactionID string
	GrossTotalAmount      float64
	NetAmount             float64
	PaidAmount            float64
	AmountPaidUsingPoints float64
	RedemptionReference   string
	Currency              string
	ChargeID              string
	Description           string
	TransactionDatetime   string
	ExternalUserID        string
	ExternalUserName      string
}

// EarnOutcome is written to the audit row after a successful earn.
type EarnOutcome struct {
	TransactionID       string
	PointsEarned        float64
	EarnRate            float64
	BonusPoints         float64
	ReferrerBonusPoints float64
	MemberTier          string
	TierUpdated         bool
	CompletedAt         time.Time
}

// EarnAddendum records the taxes deducted from an earn.
type EarnAddendum struct {
	EarnID                  int64
	ValueAddedTax           float64
	ServiceCharges          float64
	VATPercentage           float64
	ServiceChargePercentage float64
}

type RefundRecord struct {
	Source           string
	UserID           int64
	BusinessCategory string
	BusinessTrigger  string
	TransactionID    string
	RefundPointsMode string
	RefundAmount     float64
	Currency         string
	Description      string
	ConceptID        string
	ConceptName      string
	PropertyNetValue *float64
}

type RefundOutcome struct {
	Succeeded      bool
	PointsBalance  float64
	PointsRefunded float64
	ResponseValue  float64
	CompletedAt    time.Time
}

type BurnRecord struct {
	Source                string
	UserID                int64
	BusinessTrigger       string
	BusinessCategory      string
	ConceptID             string
	ConceptName           string
	Description           string
	RedemptionMode        string
	ExternalTransactionID string
	RedemptionValue       float64
	Currency              string
	ExternalUserID        string
	ExternalUserName      string
}

type BurnOutcome struct {
	PointsBalance           float64
	PointsBurned            float64
	AmountBurned            float64
	BurnRate                float64
	RedemptionID            string
	RedemptionReferenceCode string
	DateCreated             string
	CompletedAt             time.Time
}

// EnrollmentRecord is the audit row written before an enrollment call.
type EnrollmentRecord struct {
	Source           string
	ExternalUserID   string
	MembershipNumber string
	Email            string
	MobileNumber     string
	ReferrerMemberID string
}

type EnrollmentOutcome struct {
	MemberID     string
	MemberStatus string
	MemberTier   string
	CompletedAt  time.Time
}

// AuditStore persists one row per outbound attempt. Rows are inserted before
// the call and completed after it; they are never deleted.
type AuditStore interface {
	InsertEarn(ctx context.Context, r EarnRecord) (int64, error)
	CompleteEarn(ctx context.Context, id int64, o EarnOutcome) error
	InsertEarnAddendum(ctx context.Context, a EarnAddendum) error
	InsertRefund(ctx context.Context, r RefundRecord) (int64, error)
	CompleteRefund(ctx context.Context, id int64, o RefundOutcome) error
	InsertBurn(ctx context.Context, r BurnRecord) (int64, error)
	CompleteBurn(ctx context.Context, id int64, o BurnOutcome) error
	InsertEnrollment(ctx context.Context, r EnrollmentRecord) (int64, error)
	CompleteEnrollment(ctx context.Context, id int64, o EnrollmentOutcome) error
}
