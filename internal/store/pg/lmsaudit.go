package pg

import (
	"context"

	"aldar.app/internal/lms"
)

func (s *Store) InsertEarn(ctx context.Context, r lms.EarnRecord) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		insert into earn (source, user_id, business_category, business_trigger, concept_id, concept_name,
			external_transaction_id, gross_total_amount, net_amount, amount_paid_using_points, paid_amount,
			redemption_reference, currency, charge_id, description, transaction_datetime,
			external_user_id, external_user_name)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		returning id
	`, r.Source, r.UserID, r.BusinessCategory, r.BusinessTrigger, r.ConceptID, r.ConceptName,
		r.ExternalTransactionID, r.GrossTotalAmount, r.NetAmount, r.AmountPaidUsingPoints, r.PaidAmount,
		nullString(r.RedemptionReference), r.Currency, nullString(r.ChargeID), r.Description, r.TransactionDatetime,
		nullString(r.ExternalUserID), nullString(r.ExternalUserName)).Scan(&id)
	return id, err
}

func (s *Store) CompleteEarn(ctx context.Context, id int64, o lms.EarnOutcome) error {
	_, err := s.db.ExecContext(ctx, `
		update earn set lms_earn_transaction_id = $2, points_earned = $3, earn_rate = $4, bonus_points = $5,
			referrer_bonus_points = $6, member_tier = $7, tier_updated = $8,
			date_completed = $9, date_last_updated = $9
		where id = $1
	`, id, o.TransactionID, o.PointsEarned, o.EarnRate, o.BonusPoints,
		o.ReferrerBonusPoints, nullString(o.MemberTier), o.TierUpdated, o.CompletedAt)
	return err
}

func (s *Store) InsertEarnAddendum(ctx context.Context, a lms.EarnAddendum) error {
	_, err := s.db.ExecContext(ctx, `
		insert into earn_addendum (earn_id, value_added_tax, service_charges, vat_percentage, service_charge_percentage)
		values ($1, $2, $3, $4, $5)
	`, a.EarnID, a.ValueAddedTax, a.ServiceCharges, a.VATPercentage, a.ServiceChargePercentage)
	return err
}

func (s *Store) InsertRefund(ctx context.Context, r lms.RefundRecord) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		insert into refund (source, user_id, business_category, business_trigger, concept_id, concept_name,
			transaction_id, refund_points_mode, refund_amount, property_net_value, currency, description)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		returning id
	`, r.Source, r.UserID, r.BusinessCategory, r.BusinessTrigger, r.ConceptID, r.ConceptName,
		r.TransactionID, r.RefundPointsMode, r.RefundAmount, nullFloat(r.PropertyNetValue), r.Currency, r.Description).Scan(&id)
	return id, err
}

func (s *Store) CompleteRefund(ctx context.Context, id int64, o lms.RefundOutcome) error {
	_, err := s.db.ExecContext(ctx, `
		update refund set succeeded = $2, points_balance = $3, points_refunded = $4, response_value = $5,
			date_completed = $6, date_last_updated = $6
		where id = $1
	`, id, o.Succeeded, o.PointsBalance, o.PointsRefunded, o.ResponseValue, o.CompletedAt)
	return err
}

func (s *Store) InsertBurn(ctx context.Context, r lms.BurnRecord) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		insert into transaction_burn (source, user_id, business_trigger, business_category, concept_id, concept_name,
			description, redemption_mode, external_transaction_id, redemption_value, currency,
			external_user_id, external_user_name)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		returning id
	`, r.Source, r.UserID, r.BusinessTrigger, r.BusinessCategory, r.ConceptID, r.ConceptName,
		r.Description, r.RedemptionMode, r.ExternalTransactionID, r.RedemptionValue, r.Currency,
		nullString(r.ExternalUserID), nullString(r.ExternalUserName)).Scan(&id)
	return id, err
}

func (s *Store) CompleteBurn(ctx context.Context, id int64, o lms.BurnOutcome) error {
	_, err := s.db.ExecContext(ctx, `
		update transaction_burn set points_balance = $2, points_burned = $3, amount_burned = $4, burn_rate = $5,
			redemption_id = $6, redemption_reference_code = $7, lms_date_created = $8,
			date_completed = $9, date_last_updated = $9
		where id = $1
	`, id, o.PointsBalance, o.PointsBurned, o.AmountBurned, o.BurnRate,
		o.RedemptionID, o.RedemptionReferenceCode, nullString(o.DateCreated), o.CompletedAt)
	return err
}

func (s *Store) InsertEnrollment(ctx context.Context, r lms.EnrollmentRecord) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		insert into enrollment (source, external_user_id, membership_number, email, mobile_number, referrer_member_id)
		values ($1, $2, $3, $4, $5, $6)
		returning id
	`, r.Source, r.ExternalUserID, nullString(r.MembershipNumber), nullString(r.Email),
		nullString(r.MobileNumber), nullString(r.ReferrerMemberID)).Scan(&id)
	return id, err
}

func (s *Store) CompleteEnrollment(ctx context.Context, id int64, o lms.EnrollmentOutcome) error {
	_, err := s.db.ExecContext(ctx, `
		update enrollment set lms_member_id = $2, member_status = $3, member_tier = $4,
			date_completed = $5, date_last_updated = $5
		where id = $1
	`, id, o.MemberID, nullString(o.MemberStatus), nullString(o.MemberTier), o.CompletedAt)
	return err
}
