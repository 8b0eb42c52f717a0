package lms

import (
	"context"
	"net/http"
	"time"

	"aldar.app/internal/apiconfig"
	"aldar.app/internal/apperr"
	"aldar.app/internal/obs"
)

// EarnTxOutcome is what the LMS said about one transaction of an earn call.
// Exactly one of Success and Failure is set when the LMS answered for it.
type EarnTxOutcome struct {
	EarnID  int64
	Success map[string]any
	Failure map[string]any
}

// EarnResult carries the raw response plus per-transaction outcomes, in request order.
type EarnResult struct {
	Response *Response
	Outcomes []EarnTxOutcome
}

// Earn submits txs in one request. Hospitality transactions not coming from
// CLO are sent with VAT and service charge removed from the paid amount.
func (c *Client) Earn(ctx context.Context, txs []EarnTransaction) (*EarnResult, error) {
	if len(txs) == 0 {
		return nil, apperr.Validation("earn requires at least one transaction")
	}
	txs = append([]EarnTransaction(nil), txs...)

	taxes := make([]*Taxes, len(txs))
	var vatPct, svcPct float64
	for i := range txs {
		if txs[i].Source == SourceCLO || !TaxTriggers[txs[i].BusinessTrigger] {
			continue
		}
		if vatPct == 0 && svcPct == 0 {
			var err error
			if vatPct, svcPct, err = c.taxRates(ctx); err != nil {
				return nil, err
			}
		}
		t := DeductTaxes(txs[i].PaidAmount, vatPct, svcPct)
		txs[i].PaidAmount = t.Net
		txs[i].NetAmount = t.Net
		txs[i].GrossTotalAmount = t.Original
		taxes[i] = &t
	}

	result := &EarnResult{Outcomes: make([]EarnTxOutcome, len(txs))}
	for i, tx := range txs {
		id, err := c.audit.InsertEarn(ctx, earnRecord(tx))
		if err != nil {
			return nil, apperr.Internal(err)
		}
		result.Outcomes[i].EarnID = id
	}

	channel := txs[0].Source
	res, err := c.do(ctx, "earn", http.MethodPost, c.urls.Earn, channel, txs)
	result.Response = res

	if res != nil {
		for i, t := range taxes {
			if t == nil {
				continue
			}
			if aerr := c.audit.InsertEarnAddendum(ctx, EarnAddendum{
				EarnID:                  result.Outcomes[i].EarnID,
				ValueAddedTax:           t.VAT,
				ServiceCharges:          t.ServiceCharges,
				VATPercentage:           vatPct,
				ServiceChargePercentage: svcPct,
			}); aerr != nil {
				obs.Logger().Error().Err(aerr).Int64("earn_id", result.Outcomes[i].EarnID).Msg("Unable to log into earn_addendum")
			}
		}
	}
	if err != nil {
		return result, err
	}

	batch := obj(res.Body["batch_earn"])
	matchEarnOutcomes(txs, list(batch["success"]), list(batch["failed"]), result.Outcomes)

	if status, ok := res.Status(); !ok || status != 0 {
		c.logBusinessFailure(ctx, "earn", http.MethodPost, c.urls.Earn, txs, res)
		return result, nil
	}
	for _, o := range result.Outcomes {
		if o.Success == nil {
			continue
		}
		if uerr := c.audit.CompleteEarn(ctx, o.EarnID, EarnOutcomeFrom(o.Success, c.now())); uerr != nil {
			return result, apperr.Internal(uerr)
		}
	}
	return result, nil
}

// EarnOutcomeFrom reads one batch_earn.success entry.
func EarnOutcomeFrom(m map[string]any, at time.Time) EarnOutcome {
	return EarnOutcome{
		TransactionID:       str(m["earn_transaction_id"]),
		PointsEarned:        num(m["earned_points"]),
		EarnRate:            num(m["earn_rate"]),
		BonusPoints:         num(m["bonus_points"]),
		ReferrerBonusPoints: num(m["referrer_bonus_points"]),
		MemberTier:          str(m["member_tier"]),
		TierUpdated:         num(m["tier_updated"]) != 0,
		CompletedAt:         at.UTC(),
	}
}

func (c *Client) taxRates(ctx context.Context) (vat, svc float64, err error) {
	if c.configs == nil {
		return 0, 0, apperr.Config("tax percentages are not configured")
	}
	vals, err := c.configs.Get(ctx, apiconfig.GroupPrivate)
	if err != nil {
		return 0, 0, apperr.Internal(err)
	}
	vat, ok1 := vals.Float(apiconfig.VATPercentage)
	svc, ok2 := vals.Float(apiconfig.ServiceChargePercentage)
	if !ok1 || !ok2 {
		return 0, 0, apperr.Config("tax percentages are not configured")
	}
	return vat, svc, nil
}

func earnRecord(tx EarnTransaction) EarnRecord {
	source := tx.Source
	if source == "" {
		source = SourceApp
	}
	return EarnRecord{
		Source:                source,
		UserID:                tx.UserID,
		BusinessTrigger:       tx.BusinessTrigger,
		BusinessCategory:      tx.BusinessCategory,
		ConceptID:             tx.ConceptID,
		ConceptName:           tx.ConceptName,
		ExternalTransactionID: tx.ExternalTransactionID,
		GrossTotalAmount:      tx.GrossTotalAmount,
		NetAmount:             tx.NetAmount,
		PaidAmount:            tx.PaidAmount,
		AmountPaidUsingPoints: tx.AmountPaidUsingPoints,
		RedemptionReference:   tx.RedemptionReference,
		Currency:              tx.Currency,
		ChargeID:              tx.ChargeID,
		Description:           tx.Description,
		TransactionDatetime:   tx.TransactionDatetime,
		ExternalUserID:        tx.ExternalUserID,
		ExternalUserName:      tx.ExternalUserName,
	}
}

// matchEarnOutcomes pairs batch_earn entries with transactions, by
// external_transaction_id when the LMS echoes it, otherwise in order.
func matchEarnOutcomes(txs []EarnTransaction, success, failed []any, out []EarnTxOutcome) {
	usedS := make([]bool, len(success))
	usedF := make([]bool, len(failed))
	take := func(entries []any, used []bool, id string) map[string]any {
		for i, e := range entries {
			m := obj(e)
			if m == nil || used[i] {
				continue
			}
			if id == "" || str(m["external_transaction_id"]) == id {
				used[i] = true
				return m
			}
		}
		return nil
	}
	for i, tx := range txs {
		if tx.ExternalTransactionID == "" {
			continue
		}
		if m := take(success, usedS, tx.ExternalTransactionID); m != nil {
			out[i].Success = m
		} else if m := take(failed, usedF, tx.ExternalTransactionID); m != nil {
			out[i].Failure = m
		}
	}
	for i := range txs {
		if out[i].Success != nil || out[i].Failure != nil {
			continue
		}
		if m := take(success, usedS, ""); m != nil {
			out[i].Success = m
		} else if m := take(failed, usedF, ""); m != nil {
			out[i].Failure = m
		}
	}
}
