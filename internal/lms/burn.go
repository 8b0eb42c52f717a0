package lms

import (
	"context"
	"net/http"

	"aldar.app/internal/apperr"
)

type BurnResult struct {
	BurnID   int64
	Response *Response
}

// Burn redeems points. The LMS still reads the transaction id from the
// misspelt "transacton_id" key, so both keys are sent.
func (c *Client) Burn(ctx context.Context, req BurnRequest) (*BurnResult, error) {
	if req.Source == "" {
		req.Source = SourceApp
	}
	if req.Currency == "" {
		req.Currency = CurrencyAED
	}
	if req.RedemptionMode == "" {
		req.RedemptionMode = "points"
	}
	id, err := c.audit.InsertBurn(ctx, BurnRecord{
		Source:                req.Source,
		UserID:                req.UserID,
		BusinessTrigger:       req.BusinessTrigger,
		BusinessCategory:      req.BusinessCategory,
		ConceptID:             req.ConceptID,
		ConceptName:           req.ConceptName,
		Description:           req.Description,
		RedemptionMode:        req.RedemptionMode,
		ExternalTransactionID: req.TransactionID,
		RedemptionValue:       req.Value,
		Currency:              req.Currency,
		ExternalUserID:        req.ExternalUserID,
		ExternalUserName:      req.ExternalUserName,
	})
	if err != nil {
		return nil, apperr.Internal(err)
	}

	body := map[string]any{
		"member_id":         req.MemberID,
		"redemption_mode":   req.RedemptionMode,
		"business_trigger":  req.BusinessTrigger,
		"business_category": req.BusinessCategory,
		"transaction_id":    req.TransactionID,
		"transacton_id":     req.TransactionID,
		"currency":          req.Currency,
		"value":             req.Value,
		"concept_id":        req.ConceptID,
	}
	result := &BurnResult{BurnID: id}
	res, err := c.do(ctx, "burn", http.MethodPost, c.urls.Burn, req.Source, body)
	result.Response = res
	if err != nil {
		return result, err
	}

	if status, ok := res.Status(); !ok || status != 0 {
		c.logBusinessFailure(ctx, "burn", http.MethodPost, c.urls.Burn, body, res)
		return result, nil
	}
	burned := obj(res.Body["redemption"])
	if err := c.audit.CompleteBurn(ctx, id, BurnOutcome{
		PointsBalance:           num(burned["points_balance"]),
		PointsBurned:            num(burned["points"]),
		AmountBurned:            num(burned["amount"]),
		BurnRate:                num(burned["burn_rate"]),
		RedemptionID:            str(burned["redemption_id"]),
		RedemptionReferenceCode: str(burned["redemption_reference_code"]),
		DateCreated:             str(burned["date_created"]),
		CompletedAt:             c.now().UTC(),
	}); err != nil {
		return result, apperr.Internal(err)
	}
	return result, nil
}
