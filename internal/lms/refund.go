package lms

import (
	"context"
	"net/http"

	"aldar.app/internal/apperr"
)

// RefundResult carries the audit row id and the raw LMS answer.
type RefundResult struct {
	RefundID int64
	Response *Response
}

// Refunded returns the "refund" object of the answer, empty when absent.
func (r *RefundResult) Refunded() map[string]any {
	if r == nil || r.Response == nil {
		return map[string]any{}
	}
	if m := obj(r.Response.Body["refund"]); m != nil {
		return m
	}
	return map[string]any{}
}

// Refund returns points (or their amount) for a cancelled transaction.
func (c *Client) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	if req.Source == "" {
		req.Source = SourceApp
	}
	if req.Currency == "" {
		req.Currency = CurrencyAED
	}
	if req.PropertyNetValue != nil && *req.PropertyNetValue == 0 {
		req.PropertyNetValue = nil
	}
	id, err := c.audit.InsertRefund(ctx, RefundRecord{
		Source:           req.Source,
		UserID:           req.UserID,
		BusinessCategory: req.BusinessCategory,
		BusinessTrigger:  req.BusinessTrigger,
		TransactionID:    req.TransactionID,
		RefundPointsMode: req.RefundPointsMode,
		RefundAmount:     req.Value,
		Currency:         req.Currency,
		Description:      req.Description,
		ConceptID:        req.ConceptID,
		ConceptName:      req.ConceptName,
		PropertyNetValue: req.PropertyNetValue,
	})
	if err != nil {
		return nil, apperr.Internal(err)
	}

	result := &RefundResult{RefundID: id}
	res, err := c.do(ctx, "refund", http.MethodPost, c.urls.Refund, req.Source, req)
	result.Response = res
	if err != nil {
		return result, err
	}

	outcome := RefundOutcome{CompletedAt: c.now().UTC()}
	if status, ok := res.Status(); ok && status == 0 {
		refunded := result.Refunded()
		outcome.Succeeded = true
		outcome.PointsBalance = num(refunded["points_balance"])
		outcome.PointsRefunded = num(refunded["points"])
		outcome.ResponseValue = num(refunded["value"])
	} else {
		c.logBusinessFailure(ctx, "refund", http.MethodPost, c.urls.Refund, req, res)
	}
	if err := c.audit.CompleteRefund(ctx, id, outcome); err != nil {
		return result, apperr.Internal(err)
	}
	return result, nil
}
