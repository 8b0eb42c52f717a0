package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"aldar.app/internal/apperr"
	"aldar.app/internal/audit"
	"aldar.app/internal/lms"
)

// LMS is the part of the loyalty client the endpoints use. *lms.Client
// satisfies it.
type LMS interface {
	Earn(ctx context.Context, txs []lms.EarnTransaction) (*lms.EarnResult, error)
	Refund(ctx context.Context, req lms.RefundRequest) (*lms.RefundResult, error)
	Burn(ctx context.Context, req lms.BurnRequest) (*lms.BurnResult, error)
	Profile(ctx context.Context, memberID string) (map[string]any, error)
	Points(ctx context.Context, memberID, trigger, category string) (map[string]any, error)
	Transactions(ctx context.Context, memberID, txType string) (any, error)
	UpdateUser(ctx context.Context, memberID, gender, nationality, dateOfBirth string) error
	UpdateCountryOfResidence(ctx context.Context, memberID, country string) error
	UpdateMobileNumber(ctx context.Context, memberID, mobile string) error
	Configs(ctx context.Context) (map[string]any, error)
}

const (
	msgNotMember   = "User is not enrolled in the loyalty program"
	msgUnhandled   = "LMS api has sent an unhandled response"
	msgLMSRejected = "LMS request failed"
)

var earnArgs = []Arg{
	{Name: "business_trigger", Required: true},
	{Name: "business_category", Required: true},
	{Name: "concept_id", Required: true},
	{Name: "concept_name"},
	{Name: "external_transaction_id", Required: true},
	{Name: "gross_total_amount", Type: Float, Required: true},
	{Name: "net_amount", Type: Float},
	{Name: "paid_amount", Type: Float, Required: true},
	{Name: "amount_paid_using_points", Type: Float, Default: 0.0},
	{Name: "redemption_reference"},
	{Name: "charge_id"},
	{Name: "description"},
	{Name: "transaction_datetime"},
	{Name: "source", Default: lms.SourceApp},
}

// cloEarnArgs identify the member by membership code; the source is always CLO.
var cloEarnArgs = append([]Arg{
	{Name: "membership_code", Required: true},
	{Name: "external_user_id"},
	{Name: "external_user_name"},
}, earnArgs[:len(earnArgs)-1]...)

// LMSEndpoints declares the loyalty routes served to the mobile app and partners.
func LMSEndpoints(client LMS) []Endpoint {
	h := lmsHandlers{client: client}
	return []Endpoint{
		{
			Method:  http.MethodPost,
			Path:    "/v1/lms/earn",
			Logger:  "lms_earn",
			LogFile: "lms/earn.log",
			Args:    earnArgs,
			Handle:  h.earn,
		},
		{
			Method:  http.MethodPost,
			Path:    "/v1/lms/refund",
			Logger:  "lms_refund",
			LogFile: "lms/refund.log",
			Args: []Arg{
				{Name: "business_trigger", Required: true},
				{Name: "business_category", Required: true},
				{Name: "transaction_id", Required: true},
				{Name: "refund_points_mode", Default: "amount", Choices: []string{"amount", "points"}},
				{Name: "value", Type: Float, Required: true},
				{Name: "description"},
				{Name: "concept_id"},
				{Name: "concept_name"},
				{Name: "property_net_value", Type: Float},
			},
			Handle: h.refund,
		},
		{
			Method:  http.MethodPost,
			Path:    "/v1/lms/burn",
			Logger:  "lms_burn",
			LogFile: "lms/burn.log",
			Args: []Arg{
				{Name: "value", Type: Float, Required: true},
				{Name: "business_trigger", Required: true},
				{Name: "business_category", Required: true},
				{Name: "transaction_id", Required: true},
				{Name: "concept_id"},
				{Name: "concept_name"},
				{Name: "description"},
				{Name: "redemption_mode", Default: "points", Choices: []string{"points", "amount"}},
			},
			Handle: h.burn,
		},
		{
			Method:      http.MethodGet,
			Path:        "/v1/lms/profile",
			Logger:      "lms_profile",
			LogFile:     "lms/profile.log",
			StrictToken: true,
			Handle:      h.profile,
		},
		{
			Method:  http.MethodGet,
			Path:    "/v1/lms/points",
			Logger:  "lms_points",
			LogFile: "lms/points.log",
			Args: []Arg{
				{Name: "business_trigger", Required: true},
				{Name: "business_category", Required: true},
			},
			Handle: h.points,
		},
		{
			Method:  http.MethodPost,
			Path:    "/v1/lms/transactions",
			Logger:  "lms_transactions",
			LogFile: "lms/transactions.log",
			Args:    []Arg{{Name: "transaction_type", Default: "all"}},
			Handle:  h.transactions,
		},
		{
			Method:  http.MethodPost,
			Path:    "/v1/lms/user",
			Logger:  "lms_user",
			LogFile: "lms/user.log",
			Args: []Arg{
				{Name: "gender", Required: true},
				{Name: "nationality", Required: true},
				{Name: "date_of_birth", Required: true},
			},
			Handle: h.updateUser,
		},
		{
			Method:  http.MethodPost,
			Path:    "/v1/lms/user/residence",
			Logger:  "lms_user",
			LogFile: "lms/user.log",
			Args:    []Arg{{Name: "country_of_residence", Required: true}},
			Handle:  h.updateResidence,
		},
		{
			Method:  http.MethodPost,
			Path:    "/v1/lms/user/mobile",
			Logger:  "lms_user",
			LogFile: "lms/user.log",
			Args:    []Arg{{Name: "mobile_number", Required: true}},
			Handle:  h.updateMobile,
		},
		{
			Method:        http.MethodGet,
			Path:          "/v1/lms/configs",
			Logger:        "lms_configs",
			LogFile:       "lms/configs.log",
			OptionalToken: true,
			SkipEncrypt:   true,
			Handle:        h.configs,
		},
		{
			Method:      http.MethodPost,
			Path:        "/v1/callbacks/clo/earn",
			Logger:      "clo_earn",
			LogFile:     "callbacks/clo_earn.log",
			Envelope:    Callback{},
			BasicAuth:   true,
			SkipDecrypt: true,
			SkipEncrypt: true,
			LogRequest:  true,
			Args:        cloEarnArgs,
			Handle:      h.cloEarn,
		},
	}
}

type lmsHandlers struct {
	client LMS
}

// memberID is the LMS id of the session user.
func memberID(c *Call) (string, error) {
	if !c.Principal.LoggedIn || c.Principal.LMSMemberID == "" {
		return "", apperr.Forbidden(msgNotMember)
	}
	return c.Principal.LMSMemberID, nil
}

// lmsFailure maps an LMS transport or HTTP failure to the client answer.
func lmsFailure(err error) error {
	var he *lms.HTTPError
	if errors.As(err, &he) {
		return apperr.Downstream(http.StatusBadGateway, msgLMSRejected, err)
	}
	return err
}

func earnTransaction(a Args, member, source string) lms.EarnTransaction {
	return lms.EarnTransaction{
		Source:                source,
		MemberID:              member,
		BusinessTrigger:       a.String("business_trigger"),
		BusinessCategory:      a.String("business_category"),
		ConceptID:             a.String("concept_id"),
		ConceptName:           a.String("concept_name"),
		ExternalTransactionID: a.String("external_transaction_id"),
		GrossTotalAmount:      a.Float("gross_total_amount"),
		NetAmount:             a.Float("net_amount"),
		PaidAmount:            a.Float("paid_amount"),
		AmountPaidUsingPoints: a.Float("amount_paid_using_points"),
		RedemptionReference:   a.String("redemption_reference"),
		Currency:              lms.CurrencyAED,
		ChargeID:              a.String("charge_id"),
		Description:           a.String("description"),
		TransactionDatetime:   a.String("transaction_datetime"),
		ExternalUserID:        a.String("external_user_id"),
		ExternalUserName:      a.String("external_user_name"),
	}
}

func (h lmsHandlers) submitEarn(c *Call, tx lms.EarnTransaction) error {
	res, err := h.client.Earn(c.Context(), []lms.EarnTransaction{tx})
	if err != nil {
		return lmsFailure(err)
	}
	if len(res.Outcomes) == 0 {
		return apperr.Downstream(http.StatusBadGateway, msgUnhandled, nil)
	}
	out := res.Outcomes[0]
	switch {
	case out.Success != nil:
		if err := audit.LogEvent(c.Context(), "lms.earn", map[string]any{
			"earn_id":                 out.EarnID,
			"external_transaction_id": tx.ExternalTransactionID,
			"source":                  tx.Source,
		}); err != nil {
			c.Log.Error().Err(err).Msg("audit")
		}
		c.Reply("success", out.Success)
	case out.Failure != nil:
		msg, _ := out.Failure["message"].(string)
		if msg == "" {
			msg = msgLMSRejected
		}
		return apperr.Downstream(http.StatusUnprocessableEntity, msg, nil)
	default:
		return apperr.Downstream(http.StatusBadGateway, msgUnhandled, nil)
	}
	return nil
}

func (h lmsHandlers) earn(c *Call) error {
	member, err := memberID(c)
	if err != nil {
		return err
	}
	tx := earnTransaction(c.Args, member, c.Args.String("source"))
	tx.UserID = c.Principal.UserID
	return h.submitEarn(c, tx)
}

// cloEarn is the partner callback. CLO amounts already exclude taxes.
func (h lmsHandlers) cloEarn(c *Call) error {
	tx := earnTransaction(c.Args, c.Args.String("membership_code"), lms.SourceCLO)
	return h.submitEarn(c, tx)
}

func (h lmsHandlers) refund(c *Call) error {
	member, err := memberID(c)
	if err != nil {
		return err
	}
	a := c.Args
	res, err := h.client.Refund(c.Context(), lms.RefundRequest{
		Source:           lms.SourceApp,
		UserID:           c.Principal.UserID,
		ConceptID:        a.String("concept_id"),
		ConceptName:      a.String("concept_name"),
		MemberID:         member,
		BusinessCategory: a.String("business_category"),
		BusinessTrigger:  a.String("business_trigger"),
		TransactionID:    a.String("transaction_id"),
		RefundPointsMode: a.String("refund_points_mode"),
		Value:            a.Float("value"),
		Description:      a.String("description"),
		PropertyNetValue: a.FloatPtr("property_net_value"),
	})
	if err != nil {
		return lmsFailure(err)
	}
	if refunded := res.Refunded(); len(refunded) > 0 {
		if err := audit.LogEvent(c.Context(), "lms.refund", map[string]any{
			"refund_id":      res.RefundID,
			"transaction_id": a.String("transaction_id"),
		}); err != nil {
			c.Log.Error().Err(err).Msg("audit")
		}
		c.Reply("success", refunded)
		return nil
	}
	return businessFailure(res.Response)
}

func (h lmsHandlers) burn(c *Call) error {
	member, err := memberID(c)
	if err != nil {
		return err
	}
	a := c.Args
	res, err := h.client.Burn(c.Context(), lms.BurnRequest{
		Source:           lms.SourceApp,
		UserID:           c.Principal.UserID,
		MemberID:         member,
		Value:            a.Float("value"),
		BusinessTrigger:  a.String("business_trigger"),
		BusinessCategory: a.String("business_category"),
		TransactionID:    a.String("transaction_id"),
		ConceptID:        a.String("concept_id"),
		ConceptName:      a.String("concept_name"),
		Description:      a.String("description"),
		RedemptionMode:   a.String("redemption_mode"),
	})
	if err != nil {
		return lmsFailure(err)
	}
	if status, ok := res.Response.Status(); ok && status == 0 {
		if err := audit.LogEvent(c.Context(), "lms.burn", map[string]any{
			"burn_id":        res.BurnID,
			"transaction_id": a.String("transaction_id"),
		}); err != nil {
			c.Log.Error().Err(err).Msg("audit")
		}
		c.Reply("success", res.Response.Body["redemption"])
		return nil
	}
	return businessFailure(res.Response)
}

// businessFailure answers a well formed LMS response with a non zero status.
func businessFailure(res *lms.Response) error {
	if res == nil || res.Body == nil {
		return apperr.Downstream(http.StatusBadGateway, msgUnhandled, nil)
	}
	if errs, ok := res.Body["errors"].([]any); ok && len(errs) > 0 {
		if first, ok := errs[0].(map[string]any); ok {
			if msg, _ := first["message"].(string); msg != "" {
				return apperr.Downstream(http.StatusUnprocessableEntity, msg, nil)
			}
		}
	}
	if msg, _ := res.Body["message"].(string); msg != "" {
		return apperr.Downstream(http.StatusUnprocessableEntity, msg, nil)
	}
	return apperr.Downstream(http.StatusBadGateway, msgUnhandled, nil)
}

func (h lmsHandlers) profile(c *Call) error {
	member, err := memberID(c)
	if err != nil {
		return err
	}
	profile, err := h.client.Profile(c.Context(), member)
	if err != nil {
		return lmsFailure(err)
	}
	c.Reply("success", profile)
	return nil
}

func (h lmsHandlers) points(c *Call) error {
	member, err := memberID(c)
	if err != nil {
		return err
	}
	summary, err := h.client.Points(c.Context(), member, c.Args.String("business_trigger"), c.Args.String("business_category"))
	if err != nil {
		return lmsFailure(err)
	}
	c.Reply("success", summary)
	return nil
}

func (h lmsHandlers) transactions(c *Call) error {
	member, err := memberID(c)
	if err != nil {
		return err
	}
	txs, err := h.client.Transactions(c.Context(), member, c.Args.String("transaction_type"))
	if err != nil {
		return lmsFailure(err)
	}
	c.Reply("success", txs)
	return nil
}

func (h lmsHandlers) updateUser(c *Call) error {
	member, err := memberID(c)
	if err != nil {
		return err
	}
	a := c.Args
	if err := h.client.UpdateUser(c.Context(), member, a.String("gender"), a.String("nationality"), a.String("date_of_birth")); err != nil {
		return lmsFailure(err)
	}
	c.Reply("success", nil)
	return nil
}

func (h lmsHandlers) updateResidence(c *Call) error {
	member, err := memberID(c)
	if err != nil {
		return err
	}
	if err := h.client.UpdateCountryOfResidence(c.Context(), member, c.Args.String("country_of_residence")); err != nil {
		return lmsFailure(err)
	}
	c.Reply("success", nil)
	return nil
}

// updateMobile sends the number without the leading plus, as enrollment does.
func (h lmsHandlers) updateMobile(c *Call) error {
	member, err := memberID(c)
	if err != nil {
		return err
	}
	mobile := strings.TrimPrefix(strings.TrimSpace(c.Args.String("mobile_number")), "+")
	if err := h.client.UpdateMobileNumber(c.Context(), member, mobile); err != nil {
		return lmsFailure(err)
	}
	c.Reply("success", nil)
	return nil
}

func (h lmsHandlers) configs(c *Call) error {
	cfg, err := h.client.Configs(c.Context())
	if err != nil {
		return lmsFailure(err)
	}
	c.Reply("success", cfg)
	return nil
}
