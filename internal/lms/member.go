package lms

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"aldar.app/internal/apperr"
)

// RegisterUser enrolls a member and returns the LMS profile.
func (c *Client) RegisterUser(ctx context.Context, e Enrollment) (map[string]any, error) {
	mobile := strings.TrimLeft(e.MobileNumber, "+")
	body := map[string]any{
		"external_user_id":  e.ExternalUserID,
		"first_name":        e.FirstName,
		"last_name":         e.LastName,
		"membership_number": e.MembershipNumber,
		"language":          "EN",
		"email":             e.Email,
		"mobile_number":     mobile,
		"registration_date": e.RegistrationDate.Format("2006-01-02 15:04:05"),
		"additionalInfo":    e.AdditionalInfo,
	}
	if e.AdditionalInfo == nil {
		body["additionalInfo"] = map[string]any{}
	}
	body["country_of_residence"] = orDefault(e.CountryOfResidence, "AE")
	body["nationality"] = orDefault(e.Nationality, "AE")
	body["gender"] = orDefault(normalizeGender(e.Gender), "M")
	if e.DateOfBirth != "" {
		body["date_of_birth"] = e.DateOfBirth
	}
	if e.ReferrerMemberID != "" {
		body["referrer_member_id"] = e.ReferrerMemberID
	}

	channel := orDefault(e.Channel, SourceApp)
	id, err := c.audit.InsertEnrollment(ctx, EnrollmentRecord{
		Source:           channel,
		ExternalUserID:   e.ExternalUserID,
		MembershipNumber: e.MembershipNumber,
		Email:            e.Email,
		MobileNumber:     mobile,
		ReferrerMemberID: e.ReferrerMemberID,
	})
	if err != nil {
		return nil, apperr.Internal(err)
	}

	res, err := c.do(ctx, "enrollment", http.MethodPost, c.urls.Enrollment, channel, body)
	if err != nil {
		return nil, err
	}
	profile := obj(res.Body["profile"])
	if profile == nil {
		return nil, apperr.Downstream(http.StatusBadGateway, "LMS enrollment returned no profile", nil)
	}
	if err := c.audit.CompleteEnrollment(ctx, id, EnrollmentOutcome{
		MemberID:     str(profile["member_id"]),
		MemberStatus: str(profile["status"]),
		MemberTier:   str(profile["member_tier"]),
		CompletedAt:  c.now().UTC(),
	}); err != nil {
		return profile, apperr.Internal(err)
	}
	return profile, nil
}

// UpdateUser changes gender, nationality (also used as residence) and date of birth.
func (c *Client) UpdateUser(ctx context.Context, memberID, gender, nationality, dateOfBirth string) error {
	g := strings.ToUpper(strings.TrimSpace(gender))
	if g == "" {
		return apperr.Validation("gender: missing required parameter")
	}
	return c.updateUser(ctx, map[string]any{
		"member_id":            memberID,
		"country_of_residence": nationality,
		"nationality":          nationality,
		"gender":               g[:1],
		"date_of_birth":        dateOfBirth,
	})
}

func (c *Client) UpdateCountryOfResidence(ctx context.Context, memberID, country string) error {
	return c.updateUser(ctx, map[string]any{"member_id": memberID, "country_of_residence": country})
}

func (c *Client) UpdateMobileNumber(ctx context.Context, memberID, mobile string) error {
	return c.updateUser(ctx, map[string]any{"member_id": memberID, "mobile_number": mobile})
}

func (c *Client) updateUser(ctx context.Context, body map[string]any) error {
	_, err := c.do(ctx, "user_update", http.MethodPost, c.urls.UserUpdate, SourceApp, body)
	return err
}

// Profile returns the member profile.
func (c *Client) Profile(ctx context.Context, memberID string) (map[string]any, error) {
	u := c.urls.Profile
	if strings.Contains(u, "%s") {
		u = fmt.Sprintf(u, url.PathEscape(memberID))
	}
	res, err := c.do(ctx, "profile", http.MethodGet, u, SourceApp, nil)
	if err != nil {
		return nil, err
	}
	if p := obj(res.Body["profile"]); p != nil {
		return p, nil
	}
	return map[string]any{}, nil
}

// Transactions lists the member's transactions of the given type ("all" when empty).
func (c *Client) Transactions(ctx context.Context, memberID, txType string) (any, error) {
	body := map[string]any{"member_id": memberID, "transaction_type": orDefault(txType, "all")}
	res, err := c.do(ctx, "transactions", http.MethodPost, c.urls.Transactions, SourceApp, body)
	if err != nil {
		return nil, err
	}
	if t, ok := res.Body["transactions"]; ok && t != nil {
		return t, nil
	}
	return map[string]any{}, nil
}

// Points returns the point summary for a trigger and category.
func (c *Client) Points(ctx context.Context, memberID, trigger, category string) (map[string]any, error) {
	body := map[string]any{"member_id": memberID, "business_trigger": trigger, "business_category": category}
	res, err := c.do(ctx, "points", http.MethodPost, c.urls.Points, SourceApp, body)
	if err != nil {
		return nil, err
	}
	if p := obj(res.Body["point_summary"]); p != nil {
		return p, nil
	}
	return map[string]any{}, nil
}

// Configs returns the LMS configuration document.
func (c *Client) Configs(ctx context.Context) (map[string]any, error) {
	res, err := c.do(ctx, "configs", http.MethodGet, c.urls.Configs, SourceApp, nil)
	if err != nil {
		return nil, err
	}
	if res.Body == nil {
		return map[string]any{}, nil
	}
	return res.Body, nil
}

func normalizeGender(g string) string {
	switch strings.ToLower(strings.TrimSpace(g)) {
	case "male":
		return "M"
	case "female":
		return "F"
	default:
		return strings.TrimSpace(g)
	}
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
