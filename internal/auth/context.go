package auth

import "context"

type claimsContextKey struct{}
type partnerContextKey struct{}

// ContextWithClaims attaches decoded bearer claims to the context.
func ContextWithClaims(ctx context.Context, c *Claims) context.Context {
	if c == nil {
		return ctx
	}
	return context.WithValue(ctx, claimsContextKey{}, c)
}

// ClaimsFromContext returns the decoded bearer claims if present.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	if ctx == nil {
		return nil, false
	}
	v, ok := ctx.Value(claimsContextKey{}).(*Claims)
	return v, ok && v != nil
}

// ContextWithPartner records the basic-auth username of a callback caller.
func ContextWithPartner(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, partnerContextKey{}, user)
}

func PartnerFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(partnerContextKey{}).(string)
	return v, ok && v != ""
}
