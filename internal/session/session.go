// Package session resolves a mobile session token into the caller's principal,
// recomputing cached entitlements when the session was flagged for refresh.
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned by stores for missing rows.
	ErrNotFound = errors.New("session: not found")

	// ErrUnauthenticated is the root of every resolution failure that is the caller's fault.
	ErrUnauthenticated = errors.New("session: unauthenticated")
	ErrUnknownSession  = fmt.Errorf("%w: unknown session token", ErrUnauthenticated)
	ErrInactiveUser    = fmt.Errorf("%w: inactive or missing user", ErrUnauthenticated)
)

// MemberGroup classifies a customer by whether they hold any entitlement.
type MemberGroup int

const (
	GroupMember   MemberGroup = 1
	GroupProspect MemberGroup = 2
)

func (g MemberGroup) String() string {
	if g == GroupMember {
		return "Member"
	}
	return "Prospect"
}

// DefaultUserGroup is used when a customer has no active group binding.
const DefaultUserGroup int64 = 1

// Session is a row of the session table.
type Session struct {
	ID              int64
	Token           string
	Company         string
	CustomerID      int64
	ProductIDs      string // comma separated
	RefreshRequired bool
	DateCached      time.Time
}

// User is the app-side user linked to a customer.
type User struct {
	ID          int64
	CustomerID  int64
	LMSMemberID string
	Email       string
}

// Store is the persistence the resolver needs.
type Store interface {
	SessionByToken(ctx context.Context, company, token string) (Session, error)
	ActiveUserByCustomerID(ctx context.Context, customerID int64) (User, error)
	UserGroups(ctx context.Context, company string, customerID int64) ([]int64, error)
	ConfiguredProductIDs(ctx context.Context, company string, groups []int64) ([]int64, error)
	SaveEntitlements(ctx context.Context, sessionID int64, productIDs string, refreshRequired bool, cachedAt time.Time) error
}

// Principal is what handlers see of the caller.
type Principal struct {
	Company      string
	LoggedIn     bool
	SessionID    int64
	SessionToken string
	CustomerID   int64
	UserID       int64 // app user id
	LMSMemberID  string
	Email        string
	ProductIDs   []int64
	MemberGroup  MemberGroup
}

// Anonymous is the principal of a request that carried no session token.
func Anonymous(company string) Principal {
	return Principal{Company: company}
}

type Resolver struct {
	store        Store
	defaultGroup int64
	now          func() time.Time
}

type Option func(*Resolver)

func WithDefaultGroup(id int64) Option {
	return func(r *Resolver) { r.defaultGroup = id }
}

func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

func NewResolver(store Store, opts ...Option) *Resolver {
	r := &Resolver{store: store, defaultGroup: DefaultUserGroup, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve looks the token up and returns the principal. Failures wrapping
// ErrUnauthenticated are client errors; anything else is a persistence failure.
func (r *Resolver) Resolve(ctx context.Context, company, token string) (Principal, error) {
	s, err := r.store.SessionByToken(ctx, company, token)
	if errors.Is(err, ErrNotFound) {
		return Principal{}, ErrUnknownSession
	}
	if err != nil {
		return Principal{}, fmt.Errorf("load session: %w", err)
	}

	u, err := r.store.ActiveUserByCustomerID(ctx, s.CustomerID)
	if errors.Is(err, ErrNotFound) {
		return Principal{}, ErrInactiveUser
	}
	if err != nil {
		return Principal{}, fmt.Errorf("load user: %w", err)
	}

	if s.Company == "" {
		s.Company = company
	}
	if s.RefreshRequired {
		if err := r.refresh(ctx, &s); err != nil {
			return Principal{}, err
		}
	}

	ids := ParseProductIDs(s.ProductIDs)
	p := Principal{
		Company:      company,
		LoggedIn:     true,
		SessionID:    s.ID,
		SessionToken: s.Token,
		CustomerID:   s.CustomerID,
		UserID:       u.ID,
		LMSMemberID:  u.LMSMemberID,
		Email:        u.Email,
		ProductIDs:   ids,
		MemberGroup:  GroupProspect,
	}
	if len(ids) > 0 {
		p.MemberGroup = GroupMember
	}
	return p, nil
}

// refresh recomputes entitlements. The refresh flag is only cleared when the
// recomputed list is non-empty, so an empty result is retried next request.
func (r *Resolver) refresh(ctx context.Context, s *Session) error {
	groups, err := r.store.UserGroups(ctx, s.Company, s.CustomerID)
	if err != nil {
		return fmt.Errorf("load user groups: %w", err)
	}
	if len(groups) == 0 {
		groups = []int64{r.defaultGroup}
	}
	ids, err := r.store.ConfiguredProductIDs(ctx, s.Company, groups)
	if err != nil {
		return fmt.Errorf("load product ids: %w", err)
	}
	s.ProductIDs = JoinProductIDs(ids)
	if len(ids) == 0 {
		return nil
	}
	s.RefreshRequired = false
	s.DateCached = r.now().UTC()
	if err := r.store.SaveEntitlements(ctx, s.ID, s.ProductIDs, false, s.DateCached); err != nil {
		return fmt.Errorf("save entitlements: %w", err)
	}
	return nil
}

func JoinProductIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

// ParseProductIDs reads a comma separated list, skipping malformed entries.
func ParseProductIDs(s string) []int64 {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []int64
	for _, part := range strings.Split(s, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out
}

type principalContextKey struct{}

// ContextWithPrincipal attaches the resolved principal to the context.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, &p)
}

// PrincipalFromContext extracts the principal from the context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	v, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok || v == nil {
		return Principal{}, false
	}
	return *v, true
}
