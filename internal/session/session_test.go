package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	sessions map[string]Session
	users    map[int64]User
	groups   map[int64][]int64
	products map[int64][]int64
	saved    []Session
	groupErr error
}

func (m *memStore) SessionByToken(_ context.Context, _, token string) (Session, error) {
	s, ok := m.sessions[token]
	if !ok {
		return Session{}, ErrNotFound
	}
	return s, nil
}

func (m *memStore) ActiveUserByCustomerID(_ context.Context, id int64) (User, error) {
	u, ok := m.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (m *memStore) UserGroups(_ context.Context, _ string, customerID int64) ([]int64, error) {
	return m.groups[customerID], m.groupErr
}

func (m *memStore) ConfiguredProductIDs(_ context.Context, _ string, groups []int64) ([]int64, error) {
	var out []int64
	for _, g := range groups {
		out = append(out, m.products[g]...)
	}
	return out, nil
}

func (m *memStore) SaveEntitlements(_ context.Context, id int64, ids string, refresh bool, at time.Time) error {
	m.saved = append(m.saved, Session{ID: id, ProductIDs: ids, RefreshRequired: refresh, DateCached: at})
	return nil
}

func newStore() *memStore {
	return &memStore{
		sessions: map[string]Session{
			"fresh":  {ID: 1, Token: "fresh", CustomerID: 10, ProductIDs: "5,6"},
			"stale":  {ID: 2, Token: "stale", CustomerID: 10, ProductIDs: "5", RefreshRequired: true},
			"orphan": {ID: 3, Token: "orphan", CustomerID: 99},
			"nogrp":  {ID: 4, Token: "nogrp", CustomerID: 11, RefreshRequired: true},
		},
		users: map[int64]User{
			10: {ID: 100, CustomerID: 10, LMSMemberID: "M-10", Email: "a@b.ae"},
			11: {ID: 101, CustomerID: 11, Email: "c@d.ae"},
		},
		groups:   map[int64][]int64{10: {7}},
		products: map[int64][]int64{7: {8, 9}, DefaultUserGroup: nil},
	}
}

func TestResolveFreshSession(t *testing.T) {
	st := newStore()
	p, err := NewResolver(st).Resolve(context.Background(), "ADR", "fresh")
	require.NoError(t, err)

	assert.True(t, p.LoggedIn)
	assert.Equal(t, []int64{5, 6}, p.ProductIDs)
	assert.Equal(t, GroupMember, p.MemberGroup)
	assert.Equal(t, "M-10", p.LMSMemberID)
	assert.Equal(t, int64(100), p.UserID)
	assert.Empty(t, st.saved)
}

func TestResolveRefreshesStaleEntitlements(t *testing.T) {
	st := newStore()
	at := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	p, err := NewResolver(st, WithClock(func() time.Time { return at })).Resolve(context.Background(), "ADR", "stale")
	require.NoError(t, err)

	assert.Equal(t, []int64{8, 9}, p.ProductIDs)
	require.Len(t, st.saved, 1)
	assert.Equal(t, "8,9", st.saved[0].ProductIDs)
	assert.False(t, st.saved[0].RefreshRequired)
	assert.Equal(t, at, st.saved[0].DateCached)
}

func TestResolveEmptyRefreshKeepsFlag(t *testing.T) {
	st := newStore()
	p, err := NewResolver(st).Resolve(context.Background(), "ADR", "nogrp")
	require.NoError(t, err)

	assert.Empty(t, p.ProductIDs)
	assert.Equal(t, GroupProspect, p.MemberGroup)
	assert.Equal(t, "Prospect", p.MemberGroup.String())
	assert.Empty(t, st.saved, "nothing persisted while entitlements stay empty")
}

func TestResolveFailures(t *testing.T) {
	st := newStore()
	r := NewResolver(st)

	_, err := r.Resolve(context.Background(), "ADR", "missing")
	assert.ErrorIs(t, err, ErrUnknownSession)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = r.Resolve(context.Background(), "ADR", "orphan")
	assert.ErrorIs(t, err, ErrInactiveUser)

	st.groupErr = errors.New("db down")
	_, err = r.Resolve(context.Background(), "ADR", "stale")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnauthenticated)
}

func TestParseProductIDs(t *testing.T) {
	assert.Nil(t, ParseProductIDs(""))
	assert.Equal(t, []int64{1, 3}, ParseProductIDs("1, x,3"))
	assert.Equal(t, "1,2", JoinProductIDs([]int64{1, 2}))
}
