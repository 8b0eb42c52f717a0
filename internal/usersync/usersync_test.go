package usersync

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aldar.app/internal/lms"
	"aldar.app/internal/obs"
)

var fixedNow = time.Date(2024, 5, 2, 8, 30, 0, 0, time.UTC)

type memStore struct {
	pending  []User
	limit    int
	attempts int
	enrolled map[int64]Enrolled
	failed   []int64
	err      error
}

func (m *memStore) PendingEnrollments(_ context.Context, limit, maxAttempts int) ([]User, error) {
	m.limit, m.attempts = limit, maxAttempts
	return m.pending, m.err
}

func (m *memStore) MarkEnrolled(_ context.Context, userID int64, e Enrolled, at time.Time) error {
	if m.enrolled == nil {
		m.enrolled = map[int64]Enrolled{}
	}
	m.enrolled[userID] = e
	return nil
}

func (m *memStore) IncrementSyncAttempts(_ context.Context, userID int64) error {
	m.failed = append(m.failed, userID)
	return nil
}

type fakeEnroller struct {
	calls    []lms.Enrollment
	profiles map[string]map[string]any
}

func (f *fakeEnroller) RegisterUser(_ context.Context, e lms.Enrollment) (map[string]any, error) {
	f.calls = append(f.calls, e)
	p, ok := f.profiles[e.ExternalUserID]
	if !ok {
		return nil, &lms.HTTPError{Op: "enrollment", StatusCode: 400, Body: []byte(`{"errors":["duplicate email"]}`)}
	}
	return p, nil
}

func newSyncer(t *testing.T, store *memStore, f *fakeEnroller) *Syncer {
	t.Helper()
	t.Cleanup(obs.SetOutput(io.Discard))
	s := New(store, f, Options{})
	s.now = func() time.Time { return fixedNow }
	return s
}

func TestRunEnrollsPendingUsers(t *testing.T) {
	store := &memStore{pending: []User{
		{ID: 7, FirstName: "Mariam", Email: "m@aldar.com", MobileNumber: "+971500000007", Gender: "female",
			DateOfBirth: time.Date(1992, 4, 9, 0, 0, 0, 0, time.UTC)},
		{ID: 8, FirstName: "Omar", Email: "o@aldar.com"},
		{ID: 9, FirstName: "Hind", Email: "h@aldar.com"},
	}}
	f := &fakeEnroller{profiles: map[string]map[string]any{
		"7": {"member_id": "M-7", "status": "Active", "member_tier": "Silver"},
		"9": {"member_id": "M-9", "status": "Suspended", "member_tier": "Gold"},
	}}
	rep, err := newSyncer(t, store, f).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Report{Fetched: 3, Enrolled: 2, Failed: 1}, rep)
	assert.Equal(t, defaultChunk, store.limit)
	assert.Equal(t, defaultMaxAttempts, store.attempts)
	assert.Equal(t, Enrolled{MemberID: "M-7", Status: "Active", Tier: "Silver", Active: true}, store.enrolled[7])
	assert.False(t, store.enrolled[9].Active)
	assert.Equal(t, []int64{8}, store.failed)

	first := f.calls[0]
	assert.Equal(t, "1992-04-09", first.DateOfBirth)
	assert.Equal(t, lms.SourceFallback, first.Channel)
	assert.Equal(t, fixedNow, first.RegistrationDate)
	assert.Empty(t, f.calls[1].DateOfBirth)
}

func TestRunCountsProfileWithoutMemberAsFailure(t *testing.T) {
	store := &memStore{pending: []User{{ID: 3, Email: "x@aldar.com"}}}
	f := &fakeEnroller{profiles: map[string]map[string]any{"3": {"status": "Active"}}}
	rep, err := newSyncer(t, store, f).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, []int64{3}, store.failed)
}

func TestRunStopsOnStoreError(t *testing.T) {
	store := &memStore{err: errors.New("db down")}
	_, err := newSyncer(t, store, &fakeEnroller{}).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

type staticToken struct{}

func (staticToken) Get(context.Context) (string, error) { return "tok", nil }
func (staticToken) Invalidate(context.Context) error { return nil }

// enrollAudit implements only the enrollment half of lms.AuditStore.
type enrollAudit struct {
	lms.AuditStore
	inserted  []lms.EnrollmentRecord
	completed []lms.EnrollmentOutcome
}

func (a *enrollAudit) InsertEnrollment(_ context.Context, r lms.EnrollmentRecord) (int64, error) {
	a.inserted = append(a.inserted, r)
	return int64(len(a.inserted)), nil
}

func (a *enrollAudit) CompleteEnrollment(_ context.Context, _ int64, o lms.EnrollmentOutcome) error {
	a.completed = append(a.completed, o)
	return nil
}

func TestRunSendsFallbackChannel(t *testing.T) {
	var channels []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		channels = append(channels, r.Header.Get("channel-id"))
		_, _ = w.Write([]byte(`{"status":0,"profile":{"member_id":"M-4","status":"active","member_tier":"Silver"}}`))
	}))
	t.Cleanup(srv.Close)

	audit := &enrollAudit{}
	client := lms.New(lms.Endpoints{Enrollment: srv.URL}, staticToken{}, audit)
	store := &memStore{pending: []User{{ID: 4, Email: "s@aldar.com"}}}

	t.Cleanup(obs.SetOutput(io.Discard))
	rep, err := New(store, client, Options{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Enrolled)
	assert.Equal(t, []string{lms.SourceFallback}, channels)
	require.Len(t, audit.inserted, 1)
	assert.Equal(t, lms.SourceFallback, audit.inserted[0].Source)
	assert.Equal(t, "4", audit.inserted[0].ExternalUserID)
	require.Len(t, audit.completed, 1)
	assert.Equal(t, "M-4", audit.completed[0].MemberID)
	assert.True(t, store.enrolled[4].Active)
}
