package cache

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aldar.app/internal/errlog"
)

type fakeFetcher struct {
	calls atomic.Int32
	delay time.Duration
	ttl   time.Duration
	err   error
}

func (f *fakeFetcher) Fetch(ctx context.Context) (Fetched, error) {
	n := f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return Fetched{}, f.err
	}
	return Fetched{AccessToken: "tok-" + string(rune('0'+n)), Expiry: time.Now().Add(f.ttl)}, nil
}

type recorder struct {
	mu      sync.Mutex
	entries []errlog.Entry
}

func (r *recorder) RecordError(_ context.Context, e errlog.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

func TestTokenCacheSingleFlight(t *testing.T) {
	f := &fakeFetcher{delay: 50 * time.Millisecond, ttl: time.Hour}
	tc := NewTokenCache(NewMemoryStore(), f, TokenOptions{Env: "test", Poll: 5 * time.Millisecond})

	var wg sync.WaitGroup
	tokens := make([]string, 10)
	errs := make([]error, 10)
	for i := range tokens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = tc.Get(context.Background())
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, f.calls.Load())
	for i := range tokens {
		require.NoError(t, errs[i])
		assert.Equal(t, "tok-1", tokens[i])
	}
}

func TestTokenCacheExpirySafetyMargin(t *testing.T) {
	// issuer lifetime shorter than the safety margin: the token is stale at once
	f := &fakeFetcher{ttl: 30 * time.Second}
	tc := NewTokenCache(NewMemoryStore(), f, TokenOptions{Env: "test"})

	first, err := tc.Get(context.Background())
	require.NoError(t, err)
	second, err := tc.Get(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "tok-1", first)
	assert.Equal(t, "tok-2", second)
}

func TestTokenCacheInvalidate(t *testing.T) {
	f := &fakeFetcher{ttl: time.Hour}
	tc := NewTokenCache(NewMemoryStore(), f, TokenOptions{Env: "test"})

	_, err := tc.Get(context.Background())
	require.NoError(t, err)
	tok, err := tc.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)

	require.NoError(t, tc.Invalidate(context.Background()))
	tok, err = tc.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok)
}

func TestTokenCacheFetchFailureReleasesLock(t *testing.T) {
	store := NewMemoryStore()
	rec := &recorder{}
	f := &fakeFetcher{err: errors.New("connection refused")}
	tc := NewTokenCache(store, f, TokenOptions{Env: "test", Recorder: rec})

	_, err := tc.Get(context.Background())
	require.Error(t, err)

	free, err := store.SetNX(context.Background(), "lms_token_lock_test", "1", time.Minute)
	require.NoError(t, err)
	assert.True(t, free, "lock must be released after a failed fetch")

	require.Len(t, rec.entries, 1)
	assert.Equal(t, "LMS", rec.entries[0].Company)
	assert.Contains(t, rec.entries[0].ErrorMessage, "connection refused")
}

func TestTokenCacheLockTimeout(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.SetNX(context.Background(), "lms_token_lock_test", "1", time.Minute)
	require.NoError(t, err)

	f := &fakeFetcher{ttl: time.Hour}
	tc := NewTokenCache(store, f, TokenOptions{Env: "test", Poll: 5 * time.Millisecond, MaxWait: 20 * time.Millisecond})

	_, err = tc.Get(context.Background())
	assert.ErrorIs(t, err, ErrLockTimeout)
	assert.EqualValues(t, 0, f.calls.Load())
}

func TestTokenCacheHonoursContext(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.SetNX(context.Background(), "lms_token_lock_test", "1", time.Minute)
	require.NoError(t, err)

	tc := NewTokenCache(store, &fakeFetcher{}, TokenOptions{Env: "test", Poll: time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = tc.Get(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPasswordFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "client" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.PostForm.Get("grant_type") != "password" || r.PostForm.Get("username") != "svc" || r.PostForm.Get("password") != "pw" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"abc","token_type":"bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	p := NewPasswordFetcher(srv.URL, "client", "secret", "svc", "pw", srv.Client())
	got, err := p.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", got.AccessToken)
	assert.WithinDuration(t, time.Now().Add(time.Hour), got.Expiry, 5*time.Second)
}

func TestTryLock(t *testing.T) {
	store := NewMemoryStore()
	release, err := TryLock(context.Background(), store, "sync:dir", time.Minute)
	require.NoError(t, err)

	_, err = TryLock(context.Background(), store, "sync:dir", time.Minute)
	assert.ErrorIs(t, err, ErrLocked)

	release()
	release2, err := TryLock(context.Background(), store, "sync:dir", time.Minute)
	require.NoError(t, err)
	release2()
}

// stealingFetcher simulates the refresh lock expiring mid-fetch and another
// process taking it.
type stealingFetcher struct {
	store *MemoryStore
	key   string
}

func (f *stealingFetcher) Fetch(ctx context.Context) (Fetched, error) {
	if err := f.store.Set(ctx, f.key, "other-process", time.Minute); err != nil {
		return Fetched{}, err
	}
	return Fetched{AccessToken: "tok", Expiry: time.Now().Add(time.Hour)}, nil
}

func TestTokenCacheKeepsLockTakenByAnotherHolder(t *testing.T) {
	store := NewMemoryStore()
	tc := NewTokenCache(store, &stealingFetcher{store: store, key: "lms_token_lock_test"}, TokenOptions{Env: "test"})

	tok, err := tc.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok", tok)

	v, ok, err := store.Get(context.Background(), "lms_token_lock_test")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "other-process", v)
}

func TestTryLockReleaseLeavesForeignLock(t *testing.T) {
	store := NewMemoryStore()
	release, err := TryLock(context.Background(), store, "sync:dir", time.Minute)
	require.NoError(t, err)

	// expired and re-acquired elsewhere
	require.NoError(t, store.Set(context.Background(), "sync:dir", "someone-else", time.Minute))
	release()

	_, err = TryLock(context.Background(), store, "sync:dir", time.Minute)
	assert.ErrorIs(t, err, ErrLocked)

	deleted, err := store.DelIfEqual(context.Background(), "sync:dir", "someone-else")
	require.NoError(t, err)
	assert.True(t, deleted)
}
