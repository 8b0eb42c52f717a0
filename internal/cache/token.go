package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"aldar.app/internal/errlog"
	"aldar.app/internal/obs"
)

const (
	expiryLayout  = "2006-01-02 15:04:05"
	expirySafety  = 60 * time.Second
	defaultPoll   = 3 * time.Second
	lockSafetyTTL = 2 * time.Minute
)

// ErrLockTimeout means another process held the refresh lock longer than MaxWait.
var ErrLockTimeout = errors.New("cache: timed out waiting for token refresh lock")

// Fetched is a freshly issued access token.
type Fetched struct {
	AccessToken string
	Expiry      time.Time // absolute, as reported by the issuer
}

// Fetcher obtains a new access token from the issuer.
type Fetcher interface {
	Fetch(ctx context.Context) (Fetched, error)
}

// TokenOptions tunes TokenCache. Zero values pick defaults; MaxWait 0 waits forever.
type TokenOptions struct {
	Env      string
	Poll     time.Duration
	MaxWait  time.Duration
	Recorder errlog.Recorder
	Now      func() time.Time
}

// TokenCache keeps one access token per environment in a shared Store and
// guarantees that at most one caller across all processes refreshes it.
type TokenCache struct {
	store    Store
	fetcher  Fetcher
	poll     time.Duration
	maxWait  time.Duration
	recorder errlog.Recorder
	now      func() time.Time

	lockKey   string
	tokenKey  string
	expiryKey string
}

func NewTokenCache(store Store, fetcher Fetcher, opts TokenOptions) *TokenCache {
	tc := &TokenCache{
		store:     store,
		fetcher:   fetcher,
		poll:      opts.Poll,
		maxWait:   opts.MaxWait,
		recorder:  opts.Recorder,
		now:       opts.Now,
		lockKey:   "lms_token_lock_" + opts.Env,
		tokenKey:  "lms_access_token_" + opts.Env,
		expiryKey: "lms_expiration_time_" + opts.Env,
	}
	if tc.poll <= 0 {
		tc.poll = defaultPoll
	}
	if tc.now == nil {
		tc.now = time.Now
	}
	return tc
}

// Get returns a valid access token, fetching one when absent or expired.
func (tc *TokenCache) Get(ctx context.Context) (string, error) {
	start := tc.now()
	for {
		tok, ok, err := tc.cached(ctx)
		if err != nil {
			return "", err
		}
		if ok {
			return tok, nil
		}

		owner := uuid.NewString()
		acquired, err := tc.store.SetNX(ctx, tc.lockKey, owner, lockSafetyTTL)
		if err != nil {
			return "", fmt.Errorf("acquire token lock: %w", err)
		}
		if acquired {
			return tc.refreshLocked(ctx, owner)
		}

		if tc.maxWait > 0 && tc.now().Sub(start) >= tc.maxWait {
			return "", ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(tc.poll):
		}
	}
}

// Invalidate drops the cached token; the next Get fetches a new one.
func (tc *TokenCache) Invalidate(ctx context.Context) error {
	return tc.store.Del(ctx, tc.tokenKey)
}

func (tc *TokenCache) cached(ctx context.Context) (string, bool, error) {
	tok, ok, err := tc.store.Get(ctx, tc.tokenKey)
	if err != nil || !ok || tok == "" {
		return "", false, err
	}
	raw, ok, err := tc.store.Get(ctx, tc.expiryKey)
	if err != nil || !ok {
		return "", false, err
	}
	exp, err := time.ParseInLocation(expiryLayout, raw, time.UTC)
	if err != nil {
		return "", false, nil
	}
	if !tc.now().UTC().Before(exp) {
		return "", false, nil
	}
	return tok, true, nil
}

func (tc *TokenCache) refreshLocked(ctx context.Context, owner string) (string, error) {
	defer func() {
		released, err := tc.store.DelIfEqual(context.WithoutCancel(ctx), tc.lockKey, owner)
		if err != nil {
			obs.Logger().Error().Err(err).Msg("release LMS token lock")
		} else if !released {
			obs.Logger().Warn().Msg("LMS token lock expired before release")
		}
	}()

	// another holder may have finished between our read and the lock
	if tok, ok, err := tc.cached(ctx); err == nil && ok {
		return tok, nil
	}

	f, err := tc.fetcher.Fetch(ctx)
	if err != nil {
		obs.IncTokenRefresh("error")
		tc.recordFailure(ctx, err)
		obs.Logger().Error().Err(err).Msg("Unable to get new LMS token")
		return "", err
	}
	obs.IncTokenRefresh("ok")

	now := tc.now().UTC()
	exp := f.Expiry.UTC().Add(-expirySafety)
	if f.Expiry.IsZero() {
		exp = now
	}
	ttl := exp.Sub(now) + expirySafety
	if ttl < time.Second {
		ttl = time.Second
	}
	if err := tc.store.Set(ctx, tc.tokenKey, f.AccessToken, ttl); err != nil {
		return "", fmt.Errorf("store token: %w", err)
	}
	if err := tc.store.Set(ctx, tc.expiryKey, exp.Format(expiryLayout), ttl); err != nil {
		return "", fmt.Errorf("store token expiry: %w", err)
	}
	return f.AccessToken, nil
}

func (tc *TokenCache) recordFailure(ctx context.Context, err error) {
	e := errlog.Entry{
		Company:      "LMS",
		Endpoint:     "token",
		Method:       http.MethodPost,
		ErrorMessage: err.Error(),
	}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		e.ResponseBody = string(re.Body)
		if re.Response != nil {
			e.HTTPErrorCode = re.Response.StatusCode
			if re.Response.Request != nil {
				e.Endpoint = re.Response.Request.URL.String()
			}
		}
	}
	errlog.Record(ctx, tc.recorder, e)
}

// PasswordFetcher obtains tokens with the OAuth2 resource owner password grant,
// authenticating the client with HTTP basic auth.
type PasswordFetcher struct {
	Config   *oauth2.Config
	Username string
	Password string
	Client   *http.Client
}

// NewPasswordFetcher wires the token endpoint.
func NewPasswordFetcher(tokenURL, clientID, clientSecret, username, password string, client *http.Client) *PasswordFetcher {
	return &PasswordFetcher{
		Config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		Username: username,
		Password: password,
		Client:   client,
	}
}

func (p *PasswordFetcher) Fetch(ctx context.Context) (Fetched, error) {
	if p.Client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.Client)
	}
	tok, err := p.Config.PasswordCredentialsToken(ctx, p.Username, p.Password)
	if err != nil {
		return Fetched{}, err
	}
	return Fetched{AccessToken: tok.AccessToken, Expiry: tok.Expiry}, nil
}
