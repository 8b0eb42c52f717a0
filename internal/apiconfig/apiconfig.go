// Package apiconfig serves the runtime feature flags stored in the
// api_configurations table, memoized per group.
package apiconfig

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Groups
const (
	GroupPublic  = "public"
	GroupPrivate = "private"
)

// Well-known keys.
const (
	EnableJSONDecryption     = "enable_json_decryption"
	EnableResponseEncryption = "enable_response_encryption"
	LogAPIRequest            = "log_api_request"
	VATPercentage            = "value_added_tax_percentage"
	ServiceChargePercentage  = "sales_tax_percentage"
)

const DefaultTTL = 30 * time.Minute

// Store loads raw key/value rows.
type Store interface {
	Configurations(ctx context.Context, company, env, group string) (map[string]string, error)
}

// Values holds one group. "true"/"false" strings become booleans.
type Values map[string]any

func convert(raw map[string]string) Values {
	v := make(Values, len(raw))
	for k, s := range raw {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true":
			v[k] = true
		case "false":
			v[k] = false
		default:
			v[k] = s
		}
	}
	return v
}

func (v Values) Bool(key string) bool {
	b, _ := v[key].(bool)
	return b
}

func (v Values) String(key string) string {
	s, _ := v[key].(string)
	return s
}

// Float parses a numeric value; missing or malformed values return ok=false.
func (v Values) Float(key string) (float64, bool) {
	s, ok := v[key].(string)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f, err == nil
}

type entry struct {
	values Values
	at     time.Time
}

// Cache memoizes groups for ttl.
type Cache struct {
	store   Store
	company string
	env     string
	ttl     time.Duration
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]entry
}

func NewCache(store Store, company, env string, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{store: store, company: company, env: env, ttl: ttl, now: time.Now, entries: map[string]entry{}}
}

// Get returns the group, loading it when absent or older than the ttl.
func (c *Cache) Get(ctx context.Context, group string) (Values, error) {
	c.mu.Lock()
	e, ok := c.entries[group]
	c.mu.Unlock()
	if ok && c.now().Sub(e.at) < c.ttl {
		return e.values, nil
	}

	raw, err := c.store.Configurations(ctx, c.company, c.env, group)
	if err != nil {
		return nil, err
	}
	v := convert(raw)
	c.mu.Lock()
	c.entries[group] = entry{values: v, at: c.now()}
	c.mu.Unlock()
	return v, nil
}

// Static is a fixed Values source, used by tools and tests.
type Static map[string]Values

func (s Static) Get(_ context.Context, group string) (Values, error) {
	return s[group], nil
}
