package apiconfig

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingStore struct {
	calls int
	rows  map[string]string
}

func (s *countingStore) Configurations(_ context.Context, company, env, group string) (map[string]string, error) {
	s.calls++
	return s.rows, nil
}

func TestCacheMemoizesAndConverts(t *testing.T) {
	st := &countingStore{rows: map[string]string{
		EnableJSONDecryption: "True",
		LogAPIRequest:        "false",
		VATPercentage:        "5",
		"label":              "hello",
	}}
	c := NewCache(st, "ADR", "prod", time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	v, err := c.Get(context.Background(), GroupPublic)
	require.NoError(t, err)
	assert.True(t, v.Bool(EnableJSONDecryption))
	assert.False(t, v.Bool(LogAPIRequest))
	assert.False(t, v.Bool("absent"))
	vat, ok := v.Float(VATPercentage)
	assert.True(t, ok)
	assert.Equal(t, 5.0, vat)
	_, ok = v.Float("label")
	assert.False(t, ok)

	_, err = c.Get(context.Background(), GroupPublic)
	require.NoError(t, err)
	assert.Equal(t, 1, st.calls)

	now = now.Add(2 * time.Minute)
	_, err = c.Get(context.Background(), GroupPublic)
	require.NoError(t, err)
	assert.Equal(t, 2, st.calls)
}
