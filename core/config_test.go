package core_test

import (
	"errors"
	"fmt"
	"testing"

	"linerelay/core"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestConfig_IsAllowedRedirect(t *testing.T) {
	config := &core.Config{AllowOrigins: []string{"https://app.example/", "http://localhost:3000"}}

	assert.True(t, config.IsAllowedRedirect("https://app.example/done"))
	assert.True(t, config.IsAllowedRedirect("http://localhost:3000/cb?x=1"))
	assert.False(t, config.IsAllowedRedirect("https://app.example.evil.com/done"))
	assert.False(t, config.IsAllowedRedirect("http://app.example/done"))
	assert.False(t, config.IsAllowedRedirect("/relative"))
	assert.False(t, config.AllowsAnyOrigin())
}

func TestConfig_Wildcard(t *testing.T) {
	config := &core.Config{AllowOrigins: []string{"*"}}

	assert.True(t, config.AllowsAnyOrigin())
	assert.True(t, config.IsAllowedRedirect("https://anything.example"))
	assert.False(t, config.IsAllowedRedirect("not a url"))
}

func TestResultLabel(t *testing.T) {
	tests := []struct {
		err      error
		expected string
	}{
		{nil, core.ResultSuccess},
		{fmt.Errorf("lookup: %w", core.ErrNotFound), core.ResultNotFound},
		{core.ErrExpired, core.ResultExpired},
		{fmt.Errorf("refresh: %w", core.ErrRefreshRejected), core.ResultRelogin},
		{core.ErrIDTokenInvalid, core.ResultAuthError},
		{fmt.Errorf("%w: boom", core.ErrStorage), core.ResultStorageError},
		{errors.New("other"), core.ResultError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, core.ResultLabel(tt.err))
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var metrics *core.Metrics

	assert.NotPanics(t, func() {
		metrics.LoginStarted()
		metrics.LoginCompleted(nil)
		metrics.SessionCollected(core.ErrNotFound)
		metrics.SessionRefreshed(core.ErrRefreshRejected)
	})
}

func TestMetrics_Counts(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := core.NewMetrics(registry)

	metrics.LoginStarted()
	metrics.LoginStarted()
	metrics.SessionCollected(nil)
	metrics.SessionCollected(core.ErrNotFound)

	count, err := testutil.GatherAndCount(registry, "linerelay_login_started_total")
	assert.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = testutil.GatherAndCount(registry, "linerelay_session_collected_total")
	assert.NoError(t, err)
	assert.Equal(t, 2, count)
}
