package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.UnixMilli(1_700_000_000_000)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{Limit: 1, Window: time.Second}, false},
		{"zero limit", Config{Limit: 0, Window: time.Second}, true},
		{"negative limit", Config{Limit: -3, Window: time.Second}, true},
		{"zero window", Config{Limit: 5, Window: 0}, true},
		{"negative window", Config{Limit: 5, Window: -time.Second}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidConfig))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestApply_FirstHitOpensWindow(t *testing.T) {
	cfg := Config{Limit: 3, Window: time.Minute}

	next, res := Apply(Entry{}, false, cfg, t0)

	assert.Equal(t, 1, next.Count)
	assert.Equal(t, t0.Add(time.Minute), next.ResetTime)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Remaining)
	assert.Equal(t, 3, res.Limit)
	assert.Equal(t, next.ResetTime, res.ResetTime)
}

func TestApply_CountsDownThenRejects(t *testing.T) {
	cfg := Config{Limit: 3, Window: time.Minute}

	cur, ok := Entry{}, false
	for want := 2; want >= 0; want-- {
		var res Result
		cur, res = Apply(cur, ok, cfg, t0)
		ok = true
		require.True(t, res.Success)
		assert.Equal(t, want, res.Remaining)
	}

	cur, res := Apply(cur, ok, cfg, t0.Add(30*time.Second))
	assert.False(t, res.Success)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, t0.Add(time.Minute), res.ResetTime, "reset time must stay at the window opening value")
	assert.Equal(t, 4, cur.Count, "rejected hits are still counted")
}

func TestApply_BoundaryBelongsToOldWindow(t *testing.T) {
	cfg := Config{Limit: 1, Window: time.Second}
	cur, _ := Apply(Entry{}, false, cfg, t0)

	_, res := Apply(cur, true, cfg, t0.Add(time.Second))
	assert.False(t, res.Success, "now == resetTime is still inside the window")

	next, res := Apply(cur, true, cfg, t0.Add(time.Second+time.Millisecond))
	assert.True(t, res.Success)
	assert.Equal(t, 1, next.Count)
	assert.Equal(t, t0.Add(2*time.Second+time.Millisecond), next.ResetTime)
}

func TestRetryAfter(t *testing.T) {
	res := Result{ResetTime: t0.Add(2500 * time.Millisecond)}

	assert.Equal(t, 3, RetryAfter(res, t0))
	assert.Equal(t, 1, RetryAfter(res, t0.Add(2*time.Second)))
	assert.Equal(t, 0, RetryAfter(res, t0.Add(2500*time.Millisecond)))
	assert.Equal(t, 0, RetryAfter(res, t0.Add(time.Hour)))
}
