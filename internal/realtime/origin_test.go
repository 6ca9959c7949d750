package realtime

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestOriginPolicy(t *testing.T) {
	policy := newOriginPolicy([]string{"http://localhost:8080", "HTTPS://App.Example.COM", "not a url", ""}, zap.NewNop())

	cases := []struct {
		origin  string
		allowed bool
	}{
		{"http://localhost:8080", true},
		{"HTTP://LOCALHOST:8080", true},
		{"https://app.example.com", true},
		{"http://evil.example.com", false},
		{"", false},
		{"::bad::", false},
	}

	for _, tc := range cases {
		r := httptest.NewRequest("GET", "/ws", nil)
		if tc.origin != "" {
			r.Header.Set("Origin", tc.origin)
		}
		assert.Equal(t, tc.allowed, policy.check(r), "origin %q", tc.origin)
	}
}

func TestOriginPolicyWildcard(t *testing.T) {
	policy := newOriginPolicy([]string{"*"}, zap.NewNop())

	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Origin", "http://anything.example.com")
	assert.True(t, policy.check(r))

	// even with a wildcard, a missing Origin header is rejected
	r = httptest.NewRequest("GET", "/ws", nil)
	assert.False(t, policy.check(r))
}
