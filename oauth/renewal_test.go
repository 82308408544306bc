package oauth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRenewalDelay(t *testing.T) {
	tests := []struct {
		expiresIn, lead int
		want            time.Duration
	}{
		{28800, 120, 28680 * time.Second},
		{28800, 28900, 28800 * time.Second},
		{300, 300, 0},
		{300, 0, 300 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RenewalDelay(tt.expiresIn, tt.lead), "expiresIn=%d lead=%d", tt.expiresIn, tt.lead)
	}
}

func TestRenewalFailurePolicyString(t *testing.T) {
	assert.Equal(t, "keep", RenewalKeepCredentials.String())
	assert.Equal(t, "logout", RenewalLogout.String())
	assert.Equal(t, "unknown", RenewalFailurePolicy(9).String())
}
