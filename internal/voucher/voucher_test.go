package voucher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cooldown := 5 * time.Minute
	future := now.Add(24 * time.Hour)

	tests := []struct {
		name      string
		isUsed    bool
		expiresAt time.Time
		lastUsed  time.Time
		wantErr   error
	}{
		{
			name:      "fresh voucher, no prior redemption",
			expiresAt: future,
		},
		{
			name:      "already used",
			isUsed:    true,
			expiresAt: future,
			wantErr:   ErrAlreadyUsed,
		},
		{
			name:      "expired voucher",
			expiresAt: now.Add(-time.Second),
			wantErr:   ErrExpired,
		},
		{
			name:      "expiry boundary is exclusive",
			expiresAt: now,
			wantErr:   ErrExpired,
		},
		{
			name:      "second redemption at 4m59s is inside cooldown",
			expiresAt: future,
			lastUsed:  now.Add(-(4*time.Minute + 59*time.Second)),
			wantErr:   ErrCooldownActive,
		},
		{
			name:      "redemption at exactly 5m00s passes",
			expiresAt: future,
			lastUsed:  now.Add(-5 * time.Minute),
		},
		{
			name:      "redemption at 5m01s passes",
			expiresAt: future,
			lastUsed:  now.Add(-(5*time.Minute + time.Second)),
		},
		{
			name:      "used wins over expired in reporting",
			isUsed:    true,
			expiresAt: now.Add(-time.Hour),
			wantErr:   ErrAlreadyUsed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validate(tt.isUsed, tt.expiresAt, tt.lastUsed, now, cooldown)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDiscountCap(t *testing.T) {
	assert.Equal(t, int64(5000), Discount(5000, 30000))
	assert.Equal(t, int64(30000), Discount(50000, 30000), "discount never exceeds the total")
	assert.Equal(t, int64(0), Discount(5000, 0))
}
