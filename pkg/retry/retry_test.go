package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fastConfig(attempts int) Config {
	return Config{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
}

func TestDo(t *testing.T) {
	errTemp := errors.New("temporary")

	tests := []struct {
		name      string
		failures  int
		permanent bool
		attempts  int
		wantCalls int
		wantErr   bool
	}{
		{name: "succeeds first try", failures: 0, attempts: 3, wantCalls: 1},
		{name: "succeeds after retries", failures: 2, attempts: 3, wantCalls: 3},
		{name: "gives up", failures: 5, attempts: 3, wantCalls: 3, wantErr: true},
		{name: "permanent stops immediately", failures: 5, permanent: true, attempts: 3, wantCalls: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Do(context.Background(), fastConfig(tt.attempts), func() error {
				calls++
				if calls <= tt.failures {
					if tt.permanent {
						return Permanent(errTemp)
					}
					return errTemp
				}
				return nil
			})

			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr {
				assert.ErrorIs(t, err, errTemp)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, fastConfig(3), func() error { calls++; return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestBackoff_Capped(t *testing.T) {
	cfg := Config{InitialDelay: time.Second, MaxDelay: 3 * time.Second, Multiplier: 2}
	assert.Equal(t, time.Second, Backoff(cfg, 0))
	assert.Equal(t, 2*time.Second, Backoff(cfg, 1))
	assert.Equal(t, 3*time.Second, Backoff(cfg, 5))
}
