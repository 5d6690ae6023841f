package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(attempts int) Config {
	return Config{MaxAttempts: attempts, InitialWait: time.Millisecond, MaxWait: time.Millisecond, Multiplier: 2}
}

func TestDoWithConfig_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	v, err := DoWithConfig(context.Background(), fastConfig(3), func() (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("flaky")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 3, calls)
}

func TestDoWithConfig_StopsOnPermanent(t *testing.T) {
	bad := errors.New("bad request")
	calls := 0
	_, err := DoWithConfig(context.Background(), fastConfig(5), func() (int, error) {
		calls++
		return 0, Permanent(bad)
	})
	assert.Equal(t, 1, calls)
	assert.Same(t, bad, err)
	assert.False(t, IsPermanent(err))
}

func TestDoSimple_ReturnsLastError(t *testing.T) {
	calls := 0
	err := DoSimple(context.Background(), 2, func() error {
		calls++
		return errors.New("down")
	})
	assert.EqualError(t, err, "down")
	assert.Equal(t, 2, calls)
}

func TestExponentialBackoff(t *testing.T) {
	b := ExponentialBackoff(time.Second, 5*time.Second)
	assert.Equal(t, time.Second, b(0))
	assert.Equal(t, time.Second, b(1))
	assert.Equal(t, 2*time.Second, b(2))
	assert.Equal(t, 4*time.Second, b(3))
	assert.Equal(t, 5*time.Second, b(4))
	assert.Equal(t, 5*time.Second, b(80))
}
