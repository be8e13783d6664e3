package throttle_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/identicore/identicore/pkg/throttle"
)

func TestGate_AllowsWithinBudget(t *testing.T) {
	g := throttle.NewGate(throttle.Config{
		RequestsPerWindow: 3,
		Window:            time.Minute,
		Burst:             3,
	})

	for i := 0; i < 3; i++ {
		require.True(t, g.Allow("client-a"), "request %d within budget", i)
	}
	require.False(t, g.Allow("client-a"), "budget exhausted")
}

func TestGate_KeysAreIndependent(t *testing.T) {
	g := throttle.NewGate(throttle.Config{
		RequestsPerWindow: 1,
		Window:            time.Minute,
		Burst:             1,
	})

	require.True(t, g.Allow("client-a"))
	require.False(t, g.Allow("client-a"))
	require.True(t, g.Allow("client-b"), "other keys keep their own budget")
}

func TestGate_RetryAfter(t *testing.T) {
	g := throttle.NewGate(throttle.Config{
		RequestsPerWindow: 1,
		Window:            time.Minute,
		Burst:             1,
	})

	require.Zero(t, g.RetryAfter("fresh"))

	require.True(t, g.Allow("spent"))
	require.Positive(t, g.RetryAfter("spent"))
}

func TestParseConfigFromEnv(t *testing.T) {
	t.Setenv("THROTTLE_TEST_REQUESTS", "7")
	t.Setenv("THROTTLE_TEST_WINDOW_SEC", "30")
	t.Setenv("THROTTLE_TEST_BURST", "2")

	cfg := throttle.ParseConfigFromEnv("TEST", throttle.Config{
		RequestsPerWindow: 1,
		Window:            time.Minute,
		Burst:             1,
	})
	require.Equal(t, 7, cfg.RequestsPerWindow)
	require.Equal(t, 30*time.Second, cfg.Window)
	require.Equal(t, 2, cfg.Burst)
}

func TestParseConfigFromEnv_IgnoresInvalid(t *testing.T) {
	t.Setenv("THROTTLE_TEST_REQUESTS", "not-a-number")
	t.Setenv("THROTTLE_TEST_BURST", "-1")

	base := throttle.Config{RequestsPerWindow: 5, Window: time.Minute, Burst: 5}
	cfg := throttle.ParseConfigFromEnv("TEST", base)
	require.Equal(t, base, cfg)
}
