package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestComputeDelayFixed(t *testing.T) {
	p := RetryPolicy{BackoffStrategy: BackoffFixed, InitialDelay: 10 * time.Millisecond, MaxDelay: 100 * time.Millisecond}
	require.Equal(t, 10*time.Millisecond, ComputeDelay(p, 1))
	require.Equal(t, 10*time.Millisecond, ComputeDelay(p, 5))
}

func TestComputeDelayLinear(t *testing.T) {
	p := RetryPolicy{BackoffStrategy: BackoffLinear, InitialDelay: 10 * time.Millisecond, MaxDelay: time.Second}
	require.Equal(t, 10*time.Millisecond, ComputeDelay(p, 1))
	require.Equal(t, 30*time.Millisecond, ComputeDelay(p, 3))
}

func TestComputeDelayExponential(t *testing.T) {
	p := RetryPolicy{BackoffStrategy: BackoffExponential, InitialDelay: 10 * time.Millisecond, MaxDelay: time.Second}
	require.Equal(t, 10*time.Millisecond, ComputeDelay(p, 1))
	require.Equal(t, 20*time.Millisecond, ComputeDelay(p, 2))
	require.Equal(t, 40*time.Millisecond, ComputeDelay(p, 3))
}

func TestComputeDelayClampsToMaxDelay(t *testing.T) {
	p := RetryPolicy{BackoffStrategy: BackoffExponential, InitialDelay: 100 * time.Millisecond, MaxDelay: 150 * time.Millisecond}
	require.Equal(t, 150*time.Millisecond, ComputeDelay(p, 5))
}

func TestBackoffMonotonicityExponentialAndLinear(t *testing.T) {
	exp := RetryPolicy{BackoffStrategy: BackoffExponential, InitialDelay: 5 * time.Millisecond, MaxDelay: time.Second, Exponent: 2}
	lin := RetryPolicy{BackoffStrategy: BackoffLinear, InitialDelay: 5 * time.Millisecond, MaxDelay: time.Second}
	for k := 1; k < 6; k++ {
		require.GreaterOrEqual(t, ComputeDelay(exp, k+1), ComputeDelay(exp, k))
		require.GreaterOrEqual(t, ComputeDelay(lin, k+1), ComputeDelay(lin, k))
	}
}
