package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPickRetryDelay(t *testing.T) {
	delays := []time.Duration{10 * time.Second, 30 * time.Second, 2 * time.Minute}

	require.Equal(t, 10*time.Second, pickRetryDelay(1, delays))
	require.Equal(t, 30*time.Second, pickRetryDelay(2, delays))
	require.Equal(t, 2*time.Minute, pickRetryDelay(3, delays))

	// Later attempts stick to the last delay.
	require.Equal(t, 2*time.Minute, pickRetryDelay(4, delays))
	require.Equal(t, 2*time.Minute, pickRetryDelay(100, delays))

	// Degenerate inputs.
	require.Equal(t, 10*time.Second, pickRetryDelay(0, delays))
	require.Equal(t, time.Duration(0), pickRetryDelay(3, nil))
}
