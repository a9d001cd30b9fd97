package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestThrottle_SpacesOutCalls(t *testing.T) {
	th := NewThrottle(20 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	require := assert.New(t)
	require.NoError(th.Wait(ctx))
	require.NoError(th.Wait(ctx))
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 15*time.Millisecond)
}

func TestThrottle_DefaultsWhenNonPositive(t *testing.T) {
	th := NewThrottle(0)
	assert.NotNil(t, th.limiter)
}

func TestThrottle_WaitRespectsCancellation(t *testing.T) {
	th := NewThrottle(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	assert.NoError(t, th.Wait(ctx)) // first call consumes the burst token immediately

	cancel()
	err := th.Wait(ctx)
	assert.Error(t, err)
}
