package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitRespectsBurst(t *testing.T) {
	l := New(0.001, 2)
	require.NoError(t, l.Wait(context.Background()))
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx), "third event exceeds the burst")
}

func TestWaitHonoursCancellation(t *testing.T) {
	l := New(0.001, 1)
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, l.Wait(ctx))
}

func TestNewFallsBackOnInvalidValues(t *testing.T) {
	l := New(0, 0)
	require.NoError(t, l.Wait(context.Background()))
}
