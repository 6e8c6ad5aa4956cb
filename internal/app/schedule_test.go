package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSpec(t *testing.T) {
	assert.NoError(t, ValidateSpec("*/15 * * * *"))
	assert.NoError(t, ValidateSpec("@every 5m"))
	assert.Error(t, ValidateSpec("every quarter hour"))
	assert.Error(t, ValidateSpec("* * * *"))
}

func TestScheduleRejectsBadSpec(t *testing.T) {
	st, _ := openStation(t, Options{})
	err := Schedule(context.Background(), "nope", time.UTC, st)
	assert.Error(t, err)
}

func TestScheduleTicks(t *testing.T) {
	st, _ := openStation(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- Schedule(ctx, "@every 1s", time.UTC, st) }()

	require.Eventually(t, func() bool {
		return st.Status().Refreshes >= 1
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("schedule did not stop")
	}
}
