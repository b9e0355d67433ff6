package execctx

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateStringer(t *testing.T) {
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "unfollow_pending", StateUnfollowPending.String())
	assert.Equal(t, "destroy_pending", StateDestroyPending.String())
	assert.Equal(t, "unknown", State(99).String())
}

func TestStateBoxMonotonicProgression(t *testing.T) {
	var b stateBox
	assert.Equal(t, StateActive, b.Load())

	assert.True(t, b.CASToUnfollowPending())
	assert.Equal(t, StateUnfollowPending, b.Load())

	// Cannot skip states or go backwards.
	assert.False(t, b.CASToUnfollowPending())

	assert.True(t, b.CASToDestroyPending())
	assert.Equal(t, StateDestroyPending, b.Load())
	assert.False(t, b.CASToDestroyPending())
}

func TestStateBoxCASIsExclusiveUnderContention(t *testing.T) {
	var b stateBox
	var wg sync.WaitGroup
	wins := make(chan bool, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wins <- b.CASToUnfollowPending()
		}()
	}
	wg.Wait()
	close(wins)

	successes := 0
	for w := range wins {
		if w {
			successes++
		}
	}
	assert.Equal(t, 1, successes, "exactly one goroutine's CAS must win")
}
