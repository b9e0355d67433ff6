package stalker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xDC00/frida-gum/internal/osthread"
)

func TestFlushCallsEverySinkAndSkipsContextsWithout(t *testing.T) {
	ctrl := newFakeController()
	reader := &fakeReader{base: 0x401000, buf: []byte{0xc3}}
	e := newTestEngine(t, ctrl, reader)

	ctrl.regs[1] = osthread.Regs{RIP: 0x401000}
	sink := &fakeSink{}
	require.NoError(t, e.Follow(1, nil, sink))

	ctrl.regs[2] = osthread.Regs{RIP: 0x401000}
	require.NoError(t, e.Follow(2, nil, nil)) // no sink

	require.NoError(t, e.Flush())
	assert.Equal(t, 1, sink.flushed)
}

func TestFlushPropagatesFirstSinkError(t *testing.T) {
	ctrl := newFakeController()
	reader := &fakeReader{base: 0x401000, buf: []byte{0xc3}}
	e := newTestEngine(t, ctrl, reader)
	ctrl.regs[1] = osthread.Regs{RIP: 0x401000}
	sink := &fakeSink{flushErr: assert.AnError}
	require.NoError(t, e.Follow(1, nil, sink))

	assert.Error(t, e.Flush())
}

func TestFlushIsNoOpWithNoFollowedThreads(t *testing.T) {
	e := newTestEngine(t, newFakeController(), &fakeReader{})
	assert.NoError(t, e.Flush())
}

func TestGarbageCollectReturnsFalseWhenNoContextsPending(t *testing.T) {
	e := newTestEngine(t, newFakeController(), &fakeReader{})
	assert.False(t, e.GarbageCollect())
}

func TestGarbageCollectReturnsTrueWhileUnfollowStillPending(t *testing.T) {
	ctrl := newFakeController()
	reader := &fakeReader{base: 0x401000, buf: []byte{0xc3}}
	e := newTestEngine(t, ctrl, reader)
	followTestThread(t, e, ctrl, 1, 0x401000)

	ctx, ok := e.lookupContext(1)
	require.True(t, ok)
	ctx.EnterExcursion() // blocks FinishUnfollow from draining immediately
	require.NoError(t, e.Unfollow(1))

	assert.True(t, e.GarbageCollect())
	_, stillFollowed := e.lookupContext(1)
	assert.True(t, stillFollowed, "a not-yet-eligible context must stay in the context list")
}

func TestStopUnfollowsEveryThreadAndReclaimsEligibleContexts(t *testing.T) {
	ctrl := newFakeController()
	reader := &fakeReader{base: 0x401000, buf: []byte{0xc3}}
	// A negative grace period makes the "elapsed since destroy_pending"
	// eligibility condition trivially true regardless of wall-clock
	// timing, so the reclaim is deterministic in a test.
	e := newTestEngine(t, ctrl, reader, WithRecentExitGrace(-time.Second))
	followTestThread(t, e, ctrl, 1, 0x401000)

	require.NoError(t, e.Stop())

	_, ok := e.lookupContext(1)
	assert.False(t, ok, "an eligible context must be removed from the context list")
	assert.False(t, e.GarbageCollect(), "nothing left to report as pending")
}
