package stalker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xDC00/frida-gum/internal/osthread"
)

func followTestThread(t *testing.T, e *Engine, ctrl *fakeController, tid osthread.ID, addr uintptr) {
	t.Helper()
	ctrl.regs[tid] = osthread.Regs{RIP: uint64(addr)}
	require.NoError(t, e.Follow(tid, nil, nil))
}

func TestActivateSetsActivationTargetOnFollowedContext(t *testing.T) {
	ctrl := newFakeController()
	reader := &fakeReader{base: 0x401000, buf: []byte{0xc3}}
	e := newTestEngine(t, ctrl, reader)
	followTestThread(t, e, ctrl, 1, 0x401000)

	require.NoError(t, e.Activate(1, 0x5000))
	ctx, _ := e.lookupContext(1)
	assert.Equal(t, uintptr(0x5000), ctx.ActivationTarget)
}

func TestActivateErrorsWhenThreadNotFollowed(t *testing.T) {
	e := newTestEngine(t, newFakeController(), &fakeReader{})
	assert.Error(t, e.Activate(42, 0x5000))
}

func TestDeactivateClearsActivationTarget(t *testing.T) {
	ctrl := newFakeController()
	reader := &fakeReader{base: 0x401000, buf: []byte{0xc3}}
	e := newTestEngine(t, ctrl, reader)
	followTestThread(t, e, ctrl, 1, 0x401000)
	require.NoError(t, e.Activate(1, 0x5000))

	require.NoError(t, e.Deactivate(1))
	ctx, _ := e.lookupContext(1)
	assert.Equal(t, uintptr(0), ctx.ActivationTarget)
}

func TestDeactivateErrorsWhenThreadNotFollowed(t *testing.T) {
	e := newTestEngine(t, newFakeController(), &fakeReader{})
	assert.Error(t, e.Deactivate(42))
}

func TestActivateMeDeactivateMeUseFollowMeThread(t *testing.T) {
	ctrl := newFakeController()
	reader := &fakeReader{base: 0x401000, buf: []byte{0xc3}}
	e := newTestEngine(t, ctrl, reader)
	ctrl.regs[1] = osthread.Regs{RIP: 0x401000}
	require.NoError(t, e.FollowMe(1, nil, nil))

	require.NoError(t, e.ActivateMe(0x6000))
	ctx, _ := e.lookupContext(1)
	assert.Equal(t, uintptr(0x6000), ctx.ActivationTarget)

	require.NoError(t, e.DeactivateMe())
	assert.Equal(t, uintptr(0), ctx.ActivationTarget)
}

func TestActivateMeErrorsWithoutFollowMe(t *testing.T) {
	e := newTestEngine(t, newFakeController(), &fakeReader{})
	assert.Error(t, e.ActivateMe(0x6000))
}

func TestDeactivateMeErrorsWithoutFollowMe(t *testing.T) {
	e := newTestEngine(t, newFakeController(), &fakeReader{})
	assert.Error(t, e.DeactivateMe())
}
