package stalker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xDC00/frida-gum/internal/osthread"
)

func TestInvalidateForThreadRedirectsOldEntryToFreshTranslation(t *testing.T) {
	ctrl := newFakeController()
	reader := &fakeReader{base: 0x401000, buf: []byte{0xc3}} // ret
	e := newTestEngine(t, ctrl, reader)
	followTestThread(t, e, ctrl, 1, 0x401000)

	ctx, ok := e.lookupContext(1)
	require.True(t, ok)
	old := ctx.Lookup(0x401000)
	require.NotNil(t, old)

	require.NoError(t, e.InvalidateForThread(1, 0x401000))

	assert.True(t, old.IsInvalidated())
	require.NotNil(t, old.StorageBlock)
	fresh := old.StorageBlock
	assert.NotEqual(t, old.CodeStart, fresh.CodeStart)

	off := int(old.CodeStart - old.OwningSlab.Base())
	bytes := old.OwningSlab.Bytes()
	assert.Equal(t, byte(0xe9), bytes[off], "redirected entry must start with a jmp rel32 opcode")

	rel := int32(uint32(bytes[off+1]) | uint32(bytes[off+2])<<8 |
		uint32(bytes[off+3])<<16 | uint32(bytes[off+4])<<24)
	site := int64(old.CodeStart) + 5
	assert.Equal(t, fresh.CodeStart, uintptr(site+int64(rel)))
}

func TestInvalidateForThreadNoOpWhenBlockNeverCompiled(t *testing.T) {
	ctrl := newFakeController()
	reader := &fakeReader{base: 0x401000, buf: []byte{0xc3}}
	e := newTestEngine(t, ctrl, reader)
	followTestThread(t, e, ctrl, 1, 0x401000)

	assert.NoError(t, e.InvalidateForThread(1, 0x999000))
}

func TestInvalidateForThreadErrorsWhenThreadNotFollowed(t *testing.T) {
	e := newTestEngine(t, newFakeController(), &fakeReader{})
	assert.Error(t, e.InvalidateForThread(42, 0x401000))
}

func TestInvalidateFansOutToEveryFollowedContext(t *testing.T) {
	ctrl := newFakeController()
	reader := &fakeReader{base: 0x401000, buf: []byte{0xc3}}
	e := newTestEngine(t, ctrl, reader)
	followTestThread(t, e, ctrl, 1, 0x401000)
	ctrl.regs[2] = osthread.Regs{RIP: 0x401000}
	require.NoError(t, e.Follow(2, nil, nil))

	ctx1, _ := e.lookupContext(1)
	ctx2, _ := e.lookupContext(2)
	old1 := ctx1.Lookup(0x401000)
	old2 := ctx2.Lookup(0x401000)

	require.NoError(t, e.Invalidate(0x401000))

	assert.True(t, old1.IsInvalidated())
	assert.True(t, old2.IsInvalidated())
	assert.NotNil(t, old1.StorageBlock)
	assert.NotNil(t, old2.StorageBlock)
}
