package execctx

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xDC00/frida-gum/internal/osmem"
	"github.com/0xDC00/frida-gum/internal/slab"
)

func TestNewContextHasEmptyStoreAndFreshFrameStack(t *testing.T) {
	ctx := New(42)
	assert.Equal(t, ThreadID(42), ctx.Thread)
	assert.Equal(t, StateActive, ctx.State())
	assert.Nil(t, ctx.Lookup(0x1000))
	assert.Equal(t, 0, ctx.Frames.Depth())
}

func TestInstallAndLookupRoundTrip(t *testing.T) {
	ctx := New(1)
	blk := &Block{GuestStart: 0x4000, CodeStart: 0x8000}
	ctx.Install(blk)

	got := ctx.Lookup(0x4000)
	require.NotNil(t, got)
	assert.Equal(t, blk, got)
	assert.Nil(t, ctx.Lookup(0x5000))
}

func TestAllBlocksReturnsEveryInstalledBlock(t *testing.T) {
	ctx := New(1)
	ctx.Install(&Block{GuestStart: 1})
	ctx.Install(&Block{GuestStart: 2})
	ctx.Install(&Block{GuestStart: 3})

	all := ctx.AllBlocks()
	assert.Len(t, all, 3)
}

func TestBeginUnfollowAndFinishUnfollowLifecycle(t *testing.T) {
	ctx := New(1)
	assert.True(t, ctx.BeginUnfollow())
	assert.Equal(t, StateUnfollowPending, ctx.State())

	ctx.EnterExcursion()
	assert.False(t, ctx.FinishUnfollow(time.Now()), "must not finish while a call is pending")

	ctx.ExitExcursion()
	assert.True(t, ctx.FinishUnfollow(time.Now()))
	assert.Equal(t, StateDestroyPending, ctx.State())
}

func TestContainsTranslatedAddrWalksSlabChain(t *testing.T) {
	alloc := slab.New(osmem.NewLinuxMapper())
	s1, err := alloc.NewSlab(context.Background(), slab.KindCode, slab.Spec{}, osmem.PageSize)
	require.NoError(t, err)
	defer alloc.Mapper.Unmap(s1.Region)
	s2, err := alloc.NewSlab(context.Background(), slab.KindCode, slab.Spec{}, osmem.PageSize)
	require.NoError(t, err)
	defer alloc.Mapper.Unmap(s2.Region)
	s2.Next = s1

	ctx := New(1)
	ctx.CodeSlabs = s2

	assert.True(t, ctx.ContainsTranslatedAddr(s1.Base()))
	assert.True(t, ctx.ContainsTranslatedAddr(s2.Base()))
	assert.False(t, ctx.ContainsTranslatedAddr(s1.Base()+uintptr(s1.Region.Len)+0x1000))
}
