package backpatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xDC00/frida-gum/internal/engtypes"
	"github.com/0xDC00/frida-gum/internal/execctx"
	"github.com/0xDC00/frida-gum/internal/osmem"
	"github.com/0xDC00/frida-gum/internal/slab"
)

func newTestAlloc(t *testing.T) (*slab.Allocator, *slab.Slab) {
	t.Helper()
	alloc := slab.New(osmem.NewLinuxMapper())
	s, err := alloc.NewSlab(context.Background(), slab.KindCode, slab.Spec{}, osmem.PageSize)
	require.NoError(t, err)
	t.Cleanup(func() { alloc.Mapper.Unmap(s.Region) })
	return alloc, s
}

type recordingObserver struct {
	engtypes.NoopObserver
	descs []engtypes.BackpatchDescriptor
}

func (r *recordingObserver) NotifyBackpatch(d engtypes.BackpatchDescriptor, size int) {
	r.descs = append(r.descs, d)
}

func TestStaticRejectsInactiveContext(t *testing.T) {
	alloc, s := newTestAlloc(t)
	ctx := execctx.New(1)
	ctx.BeginUnfollow()

	target := &execctx.Block{RecycleCount: 10}
	err := Static(ctx, alloc, Site{Slab: s}, target, 1, nil)
	assert.Error(t, err)
}

func TestStaticRejectsActivationTarget(t *testing.T) {
	alloc, s := newTestAlloc(t)
	ctx := execctx.New(1)

	target := &execctx.Block{RecycleCount: 10, Flags: execctx.FlagActivationTarget}
	err := Static(ctx, alloc, Site{Slab: s}, target, 1, nil)
	assert.Error(t, err)
}

func TestStaticRejectsUntrustedTarget(t *testing.T) {
	alloc, s := newTestAlloc(t)
	ctx := execctx.New(1)

	target := &execctx.Block{RecycleCount: 0}
	err := Static(ctx, alloc, Site{Slab: s}, target, 5, nil)
	assert.Error(t, err)
}

func TestStaticPatchesRel32AndNotifiesObserver(t *testing.T) {
	alloc, s := newTestAlloc(t)
	ctx := execctx.New(1)

	require.NoError(t, alloc.Thaw(s))
	siteOff := 0
	s.Bytes()[siteOff] = 0xe8 // call opcode byte preceding the rel32 field
	require.NoError(t, alloc.Freeze(s))

	target := &execctx.Block{RecycleCount: 5, CodeStart: s.Base() + 100}
	obs := &recordingObserver{}
	site := Site{Slab: s, CodeOffset: 1, SelfAddr: s.Base(), GuestAddr: 0x4000}

	err := Static(ctx, alloc, site, target, 5, obs)
	require.NoError(t, err)

	rel := int32(uint32(s.Bytes()[1]) | uint32(s.Bytes()[2])<<8 |
		uint32(s.Bytes()[3])<<16 | uint32(s.Bytes()[4])<<24)
	assert.Equal(t, int32(100-(1+4)), rel)

	require.Len(t, obs.descs, 1)
	assert.Equal(t, target.CodeStart, obs.descs[0].TargetAddr)
	assert.False(t, obs.descs[0].IsIC)
}

func TestInlineCacheSkipsWhenAlreadyPresent(t *testing.T) {
	alloc, s := newTestAlloc(t)
	ic := &execctx.ICArray{Entries: []execctx.ICEntry{{Guest: 0x1000, Translated: 0x2000}}}

	err := InlineCache(alloc, ic, s, 0x1000, 0x3000, nil)
	require.NoError(t, err)
	assert.Equal(t, uintptr(0x2000), ic.Entries[0].Translated, "must not overwrite an existing entry")
}

func TestInlineCachePopulatesFirstEmptySlot(t *testing.T) {
	alloc, s := newTestAlloc(t)
	ic := &execctx.ICArray{Addr: s.Base(), Entries: make([]execctx.ICEntry, 2)}
	obs := &recordingObserver{}

	err := InlineCache(alloc, ic, s, 0x1000, 0x2000, obs)
	require.NoError(t, err)
	assert.Equal(t, execctx.ICEntry{Guest: 0x1000, Translated: 0x2000}, ic.Entries[0])
	require.Len(t, obs.descs, 1)
	assert.True(t, obs.descs[0].IsIC)

	raw := s.Bytes()
	assert.Equal(t, uint64(0x1000), readU64(raw[0:]), "guest half must be written through to the slab")
	assert.Equal(t, uint64(0x2000), readU64(raw[8:]), "translated half must be written through to the slab")
}

func readU64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func TestInlineCacheFailsWhenArrayFull(t *testing.T) {
	alloc, s := newTestAlloc(t)
	ic := &execctx.ICArray{Entries: []execctx.ICEntry{
		{Guest: 1, Translated: 1},
		{Guest: 2, Translated: 2},
	}}

	err := InlineCache(alloc, ic, s, 0x9999, 0x8888, nil)
	assert.Error(t, err)
}
