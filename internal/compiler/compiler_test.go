package compiler

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xDC00/frida-gum/internal/asmx64"
	"github.com/0xDC00/frida-gum/internal/decode"
	"github.com/0xDC00/frida-gum/internal/dispatch"
	"github.com/0xDC00/frida-gum/internal/execctx"
	"github.com/0xDC00/frida-gum/internal/osmem"
	"github.com/0xDC00/frida-gum/internal/prolog"
	"github.com/0xDC00/frida-gum/internal/slab"
	"github.com/0xDC00/frida-gum/internal/virt"
)

// fakeGuestReader serves guest bytes out of a flat in-memory buffer
// anchored at base, standing in for the traced process's address space.
type fakeGuestReader struct {
	base uintptr
	buf  []byte
	err  error
}

func (f *fakeGuestReader) ReadGuestBytes(addr uintptr, n int) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	if addr < f.base || addr >= f.base+uintptr(len(f.buf)) {
		return nil, errors.New("fakeGuestReader: address out of range")
	}
	off := int(addr - f.base)
	end := off + n
	if end > len(f.buf) {
		end = len(f.buf)
	}
	return f.buf[off:end], nil
}

func newTestCompiler(t *testing.T, reader GuestReader) (*Compiler, *execctx.Context) {
	t.Helper()
	gates := dispatch.NewTable()
	gates.Register(dispatch.GateRetSlowPath, 0xdeadbeef)
	gates.Register(dispatch.GateJmpImm, 0xdeadc0de)
	gates.Register(dispatch.GateCallImm, 0xdeadfeed)

	c := &Compiler{
		Decoder:   decode.X86AsmDecoder{},
		Mode:      decode.Mode64,
		Alloc:     slab.New(osmem.NewLinuxMapper()),
		Gates:     gates,
		Reader:    reader,
		ICEntries: 4,
	}
	ctx := execctx.New(1)
	t.Cleanup(func() {
		for s := ctx.CodeSlabs; s != nil; {
			next := s.Next
			c.Alloc.Mapper.Unmap(s.Region)
			s = next
		}
		if ctx.DataSlabs != nil {
			c.Alloc.Mapper.Unmap(ctx.DataSlabs.Region)
		}
	})
	return c, ctx
}

func TestCompileSingleRetBlockInstallsBlock(t *testing.T) {
	reader := &fakeGuestReader{base: 0x401000, buf: []byte{0xc3}} // ret
	c, ctx := newTestCompiler(t, reader)

	blk, err := c.Compile(ctx, 0x401000)
	require.NoError(t, err)
	assert.Equal(t, uintptr(0x401000), blk.GuestStart)
	assert.Equal(t, 1, blk.GuestSize)
	assert.Greater(t, blk.TranslatedSize, 0)
	assert.Same(t, blk, ctx.Lookup(0x401000))
	assert.True(t, ctx.Helpers.Ready)
}

func TestCompileDirectJmpRecordsStaticCallSite(t *testing.T) {
	// jmp rel32 +0 -> target is the instruction immediately following it.
	reader := &fakeGuestReader{base: 0x402000, buf: []byte{0xe9, 0x00, 0x00, 0x00, 0x00}}
	c, ctx := newTestCompiler(t, reader)

	blk, err := c.Compile(ctx, 0x402000)
	require.NoError(t, err)
	require.Len(t, blk.CallSites, 1)
	assert.Equal(t, uintptr(0x402005), blk.CallSites[0].GuestTarget)
}

func TestCompilePropagatesUnreadablePageError(t *testing.T) {
	reader := &fakeGuestReader{err: errors.New("boom")}
	c, ctx := newTestCompiler(t, reader)

	_, err := c.Compile(ctx, 0x403000)
	assert.Error(t, err)
}

func TestCompilePropagatesDecodeError(t *testing.T) {
	// 0xd6 (SALC) is invalid in 64-bit mode.
	reader := &fakeGuestReader{base: 0x404000, buf: []byte{0xd6}}
	c, ctx := newTestCompiler(t, reader)

	_, err := c.Compile(ctx, 0x404000)
	assert.Error(t, err)
}

func TestCompileReusesHelpersAcrossBlocks(t *testing.T) {
	reader := &fakeGuestReader{base: 0x405000, buf: []byte{0xc3, 0xc3}}
	c, ctx := newTestCompiler(t, reader)

	_, err := c.Compile(ctx, 0x405000)
	require.NoError(t, err)
	firstHelpers := ctx.Helpers

	_, err = c.Compile(ctx, 0x405001)
	require.NoError(t, err)
	assert.Equal(t, firstHelpers, ctx.Helpers, "helpers are emitted once per context")
}

func TestResolveFixupResolvesGatePrefixedNames(t *testing.T) {
	c, _ := newTestCompiler(t, nil)
	addr, ok := c.resolveFixup("gate:" + string(dispatch.GateRetSlowPath))
	require.True(t, ok)
	assert.Equal(t, uintptr(0xdeadbeef), addr)

	_, ok = c.resolveFixup("gate:nonexistent")
	assert.False(t, ok)

	_, ok = c.resolveFixup("not-a-gate-name")
	assert.False(t, ok)
}

func TestEmitInstructionPassthroughForOtherKind(t *testing.T) {
	c, ctx := newTestCompiler(t, nil)
	w := &asmx64.Writer{}
	em := virt.NewEmitter(w, c.Gates, c.ICEntries, ctx, c.Excluded)

	in := decode.Instruction{Addr: 0x1000, Raw: []byte{0x90}} // nop, Kind Other
	res := c.emitInstruction(em, in)
	assert.False(t, res.staticallyBackpatchable)
	assert.Equal(t, []byte{0x90}, w.Code)
}

func TestCompileChainsContinuationWhenBlockExhaustsSlab(t *testing.T) {
	// Measure the exact helper emission length so the test slab can be
	// sized to leave only a few bytes of room after ensureHelpers runs,
	// forcing the first kept instruction to trip the out-of-space check.
	scratch := &asmx64.Writer{}
	_, icLayout := prolog.EmitIC(scratch)
	prolog.EmitICEpilog(scratch)
	_, minLayout := prolog.EmitMinimal(scratch, false)
	prolog.EmitMinimalEpilog(scratch, minLayout)
	_, fullLayout := prolog.EmitFull(scratch, false)
	prolog.EmitFullEpilog(scratch, fullLayout)
	helperLen := scratch.Len()
	_ = icLayout

	mapper := osmem.NewLinuxMapper()
	region, err := mapper.MapNear(0, 0, osmem.PageSize, osmem.PermRW)
	require.NoError(t, err)
	t.Cleanup(func() { mapper.Unmap(region) })
	// Leave less room than both the mid-block out-of-space heuristic
	// (minBlockCapacity+icEntrySpace) and the single ret block's own
	// commit capacity need, so commit's Reserve call fails and pushes a
	// fresh full-size slab rather than cascading forever.
	region.Len = helperLen + 10

	gates := dispatch.NewTable()
	gates.Register(dispatch.GateRetSlowPath, 0xdeadbeef)

	c := &Compiler{
		Decoder:   decode.X86AsmDecoder{},
		Mode:      decode.Mode64,
		Alloc:     slab.New(mapper),
		Gates:     gates,
		ICEntries: 4,
	}
	ctx := execctx.New(1)
	ctx.CodeSlabs = &slab.Slab{Kind: slab.KindCode, Region: region}
	dataRegion, err := mapper.MapNear(0, 0, osmem.PageSize, osmem.PermRW)
	require.NoError(t, err)
	t.Cleanup(func() { mapper.Unmap(dataRegion) })
	ctx.DataSlabs = &slab.Slab{Kind: slab.KindData, Region: dataRegion}

	// A guest reader serving two ret instructions back to back; with no
	// room left after the first, the compiler must chain a continuation
	// block for the second rather than erroring.
	reader := &fakeGuestReader{base: 0x406000, buf: []byte{0xc3, 0xc3}}
	c.Reader = reader

	_, err = c.Compile(ctx, 0x406000)
	require.NoError(t, err)
	assert.NotNil(t, ctx.Lookup(0x406000))
	assert.NotNil(t, ctx.Lookup(0x406001), "continuation must have compiled and installed the next block")
}
