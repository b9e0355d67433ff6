package prolog

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/0xDC00/frida-gum/internal/asmx64"
)

func TestEmitICProlog(t *testing.T) {
	w := &asmx64.Writer{}
	entry, layout := EmitIC(w)
	assert.Equal(t, 0, entry)
	assert.Equal(t, VariantIC, layout.Variant)
	assert.Equal(t, 24, layout.Size)
	assert.Equal(t, 24, layout.AppSPOffset)
	assert.Equal(t, -1, layout.FPRegsOffset)
	assert.Equal(t, -1, layout.YMMOffset)
	assert.Equal(t, byte(0x9c), w.Code[0], "must start by saving flags")
	assert.Equal(t, byte(0xc3), w.Code[len(w.Code)-1], "must end with ret")
}

func TestEmitICEpilogReversesProlog(t *testing.T) {
	w := &asmx64.Writer{}
	EmitIC(w)
	prologLen := w.Len()
	epilogEntry := EmitICEpilog(w)
	assert.Equal(t, prologLen, epilogEntry)
	assert.Equal(t, byte(0x9d), w.Code[len(w.Code)-2], "must restore flags before ret")
	assert.Equal(t, byte(0xc3), w.Code[len(w.Code)-1])
}

func TestEmitMinimalWithoutAVX2SkipsYMMSpill(t *testing.T) {
	w := &asmx64.Writer{}
	_, layout := EmitMinimal(w, false)
	assert.Equal(t, VariantMinimal, layout.Variant)
	assert.Equal(t, 0, layout.FPRegsOffset)
	assert.Equal(t, -1, layout.YMMOffset)
	assert.Equal(t, 0, layout.Size%16, "saved area must be 16-byte aligned")
}

func TestEmitMinimalWithAVX2ReservesYMMSpill(t *testing.T) {
	w := &asmx64.Writer{}
	_, layout := EmitMinimal(w, true)
	assert.Equal(t, fxsaveSize, layout.YMMOffset)
	assert.Equal(t, 0, layout.Size%16)
}

func TestEmitMinimalEpilogRestoresGPRsInReverseOrder(t *testing.T) {
	w := &asmx64.Writer{}
	_, layout := EmitMinimal(w, false)
	before := w.Len()
	EmitMinimalEpilog(w, layout)
	assert.Greater(t, w.Len(), before)
	assert.Equal(t, byte(0xc3), w.Code[len(w.Code)-1])
	// pop r11, r10, r9, r8, rdi, rsi, rdx, rcx, rax; popfq; ret
	assert.Equal(t, []byte{0x41, 0x5b, 0x41, 0x5a, 0x41, 0x59, 0x41, 0x58,
		0x5f, 0x5e, 0x5a, 0x59, 0x58, 0x9d, 0xc3}, w.Code[len(w.Code)-15:])
}

func TestEmitFullReservesXIPSlot(t *testing.T) {
	w := &asmx64.Writer{}
	_, layout := EmitFull(w, true)
	assert.Equal(t, VariantFull, layout.Variant)
	assert.NotEqual(t, -1, layout.XIPOffset)
	assert.NotEqual(t, -1, layout.GPROffset)
	assert.Equal(t, layout.GPROffset-8, layout.XIPOffset)
}

func TestEmitFullEpilogProducesMatchingLength(t *testing.T) {
	w := &asmx64.Writer{}
	_, layout := EmitFull(w, false)
	epilogEntry := EmitFullEpilog(w, layout)
	assert.Greater(t, w.Len(), epilogEntry)
}

func TestAlignUp16(t *testing.T) {
	assert.Equal(t, 0, alignUp16(0))
	assert.Equal(t, 16, alignUp16(1))
	assert.Equal(t, 16, alignUp16(16))
	assert.Equal(t, 32, alignUp16(17))
}
