package decode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xDC00/frida-gum/internal/asmx64"
)

func decodeAt(t *testing.T, code []byte, addr uintptr) Instruction {
	t.Helper()
	in, err := X86AsmDecoder{}.Decode(code, addr, Mode64)
	require.NoError(t, err)
	return in
}

func TestClassifyDirectCall(t *testing.T) {
	// call rel32 (+0x10)
	in := decodeAt(t, []byte{0xe8, 0x10, 0x00, 0x00, 0x00}, 0x1000)
	assert.Equal(t, KindCallImm, Classify(in))
	assert.Equal(t, uintptr(0x1000+5+0x10), DirectTarget(in))
}

func TestClassifyIndirectCallRegister(t *testing.T) {
	// call rax
	in := decodeAt(t, []byte{0xff, 0xd0}, 0x2000)
	assert.Equal(t, KindCallIndirect, Classify(in))
}

func TestClassifyDirectJmp(t *testing.T) {
	// jmp rel32 +0: the target is the next instruction.
	in := decodeAt(t, []byte{0xe9, 0x00, 0x00, 0x00, 0x00}, 0x3000)
	assert.Equal(t, KindJmpImm, Classify(in))
	assert.Equal(t, uintptr(0x3000+5), DirectTarget(in))
}

func TestClassifyIndirectJmpMemory(t *testing.T) {
	// jmp [rax]
	in := decodeAt(t, []byte{0xff, 0x20}, 0x4000)
	assert.Equal(t, KindJmpIndirect, Classify(in))
}

func TestClassifyRet(t *testing.T) {
	in := decodeAt(t, []byte{0xc3}, 0x5000)
	assert.Equal(t, KindRet, Classify(in))
}

func TestClassifySysenter(t *testing.T) {
	in := decodeAt(t, []byte{0x0f, 0x34}, 0x6000)
	assert.Equal(t, KindSysenter, Classify(in))
}

func TestClassifyJccFamily(t *testing.T) {
	cases := []struct {
		name string
		code []byte
		cc   asmx64.CondCode
	}{
		{"je", []byte{0x74, 0x00}, asmx64.CC_E},
		{"jne", []byte{0x75, 0x00}, asmx64.CC_NE},
		{"jl", []byte{0x7c, 0x00}, asmx64.CC_L},
		{"jge", []byte{0x7d, 0x00}, asmx64.CC_GE},
		{"jg", []byte{0x7f, 0x00}, asmx64.CC_G},
		{"jle", []byte{0x7e, 0x00}, asmx64.CC_LE},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			in := decodeAt(t, c.code, 0x7000)
			assert.Equal(t, KindJcc, Classify(in))
			assert.Equal(t, c.cc, CondCodeFor(in))
		})
	}
}

func TestClassifyOtherForPlainInstructions(t *testing.T) {
	// mov eax, 1
	in := decodeAt(t, []byte{0xb8, 0x01, 0x00, 0x00, 0x00}, 0x8000)
	assert.Equal(t, KindOther, Classify(in))
}
