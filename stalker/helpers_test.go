package stalker

import (
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/0xDC00/frida-gum/internal/decode"
	"github.com/0xDC00/frida-gum/internal/execctx"
	"github.com/0xDC00/frida-gum/internal/osmem"
	"github.com/0xDC00/frida-gum/internal/osthread"
)

// newTestEngine builds an Engine around a real Linux memory mapper and
// decoder, with no NativeBridge (per engine.go's doc comment, a nil
// bridge still supports Compile/probes/exclusion exercised directly, and
// Follow can still redirect a fake controller's register state even
// though nothing ever truly resumes out of translated code). Every
// mapped slab is unmapped at test cleanup.
func newTestEngine(t *testing.T, threads ThreadController, reader GuestReader, opts ...Option) *Engine {
	t.Helper()
	e, err := New(decode.X86AsmDecoder{}, osmem.NewLinuxMapper(), threads, nil, reader, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		e.mu.Lock()
		ctxs := make([]*execctx.Context, 0, len(e.contexts))
		for _, ctx := range e.contexts {
			ctxs = append(ctxs, ctx)
		}
		e.mu.Unlock()
		for _, ctx := range ctxs {
			e.releaseContext(ctx)
		}
	})
	return e
}

// fakeController is an in-memory stand-in for a ptrace-backed
// osthread.Controller: no real thread is ever suspended, so tests only
// assert on the sequencing of Attach/GetRegs/SetRegs/Resume/Detach calls
// and the register values threaded through them.
type fakeController struct {
	mu sync.Mutex

	attached map[osthread.ID]bool
	regs     map[osthread.ID]osthread.Regs

	attachErr, detachErr, getRegsErr, setRegsErr, resumeErr, stepErr error

	resumeCalls, detachCalls, stepCalls int
}

func newFakeController() *fakeController {
	return &fakeController{
		attached: make(map[osthread.ID]bool),
		regs:     make(map[osthread.ID]osthread.Regs),
	}
}

func (f *fakeController) Attach(id osthread.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.attachErr != nil {
		return f.attachErr
	}
	f.attached[id] = true
	return nil
}

func (f *fakeController) Detach(id osthread.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detachCalls++
	if f.detachErr != nil {
		return f.detachErr
	}
	delete(f.attached, id)
	return nil
}

func (f *fakeController) GetRegs(id osthread.ID) (osthread.Regs, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getRegsErr != nil {
		return osthread.Regs{}, f.getRegsErr
	}
	return f.regs[id], nil
}

func (f *fakeController) SetRegs(id osthread.ID, r osthread.Regs) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setRegsErr != nil {
		return f.setRegsErr
	}
	f.regs[id] = r
	return nil
}

func (f *fakeController) Resume(id osthread.ID, signal int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumeCalls++
	return f.resumeErr
}

func (f *fakeController) SingleStep(id osthread.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stepCalls++
	return f.stepErr
}

// fakeReader serves guest bytes out of a flat in-memory buffer, standing
// in for a /proc/<pid>/mem-backed GuestReader.
type fakeReader struct {
	base uintptr
	buf  []byte
	err  error
}

func (f *fakeReader) ReadGuestBytes(addr uintptr, n int) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	if addr < f.base || addr >= f.base+uintptr(len(f.buf)) {
		return nil, errors.New("fakeReader: address out of range")
	}
	off := int(addr - f.base)
	end := off + n
	if end > len(f.buf) {
		end = len(f.buf)
	}
	return f.buf[off:end], nil
}

// fakeSink is a minimal EventSink recording lifecycle calls without
// caring about individual events.
type fakeSink struct {
	mu                          sync.Mutex
	startErr, stopErr, flushErr error
	started, stopped, flushed   int
	mask                        Mask
}

func (f *fakeSink) QueryMask() Mask { return f.mask }
func (f *fakeSink) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
	return f.startErr
}
func (f *fakeSink) Process(ev Event, cpu *CPUContext) {}
func (f *fakeSink) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	return f.stopErr
}
func (f *fakeSink) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushed++
	return f.flushErr
}
