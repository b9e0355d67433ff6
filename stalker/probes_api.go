package stalker

import (
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/0xDC00/frida-gum/internal/engtypes"
)

// AddCallProbe registers cb to run on every call to addr across every
// followed context (spec.md §3 CallProbe, §4.E.8). The first probe
// registered for an address causes subsequently compiled blocks there to
// carry a full-prolog call-probe trampoline; blocks already translated
// without one pick it up only once invalidated or recompiled.
func (e *Engine) AddCallProbe(addr uintptr, cb ProbeCallback, data any, destroy func(any)) (ProbeID, error) {
	if cb == nil {
		return 0, errors.New("stalker: nil call probe callback")
	}
	id := ProbeID(atomic.AddUint64(&e.nextProbeID, 1))
	p := &engtypes.Probe{ID: id, Addr: addr, Callback: cb, UserData: data, Destroy: destroy}
	p.Retain()

	e.probesMu.Lock()
	e.probes[addr] = append(e.probes[addr], p)
	e.probesByID[id] = probeEntry{addr: addr, probe: p}
	e.probesMu.Unlock()
	return id, nil
}

// RemoveCallProbe releases a previously registered probe (spec.md §3's
// refcounted CallProbe handle).
func (e *Engine) RemoveCallProbe(id ProbeID) error {
	e.probesMu.Lock()
	defer e.probesMu.Unlock()

	entry, ok := e.probesByID[id]
	if !ok {
		return errors.Errorf("stalker: no call probe with id %d", id)
	}
	delete(e.probesByID, id)

	list := e.probes[entry.addr]
	for i, p := range list {
		if p.ID == id {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(e.probes, entry.addr)
	} else {
		e.probes[entry.addr] = list
	}

	entry.probe.Release()
	return nil
}
