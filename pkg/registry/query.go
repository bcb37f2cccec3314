package registry

import (
	"bytes"
	"runtime"
	"sort"
	"strconv"

	celixerrors "github.com/gocelix/gocelix/pkg/errors"
	"github.com/gocelix/gocelix/pkg/filter"
)

// FindReferences returns references to every Active registration whose
// objectClass equals iface (when iface is non-empty) and whose properties
// satisfy filt (a nil filt matches everything). Results are ordered by
// (service.ranking desc, service.id asc) and run through registered find
// hooks before being returned. Concurrent callers never trip each other's
// reentrancy guard; only a find hook calling back into FindReferences from its
// own Find invocation, on the same goroutine, is rejected.
func (r *Registry) FindReferences(iface string, filt filter.Filter) ([]*Reference, error) {
	gid := currentGoroutineID()
	r.findHookMu.Lock()
	reentrant := r.findHooksInFlight[gid]
	r.findHookMu.Unlock()
	if reentrant {
		return nil, celixerrors.NewIllegalState("FindReferences", "find hooks may not call FindReferences reentrantly")
	}

	r.mu.Lock()
	var matched []*registration
	for _, reg := range r.regs {
		if reg.state != Active {
			continue
		}
		if iface != "" && reg.ifaceName != iface {
			continue
		}
		if filt != nil && !filt.Matches(reg.props) {
			continue
		}
		matched = append(matched, reg)
	}
	sort.Slice(matched, func(i, j int) bool {
		ri, _ := matched[i].props.Get(ServiceRankingKey)
		rj, _ := matched[j].props.Get(ServiceRankingKey)
		if ri.AsLong(0) != rj.AsLong(0) {
			return ri.AsLong(0) > rj.AsLong(0)
		}
		return matched[i].id < matched[j].id
	})

	refs := make([]*Reference, 0, len(matched))
	for _, reg := range matched {
		reg.readerCount++
		refs = append(refs, &Reference{reg: reg})
	}
	hooks := append([]*registration(nil), r.findHooks...)
	r.mu.Unlock()

	if len(hooks) == 0 {
		return refs, nil
	}

	r.findHookMu.Lock()
	r.findHooksInFlight[gid] = true
	r.findHookMu.Unlock()

	for _, h := range hooks {
		hook, ok := h.plain.(FindHook)
		if !ok {
			continue
		}
		refs = runFindHook(hook, iface, filt, refs)
	}

	r.findHookMu.Lock()
	delete(r.findHooksInFlight, gid)
	r.findHookMu.Unlock()

	return refs, nil
}

// currentGoroutineID extracts the calling goroutine's id from its stack
// trace header ("goroutine 37 [running]:"). It is the only way to scope
// the find-hook reentrancy guard to a single call stack without adding a
// context parameter to the public FindHook interface.
func currentGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return 0
	}
	id, _ := strconv.ParseUint(string(fields[1]), 10, 64)
	return id
}

func runFindHook(hook FindHook, iface string, filt filter.Filter, refs []*Reference) (out []*Reference) {
	defer func() {
		if recover() != nil {
			out = refs
		}
	}()
	return hook.Find(iface, filt, refs)
}
