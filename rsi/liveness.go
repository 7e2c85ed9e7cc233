package rsi

// analyzeLiveVariables computes, for every instruction, live_before: the
// set of virtual references live immediately before it. It iterates a
// backward sweep to a fixed point, special-casing DEFINE_LABEL so that
// liveness flows back across jump edges without an explicit CFG.
//
// Label propagation and the backward chain can disagree about visitation
// order within a single sweep (a forward jump's label is defined after
// it; a loop-back jump's label is defined before it), so each
// instruction's new live_before is the union of what the chain computes
// now and whatever a same-pass label propagation already stashed there —
// never a plain overwrite. Monotonic union across repeated sweeps is what
// drives the whole analysis to its fixed point.
func analyzeLiveVariables(f *Function, _ Target) {
	n := len(f.Instructions)
	if n == 0 {
		return
	}

	jumpsTo := make(map[string][]int)
	for i, instr := range f.Instructions {
		if instr.Type == JUMP || instr.Type == JUMP_IF_ZERO {
			if lbl, ok := instr.Op1.(Label); ok {
				jumpsTo[lbl.Name] = append(jumpsTo[lbl.Name], i)
			}
			if instr.Type == JUMP_IF_ZERO {
				if lbl, ok := instr.Op2.(Label); ok {
					jumpsTo[lbl.Name] = append(jumpsTo[lbl.Name], i)
				}
			}
		}
	}

	for i := range f.Instructions {
		f.Instructions[i].Metadata = newMetadata()
	}

	for {
		changed := false
		var liveAfter map[string]Reference = map[string]Reference{}

		for i := n - 1; i >= 0; i-- {
			instr := &f.Instructions[i]

			before := make(map[string]Reference, len(instr.Metadata.LiveBefore))
			for k, r := range instr.Metadata.LiveBefore {
				before[k] = r
			}
			for k, r := range liveAfter {
				before[k] = r
			}
			if def, ok := instr.Defs(); ok {
				delete(before, def.Name)
			}
			for _, u := range instr.Uses() {
				before[u.Name] = u
			}
			if instr.Type == SET_LIVE {
				if r, ok := AsReference(instr.Result); ok {
					before[r.Name] = r
				}
			}

			if instr.Type == DEFINE_LABEL {
				if lbl, ok := instr.Op1.(Label); ok {
					for _, jIdx := range jumpsTo[lbl.Name] {
						target := f.Instructions[jIdx].Metadata.LiveBefore
						for k, r := range before {
							if _, already := target[k]; !already {
								target[k] = r
							}
						}
					}
				}
			}

			if !sameLiveSet(instr.Metadata.LiveBefore, before) {
				changed = true
			}
			instr.Metadata.LiveBefore = before
			liveAfter = before
		}

		if !changed {
			return
		}
	}
}

func sameLiveSet(a, b map[string]Reference) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}
