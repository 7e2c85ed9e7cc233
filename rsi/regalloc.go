package rsi

// assignRegistersGraphColoring builds the interference graph for fn,
// pre-colors references already bound to a hardware register or stack
// slot, colors it against the target's assignable palette plus a pool of
// spill colors sized to guarantee success, and backpatches every
// operand occurrence with its resolved storage location.
func assignRegistersGraphColoring(sess *Session, arch *Architecture, fn *Function) error {
	g := NewGraph[Reference](func(r Reference) string { return r.Name })

	// Collect every reference appearing anywhere so isolated (never
	// interfering) references still get a vertex and a color.
	for _, instr := range fn.Instructions {
		if def, ok := instr.Defs(); ok {
			g.EnsureVertex(def)
		}
		for _, u := range instr.Uses() {
			g.EnsureVertex(u)
		}
	}

	// Edge construction: a definition interferes with everything live
	// after it, and simultaneously live references interfere pairwise.
	// References pinned to the stack pointer or to a stack slot all share
	// the stack-pointer color, so no edge is added between two of them.
	spPinned := func(r Reference) bool {
		return r.Storage.Kind == StorageStack ||
			(r.Storage.Kind == StorageRegister && r.Storage.Register.ID == arch.StackPointer.ID)
	}
	addEdge := func(a, b Reference) {
		if !(spPinned(a) && spPinned(b)) {
			g.AddEdge(a, b)
		}
	}
	for i, instr := range fn.Instructions {
		def, hasDef := instr.Defs()
		if hasDef {
			var liveAfter map[string]Reference
			if i+1 < len(fn.Instructions) {
				liveAfter = fn.Instructions[i+1].Metadata.LiveBefore
			}
			for _, l := range liveAfter {
				if l.Name != def.Name {
					addEdge(def, l)
				}
			}
		}
		liveBefore := instr.Metadata.SortedLiveBefore()
		for a := 0; a < len(liveBefore); a++ {
			for b := a + 1; b < len(liveBefore); b++ {
				addEdge(liveBefore[a], liveBefore[b])
			}
		}
	}

	// Pin colors to hardware registers, one color per distinct register
	// identity, lazily minted and reused across the whole session.
	regColor := make(map[int]Color)
	colorFor := func(reg HWRegister) Color {
		if c, ok := regColor[reg.ID]; ok {
			return c
		}
		c := sess.NewColor()
		regColor[reg.ID] = c
		return c
	}

	spColor := colorFor(arch.StackPointer)

	generalColors := make([]Color, len(arch.GeneralPurpose))
	colorToReg := make(map[int]HWRegister)
	for i, reg := range arch.GeneralPurpose {
		c := colorFor(reg)
		generalColors[i] = c
		colorToReg[c.id] = reg
	}

	for _, v := range g.Vertices {
		switch v.Data.Storage.Kind {
		case StorageRegister:
			c := colorFor(v.Data.Storage.Register)
			v.Color = &c
		case StorageStack:
			c := spColor
			v.Color = &c
		}
	}

	// Spill colors: always at least as many as vertices, which guarantees
	// ColorIn always succeeds (a vertex has strictly fewer neighbors than
	// total vertex count, so some color is always free).
	spillColors := make([]Color, len(g.Vertices)+1)
	for i := range spillColors {
		spillColors[i] = sess.NewColor()
	}
	spillColorSet := make(map[int]bool, len(spillColors))
	for _, c := range spillColors {
		spillColorSet[c.id] = true
	}

	available := append(append([]Color{}, generalColors...), spillColors...)

	if !g.ColorIn(available) {
		return internalErr(fn.Name, "register allocation failed to color the interference graph even with spilling enabled")
	}

	// Backpatch: every vertex now carries a final color; translate it
	// into a concrete storage location and write that storage back into
	// every operand occurrence across the function.
	storageByName := make(map[string]StorageLocation, len(g.Vertices))
	spillSlot := make(map[int]StackSlot)

	for _, v := range g.Vertices {
		if v.Data.Storage.Kind != StorageUnbound {
			storageByName[v.Data.Name] = v.Data.Storage
			continue
		}
		if v.Color == nil {
			return internalErr(fn.Name, "reference %q left uncolored by the allocator", v.Data.Name)
		}
		if reg, ok := colorToReg[v.Color.id]; ok {
			storageByName[v.Data.Name] = StorageLocation{Kind: StorageRegister, Register: reg}
			continue
		}
		if spillColorSet[v.Color.id] {
			slot, ok := spillSlot[v.Color.id]
			if !ok {
				slot = fn.allocStackSlot()
				spillSlot[v.Color.id] = slot
			}
			storageByName[v.Data.Name] = StorageLocation{Kind: StorageStack, Stack: slot}
			continue
		}
		return internalErr(fn.Name, "reference %q colored to an unrecognized color", v.Data.Name)
	}

	rebind := func(op Operand) Operand {
		r, ok := AsReference(op)
		if !ok {
			return op
		}
		if s, ok := storageByName[r.Name]; ok {
			r.Storage = s
		}
		return r
	}

	for i := range fn.Instructions {
		instr := &fn.Instructions[i]
		instr.Result = rebind(instr.Result)
		instr.Op1 = rebind(instr.Op1)
		instr.Op2 = rebind(instr.Op2)
		for name, r := range instr.Metadata.LiveBefore {
			if s, ok := storageByName[r.Name]; ok {
				r.Storage = s
				instr.Metadata.LiveBefore[name] = r
			}
		}
	}

	return nil
}

// enumerateRegisters populates fn.Metadata.{AllReferences, AllRegisters,
// MaxStackUsage} by walking every operand occurrence once allocation has
// finished.
func enumerateRegisters(fn *Function) {
	seenRef := make(map[string]bool)
	seenReg := make(map[int]bool)
	var maxStack int64

	record := func(op Operand) {
		r, ok := AsReference(op)
		if !ok {
			return
		}
		if !seenRef[r.Name] {
			seenRef[r.Name] = true
			fn.Metadata.AllReferences = append(fn.Metadata.AllReferences, r)
		}
		switch r.Storage.Kind {
		case StorageRegister:
			if !seenReg[r.Storage.Register.ID] {
				seenReg[r.Storage.Register.ID] = true
				fn.Metadata.AllRegisters = append(fn.Metadata.AllRegisters, r.Storage.Register)
			}
		case StorageStack:
			if end := r.Storage.Stack.Offset + 8; end > maxStack {
				maxStack = end
			}
		}
	}

	for _, instr := range fn.Instructions {
		record(instr.Result)
		record(instr.Op1)
		record(instr.Op2)
	}

	fn.Metadata.MaxStackUsage = maxStack
}
