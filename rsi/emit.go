package rsi

// operandLoc is how one operand resolved to concrete assembly text for a
// given target: a register name, a memory reference, or a bare literal.
type operandLoc struct {
	Text       string
	IsMemory   bool
	IsRegister bool
	IsImm      bool
	Imm        uint64
}

func align16(n int64) int64 {
	if n%16 == 0 {
		return n
	}
	return n + (16 - n%16)
}

// frameLayout is the per-function stack frame both emitters build below
// the entry stack pointer. The spill area sits at offset 0 so that the
// stack-slot offsets assigned during IR generation and register
// allocation stay valid as plain sp/rsp-relative displacements; nothing
// after the prologue ever moves the stack pointer, which also keeps the
// resolved ADDRESS_OF arithmetic correct mid-function.
//
//	[0, spill)           spill slots + address-taken locals
//	[argBase, ...)       outgoing call-argument slots
//	[saveBase, ...)      caller-saved registers stashed around CALLs
//	[calleeBase, ...)    callee-saved registers saved in the prologue
//	[lrOffset]           link register (AArch64 only, when calls exist)
type frameLayout struct {
	spill      int64
	argBase    int64
	saveBase   int64
	saveOff    map[int]int64 // caller-saved register ID -> slot offset
	calleeOff  []calleeSlot
	lrOffset   int64 // -1 when no slot is reserved
	hasCall    bool
	total      int64
}

type calleeSlot struct {
	reg HWRegister
	off int64
}

// maxArgDepth simulates the emitter's argument stack over the whole
// function: STORE_PARAMETER pushes one slot, CALL pops argc of them.
// Nested calls in argument position make this exceed any single call's
// argc, so sizing by the widest call alone would be wrong.
func maxArgDepth(fn *Function) int {
	depth, maxDepth := 0, 0
	for _, instr := range fn.Instructions {
		switch instr.Type {
		case STORE_PARAMETER:
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case CALL:
			if argc, ok := instr.Op2.(StaticConstant); ok {
				depth -= int(argc.Value)
				if depth < 0 {
					depth = 0
				}
			}
		}
	}
	return maxDepth
}

func computeFrame(arch *Architecture, fn *Function) frameLayout {
	f := frameLayout{
		spill:    fn.Metadata.MaxStackUsage,
		saveOff:  make(map[int]int64),
		lrOffset: -1,
	}
	for _, instr := range fn.Instructions {
		if instr.Type == CALL {
			f.hasCall = true
			break
		}
	}

	f.argBase = f.spill
	next := f.argBase + int64(maxArgDepth(fn))*8

	f.saveBase = next
	if f.hasCall {
		for _, reg := range arch.CallerSaved() {
			f.saveOff[reg.ID] = next
			next += 8
		}
	}

	for _, used := range fn.Metadata.AllRegisters {
		if arch.IsCalleeSaved(used) {
			f.calleeOff = append(f.calleeOff, calleeSlot{reg: used, off: next})
			next += 8
		}
	}

	if arch.Target == AArch64 && f.hasCall {
		f.lrOffset = next
		next += 8
	}

	f.total = align16(next)
	if arch.Target == X86_64 && (f.total > 0 || f.hasCall) {
		// The SysV AMD64 ABI wants rsp 16-byte aligned at every call
		// site. The return address leaves rsp 8 short of that on entry,
		// so the frame compensates.
		f.total += 8
	}
	return f
}

// liveCallerSaved lists the caller-saved registers holding a value that
// is live going into instr, in palette order. These are exactly the
// registers a CALL may clobber that the caller still needs.
func liveCallerSaved(arch *Architecture, instr Instruction) []HWRegister {
	liveIDs := make(map[int]bool)
	for _, r := range instr.Metadata.LiveBefore {
		if r.Storage.Kind == StorageRegister {
			liveIDs[r.Storage.Register.ID] = true
		}
	}
	var out []HWRegister
	for _, reg := range arch.CallerSaved() {
		if liveIDs[reg.ID] {
			out = append(out, reg)
		}
	}
	return out
}

func fitsInt32(v uint64) bool {
	return int64(v) >= -2147483648 && int64(v) <= 2147483647
}

// conditionName maps a comparison opcode to the x86 setcc suffix.
func conditionName(op Opcode) string {
	switch op {
	case EQ:
		return "e"
	case NE:
		return "ne"
	case LT:
		return "l"
	case LE:
		return "le"
	case GT:
		return "g"
	case GE:
		return "ge"
	default:
		return "?"
	}
}

// armConditionName maps a comparison opcode to its AArch64 condition
// code, used by cset.
func armConditionName(op Opcode) string {
	switch op {
	case EQ:
		return "eq"
	case NE:
		return "ne"
	case LT:
		return "lt"
	case LE:
		return "le"
	case GT:
		return "gt"
	case GE:
		return "ge"
	default:
		return "?"
	}
}
