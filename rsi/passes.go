package rsi

// Pipeline returns the fixed, exactly-ordered thirteen-step legalization
// and analysis pipeline. The order matters: isolation passes create the
// pinned references liveness and allocation later depend on, and the
// stack-variable lowering has to run after address-of resolution has
// assigned every address-taken reference its slot.
func Pipeline() []Pass {
	return []Pass{
		replaceModWithDivMulSubPass(),
		moveConstantsToReferencesPass(),
		makeTwoOperandCompatiblePass(),
		separateDivReferencesPass(),
		seperateCallResultsPass(),
		separateLoadParametersPass(),
		resolveAddressOfPass(),
		separateGlobalReferencesPass(),
		globalReferenceToMemoryAccessPass(),
		separateStackVariablesPass(),
		analyzeLiveVariablesPass(),
		assignRegistersGraphColoringPass(),
		enumerateRegistersPass(),
	}
}

// 1. replaceModWithDivMulSub
func replaceModWithDivMulSubPass() Pass {
	return Pass{
		Name:     "replaceModWithDivMulSub",
		Targets:  targets(AArch64),
		Positive: opcodeSet(MOD),
		PerInstruction: func(sess *Session, arch *Architecture, instr *Instruction, before, after *[]Instruction) error {
			a, b, r := instr.Op1, instr.Op2, instr.Result
			q := sess.NewReference("moddiv")
			t := sess.NewReference("modmul")
			*before = append(*before,
				NewInstruction(DIV, q, a, b),
				NewInstruction(MUL, t, q, b),
			)
			instr.Type = SUB
			instr.Result = r
			instr.Op1 = a
			instr.Op2 = t
			return nil
		},
	}
}

// constantOperandSlots reports, for the opcodes this pass cares about,
// which of op1/op2 must not remain a bare constant.
func constantOperandSlots(op Opcode) (op1, op2 bool) {
	switch op {
	case DIV, MOD:
		return true, true
	case STORE_MEMORY:
		return true, true
	case LOAD_MEMORY:
		return true, false
	case RETURN:
		return true, false
	case JUMP_IF_ZERO:
		return true, false
	default:
		return false, false
	}
}

func isConstant(op Operand) bool {
	switch op.(type) {
	case StaticConstant, DynamicConstant:
		return true
	default:
		return false
	}
}

// 2. moveConstantsToReferences
func moveConstantsToReferencesPass() Pass {
	return Pass{
		Name:     "moveConstantsToReferences",
		Positive: opcodeSet(DIV, MOD, STORE_MEMORY, LOAD_MEMORY, CALL, RETURN, JUMP_IF_ZERO, ADDRESS_OF, SET_LIVE),
		PerInstruction: func(sess *Session, arch *Architecture, instr *Instruction, before, after *[]Instruction) error {
			must1, must2 := constantOperandSlots(instr.Type)
			if must1 && isConstant(instr.Op1) {
				tmp := sess.NewReference("const")
				*before = append(*before, NewInstruction(MOVE, tmp, instr.Op1, nil))
				instr.Op1 = tmp
			}
			if must2 && isConstant(instr.Op2) {
				tmp := sess.NewReference("const")
				*before = append(*before, NewInstruction(MOVE, tmp, instr.Op2, nil))
				instr.Op2 = tmp
			}
			return nil
		},
	}
}

// 3. makeTwoOperandCompatible. NEGATE and BINARY_NOT are destructive
// single-operand forms on x86 (neg/not), so they get the same
// result-equals-op1 treatment as the binary opcodes.
func makeTwoOperandCompatiblePrefilter(instr Instruction) bool {
	if instr.Type != NEGATE && instr.Type != BINARY_NOT && !instr.Type.IsBinaryArithmetic() {
		return false
	}
	if instr.Type == DIV || instr.Type == MOD {
		// separateDivReferences pins operand placement for these on its
		// own, independently of x86's destructive two-operand forms.
		return false
	}
	result, ok := AsReference(instr.Result)
	if !ok {
		return false
	}
	op1, ok := AsReference(instr.Op1)
	if ok && op1.Equal(result) {
		return false
	}
	return true
}

func makeTwoOperandCompatiblePass() Pass {
	return Pass{
		Name:      "makeTwoOperandCompatible",
		Targets:   targets(X86_64),
		Prefilter: makeTwoOperandCompatiblePrefilter,
		PerInstruction: func(sess *Session, arch *Architecture, instr *Instruction, before, after *[]Instruction) error {
			result := instr.Result
			*before = append(*before, NewInstruction(MOVE, result, instr.Op1, nil))
			instr.Op1 = result
			return nil
		},
	}
}

// 4. separateDivReferences. The dividend always loads into the quotient
// register (rax), regardless of whether this is DIV or MOD, because
// that's where x86-64's idiv expects it (paired with rdx via cqo); the
// result comes back in the quotient register for DIV, the remainder
// register for MOD.
func separateDivReferencesPass() Pass {
	return Pass{
		Name:     "separateDivReferences",
		Targets:  targets(X86_64),
		Positive: opcodeSet(DIV, MOD),
		PerInstruction: func(sess *Session, arch *Architecture, instr *Instruction, before, after *[]Instruction) error {
			origResult := instr.Result
			dividend := sess.NewReference("divop")
			dividend.Storage = StorageLocation{Kind: StorageRegister, Register: arch.DivQuotient}
			*before = append(*before, NewInstruction(MOVE, dividend, instr.Op1, nil))
			instr.Op1 = dividend

			resultReg := arch.DivQuotient
			if instr.Type == MOD {
				resultReg = arch.DivRemainder
			}
			result := sess.NewReference("divresult")
			result.Storage = StorageLocation{Kind: StorageRegister, Register: resultReg}
			instr.Result = result
			*after = append(*after, NewInstruction(MOVE, origResult, result, nil))
			return nil
		},
	}
}

// 5. seperateCallResults
func seperateCallResultsPass() Pass {
	return Pass{
		Name:     "seperateCallResults",
		Positive: opcodeSet(CALL),
		PerInstruction: func(sess *Session, arch *Architecture, instr *Instruction, before, after *[]Instruction) error {
			origResult, ok := AsReference(instr.Result)
			if !ok {
				return nil
			}
			t := sess.NewReference("callresult")
			t.Storage = StorageLocation{Kind: StorageRegister, Register: arch.ReturnValue}
			instr.Result = t
			*after = append(*after, NewInstruction(MOVE, origResult, t, nil))
			return nil
		},
	}
}

// 6. separateLoadParameters
func separateLoadParametersPass() Pass {
	return Pass{
		Name:     "separateLoadParameters",
		Positive: opcodeSet(LOAD_PARAMETER),
		PerInstruction: func(sess *Session, arch *Architecture, instr *Instruction, before, after *[]Instruction) error {
			origResult, ok := AsReference(instr.Result)
			if !ok {
				return internalErr("", "LOAD_PARAMETER result must be a virtual reference")
			}
			idxConst, ok := instr.Op1.(StaticConstant)
			if !ok {
				return internalErr("", "LOAD_PARAMETER index must be a static constant")
			}
			idx := int(idxConst.Value)
			if idx >= len(arch.ParameterRegisters) {
				return internalErr("", "function uses more parameters than are supported on this platform")
			}
			t := sess.NewReference("param")
			t.Storage = StorageLocation{Kind: StorageRegister, Register: arch.ParameterRegisters[idx]}
			instr.Result = t
			*after = append(*after, NewInstruction(MOVE, origResult, t, nil))
			return nil
		},
	}
}

// 7. resolveAddressOf. ADDRESS_OF of a GlobalReference (string literal
// data, or a global taken by address) needs no stack-pointer arithmetic:
// it is left untouched here and lowered directly by the assembly
// emitter (lea / adrp+add on a label).
func resolveAddressOfPass() Pass {
	return Pass{
		Name:     "resolveAddressOf",
		Positive: opcodeSet(ADDRESS_OF),
		Prefilter: func(instr Instruction) bool {
			_, isGlobal := instr.Op1.(GlobalReference)
			return !isGlobal
		},
		PerInstruction: func(sess *Session, arch *Architecture, instr *Instruction, before, after *[]Instruction) error {
			ref, ok := AsReference(instr.Op1)
			if !ok || ref.Storage.Kind != StorageStack {
				return internalErr("", "trying to take address of a value not on the stack")
			}

			spRef := sess.NewReference("stackptr")
			spRef.Storage = StorageLocation{Kind: StorageRegister, Register: arch.StackPointer}

			offset := ref.Storage.Stack.Offset
			cell := new(int64)
			*cell = offset

			*before = append(*before, NewInstruction(SET_LIVE, spRef, nil, nil))

			instr.Type = ADD
			instr.Op1 = DynamicConstant{Cell: cell}
			instr.Op2 = spRef
			return nil
		},
	}
}

// 8. separateGlobalReferences. ADDRESS_OF's op1 is exempted: a global
// there means "take this label's address", already final, not a value
// to load.
func separateGlobalReferencesPass() Pass {
	return Pass{
		Name: "separateGlobalReferences",
		PerInstruction: func(sess *Session, arch *Architecture, instr *Instruction, before, after *[]Instruction) error {
			if g, ok := instr.Result.(GlobalReference); ok {
				fresh := sess.NewReference("globalwrite")
				*after = append(*after, NewInstruction(MOVE, g, fresh, nil))
				instr.Result = fresh
			}
			if g, ok := instr.Op1.(GlobalReference); ok && instr.Type != ADDRESS_OF {
				fresh := sess.NewReference("globalread")
				*before = append(*before, NewInstruction(MOVE, fresh, g, nil))
				instr.Op1 = fresh
			}
			if g, ok := instr.Op2.(GlobalReference); ok {
				fresh := sess.NewReference("globalread")
				*before = append(*before, NewInstruction(MOVE, fresh, g, nil))
				instr.Op2 = fresh
			}
			return nil
		},
	}
}

// 9. globalReferenceToMemoryAccess
func globalReferenceToMemoryAccessPass() Pass {
	return Pass{
		Name:     "globalReferenceToMemoryAccess",
		Positive: opcodeSet(MOVE),
		Prefilter: func(instr Instruction) bool {
			_, dst := instr.Result.(GlobalReference)
			_, src := instr.Op1.(GlobalReference)
			return dst || src
		},
		PerInstruction: func(sess *Session, arch *Architecture, instr *Instruction, before, after *[]Instruction) error {
			if g, ok := instr.Result.(GlobalReference); ok {
				instr.Type = STORE_MEMORY
				instr.Op2 = instr.Op1
				instr.Op1 = g
				instr.Result = Empty{}
				return nil
			}
			if g, ok := instr.Op1.(GlobalReference); ok {
				instr.Type = LOAD_MEMORY
				instr.Op1 = g
				return nil
			}
			return nil
		},
	}
}

// 10. separateStackVariables. Writes to a stack-bound result are routed
// through STORE_MEMORY; reads of a stack-bound operand are routed through
// LOAD_MEMORY, symmetrically with how globals are handled, so plain
// (non-address-of) access to an address-taken local works correctly.
func separateStackVariablesPass() Pass {
	return Pass{
		Name: "separateStackVariables",
		Prefilter: func(instr Instruction) bool {
			if r, ok := AsReference(instr.Result); ok && r.Storage.Kind == StorageStack {
				return true
			}
			if r, ok := AsReference(instr.Op1); ok && r.Storage.Kind == StorageStack {
				return true
			}
			if r, ok := AsReference(instr.Op2); ok && r.Storage.Kind == StorageStack {
				return true
			}
			return false
		},
		PerInstruction: func(sess *Session, arch *Architecture, instr *Instruction, before, after *[]Instruction) error {
			loadIfStack := func(op Operand) Operand {
				r, ok := AsReference(op)
				if !ok || r.Storage.Kind != StorageStack {
					return op
				}
				addr := stackAddress(sess, arch, r, before)
				fresh := sess.NewReference("stackread")
				*before = append(*before, NewInstruction(LOAD_MEMORY, fresh, addr, nil))
				return fresh
			}

			if r, ok := AsReference(instr.Result); ok && r.Storage.Kind == StorageStack {
				addr := stackAddress(sess, arch, r, before)
				fresh := sess.NewReference("stackwrite")
				instr.Result = fresh
				*after = append(*after, NewInstruction(STORE_MEMORY, nil, addr, fresh))
			}
			instr.Op1 = loadIfStack(instr.Op1)
			instr.Op2 = loadIfStack(instr.Op2)
			return nil
		},
	}
}

// stackAddress materializes the runtime address of a stack-bound
// reference into a fresh reference, the same shape resolveAddressOf uses.
func stackAddress(sess *Session, arch *Architecture, r Reference, before *[]Instruction) Reference {
	spRef := sess.NewReference("stackptr")
	spRef.Storage = StorageLocation{Kind: StorageRegister, Register: arch.StackPointer}
	*before = append(*before, NewInstruction(SET_LIVE, spRef, nil, nil))

	cell := new(int64)
	*cell = r.Storage.Stack.Offset

	addr := sess.NewReference("stackaddr")
	*before = append(*before, NewInstruction(ADD, addr, DynamicConstant{Cell: cell}, spRef))
	return addr
}

// 11-13 are per-function and live in liveness.go / regalloc.go; these
// thin wrappers give them Pass shape for Pipeline().
func analyzeLiveVariablesPass() Pass {
	return Pass{
		Name: "analyzeLiveVariables",
		PerFunction: func(sess *Session, arch *Architecture, fn *Function) error {
			analyzeLiveVariables(fn, arch.Target)
			return nil
		},
	}
}

func assignRegistersGraphColoringPass() Pass {
	return Pass{
		Name: "assignRegistersGraphColoring",
		PerFunction: func(sess *Session, arch *Architecture, fn *Function) error {
			return assignRegistersGraphColoring(sess, arch, fn)
		},
	}
}

func enumerateRegistersPass() Pass {
	return Pass{
		Name: "enumerateRegisters",
		PerFunction: func(sess *Session, arch *Architecture, fn *Function) error {
			enumerateRegisters(fn)
			return nil
		},
	}
}
