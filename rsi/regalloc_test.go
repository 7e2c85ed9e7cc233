package rsi

import (
	"testing"
)

func allocate(t *testing.T, arch *Architecture, sess *Session, fn *Function) {
	t.Helper()
	analyzeLiveVariables(fn, arch.Target)
	err := assignRegistersGraphColoring(sess, arch, fn)
	assert(t, err == nil, "register allocation failed: %s", err)
	enumerateRegisters(fn)
}

func TestAllocationBindsEveryReference(t *testing.T) {
	sess := NewSession()
	arch := NewX86_64(sess)
	a := sess.NewReference("a")
	b := sess.NewReference("b")
	c := sess.NewReference("c")

	fn := testFunction(
		NewInstruction(MOVE, a, StaticConstant{Value: 1}, nil),
		NewInstruction(MOVE, b, StaticConstant{Value: 2}, nil),
		NewInstruction(ADD, c, a, b),
		NewInstruction(RETURN, nil, c, nil),
	)
	allocate(t, arch, sess, fn)

	for i, instr := range fn.Instructions {
		for _, op := range []Operand{instr.Result, instr.Op1, instr.Op2} {
			if r, ok := AsReference(op); ok {
				assert(t, r.Storage.Kind != StorageUnbound, "instruction %d: %q left unbound", i, r.Name)
			}
		}
	}
}

func TestInterferingReferencesGetDistinctRegisters(t *testing.T) {
	sess := NewSession()
	arch := NewX86_64(sess)
	a := sess.NewReference("a")
	b := sess.NewReference("b")
	c := sess.NewReference("c")

	fn := testFunction(
		NewInstruction(MOVE, a, StaticConstant{Value: 1}, nil),
		NewInstruction(MOVE, b, StaticConstant{Value: 2}, nil),
		NewInstruction(ADD, c, a, b),
		NewInstruction(RETURN, nil, c, nil),
	)
	allocate(t, arch, sess, fn)

	add := fn.Instructions[2]
	ra, _ := AsReference(add.Op1)
	rb, _ := AsReference(add.Op2)
	assert(t, ra.Storage.Kind == StorageRegister && rb.Storage.Kind == StorageRegister,
		"simultaneously live references should fit in registers here")
	assert(t, !ra.Storage.Register.Equal(rb.Storage.Register),
		"interfering references %q and %q share register %s", ra.Name, rb.Name, ra.Storage.Register.Name)
}

func TestPreColoredReferenceKeepsItsRegister(t *testing.T) {
	sess := NewSession()
	arch := NewX86_64(sess)
	pinned := sess.NewReference("pinned")
	pinned.Storage = StorageLocation{Kind: StorageRegister, Register: arch.GeneralPurpose[3]}
	x := sess.NewReference("x")
	y := sess.NewReference("y")

	fn := testFunction(
		NewInstruction(MOVE, pinned, StaticConstant{Value: 1}, nil),
		NewInstruction(MOVE, x, StaticConstant{Value: 2}, nil),
		NewInstruction(ADD, y, pinned, x),
		NewInstruction(RETURN, nil, y, nil),
	)
	allocate(t, arch, sess, fn)

	add := fn.Instructions[2]
	rp, _ := AsReference(add.Op1)
	assert(t, rp.Storage.Kind == StorageRegister, "pinned reference lost its register binding")
	assert(t, rp.Storage.Register.Equal(arch.GeneralPurpose[3]),
		"pinned reference moved from %s to %s", arch.GeneralPurpose[3].Name, rp.Storage.Register.Name)

	rx, _ := AsReference(add.Op2)
	assert(t, !rx.Storage.Register.Equal(arch.GeneralPurpose[3]),
		"interfering reference %q stole the pinned register", rx.Name)
}

func TestStackBoundReferenceKeepsItsSlot(t *testing.T) {
	sess := NewSession()
	arch := NewX86_64(sess)
	fn := testFunction()

	slot := fn.allocStackSlot()
	onStack := sess.NewReference("onstack")
	onStack.Storage = StorageLocation{Kind: StorageStack, Stack: slot}
	r := sess.NewReference("r")

	fn.Append(
		NewInstruction(MOVE, onStack, StaticConstant{Value: 1}, nil),
		NewInstruction(MOVE, r, onStack, nil),
		NewInstruction(RETURN, nil, r, nil),
	)
	allocate(t, arch, sess, fn)

	mv := fn.Instructions[1]
	rs, _ := AsReference(mv.Op1)
	assert(t, rs.Storage.Kind == StorageStack, "stack-bound reference lost its slot")
	assert(t, rs.Storage.Stack.Offset == slot.Offset, "slot moved from %d to %d", slot.Offset, rs.Storage.Stack.Offset)
}

// Register pressure beyond the assignable palette must spill, and the
// interference invariant must survive: no two simultaneously live
// references share a storage location.
func TestSpillingUnderPressure(t *testing.T) {
	sess := NewSession()
	arch := NewX86_64(sess)
	n := len(arch.GeneralPurpose) + 4

	refs := make([]Reference, n)
	fn := testFunction()
	for i := range refs {
		refs[i] = sess.NewReference("v")
		fn.Append(NewInstruction(MOVE, refs[i], StaticConstant{Value: uint64(i)}, nil))
	}
	// One chain of adds that consumes every value, keeping all of them
	// live at the first add.
	acc := refs[0]
	for i := 1; i < n; i++ {
		next := sess.NewReference("acc")
		fn.Append(NewInstruction(ADD, next, acc, refs[i]))
		acc = next
	}
	fn.Append(NewInstruction(RETURN, nil, acc, nil))
	allocate(t, arch, sess, fn)

	spilled := make(map[int64]bool)
	for _, r := range fn.Metadata.AllReferences {
		if r.Storage.Kind == StorageStack {
			spilled[r.Storage.Stack.Offset] = true
		}
	}
	assert(t, len(spilled) >= 4, "expected at least 4 spill slots for %d interfering values, got %d", n, len(spilled))
	assert(t, fn.Metadata.MaxStackUsage >= int64(len(spilled))*8, "MaxStackUsage %d below spill area", fn.Metadata.MaxStackUsage)

	// Storage distinctness over every live set.
	for i, instr := range fn.Instructions {
		live := instr.Metadata.SortedLiveBefore()
		for x := 0; x < len(live); x++ {
			for y := x + 1; y < len(live); y++ {
				sx, sy := live[x].Storage, live[y].Storage
				if sx.Kind == StorageRegister && sy.Kind == StorageRegister {
					assert(t, !sx.Register.Equal(sy.Register),
						"instruction %d: %q and %q both live in %s", i, live[x].Name, live[y].Name, sx.Register.Name)
				}
				if sx.Kind == StorageStack && sy.Kind == StorageStack {
					assert(t, sx.Stack.Offset != sy.Stack.Offset,
						"instruction %d: %q and %q share stack slot %d", i, live[x].Name, live[y].Name, sx.Stack.Offset)
				}
			}
		}
	}
}
