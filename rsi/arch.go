package rsi

import "strconv"

// Target selects the output architecture.
type Target int

const (
	X86_64 Target = iota
	AArch64
)

func (t Target) String() string {
	if t == X86_64 {
		return "x86_64"
	}
	return "aarch64"
}

// Architecture describes one target's register file: the assignable
// general-purpose registers (order only matters for color->register
// mapping), the stack pointer (pre-colored, non-assignable), the
// positional parameter registers, and the return-value register. It also
// carries the two registers x86-64 division isolation pins to (quotient
// in RAX, remainder in RDX) — AArch64 has no such requirement.
type Architecture struct {
	Target             Target
	GeneralPurpose     []HWRegister
	StackPointer       HWRegister
	ParameterRegisters []HWRegister
	ReturnValue        HWRegister

	// x86-64 only; zero-value HWRegister{} on AArch64.
	DivQuotient  HWRegister
	DivRemainder HWRegister

	// Scratch and Scratch2 are reserved for the assembly emitter's own
	// use (shuttling a spilled value through a register when an
	// instruction's operands can't both be memory, or when an address
	// held in a spill slot has to be loaded before it can serve as a
	// memory base) and are never handed to the allocator.
	Scratch  HWRegister
	Scratch2 HWRegister

	// CalleeSaved is the subset of GeneralPurpose the ABI requires a
	// function to preserve; the emitter saves the ones a function
	// actually uses in its prologue. Everything else in GeneralPurpose
	// is caller-saved and gets stashed around CALL sites while live.
	CalleeSaved []HWRegister
}

// IsCalleeSaved reports whether reg is in the callee-saved set.
func (a *Architecture) IsCalleeSaved(reg HWRegister) bool {
	for _, r := range a.CalleeSaved {
		if r.Equal(reg) {
			return true
		}
	}
	return false
}

// CallerSaved returns the general-purpose registers the callee may
// clobber, in palette order.
func (a *Architecture) CallerSaved() []HWRegister {
	var out []HWRegister
	for _, r := range a.GeneralPurpose {
		if !a.IsCalleeSaved(r) {
			out = append(out, r)
		}
	}
	return out
}

// NewX86_64 builds the System V AMD64 register descriptor for one
// compilation session.
func NewX86_64(sess *Session) *Architecture {
	rax := sess.NewHWRegister("rax")
	rbx := sess.NewHWRegister("rbx")
	rcx := sess.NewHWRegister("rcx")
	rdx := sess.NewHWRegister("rdx")
	rsi := sess.NewHWRegister("rsi")
	rdi := sess.NewHWRegister("rdi")
	rsp := sess.NewHWRegister("rsp")
	r8 := sess.NewHWRegister("r8")
	r9 := sess.NewHWRegister("r9")
	r10 := sess.NewHWRegister("r10")
	r11 := sess.NewHWRegister("r11")
	r12 := sess.NewHWRegister("r12")
	r13 := sess.NewHWRegister("r13")
	r14 := sess.NewHWRegister("r14")
	r15 := sess.NewHWRegister("r15")

	return &Architecture{
		Target: X86_64,
		// rax/rdx excluded from the general palette: both are pinned by
		// division isolation and rax doubles as the return register, so
		// keeping them out of the colorable set avoids spurious
		// save/restore churn the legalization passes already handle
		// explicitly for DIV/MOD. r10/r11 are excluded too and reserved
		// as the emitter's scratch registers.
		GeneralPurpose:     []HWRegister{rbx, rcx, rsi, rdi, r8, r9, r12, r13, r14, r15},
		StackPointer:       rsp,
		ParameterRegisters: []HWRegister{rdi, rsi, rdx, rcx, r8, r9},
		ReturnValue:        rax,
		DivQuotient:        rax,
		DivRemainder:       rdx,
		Scratch:            r10,
		Scratch2:           r11,
		CalleeSaved:        []HWRegister{rbx, r12, r13, r14, r15},
	}
}

// NewAArch64 builds the AAPCS64 register descriptor. x18 (the platform
// register) and x19/x20 are held out of the general-purpose palette.
func NewAArch64(sess *Session) *Architecture {
	regs := make([]HWRegister, 18)
	for i := 0; i < 18; i++ {
		regs[i] = sess.NewHWRegister(aarch64Name(i))
	}
	var extra []HWRegister
	for i := 21; i <= 28; i++ {
		extra = append(extra, sess.NewHWRegister(aarch64Name(i)))
	}

	// x16/x17 (IP0/IP1, the AAPCS64 intra-procedure-call scratch
	// registers) are held back from the general palette for the
	// emitter's own use; x9-x15 plus x21-x28 are colorable.
	general := append(append([]HWRegister{}, regs[9:16]...), extra...)

	return &Architecture{
		Target:             AArch64,
		GeneralPurpose:     general,
		StackPointer:       sess.NewHWRegister("sp"),
		ParameterRegisters: regs[0:8],
		ReturnValue:        regs[0],  // x0
		Scratch:            regs[16], // x16
		Scratch2:           regs[17], // x17
		CalleeSaved:        extra,    // x21-x28
	}
}

func aarch64Name(i int) string {
	return "x" + strconv.Itoa(i)
}
