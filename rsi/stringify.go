package rsi

import (
	"fmt"
	"strings"
)

// Stringify renders one instruction in the short mnemonic form used by
// debug dumps and the interactive stepper: "result = op1 MNEM op2".
func (i Instruction) Stringify() string {
	var b strings.Builder
	if i.Type.UsesResult() {
		fmt.Fprintf(&b, "%s = ", i.Result)
	}
	if i.Type.UsesOp1() {
		fmt.Fprintf(&b, "%s ", i.Op1)
	}
	b.WriteString(i.Type.String())
	if i.Type.UsesOp2() {
		fmt.Fprintf(&b, " %s", i.Op2)
	}
	return b.String()
}

// StringifyFunction renders every instruction of fn, one per line, with
// the live-before set annotated when present.
func StringifyFunction(fn *Function) string {
	var b strings.Builder
	fmt.Fprintf(&b, "function %s:\n", fn.Name)
	for idx, instr := range fn.Instructions {
		live := instr.Metadata.SortedLiveBefore()
		liveNames := make([]string, len(live))
		for i, r := range live {
			liveNames[i] = r.Name
		}
		fmt.Fprintf(&b, "%4d: %-40s live={%s}\n", idx, instr.Stringify(), strings.Join(liveNames, ", "))
	}
	return b.String()
}

// StringifyTranslationUnit renders every function in tu.
func StringifyTranslationUnit(tu *TranslationUnit) string {
	var b strings.Builder
	for _, g := range tu.InitializedGlobals {
		fmt.Fprintf(&b, "global %s = %d\n", g.Global.Name, g.Constant.Value)
	}
	for _, g := range tu.UninitializedGlobals {
		fmt.Fprintf(&b, "global %s (uninitialized)\n", g.Name)
	}
	for _, l := range tu.ExternLabels {
		fmt.Fprintf(&b, "extern %s\n", l.Name)
	}
	for _, fn := range tu.Functions {
		b.WriteString(StringifyFunction(fn))
	}
	return b.String()
}
