package rsi

import "github.com/robotino04/rsharpc/ast"

// FunctionMetadata is the per-function bookkeeping populated by the
// enumerateRegisters pass once allocation has finished.
type FunctionMetadata struct {
	AllReferences  []Reference
	AllRegisters   []HWRegister
	MaxStackUsage  int64
}

// Function is an RSI function body: its descriptor plus the linear
// instruction list and post-allocation metadata.
type Function struct {
	Name         string
	Desc         *ast.Function
	Instructions []Instruction
	Metadata     FunctionMetadata

	// nextStackOffset tracks the next free 8-byte-aligned offset for
	// address-taken locals assigned a stack slot at IR-gen time; the
	// allocator continues counting from here for spills.
	nextStackOffset int64
}

func NewFunction(desc *ast.Function) *Function {
	return &Function{Name: desc.Label, Desc: desc}
}

func (f *Function) Append(instrs ...Instruction) {
	f.Instructions = append(f.Instructions, instrs...)
}

func (f *Function) allocStackSlot() StackSlot {
	slot := StackSlot{Offset: f.nextStackOffset}
	f.nextStackOffset += 8
	return slot
}

// GlobalInit pairs an initialized global's reference with its constant.
type GlobalInit struct {
	Global   GlobalReference
	Constant StaticConstant
}

// TranslationUnit is the complete output of IR generation: every defined
// function, every imported/extern label, and every global variable.
type TranslationUnit struct {
	Functions            []*Function
	ExternLabels         []Label
	InitializedGlobals   []GlobalInit
	UninitializedGlobals []GlobalReference

	// StringConstants holds the anonymous byte-array globals introduced
	// by string literals encountered during generation.
	StringConstants []StringConstant
}
