package rsi

import "fmt"

// PerInstruction rewrites a single instruction into before/after
// instruction sequences, with mutable access to the instruction itself.
// Returning an error aborts the whole compile; passes never recover.
type PerInstruction func(sess *Session, arch *Architecture, instr *Instruction, before, after *[]Instruction) error

// PerFunction rewrites a function's body as a whole.
type PerFunction func(sess *Session, arch *Architecture, fn *Function) error

// Pass is a declaratively described legalization/analysis step: a target
// filter, positive/negative opcode filters, a prefilter predicate, and
// exactly one of a per-instruction or a per-function transformer.
type Pass struct {
	Name      string
	Targets   map[Target]bool
	Positive  map[Opcode]bool
	Negative  map[Opcode]bool
	Prefilter func(Instruction) bool

	PerInstruction PerInstruction
	PerFunction    PerFunction
}

func targets(ts ...Target) map[Target]bool {
	m := make(map[Target]bool, len(ts))
	for _, t := range ts {
		m[t] = true
	}
	return m
}

func opcodeSet(ops ...Opcode) map[Opcode]bool {
	m := make(map[Opcode]bool, len(ops))
	for _, op := range ops {
		m[op] = true
	}
	return m
}

func (p Pass) appliesTo(arch Target) bool {
	return len(p.Targets) == 0 || p.Targets[arch]
}

func (p Pass) accepts(instr Instruction) bool {
	if len(p.Positive) > 0 && !p.Positive[instr.Type] {
		return false
	}
	if p.Negative[instr.Type] {
		return false
	}
	if p.Prefilter != nil && !p.Prefilter(instr) {
		return false
	}
	return true
}

// Run applies p to one function: per-instruction passes walk by index,
// splicing before/after around the (possibly rewritten) instruction
// without revisiting the spliced-in instructions in this same pass;
// per-function passes run once over the whole body.
func (p Pass) Run(sess *Session, arch *Architecture, fn *Function) error {
	if !p.appliesTo(arch.Target) {
		return nil
	}
	if p.PerFunction != nil {
		return p.PerFunction(sess, arch, fn)
	}

	i := 0
	for i < len(fn.Instructions) {
		if !p.accepts(fn.Instructions[i]) {
			i++
			continue
		}

		var before, after []Instruction
		instr := fn.Instructions[i]
		if err := p.PerInstruction(sess, arch, &instr, &before, &after); err != nil {
			return fmt.Errorf("pass %s on function %s: %w", p.Name, fn.Name, err)
		}

		spliced := make([]Instruction, 0, len(fn.Instructions)+len(before)+len(after))
		spliced = append(spliced, fn.Instructions[:i]...)
		spliced = append(spliced, before...)
		spliced = append(spliced, instr)
		spliced = append(spliced, after...)
		spliced = append(spliced, fn.Instructions[i+1:]...)
		fn.Instructions = spliced

		i += len(before) + len(after)
		i++
	}
	return nil
}

// RunPipeline runs the fixed, ordered legalization/analysis pipeline
// over every function of a translation unit for one target.
func RunPipeline(sess *Session, arch *Architecture, tu *TranslationUnit) error {
	for _, pass := range Pipeline() {
		for _, fn := range tu.Functions {
			if err := pass.Run(sess, arch, fn); err != nil {
				return err
			}
		}
	}
	return nil
}
