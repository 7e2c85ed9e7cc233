package rsi

import (
	"testing"

	"github.com/robotino04/rsharpc/parse"
	"github.com/robotino04/rsharpc/sema"
)

// lowerProgram runs the whole frontend plus the full pass pipeline for
// one target, the way the driver does.
func lowerProgram(t *testing.T, source string, target Target) (*TranslationUnit, *Architecture) {
	t.Helper()
	prog, err := parse.Source("test.rs", source, "")
	assert(t, err == nil, "failed to parse: %s", err)
	err = sema.Validate(prog)
	assert(t, err == nil, "failed to validate: %s", err)

	sess := NewSession()
	var arch *Architecture
	if target == X86_64 {
		arch = NewX86_64(sess)
	} else {
		arch = NewAArch64(sess)
	}
	tu, err := Generate(sess, prog)
	assert(t, err == nil, "failed to generate RSI: %s", err)
	err = RunPipeline(sess, arch, tu)
	assert(t, err == nil, "pass pipeline failed: %s", err)
	return tu, arch
}

const arithmeticProgram = `
g: i64 = 1;
main() : i64 {
    a: i64 = 9;
    b: i64 = 2;
    g = g + a / b + a % b;
    return g;
}
`

func TestTwoOperandInvariant(t *testing.T) {
	tu, _ := lowerProgram(t, arithmeticProgram, X86_64)
	for _, fn := range tu.Functions {
		for i, instr := range fn.Instructions {
			if !instr.Type.UsesOp2() || IsEmpty(instr.Op2) {
				continue
			}
			result, rok := AsReference(instr.Result)
			op1, ook := AsReference(instr.Op1)
			if !rok || !ook {
				continue
			}
			if instr.Type == DIV || instr.Type == MOD {
				continue // pinned by division isolation instead
			}
			assert(t, result.Equal(op1),
				"%s instruction %d: result %q != op1 %q after two-operand legalization",
				fn.Name, i, result.Name, op1.Name)
		}
	}
}

func TestDivisionIsolation(t *testing.T) {
	tu, arch := lowerProgram(t, arithmeticProgram, X86_64)
	divs, mods := 0, 0
	for _, fn := range tu.Functions {
		for i, instr := range fn.Instructions {
			if instr.Type != DIV && instr.Type != MOD {
				continue
			}
			op1, ok := AsReference(instr.Op1)
			assert(t, ok && op1.Storage.Kind == StorageRegister, "%s instruction %d: dividend not pinned", fn.Name, i)
			assert(t, op1.Storage.Register.Equal(arch.DivQuotient),
				"%s instruction %d: dividend in %s, want %s", fn.Name, i, op1.Storage.Register.Name, arch.DivQuotient.Name)

			result, ok := AsReference(instr.Result)
			assert(t, ok && result.Storage.Kind == StorageRegister, "%s instruction %d: result not pinned", fn.Name, i)
			if instr.Type == DIV {
				divs++
				assert(t, result.Storage.Register.Equal(arch.DivQuotient),
					"%s instruction %d: quotient lands in %s", fn.Name, i, result.Storage.Register.Name)
			} else {
				mods++
				assert(t, result.Storage.Register.Equal(arch.DivRemainder),
					"%s instruction %d: remainder lands in %s", fn.Name, i, result.Storage.Register.Name)
			}
		}
	}
	assert(t, divs == 1 && mods == 1, "expected one DIV and one MOD, got %d and %d", divs, mods)
}

func TestModReplacedOnAArch64(t *testing.T) {
	tu, _ := lowerProgram(t, arithmeticProgram, AArch64)
	for _, fn := range tu.Functions {
		for _, instr := range fn.Instructions {
			assert(t, instr.Type != MOD, "MOD survived the AArch64 pipeline in %s", fn.Name)
		}
	}
}

func TestGlobalLowering(t *testing.T) {
	tu, _ := lowerProgram(t, arithmeticProgram, X86_64)
	loads, stores := 0, 0
	for _, fn := range tu.Functions {
		for i, instr := range fn.Instructions {
			if _, ok := instr.Result.(GlobalReference); ok {
				t.Fatalf("%s instruction %d: global still written directly", fn.Name, i)
			}
			if _, ok := instr.Op1.(GlobalReference); ok {
				switch instr.Type {
				case LOAD_MEMORY:
					loads++
				case STORE_MEMORY:
					stores++
				case ADDRESS_OF:
				default:
					t.Fatalf("%s instruction %d: global read by %s, not a memory access", fn.Name, i, instr.Type)
				}
			}
			if _, ok := instr.Op2.(GlobalReference); ok {
				t.Fatalf("%s instruction %d: global left in op2", fn.Name, i)
			}
		}
	}
	assert(t, loads >= 1, "expected at least one global load, got %d", loads)
	assert(t, stores >= 1, "expected at least one global store, got %d", stores)
}

func TestEverythingAllocatedAfterPipeline(t *testing.T) {
	for _, target := range []Target{X86_64, AArch64} {
		tu, _ := lowerProgram(t, arithmeticProgram, target)
		for _, fn := range tu.Functions {
			for i, instr := range fn.Instructions {
				for _, op := range []Operand{instr.Result, instr.Op1, instr.Op2} {
					if r, ok := AsReference(op); ok {
						assert(t, r.Storage.Kind != StorageUnbound,
							"%s/%s instruction %d: %q unbound after allocation", target, fn.Name, i, r.Name)
					}
				}
			}
		}
	}
}

func TestAddressOfResolved(t *testing.T) {
	src := `
main() : i32 {
    x: i32 = 41;
    p: *i32 = $x;
    *p = *p + 1;
    return x;
}
`
	for _, target := range []Target{X86_64, AArch64} {
		tu, _ := lowerProgram(t, src, target)
		fn := tu.Functions[0]
		sawSPAdd := false
		for i, instr := range fn.Instructions {
			if instr.Type == ADDRESS_OF {
				_, isGlobal := instr.Op1.(GlobalReference)
				assert(t, isGlobal, "%s instruction %d: stack ADDRESS_OF survived resolution", target, i)
			}
			if instr.Type == ADD {
				if _, ok := instr.Op1.(DynamicConstant); ok {
					sawSPAdd = true
				}
			}
		}
		assert(t, sawSPAdd, "%s: address-of did not lower to stack-pointer arithmetic", target)
	}
}

func TestStoreParameterPrecedesCall(t *testing.T) {
	src := `
add(a: i64, b: i64) : i64 { return a + b; }
main() : i64 { return add(1, add(2, 3)); }
`
	tu, _ := lowerProgram(t, src, X86_64)
	var mainFn *Function
	for _, fn := range tu.Functions {
		if fn.Name == "main" {
			mainFn = fn
		}
	}
	assert(t, mainFn != nil, "main not generated")

	depth := 0
	calls := 0
	for i, instr := range mainFn.Instructions {
		switch instr.Type {
		case STORE_PARAMETER:
			depth++
		case CALL:
			argc, ok := instr.Op2.(StaticConstant)
			assert(t, ok, "instruction %d: CALL without static argc", i)
			assert(t, depth >= int(argc.Value), "instruction %d: CALL pops %d args but only %d stored", i, argc.Value, depth)
			depth -= int(argc.Value)
			calls++
		}
	}
	assert(t, calls == 2, "expected 2 calls, got %d", calls)
	assert(t, depth == 0, "argument stack not balanced: %d left", depth)
}

func TestFunctionMetadataPopulated(t *testing.T) {
	tu, _ := lowerProgram(t, arithmeticProgram, X86_64)
	fn := tu.Functions[0]
	assert(t, len(fn.Metadata.AllReferences) > 0, "AllReferences empty")
	assert(t, len(fn.Metadata.AllRegisters) > 0, "AllRegisters empty")
}

func TestCallResultsIsolated(t *testing.T) {
	src := `
f() : i64 { return 7; }
main() : i64 { return f(); }
`
	tu, arch := lowerProgram(t, src, X86_64)
	for _, fn := range tu.Functions {
		for i, instr := range fn.Instructions {
			if instr.Type != CALL {
				continue
			}
			result, ok := AsReference(instr.Result)
			assert(t, ok, "%s instruction %d: CALL without reference result", fn.Name, i)
			assert(t, result.Storage.Kind == StorageRegister && result.Storage.Register.Equal(arch.ReturnValue),
				"%s instruction %d: CALL result not pinned to the return register", fn.Name, i)
		}
	}
}

func TestTooManyParametersRejected(t *testing.T) {
	src := `
f(a: i64, b: i64, c: i64, d: i64, e: i64, f: i64, g: i64) : i64 { return a; }
main() : i64 { return 0; }
`
	prog, err := parse.Source("test.rs", src, "")
	assert(t, err == nil, "failed to parse: %s", err)
	assert(t, sema.Validate(prog) == nil, "failed to validate")

	sess := NewSession()
	arch := NewX86_64(sess)
	tu, err := Generate(sess, prog)
	assert(t, err == nil, "failed to generate: %s", err)
	err = RunPipeline(sess, arch, tu)
	assert(t, err != nil, "seven-parameter function must be rejected on x86-64")
}
