package sema

import (
	"fmt"
	"strings"
	"testing"

	"github.com/robotino04/rsharpc/ast"
	"github.com/robotino04/rsharpc/parse"
)

func assert(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(fmt.Sprintf("%v %s", cond, format), args...)
	}
}

func validateAndCheck(t *testing.T, source string) *ast.Program {
	t.Helper()
	prog, err := parse.Source("test.rs", source, "")
	assert(t, err == nil, "failed to parse: %s", err)
	err = Validate(prog)
	assert(t, err == nil, "failed to validate: %s", err)
	return prog
}

func validateExpectingError(t *testing.T, source, fragment string) {
	t.Helper()
	prog, err := parse.Source("test.rs", source, "")
	assert(t, err == nil, "failed to parse: %s", err)
	err = Validate(prog)
	assert(t, err != nil, "expected a semantic error containing %q", fragment)
	assert(t, strings.Contains(err.Error(), fragment), "error %q does not mention %q", err.Error(), fragment)
}

func TestResolvesVariablesAndCalls(t *testing.T) {
	prog := validateAndCheck(t, `
inc(x: i32) : i32 { return x + 1; }
main() : i32 { a: i32 = 1; return inc(a); }
`)
	incDesc := prog.Functions[0].Desc

	ret := prog.Functions[1].Body.Statements[1].(*ast.Return)
	call := ret.Value.(*ast.FunctionCall)
	assert(t, call.Callee == incDesc, "call site not bound to callee descriptor")

	access, ok := call.Args[0].(*ast.VariableAccess)
	assert(t, ok, "argument is %T", call.Args[0])
	decl := prog.Functions[1].Body.Statements[0].(*ast.VariableDeclaration)
	assert(t, access.Desc == decl.Desc, "variable access not bound to its declaration")
}

func TestLabels(t *testing.T) {
	prog := validateAndCheck(t, `
[extern] puts(s: *i8) : i32;
helper() : i32 { return 1; }
main() : i32 { return helper(); }
`)
	assert(t, prog.Functions[0].Desc.Label == "puts", "extern label mangled: %q", prog.Functions[0].Desc.Label)
	assert(t, prog.Functions[2].Desc.Label == "main", "main label mangled: %q", prog.Functions[2].Desc.Label)
	helper := prog.Functions[1].Desc.Label
	assert(t, helper != "helper" && strings.HasPrefix(helper, "helper"), "helper label not suffixed: %q", helper)
}

func TestImplicitConversions(t *testing.T) {
	prog := validateAndCheck(t, `
main() : i32 { a: i32 = 1; b: i64 = 2; return a; }
`)
	declA := prog.Functions[0].Body.Statements[0].(*ast.VariableDeclaration)
	_, ok := declA.Initializer.(*ast.TypeConversion)
	assert(t, ok, "i64 literal assigned to i32 without conversion, got %T", declA.Initializer)

	declB := prog.Functions[0].Body.Statements[1].(*ast.VariableDeclaration)
	_, ok = declB.Initializer.(*ast.TypeConversion)
	assert(t, !ok, "i64 literal assigned to i64 got a spurious conversion")

	ret := prog.Functions[0].Body.Statements[2].(*ast.Return)
	assert(t, ret.Value.Type().Primitive == ast.I32, "return value type is %s", ret.Value.Type())
}

func TestBinaryPromotion(t *testing.T) {
	prog := validateAndCheck(t, `
main() : i64 { a: i32 = 1; b: i64 = 2; return a + b; }
`)
	ret := prog.Functions[0].Body.Statements[2].(*ast.Return)
	bin := ret.Value.(*ast.Binary)
	_, ok := bin.Left.(*ast.TypeConversion)
	assert(t, ok, "narrower operand not promoted, got %T", bin.Left)
	assert(t, bin.Type().Primitive == ast.I64, "binary type is %s", bin.Type())
}

func TestAddressTaken(t *testing.T) {
	prog := validateAndCheck(t, `
main() : i32 { x: i32 = 41; p: *i32 = $x; *p = *p + 1; return x; }
`)
	decl := prog.Functions[0].Body.Statements[0].(*ast.VariableDeclaration)
	assert(t, decl.Desc.AddressTaken, "address-taken local not marked")
	declP := prog.Functions[0].Body.Statements[1].(*ast.VariableDeclaration)
	assert(t, declP.Desc.DeclType.IsPointer(), "pointer declaration type is %s", declP.Desc.DeclType)
	assert(t, !declP.Desc.AddressTaken, "pointer variable wrongly marked address-taken")
}

func TestGlobalInitializer(t *testing.T) {
	prog := validateAndCheck(t, `
counter: i32 = 7;
main() : i32 { return counter; }
`)
	global := prog.Globals[0].Desc
	assert(t, global.Initializer != nil && global.Initializer.Value == 7, "global initializer not recorded")
}

func TestSemanticErrors(t *testing.T) {
	validateExpectingError(t, "main() : i32 { return y; }", "undefined variable")
	validateExpectingError(t, "main() : i32 { return f(); }", "undefined function")
	validateExpectingError(t, "main() : i32 { break; return 0; }", "break outside")
	validateExpectingError(t, "f(a: i32) : i32 { return a; }\nmain() : i32 { return f(); }", "takes 1 arguments")
	validateExpectingError(t, "main() : i32 { a: i32 = 0; a: i32 = 1; return a; }", "already defined")
	validateExpectingError(t, "main() : i32 { a: i32 = 0; return *a; }", "cannot dereference")
	validateExpectingError(t, "g: i32 = 0;\ng: i32 = 1;\nmain() : i32 { return g; }", "already defined")
	validateExpectingError(t, "f() : i32 { return 0; }\nf() : i32 { return 1; }\nmain() : i32 { return 0; }", "already defined")
	validateExpectingError(t, "main() : i32 { p: *i32 = 5; return 0; }", "cannot convert")
}

func TestExternRedeclarationAllowed(t *testing.T) {
	validateAndCheck(t, `
[extern] puts(s: *i8) : i32;
[extern] puts(s: *i8) : i32;
main() : i32 { return 0; }
`)
}

func TestScopeShadowing(t *testing.T) {
	prog := validateAndCheck(t, `
main() : i32 {
    a: i32 = 1;
    { a: i32 = 2; a = 3; }
    return a;
}
`)
	outer := prog.Functions[0].Body.Statements[0].(*ast.VariableDeclaration)
	inner := prog.Functions[0].Body.Statements[1].(*ast.Block)
	innerDecl := inner.Statements[0].(*ast.VariableDeclaration)
	assign := inner.Statements[1].(*ast.ExpressionStatement).Expression.(*ast.Assignment)
	access := assign.LValue.(*ast.VariableAccess)
	assert(t, access.Desc == innerDecl.Desc, "inner assignment bound to outer declaration")
	ret := prog.Functions[0].Body.Statements[2].(*ast.Return)
	retAccess := ret.Value.(*ast.VariableAccess)
	assert(t, retAccess.Desc == outer.Desc, "outer access bound to inner declaration")
}
