// Package sema checks a parsed program and annotates it into the typed
// AST the RSI generator consumes: every variable access bound to its
// declaration's descriptor, every call bound to its callee, every
// expression carrying a resolved type, and implicit conversions made
// explicit as TypeConversion nodes.
package sema

import (
	"fmt"

	"github.com/robotino04/rsharpc/ast"
	"github.com/robotino04/rsharpc/errs"
	"github.com/robotino04/rsharpc/token"
)

// Validate type-checks and resolves prog in place. The returned error
// is an *errs.List carrying every diagnostic found.
func Validate(prog *ast.Program) error {
	v := &validator{
		errors:    &errs.List{},
		functions: make(map[string]*ast.Function),
		globals:   make(map[string]*ast.Variable),
	}
	v.collectFunctions(prog)
	v.collectGlobals(prog)

	for _, fd := range prog.Functions {
		if fd.Desc.IsExtern {
			continue
		}
		v.checkFunction(fd)
	}
	return v.errors.Err()
}

type validator struct {
	errors    *errs.List
	functions map[string]*ast.Function
	globals   map[string]*ast.Variable

	current      *ast.Function
	scopes       []map[string]*ast.Variable
	loopDepth    int
	labelCounter int
}

func (v *validator) errorAt(pos token.Pos, format string, args ...any) {
	v.errors.Add(pos, "", format, args...)
}

// label assigns the RSI label a function's code lives under. main and
// extern functions keep their plain name so the C runtime and linker
// find them; everything else is suffixed to stay clear of any native
// symbol.
func (v *validator) label(desc *ast.Function) string {
	if desc.IsExtern || desc.Name == "main" {
		return desc.Name
	}
	v.labelCounter++
	return fmt.Sprintf("%s_%d", desc.Name, v.labelCounter)
}

func (v *validator) collectFunctions(prog *ast.Program) {
	for _, fd := range prog.Functions {
		existing, ok := v.functions[fd.Desc.Name]
		if ok {
			// Imports may legitimately introduce the same extern
			// declaration twice; everything else is a redefinition.
			if existing.IsExtern && fd.Desc.IsExtern && sameSignature(existing, fd.Desc) {
				fd.Desc = existing
				continue
			}
			v.errorAt(fd.Pos(), "function %q is already defined", fd.Desc.Name)
			continue
		}
		fd.Desc.Label = v.label(fd.Desc)
		v.functions[fd.Desc.Name] = fd.Desc
	}

	// Call sites were parsed with placeholder descriptors; rebinding
	// happens during expression checking via this table.
}

func sameSignature(a, b *ast.Function) bool {
	if !typesEqual(a.ReturnType, b.ReturnType) || len(a.Params) != len(b.Params) {
		return false
	}
	for i := range a.Params {
		if !typesEqual(a.Params[i].DeclType, b.Params[i].DeclType) {
			return false
		}
	}
	return true
}

func (v *validator) collectGlobals(prog *ast.Program) {
	for _, decl := range prog.Globals {
		if _, ok := v.globals[decl.Desc.Name]; ok {
			v.errorAt(decl.Pos(), "global variable %q is already defined", decl.Desc.Name)
			continue
		}
		if _, ok := v.functions[decl.Desc.Name]; ok {
			v.errorAt(decl.Pos(), "%q is already defined as a function", decl.Desc.Name)
			continue
		}
		v.globals[decl.Desc.Name] = decl.Desc

		if decl.Initializer == nil {
			continue
		}
		init := v.checkExpr(decl.Initializer)
		decl.Initializer = init
		if lit, ok := init.(*ast.Integer); ok {
			decl.Desc.Initializer = lit
		} else {
			v.errorAt(decl.Pos(), "global %q must be initialized with an integer constant", decl.Desc.Name)
		}
	}
}

func (v *validator) checkFunction(fd *ast.FunctionDefinition) {
	v.current = fd.Desc
	v.scopes = []map[string]*ast.Variable{{}}
	v.loopDepth = 0

	for _, param := range fd.Desc.Params {
		if _, taken := v.scopes[0][param.Name]; taken {
			v.errorAt(fd.Pos(), "duplicate parameter %q", param.Name)
			continue
		}
		v.scopes[0][param.Name] = param
	}

	v.checkStmt(fd.Body)
	v.current = nil
}

func (v *validator) pushScope() { v.scopes = append(v.scopes, map[string]*ast.Variable{}) }
func (v *validator) popScope()  { v.scopes = v.scopes[:len(v.scopes)-1] }

func (v *validator) lookup(name string) *ast.Variable {
	for i := len(v.scopes) - 1; i >= 0; i-- {
		if decl, ok := v.scopes[i][name]; ok {
			return decl
		}
	}
	return v.globals[name]
}

func (v *validator) checkStmt(s ast.Stmt) {
	switch st := s.(type) {
	case *ast.Block:
		v.pushScope()
		for _, inner := range st.Statements {
			v.checkStmt(inner)
		}
		v.popScope()

	case *ast.Return:
		if st.Value == nil {
			return
		}
		st.Value = v.convert(v.checkExpr(st.Value), v.current.ReturnType, st.Pos())

	case *ast.ConditionalStatement:
		st.Condition = v.checkCondition(st.Condition)
		v.checkStmt(st.Then)
		if st.Else != nil {
			v.checkStmt(st.Else)
		}

	case *ast.WhileLoop:
		st.Condition = v.checkCondition(st.Condition)
		v.loopDepth++
		v.checkStmt(st.Body)
		v.loopDepth--

	case *ast.ForLoop:
		v.pushScope()
		if st.Init != nil {
			v.checkStmt(st.Init)
		}
		if st.Condition != nil {
			st.Condition = v.checkCondition(st.Condition)
		}
		if st.Post != nil {
			st.Post = v.checkExpr(st.Post)
		}
		v.loopDepth++
		v.checkStmt(st.Body)
		v.loopDepth--
		v.popScope()

	case *ast.Break:
		if v.loopDepth == 0 {
			v.errorAt(st.Pos(), "break outside of a loop")
		}

	case *ast.Skip:
		if v.loopDepth == 0 {
			v.errorAt(st.Pos(), "skip outside of a loop")
		}

	case *ast.VariableDeclaration:
		v.checkLocalDecl(st)

	case *ast.ExpressionStatement:
		st.Expression = v.checkExpr(st.Expression)

	default:
		v.errorAt(s.Pos(), "unhandled statement kind %T", s)
	}
}

func (v *validator) checkLocalDecl(decl *ast.VariableDeclaration) {
	scope := v.scopes[len(v.scopes)-1]
	if _, taken := scope[decl.Desc.Name]; taken {
		v.errorAt(decl.Pos(), "variable %q is already defined in this scope", decl.Desc.Name)
		return
	}
	if decl.Initializer != nil {
		init := v.checkExpr(decl.Initializer)
		if !decl.Desc.DeclType.IsArray() {
			init = v.convert(init, decl.Desc.DeclType, decl.Pos())
		}
		decl.Initializer = init
	}
	scope[decl.Desc.Name] = decl.Desc
}

// checkCondition checks an expression used as a branch condition, which
// must be scalar (a primitive or a pointer).
func (v *validator) checkCondition(e ast.Expr) ast.Expr {
	e = v.checkExpr(e)
	if e.Type().IsArray() {
		v.errorAt(e.Pos(), "condition must be a scalar value")
	}
	return e
}

// convert wraps e in a TypeConversion when its type differs from to.
// Only primitive-to-primitive conversions are representable; anything
// else that differs is a type error.
func (v *validator) convert(e ast.Expr, to ast.Type, pos token.Pos) ast.Expr {
	from := e.Type()
	if typesEqual(from, to) {
		return e
	}
	if !from.IsPrimitive() || !to.IsPrimitive() {
		v.errorAt(pos, "cannot convert %s to %s", from, to)
		return e
	}
	conv := &ast.TypeConversion{Operand: e, To: to}
	conv.At = pos
	conv.SetType(to)
	return conv
}

func typesEqual(a, b ast.Type) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case ast.TypePrimitive:
		return a.Primitive == b.Primitive
	case ast.TypePointer:
		return typesEqual(*a.Elem, *b.Elem)
	case ast.TypeArray:
		if !typesEqual(*a.Elem, *b.Elem) {
			return false
		}
		if (a.ArrayLen == nil) != (b.ArrayLen == nil) {
			return false
		}
		return a.ArrayLen == nil || *a.ArrayLen == *b.ArrayLen
	}
	return false
}

func (v *validator) checkExpr(e ast.Expr) ast.Expr {
	switch ex := e.(type) {
	case *ast.Integer:
		ex.SetType(ast.Prim(ast.I64))
		return ex

	case *ast.CharLiteral:
		ex.SetType(ast.Prim(ast.I8))
		return ex

	case *ast.StringLiteral:
		ex.SetType(ast.PointerTo(ast.Prim(ast.I8)))
		return ex

	case *ast.EmptyExpression:
		ex.SetType(ast.Prim(ast.CVoid))
		return ex

	case *ast.VariableAccess:
		decl := v.lookup(ex.Desc.Name)
		if decl == nil {
			v.errorAt(ex.Pos(), "undefined variable %q", ex.Desc.Name)
			ex.SetType(ast.Prim(ast.I64))
			return ex
		}
		ex.Desc = decl
		ex.SetType(decl.DeclType)
		return ex

	case *ast.Unary:
		return v.checkUnary(ex)

	case *ast.Binary:
		return v.checkBinary(ex)

	case *ast.Conditional:
		ex.Condition = v.checkCondition(ex.Condition)
		ex.Then = v.checkExpr(ex.Then)
		ex.Else = v.checkExpr(ex.Else)
		thenT, elseT := ex.Then.Type(), ex.Else.Type()
		if !typesEqual(thenT, elseT) {
			ex.Else = v.convert(ex.Else, thenT, ex.Else.Pos())
		}
		ex.SetType(thenT)
		return ex

	case *ast.Assignment:
		return v.checkAssignment(ex)

	case *ast.FunctionCall:
		return v.checkCall(ex)

	case *ast.AddressOf:
		return v.checkAddressOf(ex)

	case *ast.Dereference:
		ex.Operand = v.checkExpr(ex.Operand)
		t := ex.Operand.Type()
		if !t.IsPointer() {
			v.errorAt(ex.Pos(), "cannot dereference a value of type %s", t)
			ex.SetType(ast.Prim(ast.I64))
			return ex
		}
		ex.SetType(*t.Elem)
		return ex

	case *ast.ArrayAccess:
		ex.Array = v.checkExpr(ex.Array)
		ex.Index = v.convert(v.checkExpr(ex.Index), ast.Prim(ast.I64), ex.Index.Pos())
		t := ex.Array.Type()
		if !t.IsArray() && !t.IsPointer() {
			v.errorAt(ex.Pos(), "cannot index a value of type %s", t)
			ex.SetType(ast.Prim(ast.I64))
			return ex
		}
		ex.SetType(*t.Elem)
		return ex

	case *ast.ArrayLiteral:
		var elemType ast.Type
		for i, elem := range ex.Elements {
			elem = v.checkExpr(elem)
			if i == 0 {
				elemType = elem.Type()
			} else {
				elem = v.convert(elem, elemType, elem.Pos())
			}
			ex.Elements[i] = elem
		}
		ex.SetType(ast.ArrayOf(elemType, len(ex.Elements)))
		return ex

	case *ast.TypeConversion:
		ex.Operand = v.checkExpr(ex.Operand)
		ex.SetType(ex.To)
		return ex

	default:
		v.errorAt(e.Pos(), "unhandled expression kind %T", e)
		return e
	}
}

func (v *validator) checkUnary(ex *ast.Unary) ast.Expr {
	ex.Expr = v.checkExpr(ex.Expr)
	t := ex.Expr.Type()
	switch ex.Op {
	case ast.OpLogicalNot:
		if t.IsArray() {
			v.errorAt(ex.Pos(), "operand of %q must be a scalar value", "!")
		}
		ex.SetType(ast.Prim(ast.I32))
	default:
		if !t.IsPrimitive() {
			v.errorAt(ex.Pos(), "unary operator requires an integer operand, got %s", t)
		}
		ex.SetType(t)
	}
	return ex
}

func (v *validator) checkBinary(ex *ast.Binary) ast.Expr {
	ex.Left = v.checkExpr(ex.Left)
	ex.Right = v.checkExpr(ex.Right)
	lt, rt := ex.Left.Type(), ex.Right.Type()

	switch ex.Op {
	case ast.OpLogicalAnd, ast.OpLogicalOr:
		if lt.IsArray() || rt.IsArray() {
			v.errorAt(ex.Pos(), "logical operator requires scalar operands")
		}
		ex.SetType(ast.Prim(ast.I32))
		return ex

	case ast.OpEq, ast.OpNe, ast.OpLt, ast.OpLe, ast.OpGt, ast.OpGe:
		if lt.IsPointer() && rt.IsPointer() {
			if !typesEqual(lt, rt) {
				v.errorAt(ex.Pos(), "cannot compare %s with %s", lt, rt)
			}
		} else if lt.IsPrimitive() && rt.IsPrimitive() {
			v.promoteOperands(ex)
		} else {
			v.errorAt(ex.Pos(), "cannot compare %s with %s", lt, rt)
		}
		ex.SetType(ast.Prim(ast.I32))
		return ex

	default: // arithmetic and bitwise
		if !lt.IsPrimitive() || !rt.IsPrimitive() {
			v.errorAt(ex.Pos(), "arithmetic requires integer operands, got %s and %s", lt, rt)
			ex.SetType(ast.Prim(ast.I64))
			return ex
		}
		v.promoteOperands(ex)
		ex.SetType(ex.Left.Type())
		return ex
	}
}

// promoteOperands converts the narrower of two primitive operands to
// the wider one's type.
func (v *validator) promoteOperands(ex *ast.Binary) {
	lt, rt := ex.Left.Type(), ex.Right.Type()
	if typesEqual(lt, rt) {
		return
	}
	if ast.SizeOf(lt) >= ast.SizeOf(rt) {
		ex.Right = v.convert(ex.Right, lt, ex.Right.Pos())
	} else {
		ex.Left = v.convert(ex.Left, rt, ex.Left.Pos())
	}
}

func (v *validator) checkAssignment(ex *ast.Assignment) ast.Expr {
	ex.LValue = v.checkExpr(ex.LValue)
	value := v.checkExpr(ex.Value)

	switch lv := ex.LValue.(type) {
	case *ast.VariableAccess:
		if lv.Desc.DeclType.IsArray() {
			v.errorAt(ex.Pos(), "cannot assign to an array variable")
		}
	case *ast.Dereference, *ast.ArrayAccess:
	default:
		v.errorAt(ex.Pos(), "expression is not assignable")
	}

	ex.Value = v.convert(value, ex.LValue.Type(), ex.Pos())
	ex.SetType(ex.LValue.Type())
	return ex
}

func (v *validator) checkCall(ex *ast.FunctionCall) ast.Expr {
	callee, ok := v.functions[ex.Callee.Name]
	if !ok {
		v.errorAt(ex.Pos(), "undefined function %q", ex.Callee.Name)
		ex.SetType(ast.Prim(ast.I64))
		return ex
	}
	ex.Callee = callee

	if len(ex.Args) != len(callee.Params) {
		v.errorAt(ex.Pos(), "function %q takes %d arguments, got %d", callee.Name, len(callee.Params), len(ex.Args))
	}
	for i, arg := range ex.Args {
		arg = v.checkExpr(arg)
		if i < len(callee.Params) {
			arg = v.convert(arg, callee.Params[i].DeclType, arg.Pos())
		}
		ex.Args[i] = arg
	}
	ex.SetType(callee.ReturnType)
	return ex
}

func (v *validator) checkAddressOf(ex *ast.AddressOf) ast.Expr {
	ex.Operand = v.checkExpr(ex.Operand)
	access, ok := ex.Operand.(*ast.VariableAccess)
	if !ok {
		v.errorAt(ex.Pos(), "can only take the address of a variable")
		ex.SetType(ast.PointerTo(ast.Prim(ast.I64)))
		return ex
	}
	if !access.Desc.IsGlobal {
		access.Desc.AddressTaken = true
	}
	ex.SetType(ast.PointerTo(access.Desc.DeclType))
	return ex
}
