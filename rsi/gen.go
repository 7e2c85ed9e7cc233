package rsi

import (
	"github.com/robotino04/rsharpc/ast"
)

// StringConstant is an anonymous byte-array global introduced by a
// string literal: the literal's bytes land in the data section and the
// expression lowers to taking that label's address.
type StringConstant struct {
	Label Label
	Bytes []byte
}

// Generator lowers a validated typed AST into a TranslationUnit. It
// tracks the current function, the operand bound to each variable, and
// the active loop's break/continue targets. Address computation goes
// through genAddress rather than a mode flag.
type Generator struct {
	sess *Session
	tu   *TranslationUnit
	fn   *Function
	vars map[*ast.Variable]Operand

	loopStack []loopFrame
}

type loopFrame struct {
	ContinueLabel Label
	BreakLabel    Label
}

// Generate lowers prog (already tokenized, parsed, and semantically
// validated — every expression carries a resolved type, every variable
// access resolves to a descriptor, every call resolves to a callee) into
// a TranslationUnit.
func Generate(sess *Session, prog *ast.Program) (*TranslationUnit, error) {
	g := &Generator{
		sess: sess,
		tu:   &TranslationUnit{},
		vars: make(map[*ast.Variable]Operand),
	}

	for _, global := range prog.Globals {
		if err := g.genGlobal(global); err != nil {
			return nil, err
		}
	}

	seenExtern := make(map[string]bool)
	for _, fd := range prog.Functions {
		if fd.Desc.IsExtern {
			// The same extern declaration can arrive several times via
			// diamond-shaped imports; one label entry is enough.
			if !seenExtern[fd.Desc.Label] {
				seenExtern[fd.Desc.Label] = true
				g.tu.ExternLabels = append(g.tu.ExternLabels, Label{Name: fd.Desc.Label})
			}
			continue
		}
		if err := g.genFunction(fd); err != nil {
			return nil, err
		}
	}

	return g.tu, nil
}

func (g *Generator) genGlobal(decl *ast.VariableDeclaration) error {
	g.vars[decl.Desc] = GlobalReference{Name: decl.Desc.Name, Variable: decl.Desc}

	if decl.Initializer == nil {
		g.tu.UninitializedGlobals = append(g.tu.UninitializedGlobals, GlobalReference{Name: decl.Desc.Name, Variable: decl.Desc})
		return nil
	}
	lit, ok := decl.Initializer.(*ast.Integer)
	if !ok {
		return internalErr("", "global %q must be initialized with an integer-literal constant", decl.Desc.Name)
	}
	g.tu.InitializedGlobals = append(g.tu.InitializedGlobals, GlobalInit{
		Global:   GlobalReference{Name: decl.Desc.Name, Variable: decl.Desc},
		Constant: StaticConstant{Value: lit.Value},
	})
	return nil
}

func (g *Generator) genFunction(fd *ast.FunctionDefinition) error {
	fn := NewFunction(fd.Desc)
	g.fn = fn
	fn.Append(NewInstruction(FUNCTION_BEGIN, nil, nil, nil))

	for i, param := range fd.Desc.Params {
		loaded := g.sess.NewReference(param.Name)
		g.emit(LOAD_PARAMETER, loaded, StaticConstant{Value: uint64(i)}, nil)
		g.vars[param] = g.bindLocal(param, loaded)
	}

	if err := g.genStmt(fd.Body); err != nil {
		return err
	}

	// Synthetic fallback return, always appended.
	g.emit(RETURN, nil, StaticConstant{Value: 0}, nil)

	g.tu.Functions = append(g.tu.Functions, fn)
	return nil
}

// bindLocal gives a freshly declared (or loaded-parameter) local variable
// its IR-gen-time storage: address-taken locals get an immediate stack
// slot (so ADDRESS_OF and the stack-variable legalization passes have a
// stable location to target); everything else stays an ordinary,
// allocator-assigned reference. value is MOVEd in if the variable isn't
// already exactly that reference (e.g. loaded parameters).
func (g *Generator) bindLocal(v *ast.Variable, value Operand) Operand {
	if !v.AddressTaken {
		return value
	}
	slot := g.fn.allocStackSlot()
	ref := g.sess.NewReference(v.Name)
	ref.Storage = StorageLocation{Kind: StorageStack, Stack: slot}
	g.emit(MOVE, ref, value, nil)
	return ref
}

func (g *Generator) emit(op Opcode, result, op1, op2 Operand) Operand {
	g.fn.Append(NewInstruction(op, result, op1, op2))
	return result
}

func (g *Generator) operandFor(v *ast.Variable) Operand {
	if v.IsGlobal {
		return GlobalReference{Name: v.Name, Variable: v}
	}
	return g.vars[v]
}

func (g *Generator) genStmt(s ast.Stmt) error {
	switch st := s.(type) {
	case *ast.Block:
		for _, inner := range st.Statements {
			if err := g.genStmt(inner); err != nil {
				return err
			}
		}
		return nil

	case *ast.Return:
		if st.Value == nil {
			g.emit(RETURN, nil, StaticConstant{Value: 0}, nil)
			return nil
		}
		v, err := g.genExpr(st.Value)
		if err != nil {
			return err
		}
		g.emit(RETURN, nil, v, nil)
		return nil

	case *ast.ConditionalStatement:
		return g.genConditional(st)

	case *ast.WhileLoop:
		return g.genWhile(st)

	case *ast.ForLoop:
		return g.genFor(st)

	case *ast.Break:
		if len(g.loopStack) == 0 {
			return internalErr(g.fn.Name, "break outside of a loop")
		}
		g.emit(JUMP, nil, g.loopStack[len(g.loopStack)-1].BreakLabel, nil)
		return nil

	case *ast.Skip:
		if len(g.loopStack) == 0 {
			return internalErr(g.fn.Name, "skip outside of a loop")
		}
		g.emit(JUMP, nil, g.loopStack[len(g.loopStack)-1].ContinueLabel, nil)
		return nil

	case *ast.VariableDeclaration:
		return g.genLocalDecl(st)

	case *ast.ExpressionStatement:
		_, err := g.genExpr(st.Expression)
		return err

	default:
		return internalErr(g.fn.Name, "unhandled statement kind %T", s)
	}
}

func (g *Generator) genLocalDecl(decl *ast.VariableDeclaration) error {
	var value Operand = StaticConstant{Value: 0}
	if decl.Initializer != nil {
		v, err := g.genExpr(decl.Initializer)
		if err != nil {
			return err
		}
		value = v
	}

	if decl.Desc.AddressTaken {
		g.vars[decl.Desc] = g.bindLocal(decl.Desc, value)
		return nil
	}

	ref := g.sess.NewReference(decl.Desc.Name)
	g.emit(MOVE, ref, value, nil)
	g.vars[decl.Desc] = ref
	return nil
}

func (g *Generator) genConditional(st *ast.ConditionalStatement) error {
	cond, err := g.genExpr(st.Condition)
	if err != nil {
		return err
	}
	elseLabel := g.sess.NewLabel("else")
	g.emit(JUMP_IF_ZERO, nil, cond, elseLabel)

	if err := g.genStmt(st.Then); err != nil {
		return err
	}

	if st.Else == nil {
		g.emit(DEFINE_LABEL, nil, elseLabel, nil)
		return nil
	}

	endLabel := g.sess.NewLabel("endif")
	g.emit(JUMP, nil, endLabel, nil)
	g.emit(DEFINE_LABEL, nil, elseLabel, nil)
	if err := g.genStmt(st.Else); err != nil {
		return err
	}
	g.emit(DEFINE_LABEL, nil, endLabel, nil)
	return nil
}

func (g *Generator) genWhile(st *ast.WhileLoop) error {
	startLabel := g.sess.NewLabel("loopstart")
	endLabel := g.sess.NewLabel("loopend")

	if st.IsDoWhile {
		condLabel := g.sess.NewLabel("loopcond")
		g.loopStack = append(g.loopStack, loopFrame{ContinueLabel: condLabel, BreakLabel: endLabel})
		g.emit(DEFINE_LABEL, nil, startLabel, nil)
		if err := g.genStmt(st.Body); err != nil {
			return err
		}
		g.loopStack = g.loopStack[:len(g.loopStack)-1]
		g.emit(DEFINE_LABEL, nil, condLabel, nil)
		cond, err := g.genExpr(st.Condition)
		if err != nil {
			return err
		}
		g.emit(JUMP_IF_ZERO, nil, cond, endLabel)
		g.emit(JUMP, nil, startLabel, nil)
		g.emit(DEFINE_LABEL, nil, endLabel, nil)
		return nil
	}

	g.loopStack = append(g.loopStack, loopFrame{ContinueLabel: startLabel, BreakLabel: endLabel})
	g.emit(DEFINE_LABEL, nil, startLabel, nil)
	cond, err := g.genExpr(st.Condition)
	if err != nil {
		return err
	}
	g.emit(JUMP_IF_ZERO, nil, cond, endLabel)
	if err := g.genStmt(st.Body); err != nil {
		return err
	}
	g.loopStack = g.loopStack[:len(g.loopStack)-1]
	g.emit(JUMP, nil, startLabel, nil)
	g.emit(DEFINE_LABEL, nil, endLabel, nil)
	return nil
}

func (g *Generator) genFor(st *ast.ForLoop) error {
	if st.Init != nil {
		if err := g.genStmt(st.Init); err != nil {
			return err
		}
	}

	startLabel := g.sess.NewLabel("forstart")
	incLabel := g.sess.NewLabel("forinc")
	endLabel := g.sess.NewLabel("forend")

	g.emit(DEFINE_LABEL, nil, startLabel, nil)
	if st.Condition != nil {
		cond, err := g.genExpr(st.Condition)
		if err != nil {
			return err
		}
		g.emit(JUMP_IF_ZERO, nil, cond, endLabel)
	}

	g.loopStack = append(g.loopStack, loopFrame{ContinueLabel: incLabel, BreakLabel: endLabel})
	if err := g.genStmt(st.Body); err != nil {
		return err
	}
	g.loopStack = g.loopStack[:len(g.loopStack)-1]

	g.emit(DEFINE_LABEL, nil, incLabel, nil)
	if st.Post != nil {
		if _, err := g.genExpr(st.Post); err != nil {
			return err
		}
	}
	g.emit(JUMP, nil, startLabel, nil)
	g.emit(DEFINE_LABEL, nil, endLabel, nil)
	return nil
}

func (g *Generator) genExpr(e ast.Expr) (Operand, error) {
	switch ex := e.(type) {
	case *ast.Integer:
		return StaticConstant{Value: ex.Value}, nil

	case *ast.CharLiteral:
		return StaticConstant{Value: ex.Value}, nil

	case *ast.StringLiteral:
		bytes := append([]byte(ex.Value), 0)
		label := g.sess.NewLabel("str")
		g.tu.StringConstants = append(g.tu.StringConstants, StringConstant{Label: label, Bytes: bytes})
		dst := g.sess.NewReference("straddr")
		g.emit(ADDRESS_OF, dst, GlobalReference{Name: label.Name}, nil)
		return dst, nil

	case *ast.EmptyExpression:
		return Empty{}, nil

	case *ast.VariableAccess:
		if ex.Desc.DeclType.IsArray() {
			return nil, internalErr(g.fn.Name, "array-typed variable access is unsupported")
		}
		return g.operandFor(ex.Desc), nil

	case *ast.Unary:
		return g.genUnary(ex)

	case *ast.Binary:
		return g.genBinary(ex)

	case *ast.Conditional:
		return g.genTernary(ex)

	case *ast.Assignment:
		return g.genAssignment(ex)

	case *ast.FunctionCall:
		return g.genCall(ex)

	case *ast.AddressOf:
		return g.genAddress(ex.Operand)

	case *ast.Dereference:
		ptr, err := g.genExpr(ex.Operand)
		if err != nil {
			return nil, err
		}
		dst := g.sess.NewReference("deref")
		g.emit(LOAD_MEMORY, dst, ptr, nil)
		return dst, nil

	case *ast.TypeConversion:
		// Every integer width is carried in a full 64-bit slot at the IR
		// level, so a conversion between integer primitives is a no-op at
		// this layer; only the declared type, tracked on the AST node,
		// differs.
		return g.genExpr(ex.Operand)

	case *ast.ArrayAccess, *ast.ArrayLiteral:
		return nil, internalErr(g.fn.Name, "array lowering is unsupported")

	default:
		return nil, internalErr(g.fn.Name, "unhandled expression kind %T", e)
	}
}

// genAddress produces "the address where e lives", used by AddressOf.
func (g *Generator) genAddress(e ast.Expr) (Operand, error) {
	switch ex := e.(type) {
	case *ast.VariableAccess:
		op := g.operandFor(ex.Desc)
		if global, ok := op.(GlobalReference); ok {
			dst := g.sess.NewReference("addr")
			g.emit(ADDRESS_OF, dst, global, nil)
			return dst, nil
		}
		ref, ok := op.(Reference)
		if !ok || ref.Storage.Kind != StorageStack {
			return nil, internalErr(g.fn.Name, "trying to take the address of a value not on the stack")
		}
		dst := g.sess.NewReference("addr")
		g.emit(ADDRESS_OF, dst, ref, nil)
		return dst, nil
	case *ast.Dereference:
		// &*p == p.
		return g.genExpr(ex.Operand)
	default:
		return nil, internalErr(g.fn.Name, "address-of is only supported for simple variables and dereferences")
	}
}

func (g *Generator) genUnary(u *ast.Unary) (Operand, error) {
	v, err := g.genExpr(u.Expr)
	if err != nil {
		return nil, err
	}
	var op Opcode
	switch u.Op {
	case ast.OpNegate:
		op = NEGATE
	case ast.OpBinaryNot:
		op = BINARY_NOT
	case ast.OpLogicalNot:
		op = LOGICAL_NOT
	default:
		return nil, internalErr(g.fn.Name, "unhandled unary operator %d", u.Op)
	}
	dst := g.sess.NewReference("t")
	g.emit(op, dst, v, nil)
	return dst, nil
}

func binaryOpcode(op ast.BinaryOp) (Opcode, bool) {
	switch op {
	case ast.OpAdd:
		return ADD, true
	case ast.OpSub:
		return SUB, true
	case ast.OpMul:
		return MUL, true
	case ast.OpDiv:
		return DIV, true
	case ast.OpMod:
		return MOD, true
	case ast.OpEq:
		return EQ, true
	case ast.OpNe:
		return NE, true
	case ast.OpLt:
		return LT, true
	case ast.OpLe:
		return LE, true
	case ast.OpGt:
		return GT, true
	case ast.OpGe:
		return GE, true
	case ast.OpBinaryAnd:
		return BINARY_AND, true
	default:
		return NOP, false
	}
}

func (g *Generator) genBinary(b *ast.Binary) (Operand, error) {
	if b.Op == ast.OpLogicalAnd {
		return g.genLogicalAnd(b)
	}
	if b.Op == ast.OpLogicalOr {
		return g.genLogicalOr(b)
	}

	opcode, ok := binaryOpcode(b.Op)
	if !ok {
		return nil, internalErr(g.fn.Name, "unhandled binary operator %d", b.Op)
	}
	left, err := g.genExpr(b.Left)
	if err != nil {
		return nil, err
	}
	right, err := g.genExpr(b.Right)
	if err != nil {
		return nil, err
	}
	dst := g.sess.NewReference("t")
	g.emit(opcode, dst, left, right)
	return dst, nil
}

// genLogicalAnd/genLogicalOr lower short-circuit evaluation to explicit
// branches, never to the data-flow LOGICAL_AND/LOGICAL_OR opcodes, per
// the explicit contract in the design notes.
func (g *Generator) genLogicalAnd(b *ast.Binary) (Operand, error) {
	left, err := g.genExpr(b.Left)
	if err != nil {
		return nil, err
	}
	normLeft := g.sess.NewReference("andnorm")
	g.emit(NE, normLeft, left, StaticConstant{Value: 0})

	shortLabel := g.sess.NewLabel("and_short")
	joinLabel := g.sess.NewLabel("and_join")
	result := g.sess.NewReference("landres")

	g.emit(JUMP_IF_ZERO, nil, normLeft, shortLabel)

	right, err := g.genExpr(b.Right)
	if err != nil {
		return nil, err
	}
	normRight := g.sess.NewReference("andnorm")
	g.emit(NE, normRight, right, StaticConstant{Value: 0})
	g.emit(MOVE, result, normRight, nil)
	g.emit(JUMP, nil, joinLabel, nil)

	g.emit(DEFINE_LABEL, nil, shortLabel, nil)
	g.emit(MOVE, result, StaticConstant{Value: 0}, nil)

	g.emit(DEFINE_LABEL, nil, joinLabel, nil)
	return result, nil
}

func (g *Generator) genLogicalOr(b *ast.Binary) (Operand, error) {
	left, err := g.genExpr(b.Left)
	if err != nil {
		return nil, err
	}
	normLeft := g.sess.NewReference("ornorm")
	g.emit(NE, normLeft, left, StaticConstant{Value: 0})

	evalRightLabel := g.sess.NewLabel("or_evalright")
	joinLabel := g.sess.NewLabel("or_join")
	result := g.sess.NewReference("lorres")

	g.emit(JUMP_IF_ZERO, nil, normLeft, evalRightLabel)
	g.emit(MOVE, result, StaticConstant{Value: 1}, nil)
	g.emit(JUMP, nil, joinLabel, nil)

	g.emit(DEFINE_LABEL, nil, evalRightLabel, nil)
	right, err := g.genExpr(b.Right)
	if err != nil {
		return nil, err
	}
	normRight := g.sess.NewReference("ornorm")
	g.emit(NE, normRight, right, StaticConstant{Value: 0})
	g.emit(MOVE, result, normRight, nil)

	g.emit(DEFINE_LABEL, nil, joinLabel, nil)
	return result, nil
}

func (g *Generator) genTernary(c *ast.Conditional) (Operand, error) {
	cond, err := g.genExpr(c.Condition)
	if err != nil {
		return nil, err
	}
	elseLabel := g.sess.NewLabel("cond_else")
	joinLabel := g.sess.NewLabel("cond_join")
	result := g.sess.NewReference("condres")

	g.emit(JUMP_IF_ZERO, nil, cond, elseLabel)
	thenVal, err := g.genExpr(c.Then)
	if err != nil {
		return nil, err
	}
	g.emit(MOVE, result, thenVal, nil)
	g.emit(JUMP, nil, joinLabel, nil)

	g.emit(DEFINE_LABEL, nil, elseLabel, nil)
	elseVal, err := g.genExpr(c.Else)
	if err != nil {
		return nil, err
	}
	g.emit(MOVE, result, elseVal, nil)

	g.emit(DEFINE_LABEL, nil, joinLabel, nil)
	return result, nil
}

func (g *Generator) genAssignment(a *ast.Assignment) (Operand, error) {
	value, err := g.genExpr(a.Value)
	if err != nil {
		return nil, err
	}

	switch lv := a.LValue.(type) {
	case *ast.VariableAccess:
		dst := g.operandFor(lv.Desc)
		g.emit(MOVE, dst, value, nil)
		return value, nil
	case *ast.Dereference:
		addr, err := g.genExpr(lv.Operand)
		if err != nil {
			return nil, err
		}
		g.emit(STORE_MEMORY, nil, addr, value)
		return value, nil
	default:
		return nil, internalErr(g.fn.Name, "invalid assignment target %T", a.LValue)
	}
}

func (g *Generator) genCall(c *ast.FunctionCall) (Operand, error) {
	for _, arg := range c.Args {
		v, err := g.genExpr(arg)
		if err != nil {
			return nil, err
		}
		g.emit(STORE_PARAMETER, nil, v, nil)
	}
	dst := g.sess.NewReference("callresult")
	g.emit(CALL, dst, Label{Name: c.Callee.Label}, StaticConstant{Value: uint64(len(c.Args))})
	return dst, nil
}
