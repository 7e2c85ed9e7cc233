// Package parse turns R-Sharp token streams into untyped ASTs. It is a
// hand-written recursive-descent parser, one function per grammar
// production, with precedence-climbing for binary expressions. Imports
// are resolved while parsing; a per-invocation cache keeps each imported
// definition from being spliced in more than once.
package parse

import (
	"github.com/robotino04/rsharpc/ast"
	"github.com/robotino04/rsharpc/errs"
	"github.com/robotino04/rsharpc/token"
)

// Source parses a single already-loaded source buffer. Imports are
// resolved relative to filename's directory (or the stdlib path for
// std:: imports).
func Source(filename, source, stdlib string) (*ast.Program, error) {
	return parseWithCache(filename, source, stdlib, newCache())
}

func parseWithCache(filename, source, stdlib string, cache *parsingCache) (*ast.Program, error) {
	toks, err := token.Scan(source)
	if err != nil {
		return nil, err
	}
	p := &parser{
		toks:     toks,
		filename: filename,
		stdlib:   stdlib,
		cache:    cache,
		errors:   &errs.List{},
	}
	prog := p.parseProgram()
	return prog, p.errors.Err()
}

type parser struct {
	toks     []token.Token
	pos      int
	filename string
	stdlib   string
	cache    *parsingCache
	errors   *errs.List
}

func (p *parser) cur() token.Token {
	return p.toks[p.pos]
}

func (p *parser) peek(offset int) token.Token {
	if p.pos+offset >= len(p.toks) {
		return p.toks[len(p.toks)-1] // EOF
	}
	return p.toks[p.pos+offset]
}

func (p *parser) at(kind token.Kind) bool {
	return p.cur().Kind == kind
}

func (p *parser) advance() token.Token {
	t := p.cur()
	if t.Kind != token.EOF {
		p.pos++
	}
	return t
}

func (p *parser) accept(kind token.Kind) bool {
	if p.at(kind) {
		p.advance()
		return true
	}
	return false
}

func (p *parser) expect(kind token.Kind, what string) (token.Token, error) {
	if p.at(kind) {
		return p.advance(), nil
	}
	t := p.cur()
	return t, errs.New(t.Pos, t.LineSrc, "expected %s but got %q", what, t.String())
}

// fail records the error and returns it so callers can unwind to a
// recovery point.
func (p *parser) fail(err error) error {
	if se, ok := err.(*errs.SourceError); ok {
		p.errors.Errors = append(p.errors.Errors, se)
	} else {
		t := p.cur()
		p.errors.Add(t.Pos, t.LineSrc, "%s", err.Error())
	}
	return err
}

// synchronize skips forward to a statement boundary so one syntax error
// doesn't cascade into a wall of follow-up diagnostics.
func (p *parser) synchronize() {
	for !p.at(token.EOF) {
		if p.accept(token.Semicolon) {
			return
		}
		if p.at(token.RBrace) {
			p.advance()
			return
		}
		p.advance()
	}
}

func (p *parser) parseProgram() *ast.Program {
	prog := &ast.Program{}
	for !p.at(token.EOF) {
		switch {
		case p.at(token.KwImport):
			imported, err := p.parseImport()
			if err != nil {
				p.synchronize()
				continue
			}
			prog.Functions = append(prog.Functions, imported.Functions...)
			prog.Globals = append(prog.Globals, imported.Globals...)
			prog.Imports = append(prog.Imports, imported.Imports...)

		case p.at(token.LBracket) || (p.at(token.Ident) && p.peek(1).Kind == token.LParen):
			fd, err := p.parseFunctionDefinition()
			if err != nil {
				p.synchronize()
				continue
			}
			prog.Functions = append(prog.Functions, fd)

		case p.at(token.Ident) && p.peek(1).Kind == token.Colon:
			decl, err := p.parseVariableDeclaration(true)
			if err != nil {
				p.synchronize()
				continue
			}
			if _, err := p.expect(token.Semicolon, "';'"); err != nil {
				p.fail(err)
				p.synchronize()
				continue
			}
			prog.Globals = append(prog.Globals, decl)

		default:
			t := p.cur()
			p.fail(errs.New(t.Pos, t.LineSrc, "expected function, global variable, or import but got %q", t.String()))
			p.synchronize()
		}
	}
	return prog
}

func (p *parser) parseFunctionDefinition() (*ast.FunctionDefinition, error) {
	isExtern, err := p.parseTags()
	if err != nil {
		return nil, p.fail(err)
	}

	nameTok, err := p.expect(token.Ident, "function name")
	if err != nil {
		return nil, p.fail(err)
	}

	params, err := p.parseParameterList()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.Colon, "':' before return type"); err != nil {
		return nil, p.fail(err)
	}
	retType, err := p.parseType()
	if err != nil {
		return nil, p.fail(err)
	}

	desc := &ast.Function{
		Name:       nameTok.Lexeme,
		ReturnType: retType,
		Params:     params,
		IsExtern:   isExtern,
	}
	fd := &ast.FunctionDefinition{Desc: desc}
	fd.At = nameTok.Pos
	desc.Def = fd

	if isExtern {
		if _, err := p.expect(token.Semicolon, "';' after extern declaration"); err != nil {
			return nil, p.fail(err)
		}
		return fd, nil
	}

	body, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	if block, ok := body.(*ast.Block); ok {
		fd.Body = block
	} else {
		wrapped := &ast.Block{Statements: []ast.Stmt{body}}
		wrapped.At = body.Pos()
		fd.Body = wrapped
	}
	return fd, nil
}

// parseTags handles the bracketed tag list in front of a function. Only
// the extern tag exists.
func (p *parser) parseTags() (isExtern bool, err error) {
	if !p.accept(token.LBracket) {
		return false, nil
	}
	for {
		t := p.cur()
		if t.Kind == token.KwExtern || (t.Kind == token.Ident && t.Lexeme == "extern") {
			p.advance()
			isExtern = true
		} else {
			return false, errs.New(t.Pos, t.LineSrc, "expected tag identifier but got %q", t.String())
		}
		if !p.accept(token.Comma) {
			break
		}
	}
	if _, err := p.expect(token.RBracket, "']' after tags"); err != nil {
		return false, err
	}
	return isExtern, nil
}

func (p *parser) parseParameterList() ([]*ast.Variable, error) {
	if _, err := p.expect(token.LParen, "'(' before parameter list"); err != nil {
		return nil, p.fail(err)
	}
	var params []*ast.Variable
	for !p.at(token.RParen) {
		nameTok, err := p.expect(token.Ident, "parameter name")
		if err != nil {
			return nil, p.fail(err)
		}
		if _, err := p.expect(token.Colon, "':' after parameter name"); err != nil {
			return nil, p.fail(err)
		}
		typ, err := p.parseType()
		if err != nil {
			return nil, p.fail(err)
		}
		params = append(params, &ast.Variable{
			Name:        nameTok.Lexeme,
			DeclType:    typ,
			IsParameter: true,
			ParamIndex:  len(params),
		})
		if !p.accept(token.Comma) {
			break
		}
	}
	if _, err := p.expect(token.RParen, "')' after parameter list"); err != nil {
		return nil, p.fail(err)
	}
	return params, nil
}

var primitives = map[string]ast.Primitive{
	"i8": ast.I8, "i16": ast.I16, "i32": ast.I32, "i64": ast.I64,
	"c_void": ast.CVoid,
}

func (p *parser) parseType() (ast.Type, error) {
	if p.accept(token.Star) {
		elem, err := p.parseType()
		if err != nil {
			return ast.Type{}, err
		}
		return ast.PointerTo(elem), nil
	}
	t := p.cur()
	if t.Kind != token.Ident {
		return ast.Type{}, errs.New(t.Pos, t.LineSrc, "expected typename or '*' (pointer) but got %q", t.String())
	}
	prim, ok := primitives[t.Lexeme]
	if !ok {
		return ast.Type{}, errs.New(t.Pos, t.LineSrc, "unknown type %q", t.Lexeme)
	}
	p.advance()
	typ := ast.Prim(prim)

	// Sized-array suffix: i32[10].
	for p.at(token.LBracket) && p.peek(1).Kind == token.IntLiteral {
		p.advance()
		sizeTok := p.advance()
		if _, err := p.expect(token.RBracket, "']' after array size"); err != nil {
			return ast.Type{}, err
		}
		typ = ast.ArrayOf(typ, int(sizeTok.IntVal))
	}
	return typ, nil
}

func (p *parser) parseVariableDeclaration(isGlobal bool) (*ast.VariableDeclaration, error) {
	nameTok, err := p.expect(token.Ident, "variable name")
	if err != nil {
		return nil, p.fail(err)
	}
	if _, err := p.expect(token.Colon, "':' after variable name"); err != nil {
		return nil, p.fail(err)
	}
	typ, err := p.parseType()
	if err != nil {
		return nil, p.fail(err)
	}

	decl := &ast.VariableDeclaration{
		Desc: &ast.Variable{Name: nameTok.Lexeme, DeclType: typ, IsGlobal: isGlobal},
	}
	decl.At = nameTok.Pos

	if p.accept(token.Assign) {
		init, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		decl.Initializer = init
	}
	return decl, nil
}

func (p *parser) parseStatement() (ast.Stmt, error) {
	switch {
	case p.at(token.LBrace):
		return p.parseBlock()
	case p.at(token.KwReturn):
		return p.parseReturn()
	case p.at(token.KwIf):
		return p.parseConditionalStatement()
	case p.at(token.KwWhile):
		return p.parseWhileLoop()
	case p.at(token.KwDo):
		return p.parseDoWhileLoop()
	case p.at(token.KwFor):
		return p.parseForLoop()
	case p.at(token.KwBreak):
		tok := p.advance()
		if _, err := p.expect(token.Semicolon, "';' after break"); err != nil {
			return nil, p.fail(err)
		}
		st := &ast.Break{}
		st.At = tok.Pos
		return st, nil
	case p.at(token.KwSkip):
		tok := p.advance()
		if _, err := p.expect(token.Semicolon, "';' after skip"); err != nil {
			return nil, p.fail(err)
		}
		st := &ast.Skip{}
		st.At = tok.Pos
		return st, nil
	case p.at(token.Ident) && p.peek(1).Kind == token.Colon:
		decl, err := p.parseVariableDeclaration(false)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(token.Semicolon, "';' after declaration"); err != nil {
			return nil, p.fail(err)
		}
		return decl, nil
	default:
		tok := p.cur()
		expr, err := p.parseOptionalExpression()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(token.Semicolon, "';' after expression"); err != nil {
			return nil, p.fail(err)
		}
		st := &ast.ExpressionStatement{Expression: expr}
		st.At = tok.Pos
		return st, nil
	}
}

func (p *parser) parseBlock() (*ast.Block, error) {
	open, err := p.expect(token.LBrace, "'{'")
	if err != nil {
		return nil, p.fail(err)
	}
	block := &ast.Block{}
	block.At = open.Pos
	for !p.at(token.RBrace) && !p.at(token.EOF) {
		stmt, err := p.parseStatement()
		if err != nil {
			p.synchronize()
			continue
		}
		block.Statements = append(block.Statements, stmt)
	}
	if _, err := p.expect(token.RBrace, "'}'"); err != nil {
		return nil, p.fail(err)
	}
	return block, nil
}

func (p *parser) parseReturn() (ast.Stmt, error) {
	tok := p.advance()
	st := &ast.Return{}
	st.At = tok.Pos
	if p.accept(token.Semicolon) {
		return st, nil
	}
	value, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	st.Value = value
	if _, err := p.expect(token.Semicolon, "';' after return value"); err != nil {
		return nil, p.fail(err)
	}
	return st, nil
}

func (p *parser) parseConditionalStatement() (ast.Stmt, error) {
	tok := p.advance() // if / elif
	st := &ast.ConditionalStatement{}
	st.At = tok.Pos

	if _, err := p.expect(token.LParen, "'(' after if"); err != nil {
		return nil, p.fail(err)
	}
	cond, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	st.Condition = cond
	if _, err := p.expect(token.RParen, "')' after condition"); err != nil {
		return nil, p.fail(err)
	}
	then, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	st.Then = then

	if p.at(token.KwElif) {
		// elif chains become nested if/else.
		elseStmt, err := p.parseConditionalStatement()
		if err != nil {
			return nil, err
		}
		st.Else = elseStmt
		return st, nil
	}
	if p.accept(token.KwElse) {
		elseStmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		st.Else = elseStmt
	}
	return st, nil
}

func (p *parser) parseWhileLoop() (ast.Stmt, error) {
	tok := p.advance()
	st := &ast.WhileLoop{}
	st.At = tok.Pos
	if _, err := p.expect(token.LParen, "'(' after while"); err != nil {
		return nil, p.fail(err)
	}
	cond, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	st.Condition = cond
	if _, err := p.expect(token.RParen, "')' after condition"); err != nil {
		return nil, p.fail(err)
	}
	body, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	st.Body = body
	return st, nil
}

func (p *parser) parseDoWhileLoop() (ast.Stmt, error) {
	tok := p.advance()
	st := &ast.WhileLoop{IsDoWhile: true}
	st.At = tok.Pos
	body, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	st.Body = body
	if _, err := p.expect(token.KwWhile, "'while' after do-while body"); err != nil {
		return nil, p.fail(err)
	}
	if _, err := p.expect(token.LParen, "'(' after while"); err != nil {
		return nil, p.fail(err)
	}
	cond, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	st.Condition = cond
	if _, err := p.expect(token.RParen, "')' after condition"); err != nil {
		return nil, p.fail(err)
	}
	if _, err := p.expect(token.Semicolon, "';' after do-while"); err != nil {
		return nil, p.fail(err)
	}
	return st, nil
}

func (p *parser) parseForLoop() (ast.Stmt, error) {
	tok := p.advance()
	st := &ast.ForLoop{}
	st.At = tok.Pos
	if _, err := p.expect(token.LParen, "'(' after for"); err != nil {
		return nil, p.fail(err)
	}

	// Declaration form (for (i: i32 = 0; ...)) or expression form.
	if p.at(token.Ident) && p.peek(1).Kind == token.Colon {
		decl, err := p.parseVariableDeclaration(false)
		if err != nil {
			return nil, err
		}
		st.Init = decl
	} else if !p.at(token.Semicolon) {
		expr, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		init := &ast.ExpressionStatement{Expression: expr}
		init.At = expr.Pos()
		st.Init = init
	}
	if _, err := p.expect(token.Semicolon, "';' after for initializer"); err != nil {
		return nil, p.fail(err)
	}

	if !p.at(token.Semicolon) {
		cond, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		st.Condition = cond
	}
	if _, err := p.expect(token.Semicolon, "';' after for condition"); err != nil {
		return nil, p.fail(err)
	}

	if !p.at(token.RParen) {
		post, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		st.Post = post
	}
	if _, err := p.expect(token.RParen, "')' after for clauses"); err != nil {
		return nil, p.fail(err)
	}

	body, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	st.Body = body
	return st, nil
}

// parseOptionalExpression admits the empty expression in the slots the
// grammar allows one (expression statements and for-loop clauses).
func (p *parser) parseOptionalExpression() (ast.Expr, error) {
	if p.at(token.Semicolon) || p.at(token.RParen) {
		e := &ast.EmptyExpression{}
		e.At = p.cur().Pos
		return e, nil
	}
	return p.parseExpression()
}

func (p *parser) parseExpression() (ast.Expr, error) {
	left, err := p.parseConditionalExpression()
	if err != nil {
		return nil, err
	}
	if p.at(token.Assign) {
		tok := p.advance()
		switch left.(type) {
		case *ast.VariableAccess, *ast.Dereference, *ast.ArrayAccess:
		default:
			return nil, p.fail(errs.New(tok.Pos, tok.LineSrc, "expression is not assignable"))
		}
		value, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		assign := &ast.Assignment{LValue: left, Value: value}
		assign.At = tok.Pos
		return assign, nil
	}
	return left, nil
}

func (p *parser) parseConditionalExpression() (ast.Expr, error) {
	cond, err := p.parseLogicalOr()
	if err != nil {
		return nil, err
	}
	if !p.at(token.Question) {
		return cond, nil
	}
	tok := p.advance()
	thenExpr, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.Colon, "':' in conditional expression"); err != nil {
		return nil, p.fail(err)
	}
	elseExpr, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	e := &ast.Conditional{Condition: cond, Then: thenExpr, Else: elseExpr}
	e.At = tok.Pos
	return e, nil
}

// binaryLevel parses one precedence level of left-associative binary
// operators, delegating to next for the tighter-binding level.
func (p *parser) binaryLevel(ops map[token.Kind]ast.BinaryOp, next func() (ast.Expr, error)) (ast.Expr, error) {
	left, err := next()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := ops[p.cur().Kind]
		if !ok {
			return left, nil
		}
		tok := p.advance()
		right, err := next()
		if err != nil {
			return nil, err
		}
		bin := &ast.Binary{Op: op, Left: left, Right: right}
		bin.At = tok.Pos
		left = bin
	}
}

func (p *parser) parseLogicalOr() (ast.Expr, error) {
	return p.binaryLevel(map[token.Kind]ast.BinaryOp{token.PipePipe: ast.OpLogicalOr}, p.parseLogicalAnd)
}

func (p *parser) parseLogicalAnd() (ast.Expr, error) {
	return p.binaryLevel(map[token.Kind]ast.BinaryOp{token.AmpAmp: ast.OpLogicalAnd}, p.parseBitwiseAnd)
}

func (p *parser) parseBitwiseAnd() (ast.Expr, error) {
	return p.binaryLevel(map[token.Kind]ast.BinaryOp{token.Amp: ast.OpBinaryAnd}, p.parseEquality)
}

func (p *parser) parseEquality() (ast.Expr, error) {
	return p.binaryLevel(map[token.Kind]ast.BinaryOp{
		token.Eq:  ast.OpEq,
		token.Neq: ast.OpNe,
	}, p.parseRelational)
}

func (p *parser) parseRelational() (ast.Expr, error) {
	return p.binaryLevel(map[token.Kind]ast.BinaryOp{
		token.Lt:  ast.OpLt,
		token.Leq: ast.OpLe,
		token.Gt:  ast.OpGt,
		token.Geq: ast.OpGe,
	}, p.parseAdditive)
}

func (p *parser) parseAdditive() (ast.Expr, error) {
	return p.binaryLevel(map[token.Kind]ast.BinaryOp{
		token.Plus:  ast.OpAdd,
		token.Minus: ast.OpSub,
	}, p.parseTerm)
}

func (p *parser) parseTerm() (ast.Expr, error) {
	return p.binaryLevel(map[token.Kind]ast.BinaryOp{
		token.Star:    ast.OpMul,
		token.Slash:   ast.OpDiv,
		token.Percent: ast.OpMod,
	}, p.parseFactor)
}

func (p *parser) parseFactor() (ast.Expr, error) {
	t := p.cur()
	switch t.Kind {
	case token.LParen:
		p.advance()
		expr, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(token.RParen, "')'"); err != nil {
			return nil, p.fail(err)
		}
		return p.parsePostfix(expr)

	case token.Bang, token.Minus, token.Tilde:
		p.advance()
		operand, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		op := ast.OpLogicalNot
		switch t.Kind {
		case token.Minus:
			op = ast.OpNegate
		case token.Tilde:
			op = ast.OpBinaryNot
		}
		e := &ast.Unary{Op: op, Expr: operand}
		e.At = t.Pos
		return e, nil

	case token.IntLiteral:
		p.advance()
		e := &ast.Integer{Value: t.IntVal}
		e.At = t.Pos
		return e, nil

	case token.CharLiteral:
		p.advance()
		e := &ast.CharLiteral{Value: t.IntVal}
		e.At = t.Pos
		return e, nil

	case token.StringLiteral:
		p.advance()
		e := &ast.StringLiteral{Value: t.Lexeme}
		e.At = t.Pos
		return e, nil

	case token.Star:
		p.advance()
		operand, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		e := &ast.Dereference{Operand: operand}
		e.At = t.Pos
		return p.parsePostfix(e)

	case token.Dollar:
		p.advance()
		nameTok, err := p.expect(token.Ident, "variable after '$'")
		if err != nil {
			return nil, p.fail(err)
		}
		access := &ast.VariableAccess{Desc: &ast.Variable{Name: nameTok.Lexeme}}
		access.At = nameTok.Pos
		e := &ast.AddressOf{Operand: access}
		e.At = t.Pos
		return e, nil

	case token.LBracket:
		return p.parseArrayLiteral()

	case token.Ident:
		if p.peek(1).Kind == token.LParen {
			return p.parseFunctionCall()
		}
		p.advance()
		e := &ast.VariableAccess{Desc: &ast.Variable{Name: t.Lexeme}}
		e.At = t.Pos
		return p.parsePostfix(e)

	default:
		return nil, p.fail(errs.New(t.Pos, t.LineSrc, "expected expression but got %q", t.String()))
	}
}

// parsePostfix handles array-index suffixes on an already parsed
// primary expression.
func (p *parser) parsePostfix(e ast.Expr) (ast.Expr, error) {
	for p.at(token.LBracket) {
		tok := p.advance()
		index, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(token.RBracket, "']' after index"); err != nil {
			return nil, p.fail(err)
		}
		access := &ast.ArrayAccess{Array: e, Index: index}
		access.At = tok.Pos
		e = access
	}
	return e, nil
}

func (p *parser) parseArrayLiteral() (ast.Expr, error) {
	tok := p.advance() // '['
	lit := &ast.ArrayLiteral{}
	lit.At = tok.Pos
	for !p.at(token.RBracket) {
		elem, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		lit.Elements = append(lit.Elements, elem)
		if !p.accept(token.Comma) {
			break
		}
	}
	if _, err := p.expect(token.RBracket, "']' after array literal"); err != nil {
		return nil, p.fail(err)
	}
	return lit, nil
}

func (p *parser) parseFunctionCall() (ast.Expr, error) {
	nameTok := p.advance()
	p.advance() // '('
	call := &ast.FunctionCall{Callee: &ast.Function{Name: nameTok.Lexeme}}
	call.At = nameTok.Pos
	for !p.at(token.RParen) {
		arg, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		call.Args = append(call.Args, arg)
		if !p.accept(token.Comma) {
			break
		}
	}
	if _, err := p.expect(token.RParen, "')' after arguments"); err != nil {
		return nil, p.fail(err)
	}
	return call, nil
}
