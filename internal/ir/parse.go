package ir

import (
	"fmt"
	"strconv"
)

// Parser reads hostpatch's textual IR dialect into a *Module, following the
// teacher's hand-rolled recursive-descent shape (lexer + current/peek
// token pair + next) rather than pulling in a parser-generator
// dependency the teacher itself never uses.
type Parser struct {
	lexer   *Lexer
	cur     Token
	peek    Token
	mod     *Module
	structs map[string]*StructType // forward-declared struct names
}

// NewParser constructs a Parser over src.
func NewParser(src string) *Parser {
	p := &Parser{lexer: NewLexer(src), structs: make(map[string]*StructType)}
	p.next()
	p.next()
	return p
}

func (p *Parser) next() {
	p.cur = p.peek
	p.peek = p.lexer.Next()
}

func (p *Parser) errf(format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	return &Error{Kind: ErrParseFailure, Message: fmt.Sprintf("line %d: %s", p.cur.Line, msg)}
}

func (p *Parser) expect(k TokenKind, what string) (Token, error) {
	if p.cur.Kind != k {
		return Token{}, p.errf("expected %s, got %q", what, p.cur.Text)
	}
	t := p.cur
	p.next()
	return t, nil
}

// Parse parses an entire module from src.
func Parse(src string) (*Module, error) {
	p := NewParser(src)
	return p.parseModule()
}

func (p *Parser) parseModule() (*Module, error) {
	if p.cur.Kind != TokIdent || p.cur.Text != "module" {
		return nil, p.errf("expected 'module' keyword")
	}
	p.next()
	nameTok, err := p.expect(TokString, "module name string")
	if err != nil {
		return nil, err
	}
	p.mod = NewModule(nameTok.Text)

	for p.cur.Kind != TokEOF {
		switch {
		case p.cur.Kind == TokIdent && p.cur.Text == "type":
			if err := p.parseTypeDecl(); err != nil {
				return nil, err
			}
		case p.cur.Kind == TokIdent && p.cur.Text == "declare":
			if err := p.parseDeclare(); err != nil {
				return nil, err
			}
		case p.cur.Kind == TokIdent && p.cur.Text == "global":
			if err := p.parseGlobal(); err != nil {
				return nil, err
			}
		case p.cur.Kind == TokIdent && p.cur.Text == "func":
			if err := p.parseFunc(); err != nil {
				return nil, err
			}
		default:
			return nil, p.errf("unexpected top-level token %q", p.cur.Text)
		}
	}

	// Calls to functions defined in this module were given a void result
	// type while parsing; give them the defining function's return type.
	for _, fn := range p.mod.Funcs {
		for _, bb := range fn.Blocks {
			for _, inst := range bb.Insts {
				if inst.Op == OpCall && inst.CalleeDecl != nil && inst.CalleeDecl.Sig == nil {
					if def := p.mod.FuncByName(inst.CalleeDecl.Name); def != nil && def.Sig != nil {
						inst.ResultType = def.Sig.Ret
					}
				}
			}
		}
	}
	return p.mod, nil
}

func (p *Parser) parseTypeDecl() error {
	p.next() // 'type'
	nameTok, err := p.expect(TokLocal, "struct type name")
	if err != nil {
		return err
	}
	if _, err := p.expect(TokEquals, "'='"); err != nil {
		return err
	}
	st := &StructType{Name: nameTok.Text}
	p.structs[nameTok.Text] = st
	fields, err := p.parseStructBody()
	if err != nil {
		return err
	}
	st.Fields = fields
	return nil
}

func (p *Parser) parseStructBody() ([]StructField, error) {
	if _, err := p.expect(TokLBrace, "'{'"); err != nil {
		return nil, err
	}
	var fields []StructField
	i := 0
	for p.cur.Kind != TokRBrace {
		if i > 0 {
			if _, err := p.expect(TokComma, "','"); err != nil {
				return nil, err
			}
		}
		t, err := p.parseType()
		if err != nil {
			return nil, err
		}
		fields = append(fields, StructField{Name: fmt.Sprintf("f%d", i), Type: t})
		i++
	}
	p.next() // '}'
	return fields, nil
}

func (p *Parser) parseDeclare() error {
	p.next() // 'declare'
	nameTok, err := p.expect(TokGlobal, "function name")
	if err != nil {
		return err
	}
	sig, err := p.parseSignature()
	if err != nil {
		return err
	}
	p.mod.Decls[nameTok.Text] = &FuncDecl{Name: nameTok.Text, Sig: sig}
	return nil
}

func (p *Parser) parseGlobal() error {
	p.next() // 'global'
	nameTok, err := p.expect(TokGlobal, "global name")
	if err != nil {
		return err
	}
	if _, err := p.expect(TokEquals, "'='"); err != nil {
		return err
	}
	valTok, err := p.expect(TokString, "global string value")
	if err != nil {
		return err
	}
	p.mod.AddGlobalString(nameTok.Text, valTok.Text)
	return nil
}

// parseSignature parses "(T, T, ...) -> T" with no parameter names, used
// for declare statements.
func (p *Parser) parseSignature() (*FuncType, error) {
	if _, err := p.expect(TokLParen, "'('"); err != nil {
		return nil, err
	}
	var params []Type
	for p.cur.Kind != TokRParen {
		if len(params) > 0 {
			if _, err := p.expect(TokComma, "','"); err != nil {
				return nil, err
			}
		}
		t, err := p.parseType()
		if err != nil {
			return nil, err
		}
		params = append(params, t)
	}
	p.next() // ')'
	if _, err := p.expect(TokArrow, "'->'"); err != nil {
		return nil, err
	}
	ret, err := p.parseType()
	if err != nil {
		return nil, err
	}
	return &FuncType{Params: params, Ret: ret}, nil
}

func (p *Parser) parseType() (Type, error) {
	switch {
	case p.cur.Kind == TokIdent && p.cur.Text == "void":
		p.next()
		return p.maybePointer(Void())
	case p.cur.Kind == TokIdent && p.cur.Text == "double":
		p.next()
		return p.maybePointer(F64())
	case p.cur.Kind == TokIdent && p.cur.Text == "float":
		p.next()
		return p.maybePointer(F32())
	case p.cur.Kind == TokIdent && len(p.cur.Text) >= 2 && p.cur.Text[0] == 'i':
		bits, err := strconv.Atoi(p.cur.Text[1:])
		if err != nil {
			return nil, p.errf("bad integer type %q", p.cur.Text)
		}
		p.next()
		return p.maybePointer(&IntType{Bits: bits})
	case p.cur.Kind == TokLocal:
		name := p.cur.Text
		p.next()
		st, ok := p.structs[name]
		if !ok {
			st = &StructType{Name: name}
			p.structs[name] = st
		}
		return p.maybePointer(st)
	case p.cur.Kind == TokLBrace:
		fields, err := p.parseStructBody()
		if err != nil {
			return nil, err
		}
		return p.maybePointer(&StructType{Fields: fields})
	case p.cur.Kind == TokLAngle:
		p.next()
		countTok, err := p.expect(TokNumber, "vector count")
		if err != nil {
			return nil, err
		}
		count, _ := strconv.Atoi(countTok.Text)
		if p.cur.Kind == TokIdent && p.cur.Text == "x" {
			p.next()
		}
		elem, err := p.parseType()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokRAngle, "'>'"); err != nil {
			return nil, err
		}
		return p.maybePointer(&VectorType{Elem: elem, Count: count})
	default:
		return nil, p.errf("unexpected type token %q", p.cur.Text)
	}
}

func (p *Parser) maybePointer(t Type) (Type, error) {
	for p.cur.Kind == TokStar {
		p.next()
		t = Ptr(t)
	}
	return t, nil
}

func (p *Parser) parseFunc() error {
	p.next() // 'func'
	nameTok, err := p.expect(TokGlobal, "function name")
	if err != nil {
		return err
	}
	if _, err := p.expect(TokLParen, "'('"); err != nil {
		return err
	}
	fn := &Function{Name: nameTok.Text, Module: p.mod}
	var paramTypes []Type
	idx := 0
	for p.cur.Kind != TokRParen {
		if idx > 0 {
			if _, err := p.expect(TokComma, "','"); err != nil {
				return err
			}
		}
		pnameTok, err := p.expect(TokLocal, "parameter name")
		if err != nil {
			return err
		}
		if _, err := p.expect(TokColon, "':'"); err != nil {
			return err
		}
		t, err := p.parseType()
		if err != nil {
			return err
		}
		fn.Params = append(fn.Params, &Param{Name: pnameTok.Text, Ty: t, Index: idx})
		paramTypes = append(paramTypes, t)
		idx++
	}
	p.next() // ')'
	if _, err := p.expect(TokArrow, "'->'"); err != nil {
		return err
	}
	ret, err := p.parseType()
	if err != nil {
		return err
	}
	fn.Sig = &FuncType{Params: paramTypes, Ret: ret}

	if err := p.parseFuncBody(fn); err != nil {
		return err
	}
	p.mod.Funcs = append(p.mod.Funcs, fn)
	return nil
}

func (p *Parser) parseFuncBody(fn *Function) error {
	if _, err := p.expect(TokLBrace, "'{'"); err != nil {
		return err
	}
	values := make(map[string]Value)
	for _, prm := range fn.Params {
		values[prm.Name] = prm
	}
	blocks := make(map[string]*BasicBlock)

	for p.cur.Kind != TokRBrace {
		labelTok, err := p.expect(TokIdent, "basic block label")
		if err != nil {
			return err
		}
		if _, err := p.expect(TokColon, "':'"); err != nil {
			return err
		}
		bb := &BasicBlock{Name: labelTok.Text, Func: fn}
		blocks[bb.Name] = bb
		fn.Blocks = append(fn.Blocks, bb)

		for p.cur.Kind == TokLocal || (p.cur.Kind == TokIdent && (p.cur.Text == "store" || p.cur.Text == "br" || p.cur.Text == "ret" || p.cur.Text == "call")) {
			inst, err := p.parseInstruction(values, blocks)
			if err != nil {
				return err
			}
			bb.Append(inst)
		}
	}
	p.next() // '}'

	// Resolve branch/call successor block references, deferred until all
	// labels in the function are known.
	for _, bb := range fn.Blocks {
		for _, inst := range bb.Insts {
			if inst.Op == OpBranch && inst.Target == nil && inst.branchTargetName != "" {
				inst.Target = blocks[inst.branchTargetName]
			}
			if inst.Op == OpCall {
				if inst.normalDestName != "" {
					inst.NormalDest = blocks[inst.normalDestName]
				}
				if inst.unwindDestName != "" {
					inst.UnwindDest = blocks[inst.unwindDestName]
				}
			}
		}
	}
	return nil
}

// parseInstruction parses one instruction line. values maps already-defined
// local names (parameters and earlier instructions in this function) to
// their Value; blocks maps labels seen so far (branch/call targets to
// blocks not yet parsed are resolved in a second pass by parseFuncBody).
func (p *Parser) parseInstruction(values map[string]Value, blocks map[string]*BasicBlock) (*Instruction, error) {
	if p.cur.Kind == TokIdent && p.cur.Text == "store" {
		return p.parseStore(values)
	}
	if p.cur.Kind == TokIdent && p.cur.Text == "br" {
		return p.parseBranch()
	}
	if p.cur.Kind == TokIdent && p.cur.Text == "ret" {
		return p.parseRet(values)
	}
	if p.cur.Kind == TokIdent && p.cur.Text == "call" {
		p.next() // unnamed call, e.g. a void runtime call
		return p.parseCallAssign("", values, blocks)
	}

	nameTok, err := p.expect(TokLocal, "instruction result name")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokEquals, "'='"); err != nil {
		return nil, err
	}
	if p.cur.Kind != TokIdent {
		return nil, p.errf("expected opcode, got %q", p.cur.Text)
	}
	op := p.cur.Text
	p.next()

	var inst *Instruction
	switch op {
	case "alloca":
		t, err := p.parseType()
		if err != nil {
			return nil, err
		}
		inst = &Instruction{Op: OpAlloca, ResultType: Ptr(t), Name: nameTok.Text}
	case "load":
		t, err := p.parseType()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokComma, "','"); err != nil {
			return nil, err
		}
		ptrVal, err := p.parseTypedOperand(values)
		if err != nil {
			return nil, err
		}
		inst = &Instruction{Op: OpLoad, ResultType: t, Name: nameTok.Text, Operands: []Value{ptrVal}}
	case "bitcast":
		srcVal, err := p.parseTypedOperand(values)
		if err != nil {
			return nil, err
		}
		if p.cur.Kind != TokIdent || p.cur.Text != "to" {
			return nil, p.errf("expected 'to' in bitcast")
		}
		p.next()
		dstT, err := p.parseType()
		if err != nil {
			return nil, err
		}
		inst = &Instruction{Op: OpBitCast, ResultType: dstT, Name: nameTok.Text, Operands: []Value{srcVal}}
	case "getelementptr":
		baseT, err := p.parseType()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokComma, "','"); err != nil {
			return nil, err
		}
		ptrVal, err := p.parseTypedOperand(values)
		if err != nil {
			return nil, err
		}
		var indices []int
		for p.cur.Kind == TokComma {
			p.next()
			idxTok, err := p.expect(TokNumber, "gep index")
			if err != nil {
				return nil, err
			}
			n, _ := strconv.Atoi(idxTok.Text)
			indices = append(indices, n)
		}
		inst = &Instruction{Op: OpGEP, ResultType: Ptr(baseT), Name: nameTok.Text, Operands: []Value{ptrVal}, Indices: indices}
	case "call":
		return p.parseCallAssign(nameTok.Text, values, blocks)
	default:
		return nil, p.errf("unknown opcode %q", op)
	}
	values[nameTok.Text] = inst
	return inst, nil
}

func (p *Parser) parseStore(values map[string]Value) (*Instruction, error) {
	p.next() // 'store'
	valOperand, err := p.parseTypedOperand(values)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokComma, "','"); err != nil {
		return nil, err
	}
	ptrOperand, err := p.parseTypedOperand(values)
	if err != nil {
		return nil, err
	}
	return &Instruction{Op: OpStore, ResultType: Void(), Operands: []Value{valOperand, ptrOperand}}, nil
}

func (p *Parser) parseBranch() (*Instruction, error) {
	p.next() // 'br'
	if p.cur.Kind != TokIdent || p.cur.Text != "label" {
		return nil, p.errf("expected 'label' after 'br'")
	}
	p.next()
	targetTok, err := p.expect(TokLocal, "branch target")
	if err != nil {
		return nil, err
	}
	return &Instruction{Op: OpBranch, ResultType: Void(), branchTargetName: targetTok.Text}, nil
}

func (p *Parser) parseRet(values map[string]Value) (*Instruction, error) {
	p.next() // 'ret'
	if p.cur.Kind == TokIdent && p.cur.Text == "void" {
		p.next()
		return &Instruction{Op: OpRet, ResultType: Void()}, nil
	}
	val, err := p.parseTypedOperand(values)
	if err != nil {
		return nil, err
	}
	return &Instruction{Op: OpRet, ResultType: Void(), Operands: []Value{val}}, nil
}

// parseCallAssign parses the remainder of "call [exception] @callee(args)
// [to label %n unwind label %u]" after the leading "%name = call" (or a bare
// "call", for an unnamed call) has been consumed.
func (p *Parser) parseCallAssign(resultName string, values map[string]Value, blocks map[string]*BasicBlock) (*Instruction, error) {
	kind := CallOrdinary
	if p.cur.Kind == TokIdent && p.cur.Text == "exception" {
		kind = CallException
		p.next()
	}
	calleeTok, err := p.expect(TokGlobal, "callee name")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokLParen, "'('"); err != nil {
		return nil, err
	}
	var args []Value
	for p.cur.Kind != TokRParen {
		if len(args) > 0 {
			if _, err := p.expect(TokComma, "','"); err != nil {
				return nil, err
			}
		}
		arg, err := p.parseTypedOperand(values)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}
	p.next() // ')'

	inst := &Instruction{Op: OpCall, Name: resultName, Operands: args, CallKind: kind}
	if decl, ok := p.mod.Decls[calleeTok.Text]; ok {
		inst.CalleeDecl = decl
		inst.ResultType = decl.Sig.Ret
	} else {
		inst.ResultType = Void() // resolved against the defining Function after parsing, if found
		inst.CalleeDecl = &FuncDecl{Name: calleeTok.Text}
	}

	if p.cur.Kind == TokIdent && p.cur.Text == "to" {
		p.next()
		if p.cur.Kind != TokIdent || p.cur.Text != "label" {
			return nil, p.errf("expected 'label' after 'to'")
		}
		p.next()
		normalTok, err := p.expect(TokLocal, "normal-dest label")
		if err != nil {
			return nil, err
		}
		inst.normalDestName = normalTok.Text
		if p.cur.Kind == TokIdent && p.cur.Text == "unwind" {
			p.next()
			if p.cur.Kind != TokIdent || p.cur.Text != "label" {
				return nil, p.errf("expected 'label' after 'unwind'")
			}
			p.next()
			unwindTok, err := p.expect(TokLocal, "unwind-dest label")
			if err != nil {
				return nil, err
			}
			inst.unwindDestName = unwindTok.Text
		}
	}
	if resultName != "" {
		values[resultName] = inst
	}
	return inst, nil
}

// parseTypedOperand parses "T value" where value is a %name reference, a
// numeric literal, or an @name function/global reference.
func (p *Parser) parseTypedOperand(values map[string]Value) (Value, error) {
	t, err := p.parseType()
	if err != nil {
		return nil, err
	}
	switch p.cur.Kind {
	case TokLocal:
		name := p.cur.Text
		p.next()
		v, ok := values[name]
		if !ok {
			return nil, p.errf("undefined local %%%s", name)
		}
		return v, nil
	case TokNumber:
		n, _ := strconv.ParseInt(p.cur.Text, 10, 64)
		p.next()
		return &ConstInt{Ty: t, Val: n}, nil
	case TokGlobal:
		name := p.cur.Text
		p.next()
		return &FuncRef{Name: name}, nil
	default:
		return nil, p.errf("expected operand, got %q", p.cur.Text)
	}
}
