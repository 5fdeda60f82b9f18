package ir

import (
	"fmt"
	"sort"
	"strings"
)

// Print renders m in hostpatch's textual IR dialect, the exact grammar
// Parse reads back. Used by the module driver to write --hostpatchedfile
// and by tests that round-trip a module through text.
func Print(m *Module) string {
	var b strings.Builder
	fmt.Fprintf(&b, "module %q\n\n", m.Name)

	for _, name := range sortedStructNames(m) {
		st := structByName(m, name)
		fmt.Fprintf(&b, "type %%%s = %s\n", name, printStructBody(st))
	}

	names := make([]string, 0, len(m.Decls))
	for name := range m.Decls {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		decl := m.Decls[name]
		fmt.Fprintf(&b, "declare @%s(%s) -> %s\n", decl.Name, printParamTypes(decl.Sig.Params), decl.Sig.Ret.String())
	}
	if len(names) > 0 {
		b.WriteString("\n")
	}

	for _, g := range m.Globals {
		fmt.Fprintf(&b, "global @%s = %q\n", g.Name, g.Value)
	}
	if len(m.Globals) > 0 {
		b.WriteString("\n")
	}

	for _, fn := range m.Funcs {
		printFunc(&b, fn)
		b.WriteString("\n")
	}
	return b.String()
}

func printParamTypes(params []Type) string {
	parts := make([]string, len(params))
	for i, t := range params {
		parts[i] = t.String()
	}
	return strings.Join(parts, ", ")
}

func printStructBody(st *StructType) string {
	parts := make([]string, len(st.Fields))
	for i, f := range st.Fields {
		parts[i] = f.Type.String()
	}
	return "{ " + strings.Join(parts, ", ") + " }"
}

func sortedStructNames(m *Module) []string {
	seen := map[string]bool{}
	var names []string
	var walk func(t Type)
	walk = func(t Type) {
		switch v := t.(type) {
		case *StructType:
			if v.Name != "" && !seen[v.Name] {
				seen[v.Name] = true
				names = append(names, v.Name)
				for _, f := range v.Fields {
					walk(f.Type)
				}
			}
		case *PointerType:
			walk(v.Elem)
		}
	}
	for _, fn := range m.Funcs {
		for _, p := range fn.Params {
			walk(p.Ty)
		}
	}
	for _, decl := range m.Decls {
		for _, t := range decl.Sig.Params {
			walk(t)
		}
	}
	sort.Strings(names)
	return names
}

func structByName(m *Module, name string) *StructType {
	var found *StructType
	var walk func(t Type)
	walk = func(t Type) {
		switch v := t.(type) {
		case *StructType:
			if v.Name == name {
				found = v
			}
			for _, f := range v.Fields {
				walk(f.Type)
			}
		case *PointerType:
			walk(v.Elem)
		}
	}
	for _, fn := range m.Funcs {
		for _, p := range fn.Params {
			walk(p.Ty)
		}
	}
	for _, decl := range m.Decls {
		for _, t := range decl.Sig.Params {
			walk(t)
		}
	}
	return found
}

func printFunc(b *strings.Builder, fn *Function) {
	params := make([]string, len(fn.Params))
	for i, p := range fn.Params {
		params[i] = fmt.Sprintf("%%%s: %s", p.Name, p.Ty.String())
	}
	fmt.Fprintf(b, "func @%s(%s) -> %s {\n", fn.Name, strings.Join(params, ", "), fn.Sig.Ret.String())
	for _, bb := range fn.Blocks {
		fmt.Fprintf(b, "%s:\n", bb.Name)
		for _, inst := range bb.Insts {
			b.WriteString("  ")
			printInst(b, inst)
			b.WriteString("\n")
		}
	}
	b.WriteString("}\n")
}

func printInst(b *strings.Builder, inst *Instruction) {
	switch inst.Op {
	case OpAlloca:
		elemType := inst.ResultType.(*PointerType).Elem
		fmt.Fprintf(b, "%%%s = alloca %s", inst.Name, elemType.String())
	case OpLoad:
		fmt.Fprintf(b, "%%%s = load %s, %s", inst.Name, inst.ResultType.String(), typedOperand(inst.Operands[0]))
	case OpStore:
		fmt.Fprintf(b, "store %s, %s", typedOperand(inst.Operands[0]), typedOperand(inst.Operands[1]))
	case OpBitCast:
		fmt.Fprintf(b, "%%%s = bitcast %s to %s", inst.Name, typedOperand(inst.Operands[0]), inst.ResultType.String())
	case OpGEP:
		baseType := inst.ResultType.(*PointerType).Elem
		idxStrs := make([]string, len(inst.Indices))
		for i, idx := range inst.Indices {
			idxStrs[i] = fmt.Sprintf("%d", idx)
		}
		fmt.Fprintf(b, "%%%s = getelementptr %s, %s, %s", inst.Name, baseType.String(), typedOperand(inst.Operands[0]), strings.Join(idxStrs, ", "))
	case OpCall:
		printCall(b, inst)
	case OpBranch:
		fmt.Fprintf(b, "br label %%%s", inst.Target.Name)
	case OpRet:
		if len(inst.Operands) == 0 {
			b.WriteString("ret void")
		} else {
			fmt.Fprintf(b, "ret %s", typedOperand(inst.Operands[0]))
		}
	}
}

// typedOperand renders v the way the parser's parseTypedOperand expects to
// read it back: "<type> <reference>". Value.String() alone is not enough
// here since it is also used for other purposes (e.g. an Instruction's
// String() is its full definition line, not a reference to its result).
func typedOperand(v Value) string {
	return v.Type().String() + " " + refOf(v)
}

func refOf(v Value) string {
	switch val := v.(type) {
	case *ConstInt:
		return fmt.Sprintf("%d", val.Val)
	case *ConstString:
		return "@" + val.Name
	case *FuncRef:
		return "@" + val.Name
	case *Param:
		return "%" + val.Name
	case *Instruction:
		if val.Name == "" {
			return "<unnamed>"
		}
		return "%" + val.Name
	default:
		return v.String()
	}
}

func printCall(b *strings.Builder, inst *Instruction) {
	calleeName := ""
	if inst.Callee != nil {
		calleeName = inst.Callee.Name
	} else if inst.CalleeDecl != nil {
		calleeName = inst.CalleeDecl.Name
	}
	if inst.Name != "" {
		fmt.Fprintf(b, "%%%s = ", inst.Name)
	}
	b.WriteString("call ")
	if inst.CallKind == CallException {
		b.WriteString("exception ")
	}
	args := make([]string, len(inst.Operands))
	for i, op := range inst.Operands {
		args[i] = typedOperand(op)
	}
	fmt.Fprintf(b, "@%s(%s)", calleeName, strings.Join(args, ", "))
	if inst.CallKind == CallException && inst.NormalDest != nil {
		fmt.Fprintf(b, " to label %%%s", inst.NormalDest.Name)
		if inst.UnwindDest != nil {
			fmt.Fprintf(b, " unwind label %%%s", inst.UnwindDest.Name)
		}
	}
}
