package ir

import "fmt"

// Value is anything that produces a typed result usable as an operand:
// an instruction, a constant, or a function argument.
type Value interface {
	isValue()
	Type() Type
	String() string
}

// ConstInt is an integer constant.
type ConstInt struct {
	Ty  Type
	Val int64
}

func (*ConstInt) isValue()     {}
func (c *ConstInt) Type() Type { return c.Ty }
func (c *ConstInt) String() string {
	return fmt.Sprintf("%s %d", c.Ty.String(), c.Val)
}

// ConstString is a named global string constant (used for kernel names and
// the embedded device-IR source text).
type ConstString struct {
	Name  string
	Value string
}

func (*ConstString) isValue() {}
func (c *ConstString) Type() Type { return Ptr(I8()) }
func (c *ConstString) String() string { return "@" + c.Name }

// Param is a function argument value.
type Param struct {
	Name  string
	Ty    Type
	Index int
}

func (*Param) isValue()     {}
func (p *Param) Type() Type { return p.Ty }
func (p *Param) String() string { return "%" + p.Name }

// FuncRef is a reference to a function's address, used as the
// bitcast-to-bytes operand of a kernel_launch call. The launch-site
// rewriter walks back through this reference to recover the kernel symbol
// (spec.md §4.5 step 1), the Go equivalent of the original implementation's
// walk through a BitCastInst wrapping a ConstantExpr (getLaunchTypes, lines
// 612-615).
type FuncRef struct {
	Name string
}

func (*FuncRef) isValue()     {}
func (*FuncRef) Type() Type   { return Ptr(I8()) }
func (f *FuncRef) String() string { return "@" + f.Name }

// ZeroOf returns the zero constant for t, used when neutralizing a
// replaced call per spec.md invariant 4.
func ZeroOf(t Type) Value {
	switch t.(type) {
	case *VoidType:
		return nil
	default:
		return &ConstInt{Ty: t, Val: 0}
	}
}
