package ir

// Module is a host or device IR module: a set of functions and function
// declarations sharing one data layout and one global-string table.
type Module struct {
	Name      string
	Funcs     []*Function
	Decls     map[string]*FuncDecl
	Globals   []*ConstString
	DataLayout DataLayout
}

// NewModule constructs an empty module.
func NewModule(name string) *Module {
	return &Module{
		Name:       name,
		Decls:      make(map[string]*FuncDecl),
		DataLayout: DefaultDataLayout(),
	}
}

// FuncByName returns the function named name, or nil.
func (m *Module) FuncByName(name string) *Function {
	for _, f := range m.Funcs {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// GetOrInsertFunction returns the existing definition or declaration named
// name, or registers and returns a new declaration with sig. An existing
// entry is returned as it is; its signature is not compared with sig. This is the Go analogue of LLVM's
// Module::getOrInsertFunction, used throughout patch_hostside.cpp
// (addSetKernelArgInst_int, addMetadata's configureKernel/kernelGo sites)
// to idempotently declare the runtime ABI entry points of spec.md §6.
func (m *Module) GetOrInsertFunction(name string, sig *FuncType) *FuncDecl {
	if f := m.FuncByName(name); f != nil {
		return &FuncDecl{Name: f.Name, Sig: f.Sig}
	}
	if d, ok := m.Decls[name]; ok {
		return d
	}
	d := &FuncDecl{Name: name, Sig: sig}
	m.Decls[name] = d
	return d
}

// AddGlobalString registers a named global string constant, reusing an
// existing one with the same name (spec.md §4.5 step 4: "a single shared
// constant per module, initialized once").
func (m *Module) AddGlobalString(name, value string) *ConstString {
	for _, g := range m.Globals {
		if g.Name == name {
			return g
		}
	}
	g := &ConstString{Name: name, Value: value}
	m.Globals = append(m.Globals, g)
	return g
}

// DataLayout describes byte sizes and alignments for the primitive types,
// the host module property the type layout oracle consults (spec.md §4.1).
type DataLayout struct {
	PointerSize int
}

// DefaultDataLayout is the 64-bit layout hostpatch assumes: all supported
// host/device toolchains in scope for this rewriter are 64-bit.
func DefaultDataLayout() DataLayout {
	return DataLayout{PointerSize: 8}
}

// SizeOf returns the allocation size, in bytes, of t under this layout.
// Struct and vector sizes additionally require field/element information
// and are computed by internal/layout, not here; SizeOf handles the
// primitive leaves that layout.SizeOf delegates to.
func (d DataLayout) SizeOf(t Type) int {
	switch v := t.(type) {
	case *IntType:
		return (v.Bits + 7) / 8
	case *FloatType:
		return v.Bits / 8
	case *PointerType:
		return d.PointerSize
	default:
		return 0
	}
}

// AlignOf returns the natural alignment of a primitive type, mirroring
// ast.go's GetCTypeAlignment ("natural alignment is the same as size for
// primitives").
func (d DataLayout) AlignOf(t Type) int {
	return d.SizeOf(t)
}
