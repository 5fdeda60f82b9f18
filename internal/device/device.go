// Package device is a read-only accessor over a second loaded IR module
// (the device-side module), consulted only to read the declared parameters
// of a target kernel: their device-side types and by-value attribute.
// spec.md §1 scopes this module's *design* out of the core, but the
// repository still needs a thin accessor for the launch-site rewriter to
// call into.
package device

import "github.com/xyproto/hostpatch/internal/ir"

// ParamAttr is a device-side kernel parameter's attributes, as read
// positionally off the device function's signature.
type ParamAttr struct {
	Type  ir.Type
	ByVal bool
}

// Module wraps a device-side *ir.Module with the narrow read-only surface
// the rewriter needs: kernel lookup and parameter attributes. It never
// mutates the wrapped module.
type Module struct {
	mod *ir.Module
}

// New wraps mod as a device module accessor.
func New(mod *ir.Module) *Module {
	return &Module{mod: mod}
}

// Lookup returns the device-side function named name, and whether it was
// found (spec.md §4.5 step 2: "look up the same-named function in the
// device module; if absent, fail with UnknownKernel").
func (m *Module) Lookup(name string) (*ir.Function, bool) {
	fn := m.mod.FuncByName(name)
	return fn, fn != nil
}

// Params returns fn's declared parameter attributes in positional order.
// By-value is not a first-class ir.Type bit: this module's convention
// (matching the marshaller's expectations) is that a by-value parameter is
// represented on the device side as a pointer-to-struct whose pointee is
// the real by-value type; Params reports ByVal accordingly.
func (m *Module) Params(fn *ir.Function) []ParamAttr {
	attrs := make([]ParamAttr, len(fn.Params))
	for i, p := range fn.Params {
		byVal := false
		if ptrTy, ok := p.Ty.(*ir.PointerType); ok {
			if _, ok := ptrTy.Elem.(*ir.StructType); ok {
				byVal = true
			}
		}
		attrs[i] = ParamAttr{Type: p.Ty, ByVal: byVal}
	}
	return attrs
}
