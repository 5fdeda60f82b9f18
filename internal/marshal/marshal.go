// Package marshal synthesizes, per argument-classification strategy, the IR
// subgraph that materializes a kernel argument in a form the runtime
// accepts and the call into the runtime ABI's matching entry point
// (spec.md §4.4, §6). It is the component with the most weight in the
// specification and the part most directly grounded on the teacher's
// two-pass argument marshalling in compileCFunctionCall (codegen.go):
// decide-then-emit, one cursor threaded through every emission.
package marshal

import (
	"github.com/xyproto/hostpatch/internal/classify"
	"github.com/xyproto/hostpatch/internal/clone"
	"github.com/xyproto/hostpatch/internal/ir"
	"github.com/xyproto/hostpatch/internal/layout"
)

// Cursor is the insertion point IR is spliced in after. Every marshalling
// function takes and returns a Cursor so that all IR emitted for one launch
// site stays contiguous and ordered, concretizing spec.md §9's cursor
// threading requirement the same way the teacher threads an insertion index
// through compileCFunctionCall's emission pass.
type Cursor struct {
	Block *ir.BasicBlock
	Last  *ir.Instruction
}

func (c Cursor) insert(inst *ir.Instruction) Cursor {
	return Cursor{Block: c.Block, Last: c.Block.InsertAfter(c.Last, inst)}
}

// Emitter bundles the long-lived collaborators a marshalling pass needs:
// the module it is emitting calls against (for GetOrInsertFunction), the
// data layout, the name registry, and the struct cloner. One Emitter is
// constructed by the driver and threaded through every function's rewrite —
// never a package global, per spec.md §9.
type Emitter struct {
	Module *ir.Module
	Layout ir.DataLayout
	Names  *ir.GlobalNames
	Cloner *clone.Cloner
}

func (e *Emitter) decl(name string, params []ir.Type, ret ir.Type) *ir.FuncDecl {
	return e.Module.GetOrInsertFunction(name, &ir.FuncType{Params: params, Ret: ret})
}

func opaquePtr() ir.Type { return ir.Ptr(ir.I8()) }

func (e *Emitter) call(cursor Cursor, decl *ir.FuncDecl, args ...ir.Value) Cursor {
	inst := &ir.Instruction{
		Op:         ir.OpCall,
		ResultType: decl.Sig.Ret,
		Name:       e.Names.FreshLocal("setarg"),
		Operands:   args,
		CalleeDecl: decl,
		CallKind:   ir.CallOrdinary,
	}
	return cursor.insert(inst)
}

func (e *Emitter) bitcast(cursor Cursor, v ir.Value, to ir.Type) (Cursor, ir.Value) {
	if ir.Equal(v.Type(), to) {
		return cursor, v
	}
	inst := &ir.Instruction{Op: ir.OpBitCast, ResultType: to, Name: e.Names.FreshLocal("cast"), Operands: []ir.Value{v}}
	return cursor.insert(inst), inst
}

// MarshalArgument dispatches p to its classified strategy and emits the
// corresponding IR, returning the advanced cursor. This is the single entry
// point the launch-site rewriter calls once per ParamInfo (spec.md §4.5
// step 6).
func (e *Emitter) MarshalArgument(cursor Cursor, p *ir.ParamInfo) (Cursor, error) {
	strategy, err := classify.Classify(e.Layout, p)
	if err != nil {
		return cursor, err
	}
	switch strategy {
	case classify.StrategyIntegerPrimitive:
		return e.marshalInteger(cursor, p)
	case classify.StrategyFloatPrimitive:
		return e.marshalFloat(cursor, p)
	case classify.StrategyPointerToScalar:
		if p.DeviceSideByVal {
			// The struct.float4 re-dispatch (classify.Classify): p.Value is
			// a load of the struct itself, not a pointer — only p.Pointer
			// holds the staging slot's address, the value this strategy
			// actually needs to bitcast and ship (patch_hostside.cpp:396-397
			// operates on the struct pointer, never a loaded value).
			return e.marshalPointerToScalar(cursor, &ir.ParamInfo{Pointer: p.Pointer, Value: p.Pointer})
		}
		return e.marshalPointerToScalar(cursor, p)
	case classify.StrategyPointerToStruct:
		return e.marshalPointerToStruct(cursor, p)
	case classify.StrategyByValueVector:
		return e.marshalByValueVector(cursor, p)
	case classify.StrategyByValueStruct:
		return e.marshalByValueStruct(cursor, p)
	default:
		return cursor, ir.NewError(ir.ErrUnsupportedArgumentKind, "unhandled strategy %s", strategy)
	}
}

func (e *Emitter) marshalInteger(cursor Cursor, p *ir.ParamInfo) (Cursor, error) {
	it := p.Value.Type().(*ir.IntType)
	var name string
	switch it.Bits {
	case 8:
		name = "set_kernel_arg_int8"
	case 32:
		name = "set_kernel_arg_int32"
	case 64:
		name = "set_kernel_arg_int64"
	default:
		return cursor, ir.NewErrorOnType(ir.ErrUnsupportedBitWidth, it, "unsupported integer width %d", it.Bits)
	}
	decl := e.decl(name, []ir.Type{it}, ir.Void())
	return e.call(cursor, decl, p.Value), nil
}

func (e *Emitter) marshalFloat(cursor Cursor, p *ir.ParamInfo) (Cursor, error) {
	decl := e.decl("set_kernel_arg_float", []ir.Type{ir.F32()}, ir.Void())
	return e.call(cursor, decl, p.Value), nil
}

// marshalPointerToScalar bitcasts the pointer to opaque bytes and emits
// set_kernel_arg_gpu_buffer(ptr, element_size), per spec.md §4.4.
func (e *Emitter) marshalPointerToScalar(cursor Cursor, p *ir.ParamInfo) (Cursor, error) {
	ptrTy, ok := p.Value.Type().(*ir.PointerType)
	if !ok {
		return cursor, ir.NewErrorOnType(ir.ErrUnsupportedArgumentKind, p.Value.Type(), "pointer-to-scalar strategy requires a pointer value")
	}
	elemSize, err := layout.SizeOf(e.Layout, ptrTy.Elem)
	if err != nil {
		return cursor, err
	}
	var castVal ir.Value
	cursor, castVal = e.bitcast(cursor, p.Value, opaquePtr())
	decl := e.decl("set_kernel_arg_gpu_buffer", []ir.Type{opaquePtr(), ir.I32()}, ir.Void())
	return e.call(cursor, decl, castVal, &ir.ConstInt{Ty: ir.I32(), Val: int64(elemSize)}), nil
}

// marshalPointerToStruct delegates to pointer-to-scalar once the classifier
// has already confirmed the pointee is pointer-free (spec.md §4.4).
func (e *Emitter) marshalPointerToStruct(cursor Cursor, p *ir.ParamInfo) (Cursor, error) {
	return e.marshalPointerToScalar(cursor, p)
}

// marshalByValueVector bitcasts the staging slot to opaque bytes and emits
// set_kernel_arg_hostside_buffer(ptr, total_bytes), per spec.md §4.4.
func (e *Emitter) marshalByValueVector(cursor Cursor, p *ir.ParamInfo) (Cursor, error) {
	vt, ok := p.Value.Type().(*ir.VectorType)
	if !ok {
		return cursor, ir.NewErrorOnType(ir.ErrUnsupportedArgumentKind, p.Value.Type(), "byvalue-vector strategy requires a vector value")
	}
	total, err := layout.SizeOf(e.Layout, vt)
	if err != nil {
		return cursor, err
	}
	var castVal ir.Value
	cursor, castVal = e.bitcast(cursor, p.Pointer, opaquePtr())
	decl := e.decl("set_kernel_arg_hostside_buffer", []ir.Type{opaquePtr(), ir.I32()}, ir.Void())
	return e.call(cursor, decl, castVal, &ir.ConstInt{Ty: ir.I32(), Val: int64(total)}), nil
}

// marshalByValueStruct implements spec.md §4.4's five-step by-value struct
// sequence: coerce the staging pointer to the real struct type, clone if it
// contains embedded pointers, ship the (possibly cloned) struct as an
// opaque host-side buffer, then forward every embedded pointer separately
// via the pointer-to-scalar marshaller, in depth-first field order
// (testable property 4).
func (e *Emitter) marshalByValueStruct(cursor Cursor, p *ir.ParamInfo) (Cursor, error) {
	st, srcPtr, cursor2, err := e.realStructAndPointer(cursor, p)
	if err != nil {
		return cursor, err
	}
	cursor = cursor2

	info, err := layout.WalkStruct(e.Layout, st)
	if err != nil {
		return cursor, err
	}

	source := srcPtr
	if len(info.PointerInfos) > 0 {
		twin, err := e.Cloner.Clone(e.Layout, st)
		if err != nil {
			return cursor, err
		}
		var twinPtr ir.Value
		cursor.Last, twinPtr, err = e.Cloner.EmitCopy(cursor.Last, cursor.Block, st.Fields, twin, srcPtr)
		if err != nil {
			return cursor, err
		}
		source = twinPtr
	}

	var castVal ir.Value
	cursor, castVal = e.bitcast(cursor, source, opaquePtr())
	decl := e.decl("set_kernel_arg_hostside_buffer", []ir.Type{opaquePtr(), ir.I32()}, ir.Void())
	cursor = e.call(cursor, decl, castVal, &ir.ConstInt{Ty: ir.I32(), Val: int64(info.TotalSize)})

	for _, pi := range info.PointerInfos {
		fieldPtr := e.gepFromPath(&cursor, srcPtr, pi.IndexPath, ir.Ptr(pi.ElementType))
		loaded := &ir.Instruction{Op: ir.OpLoad, ResultType: ir.Ptr(pi.ElementType), Name: e.Names.FreshLocal("embedptr"), Operands: []ir.Value{fieldPtr}}
		cursor = cursor.insert(loaded)

		sub := &ir.ParamInfo{Value: loaded}
		cursor, err = e.marshalPointerToScalar(cursor, sub)
		if err != nil {
			return cursor, err
		}
	}

	return cursor, nil
}

// realStructAndPointer implements step (i) of spec.md §4.4's by-value
// struct sequence: if the staging pointer's element type is not already
// the device-side struct type, insert a bitcast to it first.
func (e *Emitter) realStructAndPointer(cursor Cursor, p *ir.ParamInfo) (*ir.StructType, ir.Value, Cursor, error) {
	var st *ir.StructType
	if ptrTy, ok := p.DeviceSideType.(*ir.PointerType); ok {
		if s, ok := ptrTy.Elem.(*ir.StructType); ok {
			st = s
		}
	}
	if st == nil {
		if s, ok := p.Value.Type().(*ir.StructType); ok {
			st = s
		}
	}
	if st == nil {
		return nil, nil, cursor, ir.NewErrorOnType(ir.ErrUnsupportedStructShape, p.Value.Type(), "by-value struct strategy requires a struct-typed device parameter")
	}

	stagingPtr := classify.ResolveStagingAggregate(p)
	if stagingPtr == nil {
		stagingPtr = p.Value
	}
	if !ir.Equal(stagingPtr.Type(), ir.Ptr(st)) {
		var cast ir.Value
		cursor, cast = e.bitcast(cursor, stagingPtr, ir.Ptr(st))
		stagingPtr = cast
	}
	return st, stagingPtr, cursor, nil
}

// gepFromPath synthesizes a single in-bounds field-address computation along
// indexPath (spec.md §4.4 step v), returning a pointer to elementType. One
// getelementptr carries the full index path from the outermost struct's
// base, matching both the original implementation's single
// GetElementPtrInst (patch_hostside.cpp:456-462) and this IR's own OpGEP
// design (one instruction, a list of indices).
func (e *Emitter) gepFromPath(cursor *Cursor, base ir.Value, indexPath []int, elementType ir.Type) ir.Value {
	gep := &ir.Instruction{
		Op:         ir.OpGEP,
		ResultType: ir.Ptr(elementType),
		Name:       e.Names.FreshLocal("field"),
		Operands:   []ir.Value{base},
		Indices:    append([]int{}, indexPath...),
	}
	*cursor = cursor.insert(gep)
	return gep
}
