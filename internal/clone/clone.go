// Package clone implements the struct cloner: given a struct type that may
// contain pointer fields, it synthesizes a pointer-free "twin" type with
// identical layout, and emits IR to copy every non-pointer scalar from an
// instance of the original into a fresh allocation of the twin. The twin is
// what gets shipped to the device as an opaque byte buffer, since pointers
// have no meaning across the host/device boundary (spec.md §4.2).
package clone

import (
	"github.com/xyproto/hostpatch/internal/ir"
	"github.com/xyproto/hostpatch/internal/layout"
)

// Cloner borrows the name registry twin types are allocated against and owns
// the cache of twins already built, mirroring
// the original implementation's StructCloner singleton (patch_hostside.cpp)
// but re-architected as a plain object constructed once by the driver and
// passed by borrowed reference (spec.md §9), not a package global.
type Cloner struct {
	names *ir.GlobalNames
	twins map[*ir.StructType]*ir.StructType
}

// NewCloner constructs a Cloner backed by names for twin-type naming.
func NewCloner(names *ir.GlobalNames) *Cloner {
	return &Cloner{names: names, twins: make(map[*ir.StructType]*ir.StructType)}
}

// Clone returns the pointer-free twin of st, building and caching it on
// first use. Every pointer field becomes an equally-sized integer field
// (padding with no semantic meaning, per spec.md §4.2's "replaced by padding
// of the same width"); every other field is carried over unchanged.
//
// Fails with UnsupportedStructShape if a field's size cannot be determined
// (the same condition layout.WalkStruct already fails on, surfaced here
// under clone's own contract).
func (c *Cloner) Clone(dl ir.DataLayout, st *ir.StructType) (*ir.StructType, error) {
	if twin, ok := c.twins[st]; ok {
		return twin, nil
	}

	fields := make([]ir.StructField, len(st.Fields))
	for i, f := range st.Fields {
		if ptr, ok := f.Type.(*ir.PointerType); ok {
			width := dl.SizeOf(ptr)
			fields[i] = ir.StructField{Name: f.Name, Type: integerOfWidth(width)}
			continue
		}
		if nested, ok := f.Type.(*ir.StructType); ok {
			nestedTwin, err := c.Clone(dl, nested)
			if err != nil {
				return nil, err
			}
			fields[i] = ir.StructField{Name: f.Name, Type: nestedTwin}
			continue
		}
		fields[i] = f
	}

	twinName := c.names.GetOrCreate(st, "struct.twin")
	twin := &ir.StructType{Name: twinName, Fields: fields}

	// Verify the twin's layout actually matches before handing it back —
	// the contract layout.WalkStruct enforces is size equality, not just
	// field-count equality.
	origInfo, err := layout.WalkStruct(dl, st)
	if err != nil {
		return nil, unsupportedShape(st, err)
	}
	twinInfo, err := layout.WalkStruct(dl, twin)
	if err != nil {
		return nil, unsupportedShape(st, err)
	}
	if origInfo.TotalSize != twinInfo.TotalSize {
		return nil, ir.NewErrorOnType(ir.ErrUnsupportedStructShape, st, "twin layout size %d does not match original size %d", twinInfo.TotalSize, origInfo.TotalSize)
	}

	c.twins[st] = twin
	return twin, nil
}

func unsupportedShape(st *ir.StructType, cause error) error {
	e := ir.NewErrorOnType(ir.ErrUnsupportedStructShape, st, "cannot lay out struct: %v", cause)
	e.Wrapped = cause
	return e
}

func integerOfWidth(bytes int) ir.Type {
	return &ir.IntType{Bits: bytes * 8}
}

// EmitCopy emits, after cursor, a fresh alloca of twin and a field-by-field
// scalar copy from src (a pointer to an instance of the original struct
// type) into it, recursing into nested non-pointer struct fields and
// skipping every pointer-typed leaf at any depth entirely (its twin
// counterpart is left uninitialized, since it is transmitted separately via
// the buffer-binding entry point, spec.md §4.2 — a whole-value copy of a
// nested struct would smuggle the raw pointer bits it embeds straight into
// the twin). Returns the new cursor and the pointer Value of the fresh twin
// allocation.
func (c *Cloner) EmitCopy(cursor *ir.Instruction, bb *ir.BasicBlock, origFields []ir.StructField, twin *ir.StructType, src ir.Value) (*ir.Instruction, ir.Value, error) {
	allocaInst := &ir.Instruction{Op: ir.OpAlloca, ResultType: ir.Ptr(twin), Name: c.names.FreshLocal("twin")}
	cursor = bb.InsertAfter(cursor, allocaInst)
	dst := ir.Value(allocaInst)

	cursor = c.emitFieldCopies(cursor, bb, origFields, src, dst, nil)
	return cursor, dst, nil
}

// emitFieldCopies walks fields depth-first, copying every non-pointer leaf
// from src into dst at the same field-index path (the twin mirrors the
// original's field structure one-for-one, including through nested structs,
// per Clone's own recursion), and skipping pointer-typed leaves.
func (c *Cloner) emitFieldCopies(cursor *ir.Instruction, bb *ir.BasicBlock, fields []ir.StructField, src, dst ir.Value, path []int) *ir.Instruction {
	for i, f := range fields {
		fieldPath := append(append([]int{}, path...), i)

		if nested, ok := f.Type.(*ir.StructType); ok {
			cursor = c.emitFieldCopies(cursor, bb, nested.Fields, src, dst, fieldPath)
			continue
		}
		if _, ok := f.Type.(*ir.PointerType); ok {
			continue // left uninitialized in the twin
		}

		srcGEP := &ir.Instruction{Op: ir.OpGEP, ResultType: ir.Ptr(f.Type), Name: c.names.FreshLocal("srcfield"), Operands: []ir.Value{src}, Indices: fieldPath}
		cursor = bb.InsertAfter(cursor, srcGEP)

		loaded := &ir.Instruction{Op: ir.OpLoad, ResultType: f.Type, Name: c.names.FreshLocal("val"), Operands: []ir.Value{srcGEP}}
		cursor = bb.InsertAfter(cursor, loaded)

		dstGEP := &ir.Instruction{Op: ir.OpGEP, ResultType: ir.Ptr(f.Type), Name: c.names.FreshLocal("dstfield"), Operands: []ir.Value{dst}, Indices: fieldPath}
		cursor = bb.InsertAfter(cursor, dstGEP)

		store := &ir.Instruction{Op: ir.OpStore, ResultType: ir.Void(), Operands: []ir.Value{loaded, dstGEP}}
		cursor = bb.InsertAfter(cursor, store)
	}
	return cursor
}
