// Package layout is the type layout oracle: it answers "how big is T" and
// "where are the pointers inside T", the questions the struct cloner and
// argument classifier build on. It generalizes the teacher's
// CStructDecl.CalculateStructLayout (ast.go) from a flat C-struct field list
// to the IR's possibly-nested ir.StructType.
package layout

import (
	"github.com/xyproto/hostpatch/internal/ir"
)

// PointerInfo is one pointer-typed leaf found during a struct walk: its
// field-index path from the outermost struct, its element type, and its
// byte offset from the struct base.
type PointerInfo struct {
	Offset      int
	ElementType ir.Type
	IndexPath   []int
}

// StructInfo is the result of a struct layout walk: total size plus every
// pointer-typed leaf found along the way.
type StructInfo struct {
	TotalSize    int
	PointerInfos []*PointerInfo
}

// SizeOf returns the allocation size of t in bytes, descending into
// struct/vector types as needed. Scalar and pointer sizes are delegated to
// the module's DataLayout; aggregate sizes are computed here.
func SizeOf(dl ir.DataLayout, t ir.Type) (int, error) {
	switch v := t.(type) {
	case *ir.StructType:
		info, err := WalkStruct(dl, v)
		if err != nil {
			return 0, err
		}
		return info.TotalSize, nil
	case *ir.VectorType:
		elemSize, err := SizeOf(dl, v.Elem)
		if err != nil {
			return 0, err
		}
		return elemSize * v.Count, nil
	default:
		size := dl.SizeOf(t)
		if size == 0 {
			return 0, ir.NewErrorOnType(ir.ErrUnsupportedArgumentKind, t, "cannot size type")
		}
		return size, nil
	}
}

// WalkStruct performs the depth-first, field-index-ordered offset/padding
// walk ast.go's CalculateStructLayout performs for flat C structs,
// generalized to a (possibly nested) IR struct type and extended to record
// every pointer-typed leaf's offset and index path instead of only the
// struct's total size.
//
// Arrays of structs are not a distinct IR shape here (the core forbids
// device-side by-value aggregates that would need per-element pointer
// walks, spec.md §4.1), so no special-casing for them is needed.
func WalkStruct(dl ir.DataLayout, st *ir.StructType) (*StructInfo, error) {
	info := &StructInfo{}
	size, err := walkFields(dl, st.Fields, nil, 0, info)
	if err != nil {
		return nil, err
	}
	info.TotalSize = size
	return info, nil
}

// walkFields accumulates offset/padding across fields, recursing into
// nested struct fields and recording a PointerInfo at every pointer leaf.
// prefix is the field-index path to the struct currently being walked;
// baseOffset is that struct's offset from the outermost struct's base.
func walkFields(dl ir.DataLayout, fields []ir.StructField, prefix []int, baseOffset int, info *StructInfo) (int, error) {
	currentOffset := 0
	maxAlign := 1

	for i, field := range fields {
		path := append(append([]int{}, prefix...), i)

		switch ft := field.Type.(type) {
		case *ir.StructType:
			nested, err := WalkStruct(dl, ft)
			if err != nil {
				return 0, err
			}
			align := structAlign(dl, ft)
			padding := (align - (currentOffset % align)) % align
			offset := currentOffset + padding
			for _, p := range nested.PointerInfos {
				info.PointerInfos = append(info.PointerInfos, &PointerInfo{
					Offset:      baseOffset + offset + p.Offset,
					ElementType: p.ElementType,
					IndexPath:   append(append([]int{}, path...), p.IndexPath...),
				})
			}
			currentOffset = offset + nested.TotalSize
			if align > maxAlign {
				maxAlign = align
			}
			continue
		case *ir.PointerType:
			size := dl.SizeOf(ft)
			align := size
			padding := (align - (currentOffset % align)) % align
			offset := currentOffset + padding
			info.PointerInfos = append(info.PointerInfos, &PointerInfo{
				Offset:      baseOffset + offset,
				ElementType: ft.Elem,
				IndexPath:   path,
			})
			currentOffset = offset + size
			if align > maxAlign {
				maxAlign = align
			}
			continue
		default:
			size, err := SizeOf(dl, ft)
			if err != nil {
				return 0, err
			}
			if size == 0 {
				return 0, ir.NewErrorOnType(ir.ErrUnsupportedStructShape, ft, "field %d has unsupported type", i)
			}
			align := size
			padding := (align - (currentOffset % align)) % align
			currentOffset = currentOffset + padding + size
			if align > maxAlign {
				maxAlign = align
			}
		}
	}

	padding := (maxAlign - (currentOffset % maxAlign)) % maxAlign
	return currentOffset + padding, nil
}

func structAlign(dl ir.DataLayout, st *ir.StructType) int {
	info, err := WalkStruct(dl, st)
	if err != nil || info.TotalSize == 0 {
		return 1
	}
	align := 1
	for _, f := range st.Fields {
		var a int
		switch ft := f.Type.(type) {
		case *ir.StructType:
			a = structAlign(dl, ft)
		default:
			a = dl.SizeOf(ft)
		}
		if a > align {
			align = a
		}
	}
	return align
}

// HasPointers reports whether st contains any pointer-typed leaf, at any
// nesting depth — the check the classifier uses to decide whether a
// pointer-to-struct argument may be forwarded as-is (spec.md §4.3 branch 4)
// or must be rejected with PointersInsideDeviceStruct.
func HasPointers(dl ir.DataLayout, st *ir.StructType) (bool, error) {
	info, err := WalkStruct(dl, st)
	if err != nil {
		return false, err
	}
	return len(info.PointerInfos) > 0, nil
}
