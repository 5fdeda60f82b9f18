package clone

import (
	"testing"

	"github.com/xyproto/hostpatch/internal/ir"
	"github.com/xyproto/hostpatch/internal/layout"
)

func TestCloneReplacesPointerWithEqualWidthField(t *testing.T) {
	dl := ir.DefaultDataLayout()
	st := &ir.StructType{
		Name: "struct.node",
		Fields: []ir.StructField{
			{Name: "value", Type: ir.I32()},
			{Name: "next", Type: ir.Ptr(ir.I32())},
		},
	}

	c := NewCloner(ir.NewGlobalNames())
	twin, err := c.Clone(dl, st)
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}

	origInfo, err := layout.WalkStruct(dl, st)
	if err != nil {
		t.Fatalf("WalkStruct(orig): %v", err)
	}
	twinInfo, err := layout.WalkStruct(dl, twin)
	if err != nil {
		t.Fatalf("WalkStruct(twin): %v", err)
	}
	if origInfo.TotalSize != twinInfo.TotalSize {
		t.Fatalf("size mismatch: orig=%d twin=%d", origInfo.TotalSize, twinInfo.TotalSize)
	}
	if len(twinInfo.PointerInfos) != 0 {
		t.Fatalf("twin should be pointer-free, found %v", twinInfo.PointerInfos)
	}
	if _, ok := twin.Fields[1].Type.(*ir.IntType); !ok {
		t.Fatalf("expected pointer field replaced with integer, got %T", twin.Fields[1].Type)
	}
}

func TestCloneCached(t *testing.T) {
	dl := ir.DefaultDataLayout()
	st := &ir.StructType{Fields: []ir.StructField{{Name: "p", Type: ir.Ptr(ir.I8())}}}
	c := NewCloner(ir.NewGlobalNames())

	twin1, err := c.Clone(dl, st)
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}
	twin2, err := c.Clone(dl, st)
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}
	if twin1 != twin2 {
		t.Fatalf("expected cached twin, got distinct types")
	}
}

func TestEmitCopySkipsPointerFields(t *testing.T) {
	dl := ir.DefaultDataLayout()
	st := &ir.StructType{
		Name: "struct.node",
		Fields: []ir.StructField{
			{Name: "value", Type: ir.I32()},
			{Name: "next", Type: ir.Ptr(ir.I32())},
		},
	}
	c := NewCloner(ir.NewGlobalNames())
	twin, err := c.Clone(dl, st)
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}

	fn := &ir.Function{Name: "f"}
	bb := &ir.BasicBlock{Name: "entry", Func: fn}
	fn.Blocks = append(fn.Blocks, bb)
	src := &ir.Instruction{Op: ir.OpAlloca, ResultType: ir.Ptr(st), Name: "src"}
	bb.Append(src)

	_, dst, err := c.EmitCopy(src, bb, st.Fields, twin, src)
	if err != nil {
		t.Fatalf("EmitCopy: %v", err)
	}
	if dst == nil {
		t.Fatalf("expected non-nil twin pointer")
	}

	var stores, loads int
	for _, inst := range bb.Insts {
		switch inst.Op {
		case ir.OpStore:
			stores++
		case ir.OpLoad:
			loads++
		}
	}
	if stores != 1 || loads != 1 {
		t.Fatalf("expected exactly 1 store/load (value field only, pointer field skipped), got stores=%d loads=%d", stores, loads)
	}
}

// TestEmitCopyRecursesIntoNestedStruct mirrors layout_test.go's
// TestWalkStructNested fixture: a nested non-pointer struct field whose own
// field is a pointer. EmitCopy must recurse into "in" and copy its "a"
// field while still skipping "in.ptr", not whole-value copy "in" (which
// would smuggle the embedded pointer's raw bits into the twin).
func TestEmitCopyRecursesIntoNestedStruct(t *testing.T) {
	dl := ir.DefaultDataLayout()
	inner := &ir.StructType{
		Name: "struct.inner",
		Fields: []ir.StructField{
			{Name: "a", Type: ir.I8()},
			{Name: "ptr", Type: ir.Ptr(ir.I64())},
		},
	}
	outer := &ir.StructType{
		Name: "struct.outer",
		Fields: []ir.StructField{
			{Name: "tag", Type: ir.I32()},
			{Name: "in", Type: inner},
		},
	}
	c := NewCloner(ir.NewGlobalNames())
	twin, err := c.Clone(dl, outer)
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}

	fn := &ir.Function{Name: "f"}
	bb := &ir.BasicBlock{Name: "entry", Func: fn}
	fn.Blocks = append(fn.Blocks, bb)
	src := &ir.Instruction{Op: ir.OpAlloca, ResultType: ir.Ptr(outer), Name: "src"}
	bb.Append(src)

	_, dst, err := c.EmitCopy(src, bb, outer.Fields, twin, src)
	if err != nil {
		t.Fatalf("EmitCopy: %v", err)
	}
	if dst == nil {
		t.Fatalf("expected non-nil twin pointer")
	}

	var stores, loads int
	var sawTwoIndexGEP bool
	for _, inst := range bb.Insts {
		switch inst.Op {
		case ir.OpStore:
			stores++
		case ir.OpLoad:
			loads++
		case ir.OpGEP:
			if len(inst.Indices) == 2 && inst.Indices[0] == 1 && inst.Indices[1] == 0 {
				sawTwoIndexGEP = true
			}
		}
	}
	// "tag" (outer field 0) and "in.a" (outer field 1, inner field 0) are
	// copied; "in.ptr" (outer field 1, inner field 1) is skipped.
	if stores != 2 || loads != 2 {
		t.Fatalf("expected exactly 2 store/load pairs (tag, in.a), got stores=%d loads=%d", stores, loads)
	}
	if !sawTwoIndexGEP {
		t.Fatalf("expected a getelementptr with index path [1, 0] addressing the nested in.a field, bb=%+v", bb.Insts)
	}
}
