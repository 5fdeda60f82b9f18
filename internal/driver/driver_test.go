package driver

import (
	"testing"

	"github.com/xyproto/hostpatch/internal/ir"
)

// buildHostModule mirrors the rewriter's own test fixture: a function that
// stages one int32 argument and one float-pointer argument, then launches
// "vecadd" (spec.md §8 scenario S1, "classify and marshal a scalar and a
// pointer argument end to end").
func buildHostModule() *ir.Module {
	mod := ir.NewModule("host")
	fn := &ir.Function{Name: "caller", Module: mod, Sig: &ir.FuncType{Ret: ir.I32()}}
	bb := &ir.BasicBlock{Name: "entry", Func: fn}
	fn.Blocks = append(fn.Blocks, bb)
	mod.Funcs = append(mod.Funcs, fn)

	setupArgDecl := mod.GetOrInsertFunction("kernel_setup_argument", &ir.FuncType{
		Params: []ir.Type{ir.Ptr(ir.I8()), ir.I32()},
		Ret:    ir.I32(),
	})
	launchDecl := mod.GetOrInsertFunction("kernel_launch", &ir.FuncType{
		Params: []ir.Type{ir.Ptr(ir.I8())},
		Ret:    ir.I32(),
	})

	slot0 := &ir.Instruction{Op: ir.OpAlloca, ResultType: ir.Ptr(ir.I32()), Name: "slot0"}
	bb.Append(slot0)
	cast0 := &ir.Instruction{Op: ir.OpBitCast, ResultType: ir.Ptr(ir.I8()), Name: "cast0", Operands: []ir.Value{slot0}}
	bb.Append(cast0)
	setup0 := &ir.Instruction{
		Op: ir.OpCall, ResultType: ir.I32(), Name: "s0",
		Operands:   []ir.Value{cast0, &ir.ConstInt{Ty: ir.I32(), Val: 4}},
		CalleeDecl: setupArgDecl, CallKind: ir.CallOrdinary,
	}
	bb.Append(setup0)

	slot1 := &ir.Instruction{Op: ir.OpAlloca, ResultType: ir.Ptr(ir.Ptr(ir.F32())), Name: "slot1"}
	bb.Append(slot1)
	cast1 := &ir.Instruction{Op: ir.OpBitCast, ResultType: ir.Ptr(ir.I8()), Name: "cast1", Operands: []ir.Value{slot1}}
	bb.Append(cast1)
	setup1 := &ir.Instruction{
		Op: ir.OpCall, ResultType: ir.I32(), Name: "s1",
		Operands:   []ir.Value{cast1, &ir.ConstInt{Ty: ir.I32(), Val: 8}},
		CalleeDecl: setupArgDecl, CallKind: ir.CallOrdinary,
	}
	bb.Append(setup1)

	fnRef := &ir.FuncRef{Name: "vecadd"}
	castFn := &ir.Instruction{Op: ir.OpBitCast, ResultType: ir.Ptr(ir.I8()), Name: "castfn", Operands: []ir.Value{fnRef}}
	bb.Append(castFn)
	launch := &ir.Instruction{
		Op: ir.OpCall, ResultType: ir.I32(), Name: "l0",
		Operands:   []ir.Value{castFn},
		CalleeDecl: launchDecl, CallKind: ir.CallOrdinary,
	}
	bb.Append(launch)

	ret := &ir.Instruction{Op: ir.OpRet, ResultType: ir.Void(), Operands: []ir.Value{launch}}
	bb.Append(ret)

	return fn.Module
}

func buildDeviceModule() *ir.Module {
	devMod := ir.NewModule("device")
	devFn := &ir.Function{Name: "vecadd", Module: devMod, Sig: &ir.FuncType{
		Params: []ir.Type{ir.I32(), ir.Ptr(ir.F32())},
		Ret:    ir.Void(),
	}}
	devFn.Params = []*ir.Param{
		{Name: "n", Ty: ir.I32(), Index: 0},
		{Name: "data", Ty: ir.Ptr(ir.F32()), Index: 1},
	}
	devMod.Funcs = append(devMod.Funcs, devFn)
	return devMod
}

func TestRewriteModuleProducesWellFormedCFG(t *testing.T) {
	d := New()
	hostMod := buildHostModule()
	devMod := buildDeviceModule()

	patched, err := d.RewriteModule(hostMod, devMod, "device ir source text")
	if err != nil {
		t.Fatalf("RewriteModule: %v", err)
	}
	if err := Verify(patched); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestRewriteModuleEmbedsDeviceIRSource(t *testing.T) {
	d := New()
	hostMod := buildHostModule()
	devMod := buildDeviceModule()

	const src = "; device module text\n"
	patched, err := d.RewriteModule(hostMod, devMod, src)
	if err != nil {
		t.Fatalf("RewriteModule: %v", err)
	}
	found := false
	for _, g := range patched.Globals {
		if g.Name == "device_ir_source" {
			found = true
			if g.Value != src {
				t.Fatalf("device_ir_source = %q, want %q", g.Value, src)
			}
		}
	}
	if !found {
		t.Fatalf("expected a device_ir_source global to be emitted")
	}
}

func TestRewriteModuleUnknownKernelFails(t *testing.T) {
	d := New()
	hostMod := buildHostModule()
	devMod := ir.NewModule("device") // no "vecadd" defined

	_, err := d.RewriteModule(hostMod, devMod, "")
	if err == nil || err.(*ir.Error).Kind != ir.ErrUnknownKernel {
		t.Fatalf("expected UnknownKernel, got %v", err)
	}
}

func TestRunRoundTripsThroughTextualIR(t *testing.T) {
	d := New()
	hostMod := buildHostModule()
	devMod := buildDeviceModule()
	hostSrc := ir.Print(hostMod)
	deviceSrc := ir.Print(devMod)

	out, err := d.Run(hostSrc, deviceSrc)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out == "" {
		t.Fatalf("expected non-empty patched IR text")
	}
	if _, err := ir.Parse(out); err != nil {
		t.Fatalf("patched IR failed to re-parse: %v", err)
	}
}

func TestRunReportsParseFailureKind(t *testing.T) {
	d := New()
	_, err := d.Run("not valid hostpatch ir", `module "device"`)
	if err == nil {
		t.Fatalf("expected a parse error")
	}
	ie, ok := err.(*ir.Error)
	if !ok {
		t.Fatalf("expected *ir.Error, got %T", err)
	}
	if ie.Kind != ir.ErrParseFailure {
		t.Fatalf("got error kind %v, want ParseFailure", ie.Kind)
	}
}
