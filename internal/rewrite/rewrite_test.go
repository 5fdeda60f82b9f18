package rewrite

import (
	"testing"

	"github.com/xyproto/hostpatch/internal/clone"
	"github.com/xyproto/hostpatch/internal/device"
	"github.com/xyproto/hostpatch/internal/ir"
	"github.com/xyproto/hostpatch/internal/marshal"
)

// buildCaller constructs a host function that sets up one int32 argument
// and one pointer argument, then launches "vecadd", mirroring the source
// IR shape spec.md §4.5 describes: per-argument setup calls followed by a
// single launch call.
func buildCaller(mod *ir.Module) *ir.Function {
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
		Operands: []ir.Value{cast0, &ir.ConstInt{Ty: ir.I32(), Val: 4}},
		CalleeDecl: setupArgDecl, CallKind: ir.CallOrdinary,
	}
	bb.Append(setup0)

	slot1 := &ir.Instruction{Op: ir.OpAlloca, ResultType: ir.Ptr(ir.Ptr(ir.F32())), Name: "slot1"}
	bb.Append(slot1)
	cast1 := &ir.Instruction{Op: ir.OpBitCast, ResultType: ir.Ptr(ir.I8()), Name: "cast1", Operands: []ir.Value{slot1}}
	bb.Append(cast1)
	setup1 := &ir.Instruction{
		Op: ir.OpCall, ResultType: ir.I32(), Name: "s1",
		Operands: []ir.Value{cast1, &ir.ConstInt{Ty: ir.I32(), Val: 8}},
		CalleeDecl: setupArgDecl, CallKind: ir.CallOrdinary,
	}
	bb.Append(setup1)

	fnRef := &ir.FuncRef{Name: "vecadd"}
	castFn := &ir.Instruction{Op: ir.OpBitCast, ResultType: ir.Ptr(ir.I8()), Name: "castfn", Operands: []ir.Value{fnRef}}
	bb.Append(castFn)
	launch := &ir.Instruction{
		Op: ir.OpCall, ResultType: ir.I32(), Name: "l0",
		Operands: []ir.Value{castFn},
		CalleeDecl: launchDecl, CallKind: ir.CallOrdinary,
	}
	bb.Append(launch)

	ret := &ir.Instruction{Op: ir.OpRet, ResultType: ir.Void(), Operands: []ir.Value{launch}}
	bb.Append(ret)

	return fn
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

func newRewriter() (*Rewriter, *ir.Module) {
	mod := ir.NewModule("host")
	names := ir.NewGlobalNames()
	emitter := &marshal.Emitter{Module: mod, Layout: ir.DefaultDataLayout(), Names: names, Cloner: clone.NewCloner(names)}
	dev := device.New(buildDeviceModule())
	return New(emitter, dev), mod
}

func TestFunctionRewriteEmitsExpectedCallSequence(t *testing.T) {
	r, mod := newRewriter()
	fn := buildCaller(mod)

	if err := r.Function(fn); err != nil {
		t.Fatalf("Function: %v", err)
	}

	var calls []string
	bb := fn.Blocks[0]
	for _, inst := range bb.Insts {
		if inst.Op == ir.OpCall && inst.CalleeDecl != nil {
			calls = append(calls, inst.CalleeDecl.Name)
		}
	}

	want := []string{"configure_kernel", "set_kernel_arg_int32", "set_kernel_arg_gpu_buffer", "kernel_go"}
	if len(calls) != len(want) {
		t.Fatalf("got calls %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("call %d: got %q, want %q (full sequence %v)", i, calls[i], want[i], calls)
		}
	}
}

func TestFunctionNeutralizesSetupAndLaunchCalls(t *testing.T) {
	r, mod := newRewriter()
	fn := buildCaller(mod)

	if err := r.Function(fn); err != nil {
		t.Fatalf("Function: %v", err)
	}

	bb := fn.Blocks[0]
	for _, inst := range bb.Insts {
		if inst.Op == ir.OpCall && inst.CalleeDecl != nil {
			name := inst.CalleeDecl.Name
			if name == "kernel_setup_argument" || name == "kernel_launch" {
				t.Fatalf("expected %s to be neutralized (removed), still present", name)
			}
		}
	}
}

func TestFunctionRejectsUnknownKernel(t *testing.T) {
	r, mod := newRewriter()
	fn := buildCaller(mod)
	// Rename the only launch target so device lookup fails.
	for _, inst := range fn.Blocks[0].Insts {
		if inst.Op == ir.OpBitCast {
			if fr, ok := inst.Operands[0].(*ir.FuncRef); ok {
				fr.Name = "nonexistent"
			}
		}
	}

	err := r.Function(fn)
	if err == nil || err.(*ir.Error).Kind != ir.ErrUnknownKernel {
		t.Fatalf("expected UnknownKernel, got %v", err)
	}
}

func TestFunctionExceptionCallGetsNormalEdgeRestored(t *testing.T) {
	r, mod := newRewriter()
	fn := buildCaller(mod)
	normalBlock := &ir.BasicBlock{Name: "normal", Func: fn}
	fn.Blocks = append(fn.Blocks, normalBlock)
	normalBlock.Append(&ir.Instruction{Op: ir.OpRet, ResultType: ir.Void()})

	for _, inst := range fn.Blocks[0].Insts {
		if inst.Op == ir.OpCall && inst.CalleeDecl != nil && inst.CalleeDecl.Name == "kernel_launch" {
			inst.CallKind = ir.CallException
			inst.NormalDest = normalBlock
		}
	}

	if err := r.Function(fn); err != nil {
		t.Fatalf("Function: %v", err)
	}

	var sawBranch bool
	for _, inst := range fn.Blocks[0].Insts {
		if inst.Op == ir.OpBranch && inst.Target == normalBlock {
			sawBranch = true
		}
	}
	if !sawBranch {
		t.Fatalf("expected an unconditional branch to the normal successor after neutralizing the exception-style launch call")
	}
}
