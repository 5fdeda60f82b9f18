// Package rewrite implements the launch-site rewriter: the per-function
// state machine that walks a function's basic blocks, collects per-argument
// setup calls, and when the matching launch call is reached, splices in the
// runtime ABI prologue, the marshalling sequence, and the trigger, then
// neutralizes the original calls (spec.md §4.5).
package rewrite

import (
	"github.com/xyproto/hostpatch/internal/device"
	"github.com/xyproto/hostpatch/internal/diag"
	"github.com/xyproto/hostpatch/internal/ir"
	"github.com/xyproto/hostpatch/internal/marshal"
)

const (
	setupArgSymbol = "kernel_setup_argument"
	launchSymbol   = "kernel_launch"
)

// Rewriter holds the collaborators one function rewrite needs. A fresh
// Rewriter's call state (LaunchCallInfo) is owned per function, never a
// package singleton, per spec.md §9's re-architecture note — the original
// implementation's `static unique_ptr<LaunchCallInfo> launchCallInfo` is
// exactly the anti-pattern this type replaces.
type Rewriter struct {
	Emitter *marshal.Emitter
	Device  *device.Module

	// DeviceIRSource is the device module's verbatim source text, embedded
	// into the host module's device_ir_source global once per module
	// (spec.md §4.5 step 4 / §6: "embedded verbatim"). Left empty only when
	// no device IR source text is available to the driver.
	DeviceIRSource string
}

// New constructs a Rewriter over emitter and dev.
func New(emitter *marshal.Emitter, dev *device.Module) *Rewriter {
	return &Rewriter{Emitter: emitter, Device: dev}
}

// Function rewrites every launch site in fn in place. It returns an error
// immediately on any failure, per spec.md §7's "every failure aborts the
// current module's transformation" — no partial output.
func (r *Rewriter) Function(fn *ir.Function) error {
	info := &ir.LaunchCallInfo{}
	var toNeutralize []*ir.Instruction

	for _, bb := range fn.Blocks {
		// Walk a snapshot of the block's instructions: rewriteLaunchSite
		// mutates bb.Insts (inserting marshalling IR) as it goes, and
		// iterating a stale slice would either skip or double-visit the
		// newly spliced-in calls.
		insts := append([]*ir.Instruction{}, bb.Insts...)
		for _, inst := range insts {
			if inst.Op != ir.OpCall {
				continue
			}
			calleeName := calleeNameOf(inst)

			switch calleeName {
			case setupArgSymbol:
				pi, err := r.collectSetupArgument(bb, inst, len(info.Params))
				if err != nil {
					return err
				}
				info.Params = append(info.Params, pi)
				toNeutralize = append(toNeutralize, inst)

			case launchSymbol:
				if _, err := r.rewriteLaunchSite(bb, inst, info); err != nil {
					return err
				}
				toNeutralize = append(toNeutralize, inst)
				info.Reset() // spec.md invariant 3
			}
		}
	}

	neutralize(toNeutralize)
	return nil
}

func calleeNameOf(inst *ir.Instruction) string {
	if inst.CalleeDecl != nil {
		return inst.CalleeDecl.Name
	}
	if inst.Callee != nil {
		return inst.Callee.Name
	}
	return ""
}

// collectSetupArgument implements spec.md §4.5's kernel_setup_argument
// transition: recover the staging allocation from operand 0 (a bitcast to
// opaque pointer), insert a load of it immediately before the setup call
// (so the load dominates every later use, per invariant 2), and record a
// fresh ParamInfo.
func (r *Rewriter) collectSetupArgument(bb *ir.BasicBlock, call *ir.Instruction, paramIndex int) (*ir.ParamInfo, error) {
	if len(call.Operands) < 2 {
		return nil, ir.NewErrorOn(ir.ErrMalformedSetupArgument, call, "kernel_setup_argument requires at least 2 operands")
	}
	ptrOperand := call.Operands[0]
	sizeOperand := call.Operands[1]

	staging, ok := recoverStagingAllocation(ptrOperand)
	if !ok {
		return nil, ir.NewErrorOn(ir.ErrMalformedSetupArgument, ptrOperand, "setup call's first operand is not a staging allocation")
	}

	size := 0
	if ci, ok := sizeOperand.(*ir.ConstInt); ok {
		size = int(ci.Val)
	}

	elemType := ir.Type(ir.I8())
	if ptrTy, ok := staging.Type().(*ir.PointerType); ok {
		elemType = ptrTy.Elem
	}
	load := &ir.Instruction{Op: ir.OpLoad, ResultType: elemType, Name: r.Emitter.Names.FreshLocal("arg"), Operands: []ir.Value{staging}}
	bb.InsertBefore(call, load)

	return &ir.ParamInfo{
		ParamIndex: paramIndex,
		Size:       size,
		Value:      load,
		Pointer:    staging,
		SetupCall:  call,
	}, nil
}

// recoverStagingAllocation walks back through a bitcast (if present) to the
// instruction that actually produced the staging allocation, preserving the
// original implementation's MalformedSetupArgument precondition check
// (getLaunchArgValue, patch_hostside.cpp lines 578-585: the first operand
// must itself be an Instruction).
func recoverStagingAllocation(v ir.Value) (ir.Value, bool) {
	inst, ok := v.(*ir.Instruction)
	if !ok {
		return nil, false
	}
	if inst.Op == ir.OpBitCast && len(inst.Operands) == 1 {
		if src, ok := inst.Operands[0].(*ir.Instruction); ok {
			return src, true
		}
		return nil, false
	}
	return inst, true
}

// rewriteLaunchSite implements spec.md §4.5's kernel_launch transition:
// resolve the kernel, look it up device-side, populate ParamInfo device
// attributes, emit the configure_kernel/marshalling/kernel_go sequence.
func (r *Rewriter) rewriteLaunchSite(bb *ir.BasicBlock, call *ir.Instruction, info *ir.LaunchCallInfo) (marshal.Cursor, error) {
	kernelName, err := resolveKernelName(call)
	if err != nil {
		return marshal.Cursor{}, err
	}
	info.KernelName = kernelName

	devFn, ok := r.Device.Lookup(kernelName)
	if !ok {
		return marshal.Cursor{}, ir.NewError(ir.ErrUnknownKernel, "no device-side definition for kernel %q", kernelName)
	}

	attrs := r.Device.Params(devFn)
	if len(info.Params) > len(attrs) {
		diag.Warnf("launch site for %q has %d setup args but device kernel declares %d parameters; truncating", kernelName, len(info.Params), len(attrs))
		info.Params = info.Params[:len(attrs)]
	}
	for i, p := range info.Params {
		p.DeviceSideType = attrs[i].Type
		p.DeviceSideByVal = attrs[i].ByVal
	}

	kernelNameGlobal := r.Emitter.Module.AddGlobalString("kernel_name", kernelName)
	deviceIRGlobal := r.Emitter.Module.AddGlobalString("device_ir_source", r.DeviceIRSource)

	configureDecl := r.Emitter.Module.GetOrInsertFunction("configure_kernel", &ir.FuncType{
		Params: []ir.Type{ir.Ptr(ir.I8()), ir.Ptr(ir.I8())},
		Ret:    ir.Void(),
	})
	configureCall := &ir.Instruction{
		Op:         ir.OpCall,
		ResultType: ir.Void(),
		Operands:   []ir.Value{kernelNameGlobal, deviceIRGlobal},
		CalleeDecl: configureDecl,
		CallKind:   ir.CallOrdinary,
	}
	bb.InsertBefore(call, configureCall)
	cursor := marshal.Cursor{Block: bb, Last: configureCall}

	for _, p := range info.Params {
		cursor, err = r.Emitter.MarshalArgument(cursor, p)
		if err != nil {
			return cursor, err
		}
	}

	goDecl := r.Emitter.Module.GetOrInsertFunction("kernel_go", &ir.FuncType{Ret: ir.Void()})
	goCall := &ir.Instruction{Op: ir.OpCall, ResultType: ir.Void(), CalleeDecl: goDecl, CallKind: ir.CallOrdinary}
	cursor.Last = cursor.Block.InsertAfter(cursor.Last, goCall)

	return cursor, nil
}

// resolveKernelName extracts the kernel function symbol from a
// kernel_launch call's sole operand, walking back through the
// bitcast-to-bytes the front end wraps the function reference in (spec.md
// §4.5 step 1; the original implementation walks a BitCastInst/
// ConstantExpr, patch_hostside.cpp's getLaunchTypes, lines 612-615).
func resolveKernelName(call *ir.Instruction) (string, error) {
	if len(call.Operands) != 1 {
		return "", ir.NewErrorOn(ir.ErrMalformedSetupArgument, call, "kernel_launch requires exactly 1 operand")
	}
	operand := call.Operands[0]
	if inst, ok := operand.(*ir.Instruction); ok && inst.Op == ir.OpBitCast && len(inst.Operands) == 1 {
		operand = inst.Operands[0]
	}
	if fn, ok := operand.(*ir.FuncRef); ok {
		return fn.Name, nil
	}
	return "", ir.NewErrorOn(ir.ErrMalformedSetupArgument, operand, "kernel_launch operand does not resolve to a function reference")
}

// neutralize implements spec.md §4.5's end-of-function neutralization pass
// and invariant 5 / §10's exception-call normal-edge restoration: every
// marked call is replaced with a zero constant of its original result type;
// if the call is exception-style, an unconditional branch to its original
// normal successor is inserted first.
func neutralize(calls []*ir.Instruction) {
	for _, call := range calls {
		bb := call.Parent
		if bb == nil {
			continue
		}
		if call.CallKind == ir.CallException && call.NormalDest != nil {
			branch := &ir.Instruction{Op: ir.OpBranch, ResultType: ir.Void(), Target: call.NormalDest}
			bb.InsertAfter(call, branch)
		}
		replaceAllUses(bb.Func, call, ir.ZeroOf(call.ResultType))
		bb.Remove(call)
	}
}

// replaceAllUses rewrites every operand reference to old across fn with
// replacement. Used only for neutralized setup/launch calls, whose results
// (per spec.md, always consumed only by the rewriter's own bookkeeping, or
// unused) need a well-typed placeholder once the call itself is removed.
func replaceAllUses(fn *ir.Function, old *ir.Instruction, replacement ir.Value) {
	if fn == nil || replacement == nil {
		return
	}
	for _, bb := range fn.Blocks {
		for _, inst := range bb.Insts {
			for i, op := range inst.Operands {
				if op == old {
					inst.Operands[i] = replacement
				}
			}
		}
	}
}
