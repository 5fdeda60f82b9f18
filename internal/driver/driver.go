// Package driver implements the module driver (spec.md §4.6): parse host and
// device IR, rewrite every host function's launch sites, verify the result,
// and print the patched host IR.
package driver

import (
	"fmt"

	"github.com/xyproto/hostpatch/internal/clone"
	"github.com/xyproto/hostpatch/internal/device"
	"github.com/xyproto/hostpatch/internal/diag"
	"github.com/xyproto/hostpatch/internal/ir"
	"github.com/xyproto/hostpatch/internal/marshal"
	"github.com/xyproto/hostpatch/internal/rewrite"
)

// Driver owns the long-lived objects spec.md §9's re-architecture note
// requires be constructed once and threaded by reference rather than kept as
// package-level globals: the name registry and the struct cloner's twin
// cache.
type Driver struct {
	Names  *ir.GlobalNames
	Cloner *clone.Cloner
}

// New constructs a Driver with a fresh name registry and cloner.
func New() *Driver {
	names := ir.NewGlobalNames()
	return &Driver{Names: names, Cloner: clone.NewCloner(names)}
}

// Run parses hostSrc and deviceSrc, rewrites every function in the host
// module, verifies the result, and returns the patched host IR's textual
// form. deviceSrc is embedded verbatim into the host module's
// device_ir_source global (spec.md §6).
func (d *Driver) Run(hostSrc, deviceSrc string) (string, error) {
	hostMod, err := ir.Parse(hostSrc)
	if err != nil {
		return "", wrapParseFailure(err)
	}
	deviceMod, err := ir.Parse(deviceSrc)
	if err != nil {
		return "", wrapParseFailure(err)
	}

	patched, err := d.RewriteModule(hostMod, deviceMod, deviceSrc)
	if err != nil {
		return "", err
	}
	return ir.Print(patched), nil
}

// RewriteModule runs the launch-site rewriter over every function defined in
// hostMod (declarations have no blocks and are skipped), then verifies the
// result. deviceIRSource is embedded into the device_ir_source global exactly
// once per module, since internal/ir.Module.AddGlobalString dedups by name.
func (d *Driver) RewriteModule(hostMod, deviceMod *ir.Module, deviceIRSource string) (*ir.Module, error) {
	emitter := &marshal.Emitter{
		Module: hostMod,
		Layout: hostMod.DataLayout,
		Names:  d.Names,
		Cloner: d.Cloner,
	}
	r := rewrite.New(emitter, device.New(deviceMod))
	r.DeviceIRSource = deviceIRSource

	for _, fn := range hostMod.Funcs {
		if len(fn.Blocks) == 0 {
			continue // declaration only, nothing to rewrite
		}
		diag.Debugf("rewriting function %s", fn.Name)
		if err := r.Function(fn); err != nil {
			return nil, err
		}
	}

	if err := Verify(hostMod); err != nil {
		return nil, err
	}
	return hostMod, nil
}

// Verify checks the CFG well-formedness invariant spec.md §8 property 5
// requires of the rewriter's output: every basic block ends in exactly one
// terminator (br or ret), and no terminator appears mid-block.
func Verify(mod *ir.Module) error {
	for _, fn := range mod.Funcs {
		for _, bb := range fn.Blocks {
			if len(bb.Insts) == 0 {
				return ir.NewError(ir.ErrVerificationFailure, "function %s: block %s has no instructions", fn.Name, bb.Name)
			}
			for i, inst := range bb.Insts {
				isTerm := inst.Op == ir.OpBranch || inst.Op == ir.OpRet
				last := i == len(bb.Insts)-1
				if isTerm && !last {
					return ir.NewErrorOn(ir.ErrVerificationFailure, inst, "function %s: block %s has a terminator before its last instruction", fn.Name, bb.Name)
				}
				if last && !isTerm {
					return ir.NewErrorOn(ir.ErrVerificationFailure, inst, "function %s: block %s does not end in a terminator", fn.Name, bb.Name)
				}
			}
		}
	}
	return nil
}

// wrapParseFailure tags a raw parser error with ErrParseFailure so the CLI's
// exit-code mapping (spec.md §6/§7) maps it to exit code 1, not the generic
// -1 of a transformation error.
func wrapParseFailure(err error) error {
	if ie, ok := err.(*ir.Error); ok {
		return ie
	}
	return ir.NewError(ir.ErrParseFailure, "%s", fmt.Sprint(err))
}
