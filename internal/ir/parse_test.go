package ir

import "testing"

func TestParsePrintRoundTrip(t *testing.T) {
	src := `module "demo"

declare @set_kernel_arg_int32(i64, i32, i32) -> i32

func @caller(%n: i32) -> void {
entry:
  %slot = alloca i32
  store i32 %n, i32* %slot
  %v = load i32, i32* %slot
  %1 = call @set_kernel_arg_int32(i64 0, i32 0, i32 %v)
  ret void
}
`
	mod, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if mod.Name != "demo" {
		t.Fatalf("got module name %q", mod.Name)
	}
	fn := mod.FuncByName("caller")
	if fn == nil {
		t.Fatalf("caller not found")
	}
	if len(fn.Blocks) != 1 || len(fn.Blocks[0].Insts) != 5 {
		t.Fatalf("unexpected block shape: %#v", fn.Blocks)
	}

	out := Print(mod)
	mod2, err := Parse(out)
	if err != nil {
		t.Fatalf("re-parse of printed output: %v\n---\n%s", err, out)
	}
	if mod2.FuncByName("caller") == nil {
		t.Fatalf("re-parsed module missing caller")
	}
}

func TestParseExceptionCall(t *testing.T) {
	src := `module "demo"

declare @might_throw(i32) -> i32

func @f(%n: i32) -> void {
entry:
  %r = call exception @might_throw(i32 %n) to label %ok unwind label %lp
ok:
  ret void
lp:
  ret void
}
`
	mod, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	fn := mod.FuncByName("f")
	inst := fn.Blocks[0].Insts[0]
	if inst.CallKind != CallException {
		t.Fatalf("expected exception call")
	}
	if inst.NormalDest == nil || inst.NormalDest.Name != "ok" {
		t.Fatalf("normal dest not resolved: %#v", inst.NormalDest)
	}
	if inst.UnwindDest == nil || inst.UnwindDest.Name != "lp" {
		t.Fatalf("unwind dest not resolved: %#v", inst.UnwindDest)
	}
}
