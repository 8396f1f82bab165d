package runtime

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/taka231/wasm-jit/api"
	"github.com/taka231/wasm-jit/internal/wasm"
)

func i64Type() wasm.FunctionType { return wasm.FunctionType{Results: []api.ValueType{api.ValueTypeI64}} }

func singleFuncModule(fnType wasm.FunctionType, body []wasm.Operator, exportName string) *wasm.Module {
	return &wasm.Module{
		Types:   []wasm.FunctionType{fnType},
		Funcs:   []uint32{0},
		Code:    []wasm.Code{{Body: body}},
		Exports: []wasm.Export{{Name: exportName, Kind: wasm.ExportKindFunc, Index: 0}},
	}
}

func newTestRuntime(t *testing.T, module *wasm.Module) *Runtime {
	t.Helper()
	rt, err := Init(module, NewConfig())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, rt.Close()) })
	return rt
}

func TestCallFuncByName_addConstants(t *testing.T) {
	module := singleFuncModule(i64Type(), []wasm.Operator{
		wasm.I64Const(10),
		wasm.I64Const(20),
		wasm.I64Add,
		wasm.End,
	}, "add_constants")

	rt := newTestRuntime(t, module)
	results, err := rt.CallFuncByName("add_constants", nil)
	require.NoError(t, err)
	require.Equal(t, []api.Value{api.I64(30)}, results)
}

func TestCallFuncByName_addWithArgs(t *testing.T) {
	fnType := wasm.FunctionType{
		Params:  []api.ValueType{api.ValueTypeI64, api.ValueTypeI64},
		Results: []api.ValueType{api.ValueTypeI64},
	}
	module := singleFuncModule(fnType, []wasm.Operator{
		wasm.LocalGet(0),
		wasm.LocalGet(1),
		wasm.I64Add,
		wasm.End,
	}, "add")

	rt := newTestRuntime(t, module)
	results, err := rt.CallFuncByName("add", []api.Value{api.I64(12), api.I64(18)})
	require.NoError(t, err)
	require.Equal(t, []api.Value{api.I64(30)}, results)
}

func TestCallFuncByName_addWithArgsI32(t *testing.T) {
	fnType := wasm.FunctionType{
		Params:  []api.ValueType{api.ValueTypeI32, api.ValueTypeI32},
		Results: []api.ValueType{api.ValueTypeI32},
	}
	module := singleFuncModule(fnType, []wasm.Operator{
		wasm.LocalGet(0),
		wasm.LocalGet(1),
		wasm.I32Add,
		wasm.End,
	}, "add32")

	rt := newTestRuntime(t, module)
	results, err := rt.CallFuncByName("add32", []api.Value{api.I32(12), api.I32(18)})
	require.NoError(t, err)
	require.Equal(t, []api.Value{api.I32(30)}, results)
}

func TestCallFuncByName_sub(t *testing.T) {
	fnType := wasm.FunctionType{
		Params:  []api.ValueType{api.ValueTypeI64, api.ValueTypeI64},
		Results: []api.ValueType{api.ValueTypeI64},
	}
	module := singleFuncModule(fnType, []wasm.Operator{
		wasm.LocalGet(0),
		wasm.LocalGet(1),
		wasm.I64Sub,
		wasm.End,
	}, "sub")

	rt := newTestRuntime(t, module)
	results, err := rt.CallFuncByName("sub", []api.Value{api.I64(50), api.I64(20)})
	require.NoError(t, err)
	require.Equal(t, []api.Value{api.I64(30)}, results)
}

func TestCallFuncByName_eq(t *testing.T) {
	fnType := wasm.FunctionType{
		Params:  []api.ValueType{api.ValueTypeI64, api.ValueTypeI64},
		Results: []api.ValueType{api.ValueTypeI64},
	}
	module := singleFuncModule(fnType, []wasm.Operator{
		wasm.LocalGet(0),
		wasm.LocalGet(1),
		wasm.I64Eq,
		wasm.End,
	}, "eq")

	rt := newTestRuntime(t, module)
	results, err := rt.CallFuncByName("eq", []api.Value{api.I64(7), api.I64(7)})
	require.NoError(t, err)
	require.Equal(t, []api.Value{api.I64(1)}, results)

	results, err = rt.CallFuncByName("eq", []api.Value{api.I64(7), api.I64(8)})
	require.NoError(t, err)
	require.Equal(t, []api.Value{api.I64(0)}, results)
}

func TestCallFuncByName_eqI32(t *testing.T) {
	fnType := wasm.FunctionType{
		Params:  []api.ValueType{api.ValueTypeI32, api.ValueTypeI32},
		Results: []api.ValueType{api.ValueTypeI32},
	}
	module := singleFuncModule(fnType, []wasm.Operator{
		wasm.LocalGet(0),
		wasm.LocalGet(1),
		wasm.I32Eq,
		wasm.End,
	}, "eq32")

	rt := newTestRuntime(t, module)
	results, err := rt.CallFuncByName("eq32", []api.Value{api.I32(3), api.I32(3)})
	require.NoError(t, err)
	require.Equal(t, []api.Value{api.I32(1)}, results)
}

// TestCallFuncByName_crossFunctionCall exercises a non-self call: an
// exported function invoking an internal helper that has never been
// invoked before, forcing call_func_internal's lazy-compile path.
func TestCallFuncByName_crossFunctionCall(t *testing.T) {
	helperType := wasm.FunctionType{
		Params:  []api.ValueType{api.ValueTypeI64},
		Results: []api.ValueType{api.ValueTypeI64},
	}
	entryType := wasm.FunctionType{
		Params:  []api.ValueType{api.ValueTypeI64},
		Results: []api.ValueType{api.ValueTypeI64},
	}
	module := &wasm.Module{
		Types: []wasm.FunctionType{helperType, entryType},
		Funcs: []uint32{0, 1},
		Code: []wasm.Code{
			{Body: []wasm.Operator{ // helper(x) = x + 100
				wasm.LocalGet(0),
				wasm.I64Const(100),
				wasm.I64Add,
				wasm.End,
			}},
			{Body: []wasm.Operator{ // entry(x) = helper(x) + 100
				wasm.LocalGet(0),
				wasm.Call(0),
				wasm.I64Const(100),
				wasm.I64Add,
				wasm.End,
			}},
		},
		Exports: []wasm.Export{{Name: "entry", Kind: wasm.ExportKindFunc, Index: 1}},
	}

	rt := newTestRuntime(t, module)
	results, err := rt.CallFuncByName("entry", []api.Value{api.I64(200)})
	require.NoError(t, err)
	require.Equal(t, []api.Value{api.I64(400)}, results)
}

// fibModule builds a single self-recursive function computing the
// classic doubly-nested-if Fibonacci:
//
//	fib(n) = n == 0 ? 0 : (n == 1 ? 1 : fib(n-1) + fib(n-2))
func fibModule() *wasm.Module {
	resultI64 := wasm.BlockType{Results: []api.ValueType{api.ValueTypeI64}}
	body := []wasm.Operator{
		wasm.LocalGet(0),
		wasm.I64Const(0),
		wasm.I64Eq,
		wasm.If(resultI64),
		wasm.I64Const(0),
		wasm.Else,
		wasm.LocalGet(0),
		wasm.I64Const(1),
		wasm.I64Eq,
		wasm.If(resultI64),
		wasm.I64Const(1),
		wasm.Else,
		wasm.LocalGet(0),
		wasm.I64Const(1),
		wasm.I64Sub,
		wasm.Call(0),
		wasm.LocalGet(0),
		wasm.I64Const(2),
		wasm.I64Sub,
		wasm.Call(0),
		wasm.I64Add,
		wasm.End,
		wasm.End,
		wasm.End,
	}
	return singleFuncModule(i64Type(), body, "fib")
}

func TestCallFuncByName_fibonacci(t *testing.T) {
	fnType := wasm.FunctionType{
		Params:  []api.ValueType{api.ValueTypeI64},
		Results: []api.ValueType{api.ValueTypeI64},
	}
	module := fibModule()
	module.Types[0] = fnType

	rt := newTestRuntime(t, module)
	results, err := rt.CallFuncByName("fib", []api.Value{api.I64(10)})
	require.NoError(t, err)
	require.Equal(t, []api.Value{api.I64(55)}, results)
}

func TestCallFuncByName_exportNotFound(t *testing.T) {
	module := singleFuncModule(i64Type(), []wasm.Operator{wasm.I64Const(1), wasm.End}, "one")
	rt := newTestRuntime(t, module)
	_, err := rt.CallFuncByName("missing", nil)
	require.Error(t, err)
	require.IsType(t, &ExportNotFoundError{}, err)
}
