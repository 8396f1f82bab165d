package runtime

import "github.com/taka231/wasm-jit/internal/wasm"

// store indexes a module's exports by name, grounded on
// original_source/src/runtime/store.rs's Store type.
type store struct {
	module  *wasm.Module
	exports map[string]wasm.Export
}

func newStore(module *wasm.Module) *store {
	exports := make(map[string]wasm.Export, len(module.Exports))
	for _, e := range module.Exports {
		exports[e.Name] = e
	}
	return &store{module: module, exports: exports}
}

func (s *store) getExport(name string) (wasm.Export, error) {
	e, ok := s.exports[name]
	if !ok {
		return wasm.Export{}, &ExportNotFoundError{Name: name}
	}
	return e, nil
}

func (s *store) funcType(funcIndex uint32) (wasm.FunctionType, error) {
	t, ok := s.module.TypeOf(funcIndex)
	if !ok {
		return wasm.FunctionType{}, &FunctionTypeNotFoundError{FuncIndex: funcIndex}
	}
	return t, nil
}
