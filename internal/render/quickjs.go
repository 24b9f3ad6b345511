package render

import (
	"context"
	"encoding/json"
	"fmt"

	"modernc.org/quickjs"

	"github.com/angusjf/elm-pages/internal/errors"
)

// QuickJSEngine renders with the compiled server application in a fresh
// QuickJS VM per request.
type QuickJSEngine struct {
	scripts       *ScriptLoader
	memoryLimitMB int
}

// NewQuickJSEngine creates an engine. memoryLimitMB of zero leaves VMs
// unlimited.
func NewQuickJSEngine(scripts *ScriptLoader, memoryLimitMB int) *QuickJSEngine {
	return &QuickJSEngine{scripts: scripts, memoryLimitMB: memoryLimitMB}
}

// Render implements Engine. The application must settle the render
// synchronously: promise jobs are not run.
func (e *QuickJSEngine) Render(ctx context.Context, req Request, post func(Message)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	scripts, err := e.scripts.Load()
	if err != nil {
		pe := errors.New("E141").Wrap(err)
		if id, ok := WorkerID(ctx); ok {
			pe = pe.WithDetail(fmt.Sprintf("Worker %d could not load the compiled application.", id))
		}
		return pe
	}

	vm, err := quickjs.NewVM()
	if err != nil {
		return fmt.Errorf("creating QuickJS VM: %w", err)
	}
	defer vm.Close()

	if e.memoryLimitMB > 0 {
		vm.SetMemoryLimit(uintptr(e.memoryLimitMB) * 1024 * 1024)
	}

	err = vm.RegisterFunc("__postMessage", func(tag, data string) {
		post(Message{Tag: tag, Data: rawJSON(data)})
	}, false)
	if err != nil {
		return fmt.Errorf("registering __postMessage: %w", err)
	}

	if err := evalDiscard(vm, scripts.App); err != nil {
		return fmt.Errorf("evaluating compiled application: %w", err)
	}
	if err := evalDiscard(vm, scripts.Shim); err != nil {
		return fmt.Errorf("evaluating render worker: %w", err)
	}

	reqJSON, err := json.Marshal(req)
	if err != nil {
		return err
	}
	// A JSON string literal is also a valid JS string literal.
	arg, err := json.Marshal(string(reqJSON))
	if err != nil {
		return err
	}
	if err := evalDiscard(vm, "__elmPagesRender("+string(arg)+")"); err != nil {
		return fmt.Errorf("rendering %s: %w", req.Pathname, err)
	}
	return nil
}

// evalDiscard evaluates js in global scope and frees the result.
func evalDiscard(vm *quickjs.VM, js string) error {
	v, err := vm.EvalValue(js, quickjs.EvalGlobal)
	if err != nil {
		return err
	}
	v.Free()
	return nil
}
