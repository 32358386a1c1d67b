// Package registry's Sandbox runs a single plug-in file's JavaScript in an
// otto VM that exposes one global, register(object), mirroring §4.4's
// sandboxed-load contract. Directly grounded in the teacher's
// jschallenge.OttoSolver, which already runs untrusted JS snippets in a
// mutex-guarded otto.Otto VM; here the VM is single-use (one per load)
// instead of long-lived, since each plug-in file is reloaded from scratch.
package registry

import (
	"fmt"
	"sync"

	"github.com/robertkrimen/otto"
)

// Sandbox loads one plug-in file's source and returns every object passed
// to register() during evaluation.
type Sandbox struct{}

// NewSandbox creates a Sandbox. It holds no state; every Load call gets its
// own fresh otto VM so one file's globals cannot leak into another's.
func NewSandbox() *Sandbox {
	return &Sandbox{}
}

// Loaded is the result of one Sandbox.Load call: the registered objects,
// plus the mutex all of them share. otto's VM is not safe for concurrent
// use (the same constraint that makes the teacher's OttoSolver guard its VM
// with a mutex), so every call back into an object produced by the same
// load must serialise on Mu.
type Loaded struct {
	Objects []*otto.Object
	Mu      *sync.Mutex
	VM      *otto.Otto
}

// Load evaluates source in a fresh VM that exposes register(object),
// returning every object registered, in call order. A syntax or runtime
// error during evaluation is returned verbatim so the caller can skip the
// offending file and log a warning (§4.4 point 4).
func (s *Sandbox) Load(source string) (*Loaded, error) {
	vm := otto.New()

	var registered []*otto.Object
	err := vm.Set("register", func(call otto.FunctionCall) otto.Value {
		if len(call.ArgumentList) == 0 {
			return otto.UndefinedValue()
		}
		arg := call.ArgumentList[0]
		if arg.IsObject() {
			registered = append(registered, arg.Object())
		}
		return otto.UndefinedValue()
	})
	if err != nil {
		return nil, fmt.Errorf("registry: bind register global: %w", err)
	}

	if _, err := vm.Run(source); err != nil {
		return nil, fmt.Errorf("registry: evaluate plug-in: %w", err)
	}
	return &Loaded{Objects: registered, Mu: &sync.Mutex{}, VM: vm}, nil
}

// stringField reads a string property, returning "" if absent or not a
// string.
func stringField(obj *otto.Object, name string) string {
	v, err := obj.Get(name)
	if err != nil || !v.IsString() {
		return ""
	}
	return v.String()
}

// intField reads a numeric property, returning 0 if absent or not a number.
func intField(obj *otto.Object, name string) int {
	v, err := obj.Get(name)
	if err != nil || !v.IsNumber() {
		return 0
	}
	n, err := v.ToInteger()
	if err != nil {
		return 0
	}
	return int(n)
}

// callBool invokes a method expected to return a boolean. A call that
// throws is returned as an error (§4.5: any exception during rule/loader
// evaluation must mark the cookie failed, not be read as a false result). A
// non-throwing but non-boolean result is treated as false.
func callBool(obj *otto.Object, method string, args ...any) (bool, error) {
	fn, err := obj.Get(method)
	if err != nil {
		return false, fmt.Errorf("registry: method %q: %w", method, err)
	}
	if !fn.IsFunction() {
		return false, fmt.Errorf("registry: %q is not a function", method)
	}
	result, err := fn.Call(otto.Value{}, args...)
	if err != nil {
		return false, fmt.Errorf("registry: call %q: %w", method, err)
	}
	if !result.IsBoolean() {
		return false, nil
	}
	b, err := result.ToBoolean()
	if err != nil {
		return false, nil
	}
	return b, nil
}

// callValue invokes a method and returns its raw otto.Value result.
func callValue(obj *otto.Object, method string, args ...any) (otto.Value, error) {
	fn, err := obj.Get(method)
	if err != nil {
		return otto.Value{}, fmt.Errorf("registry: method %q: %w", method, err)
	}
	if !fn.IsFunction() {
		return otto.Value{}, fmt.Errorf("registry: %q is not a function", method)
	}
	return fn.Call(otto.Value{}, args...)
}

// callVoid invokes a method for its side effect only, swallowing any error
// (best-effort fan-out per §4.5).
func callVoid(obj *otto.Object, method string, args ...any) {
	fn, err := obj.Get(method)
	if err != nil || !fn.IsFunction() {
		return
	}
	_, _ = fn.Call(otto.Value{}, args...)
}
