package contract

import (
	"errors"
	"fmt"
	"hubrpc/rpcerr"
	"reflect"
)

// SessionInterface is the reserved interface name under which the server
// exposes session termination. TerminateSessionMethod takes the client id
// and returns the number of interfaces that held state for it.
const (
	SessionInterface       = "_"
	TerminateSessionMethod = "TerminateSession"
)

// SessionTerminator is implemented by whatever serves SessionInterface.
type SessionTerminator interface {
	TerminateSession(clientID string) (int, error)
}

// SessionContract describes SessionInterface.
var SessionContract = Interface{
	Name: SessionInterface,
	Methods: []Method{
		Func1(TerminateSessionMethod, SessionTerminator.TerminateSession),
	},
}

// BoundFunc invokes one method on a receiver with already decoded arguments.
type BoundFunc func(rcvr any, args []any) (any, error)

// Method describes one remotely callable method.
type Method struct {
	Name   string
	Params []Type
	Result *Type // nil when the method returns nothing but an error
	Call   BoundFunc
}

// Interface is a named set of methods known to both ends.
type Interface struct {
	Name    string
	Methods []Method
}

// Invoker is the direct invocation capability. A receiver implementing it
// is called through Invoke instead of the bound method table; both paths
// must behave the same. Unknown names should return rpcerr.ErrUnknownMethod.
type Invoker interface {
	Invoke(method string, args []any) (any, error)
}

// Method looks a method up by name.
func (i Interface) Method(name string) (*Method, bool) {
	for k := range i.Methods {
		if i.Methods[k].Name == name {
			return &i.Methods[k], true
		}
	}
	return nil, false
}

// Types lists every parameter and result type of every method.
func (i Interface) Types() []Type {
	var types []Type
	for _, m := range i.Methods {
		types = append(types, m.Params...)
		if m.Result != nil {
			types = append(types, *m.Result)
		}
	}
	return types
}

// Validate checks that the description can be served.
func (i Interface) Validate() error {
	if i.Name == "" {
		return errors.New("contract: interface without a name")
	}
	seen := make(map[string]bool, len(i.Methods))
	for _, m := range i.Methods {
		if m.Name == "" || m.Call == nil {
			return fmt.Errorf("contract: %s: incomplete method %q", i.Name, m.Name)
		}
		if seen[m.Name] {
			return fmt.Errorf("contract: %s: duplicate method %q", i.Name, m.Name)
		}
		seen[m.Name] = true
	}
	return nil
}

// The binders below turn method expressions into BoundFuncs once, at
// registration time, e.g.
//
//	contract.Func1("Echo", Echoer.Echo)
//
// where Echoer is a Go interface with Echo(string) (string, error).

func Func0[I, R any](name string, fn func(I) (R, error)) Method {
	return Method{
		Name:   name,
		Result: resultOf[R](),
		Call: func(rcvr any, args []any) (any, error) {
			i, err := receiver[I](rcvr, args, 0)
			if err != nil {
				return nil, err
			}
			return fn(i)
		},
	}
}

func Func1[I, A, R any](name string, fn func(I, A) (R, error)) Method {
	return Method{
		Name:   name,
		Params: []Type{Of[A]()},
		Result: resultOf[R](),
		Call: func(rcvr any, args []any) (any, error) {
			i, err := receiver[I](rcvr, args, 1)
			if err != nil {
				return nil, err
			}
			a, err := arg[A](args, 0)
			if err != nil {
				return nil, err
			}
			return fn(i, a)
		},
	}
}

func Func2[I, A, B, R any](name string, fn func(I, A, B) (R, error)) Method {
	return Method{
		Name:   name,
		Params: []Type{Of[A](), Of[B]()},
		Result: resultOf[R](),
		Call: func(rcvr any, args []any) (any, error) {
			i, err := receiver[I](rcvr, args, 2)
			if err != nil {
				return nil, err
			}
			a, err := arg[A](args, 0)
			if err != nil {
				return nil, err
			}
			b, err := arg[B](args, 1)
			if err != nil {
				return nil, err
			}
			return fn(i, a, b)
		},
	}
}

func Func3[I, A, B, C, R any](name string, fn func(I, A, B, C) (R, error)) Method {
	return Method{
		Name:   name,
		Params: []Type{Of[A](), Of[B](), Of[C]()},
		Result: resultOf[R](),
		Call: func(rcvr any, args []any) (any, error) {
			i, err := receiver[I](rcvr, args, 3)
			if err != nil {
				return nil, err
			}
			a, err := arg[A](args, 0)
			if err != nil {
				return nil, err
			}
			b, err := arg[B](args, 1)
			if err != nil {
				return nil, err
			}
			c, err := arg[C](args, 2)
			if err != nil {
				return nil, err
			}
			return fn(i, a, b, c)
		},
	}
}

func Proc0[I any](name string, fn func(I) error) Method {
	return Method{
		Name: name,
		Call: func(rcvr any, args []any) (any, error) {
			i, err := receiver[I](rcvr, args, 0)
			if err != nil {
				return nil, err
			}
			return nil, fn(i)
		},
	}
}

func Proc1[I, A any](name string, fn func(I, A) error) Method {
	return Method{
		Name:   name,
		Params: []Type{Of[A]()},
		Call: func(rcvr any, args []any) (any, error) {
			i, err := receiver[I](rcvr, args, 1)
			if err != nil {
				return nil, err
			}
			a, err := arg[A](args, 0)
			if err != nil {
				return nil, err
			}
			return nil, fn(i, a)
		},
	}
}

func Proc2[I, A, B any](name string, fn func(I, A, B) error) Method {
	return Method{
		Name:   name,
		Params: []Type{Of[A](), Of[B]()},
		Call: func(rcvr any, args []any) (any, error) {
			i, err := receiver[I](rcvr, args, 2)
			if err != nil {
				return nil, err
			}
			a, err := arg[A](args, 0)
			if err != nil {
				return nil, err
			}
			b, err := arg[B](args, 1)
			if err != nil {
				return nil, err
			}
			return nil, fn(i, a, b)
		},
	}
}

func resultOf[R any]() *Type {
	t := Of[R]()
	return &t
}

func receiver[I any](rcvr any, args []any, arity int) (I, error) {
	var zero I
	if len(args) != arity {
		return zero, fmt.Errorf("%w: expect %d arguments, got %d", rpcerr.ErrArgumentDecode, arity, len(args))
	}
	i, ok := rcvr.(I)
	if !ok {
		return zero, fmt.Errorf("%w: %T does not implement %s", rpcerr.ErrInvocation, rcvr, typeID(reflect.TypeFor[I]()))
	}
	return i, nil
}

func arg[A any](args []any, n int) (A, error) {
	a, ok := args[n].(A)
	if !ok {
		var zero A
		return zero, fmt.Errorf("%w: argument %d is %T, expect %s", rpcerr.ErrArgumentDecode, n, args[n], typeID(reflect.TypeFor[A]()))
	}
	return a, nil
}
