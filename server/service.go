package server

import (
	"fmt"
	"hubrpc/contract"
	"hubrpc/rpcerr"
)

// invoke calls m on instance. An instance implementing contract.Invoker
// receives the decoded arguments directly; any other instance goes through
// the method's bound function. A panic in business code becomes an
// invocation failure instead of taking down the connection.
func invoke(instance any, m *contract.Method, args []any) (result any, err error) {
	defer func() {
		if rv := recover(); rv != nil {
			result = nil
			err = fmt.Errorf("%w: panic: %v", rpcerr.ErrInvocation, rv)
		}
	}()

	if inv, ok := instance.(contract.Invoker); ok {
		return inv.Invoke(m.Name, args)
	}
	return m.Call(instance, args)
}

