package server

import (
	"context"
	"fmt"
	"reflect"

	"github.com/tsrpc-go/tsrpc/conn"
	"github.com/tsrpc-go/tsrpc/servicemap"
)

// HandlerLoader supplies a conn.HandlerFunc for a LocalAPI service that
// ImplementApi never registered explicitly — the "auto implement" fallback
// SPEC_FULL.md §4.12 describes. ReflectLoader below is the default
// implementation.
type HandlerLoader interface {
	Load(svc *servicemap.Service) (conn.HandlerFunc, bool)
}

// ReflectLoader auto-registers handlers by scanning an API implementation
// struct's exported methods via reflection, adapted from server/service.go's
// NewService/RegisterMethods/Call. The teacher's shape was
// "func (receiver) Method(*Args, *Reply) error", matched to a fixed
// "ServiceName.MethodName" RPC path; here method lookup is by full service
// name directly (THE CORE has no implicit Service.Method split — spec.md
// §4.1 service names are already fully qualified), and the handler
// signature generalizes to "func(ctx, *Req) (*Res, error)" to fit
// ApiCall.BindReq/Succ/Error instead of mutating an out-param by pointer.
type ReflectLoader struct {
	methods map[string]reflectMethod
}

type reflectMethod struct {
	rcvr    reflect.Value
	method  reflect.Method
	reqType reflect.Type
}

func NewReflectLoader() *ReflectLoader {
	return &ReflectLoader{methods: make(map[string]reflectMethod)}
}

var ctxType = reflect.TypeOf((*context.Context)(nil)).Elem()
var errType = reflect.TypeOf((*error)(nil)).Elem()

// Register scans rcvr's exported methods for the shape
// "func(ctx context.Context, req *Req) (*Res, error)" and binds each one it
// finds to serviceNamePrefix+MethodName. The two are concatenated as-is, so
// the prefix carries any separator (e.g. "Arith/" binds Add to "Arith/Add").
func (l *ReflectLoader) Register(serviceNamePrefix string, rcvr any) error {
	typ := reflect.TypeOf(rcvr)
	if typ.Kind() != reflect.Ptr || typ.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("server: rcvr must be a pointer to struct, got %s", typ.Kind())
	}
	val := reflect.ValueOf(rcvr)

	for i := 0; i < typ.NumMethod(); i++ {
		m := typ.Method(i)
		ft := m.Type
		// Expect: (receiver, context.Context, *Req) (*Res, error)
		if ft.NumIn() != 3 || ft.NumOut() != 2 {
			continue
		}
		if !ft.In(1).Implements(ctxType) {
			continue
		}
		if ft.In(2).Kind() != reflect.Ptr || ft.Out(0).Kind() != reflect.Ptr {
			continue
		}
		if ft.Out(1) != errType {
			continue
		}

		name := serviceNamePrefix + m.Name
		l.methods[name] = reflectMethod{rcvr: val, method: m, reqType: ft.In(2).Elem()}
	}
	return nil
}

func (l *ReflectLoader) Load(svc *servicemap.Service) (conn.HandlerFunc, bool) {
	rm, ok := l.methods[svc.Name]
	if !ok {
		return nil, false
	}
	return func(call *conn.ApiCall) {
		reqPtr := reflect.New(rm.reqType)
		if err := call.BindReq(reqPtr.Interface()); err != nil {
			call.Error(err.Error())
			return
		}

		results := rm.method.Func.Call([]reflect.Value{rm.rcvr, reflect.ValueOf(context.Background()), reqPtr})
		if errVal := results[1]; !errVal.IsNil() {
			call.Error(errVal.Interface().(error).Error())
			return
		}
		call.Succ(results[0].Interface())
	}, true
}
