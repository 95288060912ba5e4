package server

import (
	"fmt"
	"reflect"

	"github.com/spf13/cast"
)

var (
	errorType  = reflect.TypeOf((*error)(nil)).Elem()
	stringType = reflect.TypeOf("")
)

type methodType struct {
	method    reflect.Method
	numParams int
	hasResult bool // (string, error) vs error
}

type service struct {
	name   string // qualified type name, e.g. cfca.sadk.cmbc.patch.tools.php.PHPDecryptKitAllInOne
	rcvr   reflect.Value
	typ    reflect.Type
	method map[string]*methodType
}

// newService 创建 service 并扫描所有合法方法
func newService(name string, rcvr any) (*service, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return nil, fmt.Errorf("server: rcvr must be a pointer, got %T", rcvr)
	}
	if name == "" {
		name = typ.Elem().Name()
	}
	svc := &service{
		name:   name,
		rcvr:   reflect.ValueOf(rcvr),
		typ:    typ,
		method: make(map[string]*methodType),
	}
	svc.registerMethods()
	if len(svc.method) == 0 {
		return nil, fmt.Errorf("server: %s has no callable methods", name)
	}
	return svc, nil
}

// registerMethods keeps exported methods whose parameters are all strings and that
// return either (string, error) or error.
func (s *service) registerMethods() {
	for i := 0; i < s.typ.NumMethod(); i++ {
		method := s.typ.Method(i)
		mt := method.Type

		ok := true
		for p := 1; p < mt.NumIn(); p++ {
			if mt.In(p) != stringType {
				ok = false
				break
			}
		}
		switch {
		case !ok:
			continue
		case mt.NumOut() == 1 && mt.Out(0) == errorType:
		case mt.NumOut() == 2 && mt.Out(0) == stringType && mt.Out(1) == errorType:
		default:
			continue
		}

		s.method[method.Name] = &methodType{
			method:    method,
			numParams: mt.NumIn() - 1,
			hasResult: mt.NumOut() == 2,
		}
	}
}

// call binds positional params and invokes the method. A void method yields nil.
func (s *service) call(mType *methodType, params []any) (any, error) {
	if len(params) != mType.numParams {
		return nil, fmt.Errorf("%s::%s expects %d arguments, got %d", s.name, mType.method.Name, mType.numParams, len(params))
	}

	args := make([]reflect.Value, 0, len(params)+1)
	args = append(args, s.rcvr)
	for i, p := range params {
		str, err := cast.ToStringE(p)
		if err != nil {
			return nil, fmt.Errorf("%s::%s argument %d: %w", s.name, mType.method.Name, i+1, err)
		}
		args = append(args, reflect.ValueOf(str))
	}

	results := mType.method.Func.Call(args)
	errVal := results[len(results)-1]
	if !errVal.IsNil() {
		return nil, errVal.Interface().(error)
	}
	if !mType.hasResult {
		return nil, nil
	}
	return results[0].String(), nil
}
