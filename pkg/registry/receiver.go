package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"regexp"
	"runtime"
	"strings"

	"github.com/morezero/vault-ipc/pkg/ipcerr"
	"github.com/morezero/vault-ipc/pkg/wire"
)

const receiverLogPrefix = "registry:receiver"

var (
	_contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	_errorType   = reflect.TypeOf((*error)(nil)).Elem()

	anonymousFuncRegex = regexp.MustCompile(`^func\d+$`)
)

// receiver is a handler whose signature was verified at registration.
//
// Accepted shapes:
//
//	func([ctx context.Context,] params... [, variadic ...T])
//	func(...) error
//	func(...) T
//	func(...) (T, error)
type receiver struct {
	name     string
	stream   bool
	fn       reflect.Value
	withCtx  bool
	params   []reflect.Type
	variadic reflect.Type
	hasValue bool
	hasError bool
}

func newReceiver(handler interface{}, name string, stream bool) (*receiver, error) {
	if handler == nil {
		return nil, ipcerr.New(ipcerr.CodeInvalidHandler, "receiver is nil")
	}
	v := reflect.ValueOf(handler)
	t := v.Type()
	if t.Kind() != reflect.Func {
		return nil, ipcerr.Newf(ipcerr.CodeInvalidHandler, "receiver must be a func, got %v", t)
	}
	if v.IsNil() {
		return nil, ipcerr.New(ipcerr.CodeInvalidHandler, "receiver is nil")
	}
	if name == "" {
		name = handlerName(v)
		if name == "" {
			return nil, ipcerr.New(ipcerr.CodeInvalidHandler, "anonymous receiver needs an explicit name")
		}
	}

	r := &receiver{name: name, stream: stream, fn: v}

	in := make([]reflect.Type, 0, t.NumIn())
	for i := 0; i < t.NumIn(); i++ {
		in = append(in, t.In(i))
	}
	if len(in) > 0 && in[0] == _contextType {
		r.withCtx = true
		in = in[1:]
	}
	if stream && !r.withCtx {
		return nil, ipcerr.Newf(ipcerr.CodeInvalidHandler, "stream receiver %s must take context.Context first", name)
	}
	if t.IsVariadic() {
		r.variadic = in[len(in)-1].Elem()
		in = in[:len(in)-1]
	}
	for _, p := range in {
		if !isDecodable(p) {
			return nil, ipcerr.Newf(ipcerr.CodeInvalidHandler, "receiver %s: parameter type %v cannot be decoded from JSON", name, p)
		}
	}
	if r.variadic != nil && !isDecodable(r.variadic) {
		return nil, ipcerr.Newf(ipcerr.CodeInvalidHandler, "receiver %s: parameter type %v cannot be decoded from JSON", name, r.variadic)
	}
	r.params = in

	switch t.NumOut() {
	case 0:
	case 1:
		if t.Out(0) == _errorType {
			r.hasError = true
		} else {
			r.hasValue = true
		}
	case 2:
		if t.Out(1) != _errorType || t.Out(0) == _errorType {
			return nil, ipcerr.Newf(ipcerr.CodeInvalidHandler, "receiver %s must return (T, error)", name)
		}
		r.hasValue = true
		r.hasError = true
	default:
		return nil, ipcerr.Newf(ipcerr.CodeInvalidHandler, "receiver %s returns too many values", name)
	}
	if r.hasValue && !isEncodable(t.Out(0)) {
		return nil, ipcerr.Newf(ipcerr.CodeInvalidHandler, "receiver %s: result type %v cannot be encoded to JSON", name, t.Out(0))
	}
	return r, nil
}

// arity counts the positional parameters, excluding ctx and a variadic tail.
func (r *receiver) arity() int {
	return len(r.params)
}

func (r *receiver) member() wire.Member {
	kind := wire.MemberMethod
	if r.stream {
		kind = wire.MemberStream
	}
	return wire.Member{Type: kind, Name: r.name, Arity: r.arity()}
}

// call decodes args positionally, invokes the handler and encodes its
// result. Missing arguments are zero values; extra ones are ignored unless
// the handler is variadic. Panics are returned as HANDLER_ERROR.
func (r *receiver) call(ctx context.Context, args []json.RawMessage) (result json.RawMessage, err error) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error(fmt.Sprintf("%s - receiver %s panicked: %v", receiverLogPrefix, r.name, p))
			result = nil
			err = ipcerr.Newf(ipcerr.CodeHandlerError, "receiver %s panicked: %v", r.name, p)
		}
	}()

	in := make([]reflect.Value, 0, len(r.params)+len(args)+1)
	if r.withCtx {
		in = append(in, reflect.ValueOf(&ctx).Elem())
	}
	for i, p := range r.params {
		var raw json.RawMessage
		if i < len(args) {
			raw = args[i]
		}
		v, err := decodeArg(raw, p)
		if err != nil {
			return nil, ipcerr.Newf(ipcerr.CodeInvalidParams, "argument %d of %s: %v", i, r.name, err)
		}
		in = append(in, v)
	}
	if r.variadic != nil {
		for i := len(r.params); i < len(args); i++ {
			v, err := decodeArg(args[i], r.variadic)
			if err != nil {
				return nil, ipcerr.Newf(ipcerr.CodeInvalidParams, "argument %d of %s: %v", i, r.name, err)
			}
			in = append(in, v)
		}
	}

	out := r.fn.Call(in)

	if r.hasError {
		if e := out[len(out)-1]; !e.IsNil() {
			return nil, e.Interface().(error)
		}
	}
	if !r.hasValue {
		return nil, nil
	}
	data, err := json.Marshal(out[0].Interface())
	if err != nil {
		return nil, ipcerr.Newf(ipcerr.CodeHandlerError, "encode result of %s: %v", r.name, err)
	}
	return data, nil
}

func decodeArg(raw json.RawMessage, t reflect.Type) (reflect.Value, error) {
	v := reflect.New(t)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, v.Interface()); err != nil {
			return reflect.Value{}, err
		}
	}
	return v.Elem(), nil
}

// handlerName returns the declared name of a func, or "" for closures.
func handlerName(v reflect.Value) string {
	fn := runtime.FuncForPC(v.Pointer())
	if fn == nil {
		return ""
	}
	name := fn.Name()
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.Index(name, "["); i >= 0 {
		name = name[:i]
	}
	name = strings.TrimSuffix(name, "-fm")
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	if anonymousFuncRegex.MatchString(name) {
		return ""
	}
	return name
}

func isDecodable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Chan, reflect.Func, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128:
		return false
	case reflect.Interface:
		return t.NumMethod() == 0
	case reflect.Ptr, reflect.Slice, reflect.Array:
		return isDecodable(t.Elem())
	case reflect.Map:
		return isDecodable(t.Elem())
	}
	return true
}

func isEncodable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Chan, reflect.Func, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128:
		return false
	}
	return true
}
