package instance

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
)

var contextType = reflect.TypeOf((*context.Context)(nil)).Elem()

type methodRef struct {
	index   int
	withCtx bool
}

type memberKey struct {
	name  string
	arity int
}

// typeTable is the member table shared by every adapter over one Go type.
type typeTable struct {
	members []Member
	methods map[memberKey]methodRef
}

var tables sync.Map // reflect.Type -> *typeTable

// Reflected adapts an arbitrary Go value to Instance using its exported
// method set.
type Reflected struct {
	value reflect.Value
	table *typeTable
}

// Reflect wraps v, which must be non-nil. Every exported method of v becomes a member; a leading
// context.Context parameter is supplied by InvokeMember and not listed.
// A method SetX with exactly one parameter is also exposed as member X of
// arity 1 unless v already has a one-parameter method named X.
func Reflect(v any) *Reflected {
	if r, ok := v.(*Reflected); ok {
		return r
	}
	rv := reflect.ValueOf(v)
	return &Reflected{value: rv, table: tableFor(rv.Type())}
}

func tableFor(t reflect.Type) *typeTable {
	if cached, ok := tables.Load(t); ok {
		return cached.(*typeTable)
	}
	built := buildTable(t)
	actual, _ := tables.LoadOrStore(t, built)
	return actual.(*typeTable)
}

func buildTable(t reflect.Type) *typeTable {
	tbl := &typeTable{methods: make(map[memberKey]methodRef)}
	var setters []Member

	for i := 0; i < t.NumMethod(); i++ {
		m := t.Method(i)
		if !m.IsExported() || m.Type.IsVariadic() {
			continue
		}
		ref := methodRef{index: i}
		params := make([]reflect.Type, 0, m.Type.NumIn())
		// In(0) is the receiver.
		for p := 1; p < m.Type.NumIn(); p++ {
			pt := m.Type.In(p)
			if p == 1 && pt == contextType {
				ref.withCtx = true
				continue
			}
			params = append(params, pt)
		}
		member := Member{Name: m.Name, Params: params}
		tbl.members = append(tbl.members, member)
		tbl.methods[memberKey{m.Name, len(params)}] = ref

		if prop, ok := strings.CutPrefix(m.Name, "Set"); ok && prop != "" && len(params) == 1 {
			setters = append(setters, Member{Name: prop, Params: params})
		}
	}

	for _, s := range setters {
		key := memberKey{s.Name, 1}
		if _, exists := tbl.methods[key]; exists {
			continue
		}
		tbl.methods[key] = tbl.methods[memberKey{"Set" + s.Name, 1}]
		tbl.members = append(tbl.members, s)
	}
	return tbl
}

// Members lists exported methods in name order followed by setter aliases.
func (r *Reflected) Members() []Member {
	return r.table.members
}

// InvokeMember calls the method behind name with args. A trailing error
// result is returned as the error; no results yield nil; several non-error
// results are returned as []any.
func (r *Reflected) InvokeMember(ctx context.Context, name string, args []any) (any, error) {
	ref, ok := r.table.methods[memberKey{name, len(args)}]
	if !ok {
		return nil, fmt.Errorf("%s has no member %s/%d", r.value.Type(), name, len(args))
	}
	method := r.value.Method(ref.index)
	mt := method.Type()

	in := make([]reflect.Value, 0, mt.NumIn())
	if ref.withCtx {
		if ctx == nil {
			ctx = context.Background()
		}
		in = append(in, reflect.ValueOf(ctx))
	}
	for i, arg := range args {
		pt := mt.In(len(in))
		if arg == nil {
			in = append(in, reflect.Zero(pt))
			continue
		}
		av := reflect.ValueOf(arg)
		if !av.Type().AssignableTo(pt) {
			return nil, fmt.Errorf("argument %d of %s: %s is not assignable to %s", i, name, av.Type(), pt)
		}
		in = append(in, av)
	}

	out := method.Call(in)
	return splitResults(out)
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

func splitResults(out []reflect.Value) (any, error) {
	if n := len(out); n > 0 && out[n-1].Type() == errorType {
		if errV := out[n-1]; !errV.IsNil() {
			return nil, errV.Interface().(error)
		}
		out = out[:n-1]
	}
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		return out[0].Interface(), nil
	default:
		vals := make([]any, len(out))
		for i, o := range out {
			vals[i] = o.Interface()
		}
		return vals, nil
	}
}

// Unwrap returns the adapted value.
func (r *Reflected) Unwrap() any {
	return r.value.Interface()
}

func (r *Reflected) String() string {
	return fmt.Sprintf("instance(%s)", r.value.Type())
}
