package api

import (
	"fmt"
	"reflect"
)

// RefKind distinguishes deferred reference markers.
type RefKind string

const (
	RefOutput RefKind = "output"
	RefCursor RefKind = "cursor"
)

// Ref is a placeholder embedded in a node's static input. It is replaced by
// a FlowState lookup right before the activity is invoked.
//
// Refs are recognised anywhere a value of interface type can hold them:
// the input itself when it is `any`, `any`-typed struct fields, and elements
// of `[]any` / `map[K]any`.
type Ref struct {
	Kind RefKind
	Key  string
	// Default is used by cursor refs when the source has no cursor yet.
	Default string
}

// OutputRef defers to the result stored under key.
func OutputRef(key string) Ref {
	return Ref{Kind: RefOutput, Key: key}
}

// CursorFor defers to the current position of the cursor for source.
// If no cursor exists yet, def is used.
func CursorFor(source, def string) Ref {
	return Ref{Kind: RefCursor, Key: source, Default: def}
}

func (r Ref) resolve(state *FlowState) (any, error) {
	switch r.Kind {
	case RefOutput:
		v, ok := state.Result(r.Key)
		if !ok {
			return nil, fmt.Errorf("resolve output ref: %w: %s", ErrResultNotFound, r.Key)
		}
		return v, nil
	case RefCursor:
		if c, ok := state.Cursor(r.Key); ok {
			return c.Position, nil
		}
		return r.Default, nil
	default:
		return nil, fmt.Errorf("resolve ref: unknown kind %q", r.Kind)
	}
}

var refType = reflect.TypeOf(Ref{})

// CollectRefs returns every marker contained in v, in walk order. It is the
// first phase of input resolution and has no side effects.
func CollectRefs(v any) []Ref {
	if r, ok := v.(Ref); ok {
		return []Ref{r}
	}
	var out []Ref
	w := refWalker{seen: make(map[refKey]bool)}
	w.walk(reflect.ValueOf(v), func(r Ref) { out = append(out, r) })
	return out
}

// ResolveRefs returns a copy of v with every marker replaced by its
// FlowState value. v itself is not modified. Values without markers are
// returned unchanged.
func ResolveRefs(v any, state *FlowState) (any, error) {
	if len(CollectRefs(v)) == 0 {
		return v, nil
	}
	if r, ok := v.(Ref); ok {
		return r.resolve(state)
	}

	rp := refReplacer{state: state, seen: make(map[refKey]reflect.Value)}
	out, err := rp.replace(reflect.ValueOf(v))
	if err != nil {
		return nil, err
	}
	return out.Interface(), nil
}

// refWalker visits each pointer, map and slice once.
type refWalker struct {
	seen map[refKey]bool
}

func (w *refWalker) enter(v reflect.Value) bool {
	k := keyOf(v)
	if w.seen[k] {
		return false
	}
	w.seen[k] = true
	return true
}

func (w *refWalker) walk(v reflect.Value, visit func(Ref)) {
	if !v.IsValid() {
		return
	}

	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return
		}
		if v.Elem().Type() == refType {
			visit(v.Elem().Interface().(Ref))
			return
		}
		w.walk(v.Elem(), visit)
	case reflect.Pointer:
		if !v.IsNil() && w.enter(v) {
			w.walk(v.Elem(), visit)
		}
	case reflect.Map:
		if v.IsNil() || !w.enter(v) {
			return
		}
		iter := v.MapRange()
		for iter.Next() {
			w.walk(iter.Value(), visit)
		}
	case reflect.Slice:
		if v.IsNil() || !w.enter(v) {
			return
		}
		for i := 0; i < v.Len(); i++ {
			w.walk(v.Index(i), visit)
		}
	case reflect.Array:
		for i := 0; i < v.Len(); i++ {
			w.walk(v.Index(i), visit)
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if v.Type().Field(i).IsExported() {
				w.walk(v.Field(i), visit)
			}
		}
	}
}

// refReplacer rebuilds a value, substituting markers held in interface
// slots. Pointers, maps and slices met twice map to the same rebuilt value.
type refReplacer struct {
	state *FlowState
	seen  map[refKey]reflect.Value
}

func (rp *refReplacer) replace(v reflect.Value) (reflect.Value, error) {
	if !v.IsValid() {
		return v, nil
	}

	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return v, nil
		}
		elem := v.Elem()
		cp := reflect.New(v.Type()).Elem()
		if elem.Type() == refType {
			ref := elem.Interface().(Ref)
			resolved, err := ref.resolve(rp.state)
			if err != nil {
				return reflect.Value{}, err
			}
			if resolved != nil {
				rv := reflect.ValueOf(resolved)
				if !rv.Type().AssignableTo(v.Type()) {
					return reflect.Value{}, &TypeMismatchError{
						Key:  ref.Key,
						Want: v.Type().String(),
						Got:  rv.Type().String(),
					}
				}
				cp.Set(rv)
			}
			return cp, nil
		}
		inner, err := rp.replace(elem)
		if err != nil {
			return reflect.Value{}, err
		}
		cp.Set(inner)
		return cp, nil

	case reflect.Pointer:
		if v.IsNil() {
			return v, nil
		}
		k := keyOf(v)
		if cp, ok := rp.seen[k]; ok {
			return cp, nil
		}
		cp := reflect.New(v.Type().Elem())
		rp.seen[k] = cp
		inner, err := rp.replace(v.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		cp.Elem().Set(inner)
		return cp, nil

	case reflect.Map:
		if v.IsNil() {
			return v, nil
		}
		k := keyOf(v)
		if cp, ok := rp.seen[k]; ok {
			return cp, nil
		}
		cp := reflect.MakeMapWithSize(v.Type(), v.Len())
		rp.seen[k] = cp
		iter := v.MapRange()
		for iter.Next() {
			val, err := rp.replace(iter.Value())
			if err != nil {
				return reflect.Value{}, err
			}
			cp.SetMapIndex(iter.Key(), val)
		}
		return cp, nil

	case reflect.Slice:
		if v.IsNil() {
			return v, nil
		}
		k := keyOf(v)
		if cp, ok := rp.seen[k]; ok {
			return cp, nil
		}
		cp := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		rp.seen[k] = cp
		for i := 0; i < v.Len(); i++ {
			el, err := rp.replace(v.Index(i))
			if err != nil {
				return reflect.Value{}, err
			}
			cp.Index(i).Set(el)
		}
		return cp, nil

	case reflect.Array:
		cp := reflect.New(v.Type()).Elem()
		for i := 0; i < v.Len(); i++ {
			el, err := rp.replace(v.Index(i))
			if err != nil {
				return reflect.Value{}, err
			}
			cp.Index(i).Set(el)
		}
		return cp, nil

	case reflect.Struct:
		cp := reflect.New(v.Type()).Elem()
		cp.Set(v)
		for i := 0; i < v.NumField(); i++ {
			if !cp.Field(i).CanSet() {
				continue
			}
			f, err := rp.replace(v.Field(i))
			if err != nil {
				return reflect.Value{}, err
			}
			cp.Field(i).Set(f)
		}
		return cp, nil

	default:
		return v, nil
	}
}
