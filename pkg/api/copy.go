package api

import "reflect"

// refKey identifies a pointer, map or slice backing array already met
// during a walk. The type is part of the key because a struct and its
// first field share an address.
type refKey struct {
	addr uintptr
	typ  reflect.Type
	n    int
}

func keyOf(v reflect.Value) refKey {
	k := refKey{addr: v.Pointer(), typ: v.Type()}
	if v.Kind() == reflect.Slice {
		k.n = v.Len()
	}
	return k
}

// deepCopy returns a copy of v that shares no maps, slices or pointers with
// the original. Unexported struct fields are copied by value only. Cycles
// are rebuilt in the copy and shared pointers stay shared.
func deepCopy(v any) any {
	if v == nil {
		return nil
	}
	c := copier{seen: make(map[refKey]reflect.Value)}
	out := c.copy(reflect.ValueOf(v))
	if !out.IsValid() {
		return nil
	}
	return out.Interface()
}

type copier struct {
	seen map[refKey]reflect.Value
}

func (c *copier) copy(v reflect.Value) reflect.Value {
	if !v.IsValid() {
		return v
	}

	switch v.Kind() {
	case reflect.Pointer:
		if v.IsNil() {
			return reflect.Zero(v.Type())
		}
		k := keyOf(v)
		if cp, ok := c.seen[k]; ok {
			return cp
		}
		cp := reflect.New(v.Type().Elem())
		c.seen[k] = cp
		cp.Elem().Set(c.copy(v.Elem()))
		return cp

	case reflect.Interface:
		if v.IsNil() {
			return reflect.Zero(v.Type())
		}
		inner := c.copy(v.Elem())
		cp := reflect.New(v.Type()).Elem()
		cp.Set(inner)
		return cp

	case reflect.Map:
		if v.IsNil() {
			return reflect.Zero(v.Type())
		}
		k := keyOf(v)
		if cp, ok := c.seen[k]; ok {
			return cp
		}
		cp := reflect.MakeMapWithSize(v.Type(), v.Len())
		c.seen[k] = cp
		iter := v.MapRange()
		for iter.Next() {
			cp.SetMapIndex(c.copy(iter.Key()), c.copy(iter.Value()))
		}
		return cp

	case reflect.Slice:
		if v.IsNil() {
			return reflect.Zero(v.Type())
		}
		k := keyOf(v)
		if cp, ok := c.seen[k]; ok {
			return cp
		}
		cp := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		c.seen[k] = cp
		for i := 0; i < v.Len(); i++ {
			cp.Index(i).Set(c.copy(v.Index(i)))
		}
		return cp

	case reflect.Array:
		cp := reflect.New(v.Type()).Elem()
		for i := 0; i < v.Len(); i++ {
			cp.Index(i).Set(c.copy(v.Index(i)))
		}
		return cp

	case reflect.Struct:
		cp := reflect.New(v.Type()).Elem()
		cp.Set(v)
		for i := 0; i < v.NumField(); i++ {
			if !cp.Field(i).CanSet() {
				continue
			}
			cp.Field(i).Set(c.copy(v.Field(i)))
		}
		return cp

	default:
		return v
	}
}
