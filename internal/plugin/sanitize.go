package plugin

import (
	"fmt"
	"reflect"
	"time"
)

// Sentinel values the sanitizer substitutes for payload shapes that
// must not cross the sandbox boundary.
const (
	// CircularMarker replaces a value already visited on the current
	// walk path.
	CircularMarker = "[circular]"

	// PendingMarker replaces channel values, which would otherwise let
	// a plugin smuggle a live synchronization primitive across the
	// boundary.
	PendingMarker = "[pending]"
)

var (
	timeType  = reflect.TypeOf(time.Time{})
	errorType = reflect.TypeOf((*error)(nil)).Elem()
)

// SanitizePayload returns a copy of payload safe to hand across the
// sandbox boundary: function values and non-string map keys are
// dropped, cycles become CircularMarker, channels become
// PendingMarker, error values become {name, message} records, and
// time.Time passes through untouched. It never fails; unsupported
// shapes degrade to placeholders instead of rejecting the emission.
func SanitizePayload(payload any) any {
	return sanitize(reflect.ValueOf(payload), make(map[uintptr]bool))
}

// sanitize walks one value. seen tracks container identities on the
// current path only, so diamonds (the same value reachable twice
// without a cycle) are not misreported as circular.
func sanitize(v reflect.Value, seen map[uintptr]bool) any {
	if !v.IsValid() {
		return nil
	}

	if v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}

	if v.CanInterface() && v.Type().Implements(errorType) {
		if err, ok := v.Interface().(error); ok && !isNilValue(v) {
			return map[string]any{
				"name":    fmt.Sprintf("%T", err),
				"message": err.Error(),
			}
		}
	}

	switch v.Kind() {
	case reflect.Func:
		return nil

	case reflect.Chan:
		return PendingMarker

	case reflect.Pointer:
		if v.IsNil() {
			return nil
		}
		ptr := v.Pointer()
		if seen[ptr] {
			return CircularMarker
		}
		seen[ptr] = true
		defer delete(seen, ptr)
		return sanitize(v.Elem(), seen)

	case reflect.Map:
		if v.IsNil() {
			return nil
		}
		ptr := v.Pointer()
		if seen[ptr] {
			return CircularMarker
		}
		seen[ptr] = true
		defer delete(seen, ptr)

		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			k := iter.Key()
			if k.Kind() == reflect.Interface {
				k = k.Elem()
			}
			if k.Kind() != reflect.String {
				continue
			}
			val := iter.Value()
			if isFuncValue(val) {
				continue
			}
			out[k.String()] = sanitize(val, seen)
		}
		return out

	case reflect.Slice:
		if v.IsNil() {
			return nil
		}
		ptr := v.Pointer()
		if seen[ptr] {
			return CircularMarker
		}
		seen[ptr] = true
		defer delete(seen, ptr)
		return sanitizeSequence(v, seen)

	case reflect.Array:
		return sanitizeSequence(v, seen)

	case reflect.Struct:
		if v.Type() == timeType {
			return v.Interface()
		}
		t := v.Type()
		out := make(map[string]any)
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if f.PkgPath != "" {
				continue
			}
			fv := v.Field(i)
			if isFuncValue(fv) {
				continue
			}
			out[f.Name] = sanitize(fv, seen)
		}
		return out

	case reflect.UnsafePointer, reflect.Uintptr:
		return nil

	default:
		if !v.CanInterface() {
			return nil
		}
		return v.Interface()
	}
}

func sanitizeSequence(v reflect.Value, seen map[uintptr]bool) []any {
	out := make([]any, 0, v.Len())
	for i := 0; i < v.Len(); i++ {
		el := v.Index(i)
		if isFuncValue(el) {
			continue
		}
		out = append(out, sanitize(el, seen))
	}
	return out
}

func isFuncValue(v reflect.Value) bool {
	if v.Kind() == reflect.Interface {
		if v.IsNil() {
			return false
		}
		v = v.Elem()
	}
	return v.Kind() == reflect.Func
}

func isNilValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return v.IsNil()
	default:
		return false
	}
}
