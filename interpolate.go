package entitysync

import "reflect"

// LinearInterpolate is the default interpolator named in §4.D.5: it walks two
// state trees in lockstep and linearly combines their numeric leaves. It is a
// convenience for entities whose State is a plain struct tree, not the only
// way to satisfy Interpolator — a hand-written interpolator that knows its
// own fields is simpler and is what schema-known entities should prefer; this
// generic walker exists for entities that would rather not write one.
//
// a and b must have identical structure (same concrete type, recursively);
// a mismatched or non-numeric, non-struct leaf panics with
// NonInterpolableFieldError, mirroring the teacher's InferFieldType switch
// over reflect.Kind but walking live values instead of inferring a wire type.
func LinearInterpolate[S any](a, b S, ratio float64) S {
	va := reflect.ValueOf(a)
	vb := reflect.ValueOf(b)
	out := interpolateValue(va, vb, ratio)
	return out.Interface().(S)
}

func interpolateValue(a, b reflect.Value, ratio float64) reflect.Value {
	if a.Kind() == reflect.Ptr {
		if a.IsNil() || b.IsNil() {
			return a
		}
		result := reflect.New(a.Type().Elem())
		result.Elem().Set(interpolateValue(a.Elem(), b.Elem(), ratio))
		return result
	}

	switch a.Kind() {
	case reflect.Struct:
		result := reflect.New(a.Type()).Elem()
		for i := 0; i < a.NumField(); i++ {
			field := a.Type().Field(i)
			if !field.IsExported() {
				continue
			}
			fa := a.Field(i)
			fb := b.Field(i)
			result.Field(i).Set(interpolateValue(fa, fb, ratio))
		}
		return result

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		av, bv := float64(a.Int()), float64(b.Int())
		result := reflect.New(a.Type()).Elem()
		result.SetInt(int64(av + (bv-av)*ratio))
		return result

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		av, bv := float64(a.Uint()), float64(b.Uint())
		result := reflect.New(a.Type()).Elem()
		result.SetUint(uint64(av + (bv-av)*ratio))
		return result

	case reflect.Float32, reflect.Float64:
		av, bv := a.Float(), b.Float()
		result := reflect.New(a.Type()).Elem()
		result.SetFloat(av + (bv-av)*ratio)
		return result

	default:
		panic(&NonInterpolableFieldError{Field: fieldPath(a)})
	}
}

func fieldPath(v reflect.Value) string {
	if v.Type() == nil {
		return "<unknown>"
	}
	return v.Type().String()
}
