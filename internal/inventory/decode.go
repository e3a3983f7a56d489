package inventory

import (
	"encoding/json"
	"fmt"
	"reflect"

	"k8s.io/apimachinery/pkg/runtime"
)

// ToPlain recursively decodes an API value into plain maps, slices and
// scalars so no client struct type leaks into inventory host variables.
// Structs decode through the unstructured converter (honoring JSON tags and
// custom marshalers), sequences decode element-wise, maps decode value-wise,
// anything else passes through unchanged.
func ToPlain(v interface{}) interface{} {
	if v == nil {
		return nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return ToPlain(rv.Elem().Interface())

	case reflect.Struct:
		return structToPlain(rv)

	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return []interface{}{}
		}
		out := make([]interface{}, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = ToPlain(rv.Index(i).Interface())
		}
		return out

	case reflect.Map:
		out := make(map[string]interface{}, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[fmt.Sprintf("%v", iter.Key().Interface())] = ToPlain(iter.Value().Interface())
		}
		return out

	case reflect.String:
		// Named string types (phases, QoS classes) flatten to plain strings.
		return rv.String()

	default:
		return v
	}
}

func structToPlain(rv reflect.Value) interface{} {
	ptr := reflect.New(rv.Type())
	ptr.Elem().Set(rv)

	u, err := runtime.DefaultUnstructuredConverter.ToUnstructured(ptr.Interface())
	if err == nil {
		return u
	}

	// Types whose JSON form is not an object (metav1.Time renders as a
	// string) fall back to a JSON round trip.
	data, err := json.Marshal(ptr.Interface())
	if err != nil {
		return nil
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

// MapToPlain decodes a string map, returning an empty map when absent.
func MapToPlain[V any](m map[string]V) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = ToPlain(v)
	}
	return out
}

// SliceToPlain decodes a sequence of records, returning an empty sequence
// when absent.
func SliceToPlain[T any](items []T) []interface{} {
	out := make([]interface{}, 0, len(items))
	for i := range items {
		out = append(out, ToPlain(items[i]))
	}
	return out
}
