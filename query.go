package apibuilder

import (
	"fmt"
	"net/url"
	"reflect"
	"strconv"
)

// Query builds url.Values from strings, booleans, numbers of any kind and
// slices or arrays of those. Slices become repeated keys and nil values are
// left out. Any other value is formatted with fmt.Sprint.
func Query(params map[string]any) url.Values {
	out := make(url.Values, len(params))
	for k, v := range params {
		addQueryValue(out, k, reflect.ValueOf(v))
	}
	return out
}

func addQueryValue(out url.Values, key string, v reflect.Value) {
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Invalid:
	case reflect.String:
		out.Add(key, v.String())
	case reflect.Bool:
		out.Add(key, strconv.FormatBool(v.Bool()))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		out.Add(key, strconv.FormatInt(v.Int(), 10))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		out.Add(key, strconv.FormatUint(v.Uint(), 10))
	case reflect.Float32:
		out.Add(key, strconv.FormatFloat(v.Float(), 'f', -1, 32))
	case reflect.Float64:
		out.Add(key, strconv.FormatFloat(v.Float(), 'f', -1, 64))
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8 {
			out.Add(key, string(v.Bytes()))
			return
		}
		for i := 0; i < v.Len(); i++ {
			addQueryValue(out, key, v.Index(i))
		}
	default:
		out.Add(key, fmt.Sprint(v.Interface()))
	}
}

// mergeQuery returns defaults overlaid with override; a key present in
// override replaces all default values for that key.
func mergeQuery(defaults, override url.Values) url.Values {
	merged := make(url.Values, len(defaults)+len(override))
	for k, v := range defaults {
		merged[k] = append([]string(nil), v...)
	}
	for k, v := range override {
		merged[k] = append([]string(nil), v...)
	}
	return merged
}

// encodeQuery is stable (keys sorted) and yields "" for an empty set.
func encodeQuery(v url.Values) string {
	return v.Encode()
}

func (b *Builder) buildURL(req *Request) string {
	u := b.host + b.cfg.path + req.Path
	if qs := encodeQuery(mergeQuery(b.cfg.defaultQuery, req.Query)); qs != "" {
		u += "?" + qs
	}
	return u
}
