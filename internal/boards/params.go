package boards

import (
	"fmt"
	"net/url"
	"reflect"
	"strings"
)

// encodeParams turns a struct into query values. The board tag names the
// parameter; fields without it are skipped. Slices are joined with commas and
// empty values are omitted.
func encodeParams(params any) url.Values {
	q := url.Values{}
	v := reflect.Indirect(reflect.ValueOf(params))
	for _, field := range reflect.VisibleFields(v.Type()) {
		key := field.Tag.Get("board")
		if key == "" {
			continue
		}
		value := v.FieldByIndex(field.Index)

		switch value.Kind() {
		case reflect.Slice:
			parts := make([]string, 0, value.Len())
			for i := 0; i < value.Len(); i++ {
				if s := fmt.Sprint(value.Index(i).Interface()); s != "" {
					parts = append(parts, s)
				}
			}
			if len(parts) > 0 {
				q.Set(key, strings.Join(parts, ","))
			}
		default:
			if s := fmt.Sprint(value.Interface()); s != "" {
				q.Set(key, s)
			}
		}
	}
	return q
}

// mapValues translates every value through table and drops unmapped ones.
func mapValues(table map[string]string, values []string) []string {
	var out []string
	for _, v := range values {
		if code, ok := table[v]; ok && code != "" {
			out = append(out, code)
		}
	}
	return out
}
