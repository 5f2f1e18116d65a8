package ddd

import (
	"reflect"
	"strings"
)

// InstrumentationVersion is reported by the otel decorators.
const InstrumentationVersion = "0.1.0"

// TypeName returns the bare type name of v, without package path or pointer
// markers. Used as the routing key for events, commands and queries.
func TypeName(v any) string {
	if v == nil {
		return ""
	}
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	name := t.Name()
	if name == "" {
		// Anonymous types fall back to the full string form.
		name = t.String()
		if i := strings.LastIndex(name, "."); i >= 0 {
			name = name[i+1:]
		}
	}
	return name
}
