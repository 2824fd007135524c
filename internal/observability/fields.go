// Package observability holds the key=value conventions shared by log lines
// and aggregated errors.
package observability

import (
	"fmt"
	"strings"
)

// Field is one key=value pair of a log line or error context.
type Field struct {
	Key   string
	Value any
}

// F builds a Field.
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// FormatFields renders fields as space separated key=value pairs in the order
// given. Values containing spaces are quoted.
func FormatFields(fields ...Field) string {
	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(f.Key)
		b.WriteByte('=')
		v := fmt.Sprint(f.Value)
		if strings.ContainsAny(v, " \t\n") {
			v = fmt.Sprintf("%q", v)
		}
		b.WriteString(v)
	}
	return b.String()
}
