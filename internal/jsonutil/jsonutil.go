// Package jsonutil prints flat structs as colored "name: value" lines for terminal output.
package jsonutil

import (
	"bytes"

	"github.com/fatih/structs"
	"github.com/hokaccha/go-prettyjson"
)

var formatter *prettyjson.Formatter

func init() {
	formatter = prettyjson.NewFormatter()
	formatter.Indent = 0
	formatter.Newline = ""
}

// SetColor enables or disables colored values.
func SetColor(enabled bool) {
	formatter.DisabledColor = !enabled
}

// MarshalCompactPretty formats each exported field of the struct v on its own line, in declaration order.
// Field names come from the "structs" tag when present.
func MarshalCompactPretty(v any) ([]byte, error) {
	var buf bytes.Buffer
	for _, f := range structs.Fields(v) {
		if !f.IsExported() {
			continue
		}
		name := f.Name()
		if tag := f.Tag("structs"); tag != "" {
			name = tag
		}
		b, err := formatter.Marshal(f.Value())
		if err != nil {
			return nil, err
		}
		buf.WriteString(name)
		buf.WriteString(": ")
		buf.Write(b)
		buf.WriteRune('\n')
	}
	return buf.Bytes(), nil
}
