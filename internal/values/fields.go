package values

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Field is one column/value pair.
type Field struct {
	Column string
	Value  Scalar
}

// Fields is an ordered column mapping. Decoding from JSON preserves the
// document order of the object keys.
type Fields []Field

// Columns returns the column names in order.
func (f Fields) Columns() []string {
	cols := make([]string, len(f))
	for i, fld := range f {
		cols[i] = fld.Column
	}
	return cols
}

// Args returns the values as database/sql arguments, in column order.
func (f Fields) Args() []any {
	args := make([]any, len(f))
	for i, fld := range f {
		args[i] = fld.Value.Any()
	}
	return args
}

// Get returns the value for the column.
func (f Fields) Get(column string) (Scalar, bool) {
	for _, fld := range f {
		if fld.Column == column {
			return fld.Value, true
		}
	}
	return Scalar{}, false
}

func (f Fields) MarshalJSON() ([]byte, error) {
	if f == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, fld := range f {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(fld.Column)
		if err != nil {
			return nil, err
		}
		v, err := fld.Value.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (f *Fields) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*f = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errors.New("expected a JSON object of column values")
	}
	out := Fields{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		col, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected token %v", tok)
		}
		if _, dup := out.Get(col); dup {
			return fmt.Errorf("duplicate column %q", col)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		var v Scalar
		if err := v.UnmarshalJSON(raw); err != nil {
			return fmt.Errorf("column %q: %w", col, err)
		}
		out = append(out, Field{Column: col, Value: v})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*f = out
	return nil
}
