// Package values models the column values accepted by structured
// operations: a closed set of scalar variants and ordered column mappings.
package values

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Kind is the variant of a Scalar.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindTimestamp
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "boolean"
	case KindTimestamp:
		return "timestamp"
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// ErrNotScalar is returned when a JSON object or array appears where a
// scalar column value is expected.
var ErrNotScalar = errors.New("value must be a string, number, boolean or null")

// Scalar is a single column value. The zero value is null.
type Scalar struct {
	kind Kind
	text string // string or timestamp source text
	num  json.Number
	b    bool
	t    time.Time
}

func Null() Scalar                { return Scalar{} }
func String(s string) Scalar      { return Scalar{kind: KindString, text: s} }
func Bool(b bool) Scalar          { return Scalar{kind: KindBool, b: b} }
func Int(i int64) Scalar          { return Scalar{kind: KindNumber, num: json.Number(strconv.FormatInt(i, 10))} }
func Number(n json.Number) Scalar { return Scalar{kind: KindNumber, num: n} }

// Time returns a timestamp scalar, rendered as RFC 3339 with nanoseconds.
func Time(t time.Time) Scalar {
	return Scalar{kind: KindTimestamp, text: t.Format(time.RFC3339Nano), t: t}
}

func (s Scalar) Kind() Kind   { return s.kind }
func (s Scalar) IsNull() bool { return s.kind == KindNull }

// Text returns the textual form of the value, as used in URL filters.
func (s Scalar) Text() string {
	switch s.kind {
	case KindString, KindTimestamp:
		return s.text
	case KindNumber:
		return s.num.String()
	case KindBool:
		return strconv.FormatBool(s.b)
	}
	return "null"
}

// Any returns the value as a database/sql argument. Numbers that are not an
// exact int64 and do not survive a float64 round trip are passed as text so
// the database parses them at full precision.
func (s Scalar) Any() any {
	switch s.kind {
	case KindString:
		return s.text
	case KindTimestamp:
		return s.t
	case KindNumber:
		if i, err := s.num.Int64(); err == nil {
			return i
		}
		if f, err := s.num.Float64(); err == nil && strconv.FormatFloat(f, 'g', -1, 64) == s.num.String() {
			return f
		}
		return s.num.String()
	case KindBool:
		return s.b
	}
	return nil
}

func (s Scalar) MarshalJSON() ([]byte, error) {
	switch s.kind {
	case KindString, KindTimestamp:
		return json.Marshal(s.text)
	case KindNumber:
		return []byte(s.num.String()), nil
	case KindBool:
		return []byte(strconv.FormatBool(s.b)), nil
	}
	return []byte("null"), nil
}

func (s *Scalar) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	switch v := tok.(type) {
	case nil:
		*s = Null()
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			*s = Scalar{kind: KindTimestamp, text: v, t: t}
		} else {
			*s = String(v)
		}
	case json.Number:
		*s = Number(v)
	case bool:
		*s = Bool(v)
	case json.Delim:
		return ErrNotScalar
	default:
		return fmt.Errorf("unexpected token %v", tok)
	}
	return nil
}
