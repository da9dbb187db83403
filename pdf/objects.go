package pdf

import (
	"fmt"
	"strings"
)

// Object is any value that can appear in a PDF body: names, numbers,
// strings, booleans, null, arrays, dictionaries, streams and indirect
// references.
type Object interface {
	isObject()
}

// Ref identifies an indirect object. It doubles as the value form that
// appears inside containers and as the map key used by the loader cache.
type Ref struct {
	Num int
	Gen int
}

func (Ref) isObject() {}

func (r Ref) String() string { return fmt.Sprintf("%d %d R", r.Num, r.Gen) }

// Name is a PDF name object with the leading slash and #xx escapes removed.
type Name string

func (Name) isObject() {}

// Number holds an integer or real value. IsInt records which production the
// token came from; Int and Float convert either way.
type Number struct {
	I     int64
	F     float64
	IsInt bool
}

func (Number) isObject() {}

func (n Number) Int() int64 {
	if n.IsInt {
		return n.I
	}
	return int64(n.F)
}

func (n Number) Float() float64 {
	if n.IsInt {
		return float64(n.I)
	}
	return n.F
}

// Integer builds an integer Number.
func Integer(v int64) Number { return Number{I: v, IsInt: true} }

// Real builds a real Number.
func Real(v float64) Number { return Number{F: v} }

// String is a PDF string (literal or hex) with escapes already resolved.
// The bytes are not necessarily text; see extract for decoding.
type String []byte

func (String) isObject() {}

func (s String) Text() string { return string(s) }

// Bool is a PDF boolean.
type Bool bool

func (Bool) isObject() {}

// Null is the PDF null object.
type Null struct{}

func (Null) isObject() {}

// Array is an ordered collection of objects.
type Array struct {
	Items []Object
}

func (*Array) isObject() {}

func NewArray(items ...Object) *Array { return &Array{Items: items} }

func (a *Array) Len() int {
	if a == nil {
		return 0
	}
	return len(a.Items)
}

func (a *Array) Append(items ...Object) { a.Items = append(a.Items, items...) }

// At returns the i-th element or Null when out of range.
func (a *Array) At(i int) Object {
	if a == nil || i < 0 || i >= len(a.Items) {
		return Null{}
	}
	return a.Items[i]
}

// Dict is a PDF dictionary. Insertion order is preserved for deterministic
// iteration.
type Dict struct {
	kv   map[Name]Object
	keys []Name
}

func (*Dict) isObject() {}

func NewDict() *Dict { return &Dict{kv: make(map[Name]Object)} }

func (d *Dict) Set(key Name, val Object) {
	if d.kv == nil {
		d.kv = make(map[Name]Object)
	}
	if _, ok := d.kv[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.kv[key] = val
}

func (d *Dict) Get(key Name) (Object, bool) {
	if d == nil || d.kv == nil {
		return nil, false
	}
	v, ok := d.kv[key]
	return v, ok
}

func (d *Dict) Has(key Name) bool {
	_, ok := d.Get(key)
	return ok
}

func (d *Dict) Len() int {
	if d == nil {
		return 0
	}
	return len(d.keys)
}

// Keys returns the dictionary keys in insertion order.
func (d *Dict) Keys() []Name {
	if d == nil {
		return nil
	}
	out := make([]Name, len(d.keys))
	copy(out, d.keys)
	return out
}

// Name returns the value of key when it is a name.
func (d *Dict) Name(key Name) (Name, bool) {
	v, ok := d.Get(key)
	if !ok {
		return "", false
	}
	n, ok := v.(Name)
	return n, ok
}

// Int returns the value of key when it is a number, converted to int64.
func (d *Dict) Int(key Name) (int64, bool) {
	v, ok := d.Get(key)
	if !ok {
		return 0, false
	}
	n, ok := v.(Number)
	if !ok {
		return 0, false
	}
	return n.Int(), true
}

// Str returns the value of key when it is a string.
func (d *Dict) Str(key Name) (String, bool) {
	v, ok := d.Get(key)
	if !ok {
		return nil, false
	}
	s, ok := v.(String)
	return s, ok
}

// Arr returns the value of key when it is an array.
func (d *Dict) Arr(key Name) (*Array, bool) {
	v, ok := d.Get(key)
	if !ok {
		return nil, false
	}
	a, ok := v.(*Array)
	return a, ok
}

// Dct returns the value of key when it is a dictionary.
func (d *Dict) Dct(key Name) (*Dict, bool) {
	v, ok := d.Get(key)
	if !ok {
		return nil, false
	}
	sub, ok := v.(*Dict)
	return sub, ok
}

func (d *Dict) String() string {
	if d == nil {
		return "<<>>"
	}
	var b strings.Builder
	b.WriteString("<<")
	for i, k := range d.keys {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "/%s %v", string(k), d.kv[k])
	}
	b.WriteString(">>")
	return b.String()
}

// Stream pairs a stream dictionary with its raw (still encoded) data.
type Stream struct {
	Dict *Dict
	Raw  []byte
}

func (*Stream) isObject() {}

func NewStream(dict *Dict, raw []byte) *Stream {
	if dict == nil {
		dict = NewDict()
	}
	return &Stream{Dict: dict, Raw: raw}
}

// Rect is a normalized rectangle (x0 <= x1, y0 <= y1) in PDF user space.
type Rect struct {
	X0, Y0, X1, Y1 float64
}

func (r Rect) Width() float64  { return r.X1 - r.X0 }
func (r Rect) Height() float64 { return r.Y1 - r.Y0 }

// RectFromArray reads a [llx lly urx ury] array, normalizing flipped corners.
// Indirect elements must be resolved by the caller first.
func RectFromArray(a *Array) (Rect, bool) {
	if a.Len() != 4 {
		return Rect{}, false
	}
	var v [4]float64
	for i := 0; i < 4; i++ {
		n, ok := a.Items[i].(Number)
		if !ok {
			return Rect{}, false
		}
		v[i] = n.Float()
	}
	r := Rect{X0: v[0], Y0: v[1], X1: v[2], Y1: v[3]}
	if r.X0 > r.X1 {
		r.X0, r.X1 = r.X1, r.X0
	}
	if r.Y0 > r.Y1 {
		r.Y0, r.Y1 = r.Y1, r.Y0
	}
	return r, true
}
