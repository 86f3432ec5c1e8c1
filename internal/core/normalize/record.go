package normalize

import (
	"bytes"
	"encoding/json"
)

// Record is a flat output record that keeps its field insertion order.
type Record struct {
	keys []string
	vals map[string]string
}

func NewRecord() *Record {
	return &Record{vals: make(map[string]string)}
}

// Set adds or overwrites a field. Overwrites keep the original position.
func (r *Record) Set(key, value string) {
	if _, ok := r.vals[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.vals[key] = value
}

func (r *Record) Get(key string) (string, bool) {
	v, ok := r.vals[key]
	return v, ok
}

// Keys returns the field names in insertion order.
func (r *Record) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

func (r *Record) Len() int { return len(r.keys) }

// Map copies the fields into a plain map.
func (r *Record) Map() map[string]string {
	out := make(map[string]string, len(r.vals))
	for k, v := range r.vals {
		out[k] = v
	}
	return out
}

// Select keeps only the named columns, in the given order. Unknown names are skipped.
func (r *Record) Select(columns []string) *Record {
	out := NewRecord()
	for _, c := range columns {
		if v, ok := r.vals[c]; ok {
			out.Set(c, v)
		}
	}
	return out
}

func (r *Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(r.vals[k])
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
