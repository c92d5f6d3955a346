package models

import (
	"encoding/json"
	"sort"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// EnvMap is an insertion-ordered set of environment variables.
// Setting an existing key replaces its value but keeps its position.
type EnvMap struct {
	m *orderedmap.OrderedMap[string, string]
}

// NewEnvMap builds an EnvMap from alternating key/value arguments.
func NewEnvMap(kv ...string) *EnvMap {
	e := &EnvMap{m: orderedmap.New[string, string]()}
	for i := 0; i+1 < len(kv); i += 2 {
		e.m.Set(kv[i], kv[i+1])
	}
	return e
}

// EnvFromMap converts an unordered map, inserting keys in lexical order.
func EnvFromMap(src map[string]string) *EnvMap {
	keys := make([]string, 0, len(src))
	for k := range src {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	e := NewEnvMap()
	for _, k := range keys {
		e.Set(k, src[k])
	}
	return e
}

func (e *EnvMap) init() {
	if e.m == nil {
		e.m = orderedmap.New[string, string]()
	}
}

// Set inserts or replaces key.
func (e *EnvMap) Set(key, value string) {
	e.init()
	e.m.Set(key, value)
}

// Get returns the value for key.
func (e *EnvMap) Get(key string) (string, bool) {
	if e == nil || e.m == nil {
		return "", false
	}
	return e.m.Get(key)
}

// Delete removes key if present.
func (e *EnvMap) Delete(key string) {
	if e == nil || e.m == nil {
		return
	}
	e.m.Delete(key)
}

// Len returns the number of entries.
func (e *EnvMap) Len() int {
	if e == nil || e.m == nil {
		return 0
	}
	return e.m.Len()
}

// Keys returns the keys in insertion order.
func (e *EnvMap) Keys() []string {
	if e == nil || e.m == nil {
		return nil
	}
	keys := make([]string, 0, e.m.Len())
	for p := e.m.Oldest(); p != nil; p = p.Next() {
		keys = append(keys, p.Key)
	}
	return keys
}

// Each calls fn for every entry in insertion order.
func (e *EnvMap) Each(fn func(key, value string)) {
	if e == nil || e.m == nil {
		return
	}
	for p := e.m.Oldest(); p != nil; p = p.Next() {
		fn(p.Key, p.Value)
	}
}

// Merge writes every entry of other into e, later values winning.
func (e *EnvMap) Merge(other *EnvMap) *EnvMap {
	e.init()
	other.Each(func(k, v string) {
		e.m.Set(k, v)
	})
	return e
}

// Clone returns an independent copy.
func (e *EnvMap) Clone() *EnvMap {
	return NewEnvMap().Merge(e)
}

// Map returns the entries as a plain map.
func (e *EnvMap) Map() map[string]string {
	out := make(map[string]string, e.Len())
	e.Each(func(k, v string) {
		out[k] = v
	})
	return out
}

// List renders the entries as KEY=VALUE strings, the shape docker expects.
func (e *EnvMap) List() []string {
	out := make([]string, 0, e.Len())
	e.Each(func(k, v string) {
		out = append(out, k+"="+v)
	})
	return out
}

// Equal reports whether both maps hold the same entries in the same order.
func (e *EnvMap) Equal(other *EnvMap) bool {
	if e.Len() != other.Len() {
		return false
	}
	a, b := e.List(), other.List()
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (e *EnvMap) MarshalJSON() ([]byte, error) {
	e.init()
	return json.Marshal(e.m)
}

func (e *EnvMap) UnmarshalJSON(data []byte) error {
	e.init()
	return json.Unmarshal(data, e.m)
}
