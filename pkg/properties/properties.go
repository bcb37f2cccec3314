// Package properties implements the framework's typed, order-preserving,
// case-insensitive key/value map used for service and component metadata.
package properties

import (
	"hash/fnv"
	"sort"
	"strconv"
	"strings"

	celixerrors "github.com/gocelix/gocelix/pkg/errors"
	"github.com/gocelix/gocelix/pkg/version"
)

// Kind tags the type of a stored Value.
type Kind int

const (
	StringKind Kind = iota
	LongKind
	DoubleKind
	BoolKind
	VersionKind
)

// Value is a tagged scalar: exactly one of the typed fields is meaningful,
// selected by Kind.
type Value struct {
	Kind    Kind
	Str     string
	Long    int64
	Double  float64
	Bool    bool
	Version version.Version
}

func StringValue(s string) Value  { return Value{Kind: StringKind, Str: s} }
func LongValue(n int64) Value     { return Value{Kind: LongKind, Long: n} }
func DoubleValue(f float64) Value { return Value{Kind: DoubleKind, Double: f} }
func BoolValue(b bool) Value      { return Value{Kind: BoolKind, Bool: b} }
func VersionValue(v version.Version) Value { return Value{Kind: VersionKind, Version: v} }

// AsString coerces the value to a string, best-effort.
func (v Value) AsString() string {
	switch v.Kind {
	case StringKind:
		return v.Str
	case LongKind:
		return strconv.FormatInt(v.Long, 10)
	case DoubleKind:
		return strconv.FormatFloat(v.Double, 'g', -1, 64)
	case BoolKind:
		return strconv.FormatBool(v.Bool)
	case VersionKind:
		return v.Version.String()
	}
	return ""
}

// AsLong coerces the value to an int64, falling back to def on failure.
func (v Value) AsLong(def int64) int64 {
	switch v.Kind {
	case LongKind:
		return v.Long
	case DoubleKind:
		return int64(v.Double)
	case StringKind:
		if n, err := strconv.ParseInt(strings.TrimSpace(v.Str), 10, 64); err == nil {
			return n
		}
	}
	return def
}

// AsDouble coerces the value to a float64, falling back to def on failure.
func (v Value) AsDouble(def float64) float64 {
	switch v.Kind {
	case DoubleKind:
		return v.Double
	case LongKind:
		return float64(v.Long)
	case StringKind:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64); err == nil {
			return f
		}
	}
	return def
}

// AsBool coerces the value to a bool, falling back to def on failure.
func (v Value) AsBool(def bool) bool {
	switch v.Kind {
	case BoolKind:
		return v.Bool
	case StringKind:
		if b, err := strconv.ParseBool(strings.TrimSpace(v.Str)); err == nil {
			return b
		}
	}
	return def
}

// AsVersion coerces the value to a version.Version, falling back to def.
func (v Value) AsVersion(def version.Version) version.Version {
	switch v.Kind {
	case VersionKind:
		return v.Version
	case StringKind:
		if parsed, err := version.Parse(strings.TrimSpace(v.Str)); err == nil {
			return parsed
		}
	}
	return def
}

type entry struct {
	original string
	value    Value
}

// Properties is an ordered, case-insensitive string-keyed map.
type Properties struct {
	order []string          // canonical (lower-case) keys, insertion order
	data  map[string]entry
}

// New returns an empty Properties map.
func New() *Properties {
	return &Properties{data: make(map[string]entry)}
}

func canon(key string) string { return strings.ToLower(key) }

// Set replaces the value (and tag) stored under key. Insertion order is
// preserved for keys already present; new keys are appended.
func (p *Properties) Set(key string, v Value) {
	c := canon(key)
	e, ok := p.data[c]
	if !ok {
		p.order = append(p.order, c)
		e.original = key
	}
	e.value = v
	p.data[c] = e
}

func (p *Properties) SetString(key, s string)                 { p.Set(key, StringValue(s)) }
func (p *Properties) SetLong(key string, n int64)              { p.Set(key, LongValue(n)) }
func (p *Properties) SetDouble(key string, f float64)           { p.Set(key, DoubleValue(f)) }
func (p *Properties) SetBool(key string, b bool)                { p.Set(key, BoolValue(b)) }
func (p *Properties) SetVersion(key string, v version.Version) { p.Set(key, VersionValue(v)) }

// Get returns the raw tagged value and whether key is present.
func (p *Properties) Get(key string) (Value, bool) {
	e, ok := p.data[canon(key)]
	return e.value, ok
}

func (p *Properties) GetString(key, def string) string {
	if v, ok := p.Get(key); ok {
		return v.AsString()
	}
	return def
}

func (p *Properties) GetLong(key string, def int64) int64 {
	if v, ok := p.Get(key); ok {
		return v.AsLong(def)
	}
	return def
}

func (p *Properties) GetDouble(key string, def float64) float64 {
	if v, ok := p.Get(key); ok {
		return v.AsDouble(def)
	}
	return def
}

func (p *Properties) GetBool(key string, def bool) bool {
	if v, ok := p.Get(key); ok {
		return v.AsBool(def)
	}
	return def
}

func (p *Properties) GetVersion(key string, def version.Version) version.Version {
	if v, ok := p.Get(key); ok {
		return v.AsVersion(def)
	}
	return def
}

// Has reports whether key is present.
func (p *Properties) Has(key string) bool {
	_, ok := p.data[canon(key)]
	return ok
}

// Remove deletes key, if present.
func (p *Properties) Remove(key string) {
	c := canon(key)
	if _, ok := p.data[c]; !ok {
		return
	}
	delete(p.data, c)
	for i, k := range p.order {
		if k == c {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order, using each key's original
// casing (the casing of its first Set call).
func (p *Properties) Keys() []string {
	out := make([]string, 0, len(p.order))
	for _, c := range p.order {
		out = append(out, p.data[c].original)
	}
	return out
}

// Len returns the number of keys.
func (p *Properties) Len() int { return len(p.order) }

// Clone returns a deep copy.
func (p *Properties) Clone() *Properties {
	cp := New()
	cp.order = append([]string(nil), p.order...)
	cp.data = make(map[string]entry, len(p.data))
	for k, v := range p.data {
		cp.data[k] = v
	}
	return cp
}

// Equal reports whether p and other hold the same key/value pairs,
// irrespective of insertion order.
func (p *Properties) Equal(other *Properties) bool {
	if other == nil {
		return p == nil || p.Len() == 0
	}
	if p.Len() != other.Len() {
		return false
	}
	for k, v := range p.data {
		ov, ok := other.data[k]
		if !ok || ov.value != v.value {
			return false
		}
	}
	return true
}

// Hash returns an order-independent fnv digest of the map's contents. The
// registry does not call it; listener notifications are not deduplicated.
func (p *Properties) Hash() uint64 {
	keys := make([]string, 0, len(p.order))
	for k := range p.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	h := fnv.New64a()
	for _, k := range keys {
		e := p.data[k]
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(e.value.AsString()))
		h.Write([]byte{1})
	}
	return h.Sum64()
}

// ReplaceUserKeys swaps every key in p except those in keep for the
// corresponding keys of newProps, leaving keep's current values untouched.
// Used by the registry to apply modify_properties without disturbing the
// synthesised service.id/objectClass/service.ranking keys.
func (p *Properties) ReplaceUserKeys(newProps *Properties, keep map[string]struct{}) error {
	if newProps == nil {
		return celixerrors.NewInvalidArgument("ReplaceUserKeys", "new properties must not be nil")
	}
	preserved := New()
	for _, c := range p.order {
		if _, ok := keep[c]; ok {
			preserved.order = append(preserved.order, c)
			preserved.data[c] = p.data[c]
		}
	}
	for _, k := range newProps.Keys() {
		c := canon(k)
		if _, ok := keep[c]; ok {
			continue // synthesised keys are immutable via modify_properties
		}
		v, _ := newProps.Get(k)
		if _, seen := preserved.data[c]; !seen {
			preserved.order = append(preserved.order, c)
		}
		preserved.data[c] = entry{original: k, value: v}
	}
	p.order = preserved.order
	p.data = preserved.data
	return nil
}
