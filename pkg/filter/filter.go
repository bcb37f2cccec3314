// Package filter implements parsing and matching of LDAP-style filter
// expressions against properties.Properties maps, as used by service
// registry queries and listener/find hooks.
package filter

import (
	"fmt"
	"strconv"
	"strings"

	celixerrors "github.com/gocelix/gocelix/pkg/errors"
	"github.com/gocelix/gocelix/pkg/properties"
	"github.com/gocelix/gocelix/pkg/version"
)

// Filter is the parsed AST of an LDAP filter expression.
type Filter interface {
	// Matches reports whether props satisfies the filter. A nil or empty
	// filter matches everything; callers should prefer MatchAll() or treat
	// a nil Filter as an unconditional match.
	Matches(props *properties.Properties) bool
	String() string
}

// MatchAll returns a filter that matches every property map, the parse
// result of an empty filter string.
func MatchAll() Filter { return andFilter{} }

type andFilter struct{ subs []Filter }

func (f andFilter) Matches(p *properties.Properties) bool {
	for _, s := range f.subs {
		if !s.Matches(p) {
			return false
		}
	}
	return true
}

func (f andFilter) String() string {
	if len(f.subs) == 0 {
		return "()"
	}
	var b strings.Builder
	b.WriteString("(&")
	for _, s := range f.subs {
		b.WriteString(s.String())
	}
	b.WriteByte(')')
	return b.String()
}

type orFilter struct{ subs []Filter }

func (f orFilter) Matches(p *properties.Properties) bool {
	for _, s := range f.subs {
		if s.Matches(p) {
			return true
		}
	}
	return false
}

func (f orFilter) String() string {
	var b strings.Builder
	b.WriteString("(|")
	for _, s := range f.subs {
		b.WriteString(s.String())
	}
	b.WriteByte(')')
	return b.String()
}

type notFilter struct{ sub Filter }

func (f notFilter) Matches(p *properties.Properties) bool { return !f.sub.Matches(p) }
func (f notFilter) String() string                         { return "(!" + f.sub.String() + ")" }

type presentFilter struct{ key string }

func (f presentFilter) Matches(p *properties.Properties) bool { return p.Has(f.key) }
func (f presentFilter) String() string                         { return fmt.Sprintf("(%s=*)", escape(f.key)) }

type equalFilter struct{ key, value string }

func (f equalFilter) Matches(p *properties.Properties) bool {
	v, ok := p.Get(f.key)
	if !ok {
		return false
	}
	return v.AsString() == f.value
}
func (f equalFilter) String() string {
	return fmt.Sprintf("(%s=%s)", escape(f.key), escape(f.value))
}

type substringFilter struct {
	key      string
	segments []string
}

func (f substringFilter) Matches(p *properties.Properties) bool {
	v, ok := p.Get(f.key)
	if !ok {
		return false
	}
	return matchSubstring(v.AsString(), f.segments)
}
func (f substringFilter) String() string {
	return fmt.Sprintf("(%s=%s)", escape(f.key), escapeJoinSegments(f.segments))
}

func matchSubstring(value string, segments []string) bool {
	s := value
	if len(segments) == 0 {
		return true
	}
	first := segments[0]
	last := segments[len(segments)-1]
	mid := segments[1 : len(segments)-1]
	if first != "" {
		if !strings.HasPrefix(s, first) {
			return false
		}
		s = s[len(first):]
	}
	if last != "" {
		if !strings.HasSuffix(s, last) {
			return false
		}
		s = s[:len(s)-len(last)]
	}
	for _, m := range mid {
		idx := strings.Index(s, m)
		if idx < 0 {
			return false
		}
		s = s[idx+len(m):]
	}
	return true
}

type compareOp int

const (
	opGE compareOp = iota
	opLE
)

type compareFilter struct {
	key   string
	value string
	op    compareOp
}

func (f compareFilter) Matches(p *properties.Properties) bool {
	v, ok := p.Get(f.key)
	if !ok {
		return false
	}
	c, ok := typedCompare(v, f.value)
	if !ok {
		c = strings.Compare(v.AsString(), f.value)
	}
	if f.op == opGE {
		return c >= 0
	}
	return c <= 0
}

func (f compareFilter) String() string {
	op := ">="
	if f.op == opLE {
		op = "<="
	}
	return fmt.Sprintf("(%s%s%s)", escape(f.key), op, escape(f.value))
}

// typedCompare compares the stored value against the filter's raw string
// using the stored tag, when the filter value parses under that tag.
func typedCompare(v properties.Value, raw string) (int, bool) {
	switch v.Kind {
	case properties.LongKind:
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return 0, false
		}
		switch {
		case v.Long < n:
			return -1, true
		case v.Long > n:
			return 1, true
		default:
			return 0, true
		}
	case properties.DoubleKind:
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return 0, false
		}
		switch {
		case v.Double < f:
			return -1, true
		case v.Double > f:
			return 1, true
		default:
			return 0, true
		}
	case properties.VersionKind:
		parsed, err := version.Parse(strings.TrimSpace(raw))
		if err != nil {
			return 0, false
		}
		return v.Version.Compare(parsed), true
	default:
		return 0, false
	}
}

type approxFilter struct{ key, value string }

func (f approxFilter) Matches(p *properties.Properties) bool {
	v, ok := p.Get(f.key)
	if !ok {
		return false
	}
	return normalizeApprox(v.AsString()) == normalizeApprox(f.value)
}
func (f approxFilter) String() string {
	return fmt.Sprintf("(%s~=%s)", escape(f.key), escape(f.value))
}

func normalizeApprox(s string) string {
	fields := strings.Fields(s)
	return strings.ToLower(strings.Join(fields, " "))
}

// And returns a filter matching when every sub-filter matches.
func And(subs []Filter) Filter { return andFilter{subs: subs} }

// Or returns a filter matching when any sub-filter matches.
func Or(subs []Filter) Filter { return orFilter{subs: subs} }

// Not returns a filter matching when sub does not.
func Not(sub Filter) Filter { return notFilter{sub: sub} }

// Equal returns a filter for "(key=value)".
func Equal(key, value string) Filter { return equalFilter{key: key, value: value} }

// Present returns a filter for "(key=*)".
func Present(key string) Filter { return presentFilter{key: key} }

// GreaterEqual returns a filter for "(key>=value)".
func GreaterEqual(key, value string) Filter { return compareFilter{key: key, value: value, op: opGE} }

// LessEqual returns a filter for "(key<=value)".
func LessEqual(key, value string) Filter { return compareFilter{key: key, value: value, op: opLE} }

// Approx returns a filter for "(key~=value)".
func Approx(key, value string) Filter { return approxFilter{key: key, value: value} }

func escape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '(', ')', '*', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func escapeJoinSegments(segments []string) string {
	parts := make([]string, len(segments))
	for i, s := range segments {
		parts[i] = escape(s)
	}
	return strings.Join(parts, "*")
}
