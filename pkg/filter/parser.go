package filter

import (
	celixerrors "github.com/gocelix/gocelix/pkg/errors"
)

// Parse parses an LDAP filter expression. An empty (or all-whitespace)
// string parses to MatchAll(). Surrounding whitespace is tolerated;
// whitespace inside the expression is significant.
func Parse(s string) (Filter, error) {
	trimmed := trimOuter(s)
	if trimmed == "" {
		return MatchAll(), nil
	}
	p := &parser{s: []rune(trimmed)}
	f, err := p.parseFilter()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.s) {
		return nil, celixerrors.NewInvalidArgument("filter.Parse", "trailing characters after filter expression: %q", string(p.s[p.pos:]))
	}
	return f, nil
}

func trimOuter(s string) string {
	start, end := 0, len(s)
	for start < end && isSpace(rune(s[start])) {
		start++
	}
	for end > start && isSpace(rune(s[end-1])) {
		end--
	}
	return s[start:end]
}

func isSpace(r rune) bool { return r == ' ' || r == '\t' || r == '\n' || r == '\r' }

type parser struct {
	s   []rune
	pos int
}

func (p *parser) eof() bool { return p.pos >= len(p.s) }

func (p *parser) peek() rune {
	if p.eof() {
		return 0
	}
	return p.s[p.pos]
}

func (p *parser) next() rune {
	r := p.peek()
	p.pos++
	return r
}

func (p *parser) expect(r rune) error {
	if p.eof() || p.s[p.pos] != r {
		return celixerrors.NewInvalidArgument("filter.Parse", "expected %q at position %d", string(r), p.pos)
	}
	p.pos++
	return nil
}

// parseFilter parses one '(' ... ')' grouping.
func (p *parser) parseFilter() (Filter, error) {
	if err := p.expect('('); err != nil {
		return nil, err
	}
	if p.eof() {
		return nil, celixerrors.NewInvalidArgument("filter.Parse", "unmatched parenthesis")
	}
	switch p.peek() {
	case '&':
		p.next()
		subs, err := p.parseFilterList()
		if err != nil {
			return nil, err
		}
		if err := p.expect(')'); err != nil {
			return nil, err
		}
		return And(subs), nil
	case '|':
		p.next()
		subs, err := p.parseFilterList()
		if err != nil {
			return nil, err
		}
		if err := p.expect(')'); err != nil {
			return nil, err
		}
		return Or(subs), nil
	case '!':
		p.next()
		sub, err := p.parseFilter()
		if err != nil {
			return nil, err
		}
		if err := p.expect(')'); err != nil {
			return nil, err
		}
		return Not(sub), nil
	default:
		return p.parseComparison()
	}
}

func (p *parser) parseFilterList() ([]Filter, error) {
	var subs []Filter
	for !p.eof() && p.peek() == '(' {
		f, err := p.parseFilter()
		if err != nil {
			return nil, err
		}
		subs = append(subs, f)
	}
	if len(subs) == 0 {
		return nil, celixerrors.NewInvalidArgument("filter.Parse", "expected at least one nested filter")
	}
	return subs, nil
}

// parseComparison parses "key op value)" with the opening '(' already
// consumed by the caller.
func (p *parser) parseComparison() (Filter, error) {
	keyStart := p.pos
	for !p.eof() && !isOperatorStart(p.peek()) && p.peek() != ')' {
		if p.peek() == '\\' {
			p.pos += 2
			continue
		}
		p.pos++
	}
	key := unescape(string(p.s[keyStart:p.pos]))
	if key == "" {
		return nil, celixerrors.NewInvalidArgument("filter.Parse", "empty attribute key")
	}
	if p.eof() {
		return nil, celixerrors.NewInvalidArgument("filter.Parse", "unmatched parenthesis")
	}

	var op string
	switch p.peek() {
	case '=':
		op = "="
		p.pos++
	case '>':
		p.pos++
		if err := p.expect('='); err != nil {
			return nil, celixerrors.NewInvalidArgument("filter.Parse", "unknown operator '>' without '='")
		}
		op = ">="
	case '<':
		p.pos++
		if err := p.expect('='); err != nil {
			return nil, celixerrors.NewInvalidArgument("filter.Parse", "unknown operator '<' without '='")
		}
		op = "<="
	case '~':
		p.pos++
		if err := p.expect('='); err != nil {
			return nil, celixerrors.NewInvalidArgument("filter.Parse", "unknown operator '~' without '='")
		}
		op = "~="
	default:
		return nil, celixerrors.NewInvalidArgument("filter.Parse", "unknown operator starting at %q", string(p.s[p.pos:]))
	}

	valStart := p.pos
	for !p.eof() && p.peek() != ')' {
		if p.peek() == '\\' {
			p.pos += 2
			continue
		}
		p.pos++
	}
	if p.eof() {
		return nil, celixerrors.NewInvalidArgument("filter.Parse", "unmatched parenthesis")
	}
	rawValue := string(p.s[valStart:p.pos])
	if err := p.expect(')'); err != nil {
		return nil, err
	}

	switch op {
	case "=":
		if rawValue == "*" {
			return Present(key), nil
		}
		if segments, isSub := splitSubstring(rawValue); isSub {
			return substringFilter{key: key, segments: segments}, nil
		}
		return Equal(key, unescape(rawValue)), nil
	case ">=":
		return GreaterEqual(key, unescape(rawValue)), nil
	case "<=":
		return LessEqual(key, unescape(rawValue)), nil
	case "~=":
		return Approx(key, unescape(rawValue)), nil
	}
	panic("unreachable")
}

func isOperatorStart(r rune) bool {
	return r == '=' || r == '>' || r == '<' || r == '~'
}

// splitSubstring splits rawValue on unescaped '*' into segments and reports
// whether an unescaped '*' was actually present (a bare "*" is handled by
// the Present case before this is called).
func splitSubstring(rawValue string) ([]string, bool) {
	runes := []rune(rawValue)
	var segments []string
	var cur []rune
	found := false
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '\\':
			if i+1 < len(runes) {
				cur = append(cur, runes[i+1])
				i++
			}
		case '*':
			found = true
			segments = append(segments, string(cur))
			cur = nil
		default:
			cur = append(cur, runes[i])
		}
	}
	segments = append(segments, string(cur))
	return segments, found
}

func unescape(s string) string {
	runes := []rune(s)
	var b []rune
	for i := 0; i < len(runes); i++ {
		if runes[i] == '\\' && i+1 < len(runes) {
			b = append(b, runes[i+1])
			i++
			continue
		}
		b = append(b, runes[i])
	}
	return string(b)
}
