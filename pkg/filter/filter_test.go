package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gocelix/gocelix/pkg/properties"
)

func propsWith(kv ...interface{}) *properties.Properties {
	p := properties.New()
	for i := 0; i+1 < len(kv); i += 2 {
		key := kv[i].(string)
		switch v := kv[i+1].(type) {
		case string:
			p.SetString(key, v)
		case int64:
			p.SetLong(key, v)
		case float64:
			p.SetDouble(key, v)
		case bool:
			p.SetBool(key, v)
		}
	}
	return p
}

func TestParseAndMatchSimpleEquality(t *testing.T) {
	f, err := Parse("(color=red)")
	require.NoError(t, err)

	assert.True(t, f.Matches(propsWith("color", "red")))
	assert.False(t, f.Matches(propsWith("color", "blue")))
	assert.False(t, f.Matches(propsWith("shape", "square")))
}

func TestParseEmptyMatchesAll(t *testing.T) {
	f, err := Parse("")
	require.NoError(t, err)
	assert.True(t, f.Matches(propsWith()))
}

func TestParseAndOrNot(t *testing.T) {
	f, err := Parse("(&(color=red)(|(size=big)(size=small)))")
	require.NoError(t, err)

	assert.True(t, f.Matches(propsWith("color", "red", "size", "big")))
	assert.True(t, f.Matches(propsWith("color", "red", "size", "small")))
	assert.False(t, f.Matches(propsWith("color", "red", "size", "medium")))
	assert.False(t, f.Matches(propsWith("color", "blue", "size", "big")))

	notF, err := Parse("(!(color=red))")
	require.NoError(t, err)
	assert.False(t, notF.Matches(propsWith("color", "red")))
	assert.True(t, notF.Matches(propsWith("color", "blue")))
}

func TestParsePresence(t *testing.T) {
	f, err := Parse("(color=*)")
	require.NoError(t, err)
	assert.True(t, f.Matches(propsWith("color", "red")))
	assert.False(t, f.Matches(propsWith("shape", "square")))
}

func TestParseSubstring(t *testing.T) {
	f, err := Parse("(name=fo*ar)")
	require.NoError(t, err)
	assert.True(t, f.Matches(propsWith("name", "foobar")))
	assert.False(t, f.Matches(propsWith("name", "barfoo")))
}

func TestParseComparisonTyped(t *testing.T) {
	f, err := Parse("(count>=5)")
	require.NoError(t, err)
	assert.True(t, f.Matches(propsWith("count", int64(10))))
	assert.False(t, f.Matches(propsWith("count", int64(1))))
}

func TestParseApprox(t *testing.T) {
	f, err := Parse("(name~=Foo  Bar)")
	require.NoError(t, err)
	assert.True(t, f.Matches(propsWith("name", "foo bar")))
}

func TestParseEscapedCharacters(t *testing.T) {
	f, err := Parse(`(name=foo\(bar\))`)
	require.NoError(t, err)
	assert.True(t, f.Matches(propsWith("name", "foo(bar)")))
}

func TestParseErrors(t *testing.T) {
	for _, in := range []string{
		"(",
		"(color=red",
		"(=red)",
		"(color?red)",
		"(color=red)extra",
		"(&)",
	} {
		_, err := Parse(in)
		assert.Error(t, err, in)
	}
}

func TestStringRoundTrip(t *testing.T) {
	f, err := Parse("(&(color=red)(size>=5))")
	require.NoError(t, err)
	again, err := Parse(f.String())
	require.NoError(t, err)
	assert.Equal(t, f.String(), again.String())
}

func TestConstructorsMatch(t *testing.T) {
	assert.True(t, Equal("k", "v").Matches(propsWith("k", "v")))
	assert.True(t, Present("k").Matches(propsWith("k", "v")))
	assert.True(t, GreaterEqual("k", "1").Matches(propsWith("k", "2")))
	assert.True(t, LessEqual("k", "2").Matches(propsWith("k", "1")))
	assert.True(t, And([]Filter{MatchAll()}).Matches(propsWith()))
	assert.True(t, Or([]Filter{Equal("k", "v")}).Matches(propsWith("k", "v")))
	assert.True(t, Not(Equal("k", "x")).Matches(propsWith("k", "v")))
}
