package properties

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gocelix/gocelix/pkg/version"
)

func TestSetGetCoercion(t *testing.T) {
	p := New()
	p.SetString("name", "widget")
	p.SetLong("count", 5)
	p.SetDouble("ratio", 0.5)
	p.SetBool("enabled", true)
	p.SetVersion("ver", version.MustParse("1.2.3"))

	assert.Equal(t, "widget", p.GetString("NAME", "?"))
	assert.Equal(t, int64(5), p.GetLong("count", -1))
	assert.Equal(t, 0.5, p.GetDouble("ratio", -1))
	assert.True(t, p.GetBool("enabled", false))
	assert.Equal(t, version.MustParse("1.2.3"), p.GetVersion("ver", version.Zero))
}

func TestKeysPreserveInsertionOrderAndOriginalCasing(t *testing.T) {
	p := New()
	p.SetString("Zebra", "z")
	p.SetString("apple", "a")
	p.SetString("ZEBRA", "z2") // re-set, same canonical key, keeps position

	assert.Equal(t, []string{"Zebra", "apple"}, p.Keys())
	assert.Equal(t, "z2", p.GetString("zebra", ""))
}

func TestCaseInsensitiveLookup(t *testing.T) {
	p := New()
	p.SetString("Service.Ranking", "10")
	assert.True(t, p.Has("service.ranking"))
	assert.True(t, p.Has("SERVICE.RANKING"))
}

func TestRemove(t *testing.T) {
	p := New()
	p.SetString("a", "1")
	p.SetString("b", "2")
	p.Remove("a")
	assert.False(t, p.Has("a"))
	assert.Equal(t, []string{"b"}, p.Keys())
}

func TestCloneIsIndependent(t *testing.T) {
	p := New()
	p.SetString("a", "1")
	cp := p.Clone()
	cp.SetString("a", "2")
	assert.Equal(t, "1", p.GetString("a", ""))
	assert.Equal(t, "2", cp.GetString("a", ""))
}

func TestEqualIgnoresOrder(t *testing.T) {
	a := New()
	a.SetString("x", "1")
	a.SetString("y", "2")

	b := New()
	b.SetString("y", "2")
	b.SetString("x", "1")

	assert.True(t, a.Equal(b))
}

func TestHashIsOrderIndependent(t *testing.T) {
	a := New()
	a.SetString("x", "1")
	a.SetLong("y", 2)

	b := New()
	b.SetLong("y", 2)
	b.SetString("x", "1")

	assert.Equal(t, a.Hash(), b.Hash())
}

func TestReplaceUserKeysPreservesSynthesizedKeys(t *testing.T) {
	p := New()
	p.SetLong("service.id", 1)
	p.SetString("objectclass", "com.example.Foo")
	p.SetString("color", "red")

	newProps := New()
	newProps.SetString("color", "blue")
	newProps.SetString("objectclass", "should-be-ignored")

	keep := map[string]struct{}{"service.id": {}, "objectclass": {}}
	require.NoError(t, p.ReplaceUserKeys(newProps, keep))

	assert.Equal(t, int64(1), p.GetLong("service.id", -1))
	assert.Equal(t, "com.example.Foo", p.GetString("objectclass", ""))
	assert.Equal(t, "blue", p.GetString("color", ""))
}

func TestAsLongFallsBackOnUnparsable(t *testing.T) {
	v := StringValue("not-a-number")
	assert.Equal(t, int64(42), v.AsLong(42))
}
