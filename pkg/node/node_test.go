package node

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord() *Node {
	return Record(
		Field{Name: "lr", Value: Float(0.01)},
		Field{Name: "steps", Value: Int(100)},
		Field{Name: "ppo", Value: Record(
			Field{Name: "gamma", Value: Float(0.99)},
		)},
	)
}

func TestLookupInsertRemove(t *testing.T) {
	n := sampleRecord()

	got, ok := n.Lookup(MustPath("ppo.gamma"))
	require.True(t, ok)
	assert.Equal(t, 0.99, got.AsFloat())

	_, ok = n.Lookup(MustPath("ppo.missing"))
	assert.False(t, ok)

	// Insert creates intermediate records for unknown parents.
	require.NoError(t, n.Insert(MustPath("optimizer.momentum"), Float(0.9)))
	got, ok = n.Lookup(MustPath("optimizer.momentum"))
	require.True(t, ok)
	assert.Equal(t, 0.9, got.AsFloat())

	// Insert through a leaf fails.
	require.Error(t, n.Insert(MustPath("lr.nested"), Int(1)))

	removed, ok := n.Remove(MustPath("ppo.gamma"))
	require.True(t, ok)
	assert.Equal(t, 0.99, removed.AsFloat())
	_, ok = n.Lookup(MustPath("ppo.gamma"))
	assert.False(t, ok)

	_, ok = n.Remove(MustPath("ppo.gamma"))
	assert.False(t, ok)
}

func TestCloneIsDeep(t *testing.T) {
	n := sampleRecord()
	c := n.Clone()
	require.True(t, n.Equal(c))

	require.NoError(t, c.Insert(MustPath("ppo.gamma"), Float(0.5)))
	got, _ := n.Lookup(MustPath("ppo.gamma"))
	assert.Equal(t, 0.99, got.AsFloat())
	assert.False(t, n.Equal(c))
}

func TestEqualIsOrderSensitive(t *testing.T) {
	a := Record(
		Field{Name: "x", Value: Int(1)},
		Field{Name: "y", Value: Int(2)},
	)
	b := Record(
		Field{Name: "y", Value: Int(2)},
		Field{Name: "x", Value: Int(1)},
	)
	assert.False(t, a.Equal(b))
}

func TestSetFirst(t *testing.T) {
	n := sampleRecord()
	n.SetFirst("version", Int(2))
	assert.Equal(t, "version", n.Fields()[0].Name)

	// Re-inserting moves an existing field to the front without duplication.
	n.SetFirst("steps", Int(100))
	assert.Equal(t, "steps", n.Fields()[0].Name)
	count := 0
	for _, f := range n.Fields() {
		if f.Name == "steps" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}
