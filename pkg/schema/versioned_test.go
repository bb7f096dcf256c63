package schema_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/hyperstate/pkg/node"
	"github.com/vk/hyperstate/pkg/schema"
)

func TestUpgradeAppliesChainAndRetags(t *testing.T) {
	desc, err := schema.Materialize(&versionedConfig{})
	require.NoError(t, err)

	in, err := node.Parse([]byte("lr = 0.05\n"), "old.hcl")
	require.NoError(t, err)

	out, err := schema.Upgrade(context.Background(), in, desc)
	require.NoError(t, err)

	lr, ok := out.Get("learning_rate")
	require.True(t, ok)
	assert.Equal(t, 0.05, lr.AsFloat())
	_, stillOld := out.Get("lr")
	assert.False(t, stillOld)

	v, ok := out.Get("version")
	require.True(t, ok)
	assert.Equal(t, int64(2), v.AsInt())

	// The input is untouched.
	_, mutated := in.Get("learning_rate")
	assert.False(t, mutated)
}

func TestUpgradeCurrentVersionIsNoop(t *testing.T) {
	desc, err := schema.Materialize(&versionedConfig{})
	require.NoError(t, err)

	in := node.Record(
		node.Field{Name: "version", Value: node.Int(2)},
		node.Field{Name: "learning_rate", Value: node.Float(0.2)},
	)
	out, err := schema.Upgrade(context.Background(), in, desc)
	require.NoError(t, err)
	assert.Same(t, in, out)
}

func TestUpgradeRejectsDowngrade(t *testing.T) {
	desc, err := schema.Materialize(&versionedConfig{})
	require.NoError(t, err)

	in := node.Record(node.Field{Name: "version", Value: node.Int(3)})
	_, err = schema.Upgrade(context.Background(), in, desc)
	require.Error(t, err)

	var verr *schema.VersionError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, 3, verr.Recorded)
	assert.Equal(t, 2, verr.Current)
	assert.Contains(t, err.Error(), "downgrade unsupported")
}

type gappedConfig struct {
	LearningRate float64
}

func (*gappedConfig) Version() int { return 2 }
func (*gappedConfig) UpgradeRules() map[int][]schema.RewriteRule {
	return map[int][]schema.RewriteRule{0: {}}
}

func TestUpgradeRejectsMissingRuleList(t *testing.T) {
	desc, err := schema.Materialize(&gappedConfig{})
	require.NoError(t, err)

	in := node.Record(node.Field{Name: "learning_rate", Value: node.Float(0.1)})
	_, err = schema.Upgrade(context.Background(), in, desc)
	require.Error(t, err)

	var verr *schema.VersionError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, 1, verr.Gap)
}

func TestRewriteRules(t *testing.T) {
	tests := []struct {
		name string
		rule schema.RewriteRule
		in   *node.Node
		want *node.Node
	}{
		{
			name: "rename moves value",
			rule: schema.RenameField{Old: node.MustPath("lr"), New: node.MustPath("opt.lr")},
			in:   node.Record(node.Field{Name: "lr", Value: node.Float(0.1)}),
			want: node.Record(node.Field{Name: "opt", Value: node.Record(
				node.Field{Name: "lr", Value: node.Float(0.1)},
			)}),
		},
		{
			name: "rename of missing field is a no-op",
			rule: schema.RenameField{Old: node.MustPath("lr"), New: node.MustPath("rate")},
			in:   node.Record(node.Field{Name: "steps", Value: node.Int(10)}),
			want: node.Record(node.Field{Name: "steps", Value: node.Int(10)}),
		},
		{
			name: "add field fills missing value",
			rule: schema.AddField{Path: node.MustPath("steps"), Default: node.Int(100)},
			in:   node.Record(),
			want: node.Record(node.Field{Name: "steps", Value: node.Int(100)}),
		},
		{
			name: "add field keeps existing value",
			rule: schema.AddField{Path: node.MustPath("steps"), Default: node.Int(100)},
			in:   node.Record(node.Field{Name: "steps", Value: node.Int(7)}),
			want: node.Record(node.Field{Name: "steps", Value: node.Int(7)}),
		},
		{
			name: "remove field",
			rule: schema.RemoveField{Path: node.MustPath("steps")},
			in:   node.Record(node.Field{Name: "steps", Value: node.Int(7)}),
			want: node.Record(),
		},
		{
			name: "change default materializes on absent field",
			rule: schema.ChangeDefault{Path: node.MustPath("steps"), Value: node.Int(200)},
			in:   node.Record(),
			want: node.Record(node.Field{Name: "steps", Value: node.Int(200)}),
		},
		{
			name: "change default leaves explicit value",
			rule: schema.ChangeDefault{Path: node.MustPath("steps"), Value: node.Int(200)},
			in:   node.Record(node.Field{Name: "steps", Value: node.Int(7)}),
			want: node.Record(node.Field{Name: "steps", Value: node.Int(7)}),
		},
		{
			name: "map int to float",
			rule: schema.MapField{Path: node.MustPath("steps"), Op: schema.OpIntToFloat},
			in:   node.Record(node.Field{Name: "steps", Value: node.Int(7)}),
			want: node.Record(node.Field{Name: "steps", Value: node.Float(7)}),
		},
		{
			name: "wrap in list",
			rule: schema.MapField{Path: node.MustPath("milestone"), Op: schema.OpWrapInList},
			in:   node.Record(node.Field{Name: "milestone", Value: node.Int(7)}),
			want: node.Record(node.Field{Name: "milestone", Value: node.Seq(node.Int(7))}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, tt.rule.Apply(tt.in))
			assert.True(t, tt.want.Equal(tt.in), "got %s, want %s", tt.in, tt.want)
		})
	}
}

func TestRewriteRuleIdempotence(t *testing.T) {
	rules := []schema.RewriteRule{
		schema.RenameField{Old: node.MustPath("lr"), New: node.MustPath("learning_rate")},
		schema.AddField{Path: node.MustPath("steps"), Default: node.Int(100)},
		schema.RemoveField{Path: node.MustPath("debug")},
	}
	n := node.Record(
		node.Field{Name: "lr", Value: node.Float(0.1)},
		node.Field{Name: "debug", Value: node.Bool(true)},
	)
	for _, r := range rules {
		require.NoError(t, r.Apply(n))
	}
	once := n.Clone()
	for _, r := range rules {
		require.NoError(t, r.Apply(n))
	}
	assert.True(t, once.Equal(n))
}
