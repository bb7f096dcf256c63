package schema_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/hyperstate/pkg/lazy"
	"github.com/vk/hyperstate/pkg/node"
	"github.com/vk/hyperstate/pkg/schema"
)

type optimizer string

func (optimizer) Variants() []string { return []string{"adam", "sgd", "rmsprop"} }

type netConfig struct {
	Hidden  int `default:"128"`
	Dropout *float64
}

type weights struct {
	Data []float64
}

func (w *weights) EncodeCustom() ([]byte, error) { return lazy.MarshalPayload(w) }
func (w *weights) DecodeCustom(b []byte) error   { return lazy.UnmarshalPayload(b, w) }

type trainConfig struct {
	LearningRate float64   `default:"0.1"`
	Optimizer    optimizer `default:"adam"`
	Net          netConfig
	Milestones   []int64
	Tags         map[string]string
	Betas        [2]float64
	Warmup       *weightDecay `hs:"wd"`
	Ignored      string       `hs:"-"`
	internal     int
}

type weightDecay struct {
	Rate float64 `default:"0.01"`
}

func TestMaterializeShapes(t *testing.T) {
	desc, err := schema.Materialize(&trainConfig{})
	require.NoError(t, err)
	require.Equal(t, "trainConfig", desc.Name)

	var names []string
	for _, f := range desc.Fields {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"learning_rate", "optimizer", "net", "milestones", "tags", "betas", "wd"}, names)

	lr, ok := desc.FieldByName("learning_rate")
	require.True(t, ok)
	assert.Equal(t, &schema.Primitive{Name: "float"}, lr.Type)
	require.True(t, lr.HasDefault)
	assert.True(t, node.Float(0.1).Equal(lr.Default))

	opt, ok := desc.FieldByName("optimizer")
	require.True(t, ok)
	enum, isEnum := opt.Type.(*schema.Enum)
	require.True(t, isEnum)
	assert.Equal(t, "optimizer", enum.Name)
	assert.Equal(t, []string{"adam", "sgd", "rmsprop"}, enum.Variants)

	net, ok := desc.FieldByName("net")
	require.True(t, ok)
	nested, isStruct := net.Type.(*schema.Struct)
	require.True(t, isStruct)
	dropout, ok := nested.FieldByName("dropout")
	require.True(t, ok)
	assert.Equal(t, &schema.Option{Elem: &schema.Primitive{Name: "float"}}, dropout.Type)

	milestones, ok := desc.FieldByName("milestones")
	require.True(t, ok)
	assert.Equal(t, &schema.List{Elem: &schema.Primitive{Name: "int"}}, milestones.Type)

	betas, ok := desc.FieldByName("betas")
	require.True(t, ok)
	tuple, isTuple := betas.Type.(*schema.Tuple)
	require.True(t, isTuple)
	assert.Len(t, tuple.Elems, 2)
}

func TestMaterializeBlobField(t *testing.T) {
	type model struct {
		Step    int64
		Weights *lazy.Ref[*weights]
	}
	desc, err := schema.Materialize(&model{})
	require.NoError(t, err)

	f, ok := desc.FieldByName("weights")
	require.True(t, ok)
	assert.Equal(t, &schema.Blob{Name: "weights"}, f.Type)
}

func TestMaterializeErrors(t *testing.T) {
	type cyclic struct {
		Next *cyclic
	}
	type unsupported struct {
		C chan int
	}
	type badEnumDefault struct {
		Opt optimizer `default:"adagrad"`
	}
	type duplicate struct {
		A int
		B int `hs:"a"`
	}
	type blobInList struct {
		Shards []*lazy.Ref[*weights]
	}
	type blobInMap struct {
		Shards map[string]*lazy.Ref[*weights]
	}

	tests := []struct {
		name    string
		input   any
		wantMsg string
	}{
		{name: "non-struct", input: 42, wantMsg: "must be a struct"},
		{name: "cyclic", input: &cyclic{}, wantMsg: "cyclic"},
		{name: "unsupported kind", input: &unsupported{}, wantMsg: "unsupported kind"},
		{name: "default not a variant", input: &badEnumDefault{}, wantMsg: "not a variant"},
		{name: "duplicate field name", input: &duplicate{}, wantMsg: "duplicate field name"},
		{name: "blob inside a list", input: &blobInList{}, wantMsg: "inside collections"},
		{name: "blob inside a map", input: &blobInMap{}, wantMsg: "inside collections"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := schema.Materialize(tt.input)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
			var schemaErr *schema.Error
			assert.ErrorAs(t, err, &schemaErr)
		})
	}
}

type versionedConfig struct {
	LearningRate float64 `default:"0.1"`
}

func (*versionedConfig) Version() int { return 2 }
func (*versionedConfig) UpgradeRules() map[int][]schema.RewriteRule {
	return map[int][]schema.RewriteRule{
		0: {schema.RenameField{Old: node.MustPath("lr"), New: node.MustPath("learning_rate")}},
		1: {},
	}
}

func TestMaterializeVersioned(t *testing.T) {
	desc, err := schema.Materialize(&versionedConfig{})
	require.NoError(t, err)
	assert.Equal(t, 2, desc.Version)
	require.Contains(t, desc.UpgradeRules, 0)
	require.Contains(t, desc.UpgradeRules, 1)
}

type badRuleKeys struct{}

func (*badRuleKeys) Version() int { return 1 }
func (*badRuleKeys) UpgradeRules() map[int][]schema.RewriteRule {
	return map[int][]schema.RewriteRule{1: {}}
}

func TestMaterializeRejectsOutOfRangeRuleKeys(t *testing.T) {
	_, err := schema.Materialize(&badRuleKeys{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside 0..0")
}
