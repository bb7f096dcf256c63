package serde_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/hyperstate/pkg/lazy"
	"github.com/vk/hyperstate/pkg/node"
	"github.com/vk/hyperstate/pkg/schema"
	"github.com/vk/hyperstate/pkg/serde"
)

type testOptimizer string

func (testOptimizer) Variants() []string { return []string{"adam", "sgd"} }

type testNet struct {
	Hidden  int64 `default:"128"`
	Dropout *float64
}

type testRecord struct {
	LearningRate float64       `default:"0.1"`
	Optimizer    testOptimizer `default:"adam"`
	Active       bool
	Name         string
	Net          testNet
	Milestones   []int64
	Betas        [2]float64
	Tags         map[string]string
	Decay        *float64
}

func mustDesc(t *testing.T, v any) *schema.Struct {
	t.Helper()
	desc, err := schema.Materialize(v)
	require.NoError(t, err)
	return desc
}

func TestRoundTrip(t *testing.T) {
	desc := mustDesc(t, &testRecord{})
	decay := 0.99
	in := testRecord{
		LearningRate: 0.05,
		Optimizer:    "sgd",
		Active:       true,
		Name:         "run-7",
		Net:          testNet{Hidden: 256, Dropout: &decay},
		Milestones:   []int64{100, 1000},
		Betas:        [2]float64{0.9, 0.999},
		Tags:         map[string]string{"team": "infra", "owner": "vk"},
		Decay:        &decay,
	}

	enc, err := serde.Encode(&in, desc, serde.EncodeOptions{})
	require.NoError(t, err)

	var out testRecord
	_, err = serde.Decode(enc.Node, desc, &out, serde.DecodeOptions{})
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestRoundTripThroughText(t *testing.T) {
	desc := mustDesc(t, &testRecord{})
	in := testRecord{
		LearningRate: 0.05,
		Optimizer:    "adam",
		Name:         "run-8",
		Net:          testNet{Hidden: 64},
		Milestones:   []int64{5},
		Betas:        [2]float64{0.5, 0.5},
		Tags:         map[string]string{"k": "v"},
	}

	enc, err := serde.Encode(&in, desc, serde.EncodeOptions{})
	require.NoError(t, err)
	text, err := node.Print(enc.Node)
	require.NoError(t, err)
	parsed, err := node.Parse(text, "roundtrip.hcl")
	require.NoError(t, err)

	var out testRecord
	_, err = serde.Decode(parsed, desc, &out, serde.DecodeOptions{})
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodeAppliesDefaults(t *testing.T) {
	desc := mustDesc(t, &testRecord{})
	n := node.Record(
		node.Field{Name: "name", Value: node.String("x")},
		node.Field{Name: "active", Value: node.Bool(false)},
		node.Field{Name: "milestones", Value: node.Seq()},
		node.Field{Name: "betas", Value: node.Seq(node.Float(0), node.Float(0))},
		node.Field{Name: "tags", Value: node.Record()},
	)

	var out testRecord
	_, err := serde.Decode(n, desc, &out, serde.DecodeOptions{})
	require.NoError(t, err)

	assert.Equal(t, 0.1, out.LearningRate)
	assert.Equal(t, testOptimizer("adam"), out.Optimizer)
	// The whole net block is omitted but every net field has a default.
	assert.Equal(t, int64(128), out.Net.Hidden)
	assert.Nil(t, out.Net.Dropout)
	assert.Nil(t, out.Decay)
}

func TestDecodeMissingRequiredField(t *testing.T) {
	type required struct {
		Name string
	}
	desc := mustDesc(t, &required{})

	var out required
	_, err := serde.Decode(node.Record(), desc, &out, serde.DecodeOptions{})
	require.Error(t, err)

	var derr *serde.DecodeError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, "name", derr.Path.String())
	assert.Contains(t, derr.Msg, "missing required field")
}

func TestDecodeNumericCoercion(t *testing.T) {
	type nums struct {
		Rate  float64
		Count int64
	}
	desc := mustDesc(t, &nums{})

	t.Run("int widens into float field", func(t *testing.T) {
		n := node.Record(
			node.Field{Name: "rate", Value: node.Int(2)},
			node.Field{Name: "count", Value: node.Int(3)},
		)
		var out nums
		_, err := serde.Decode(n, desc, &out, serde.DecodeOptions{})
		require.NoError(t, err)
		assert.Equal(t, 2.0, out.Rate)
	})

	t.Run("float never narrows into int field", func(t *testing.T) {
		n := node.Record(
			node.Field{Name: "rate", Value: node.Float(2)},
			node.Field{Name: "count", Value: node.Float(3)},
		)
		var out nums
		_, err := serde.Decode(n, desc, &out, serde.DecodeOptions{})
		var derr *serde.DecodeError
		require.ErrorAs(t, err, &derr)
		assert.Equal(t, "count", derr.Path.String())
	})
}

func TestDecodeUnknownEnumVariant(t *testing.T) {
	desc := mustDesc(t, &testRecord{})
	n := node.Record(
		node.Field{Name: "optimizer", Value: node.String("adagrad")},
	)

	var out testRecord
	_, err := serde.Decode(n, desc, &out, serde.DecodeOptions{})
	var derr *serde.DecodeError
	require.ErrorAs(t, err, &derr)
	assert.Contains(t, derr.Msg, "not a variant")
}

func TestDecodeExtraFields(t *testing.T) {
	type small struct {
		Name string
	}
	desc := mustDesc(t, &small{})
	n := node.Record(
		node.Field{Name: "name", Value: node.String("x")},
		node.Field{Name: "retired_knob", Value: node.Int(1)},
	)

	t.Run("collected by default", func(t *testing.T) {
		var out small
		dec, err := serde.Decode(n, desc, &out, serde.DecodeOptions{})
		require.NoError(t, err)
		require.Len(t, dec.Extra, 1)
		assert.Equal(t, "retired_knob", dec.Extra[0].String())
	})

	t.Run("fatal when disallowed", func(t *testing.T) {
		var out small
		_, err := serde.Decode(n, desc, &out, serde.DecodeOptions{DisallowExtraFields: true})
		var derr *serde.DecodeError
		require.ErrorAs(t, err, &derr)
		assert.Contains(t, derr.Msg, "unknown field")
	})
}

type staleConfig struct {
	LearningRate float64
}

func (*staleConfig) Version() int { return 2 }
func (*staleConfig) UpgradeRules() map[int][]schema.RewriteRule {
	return map[int][]schema.RewriteRule{0: {}, 1: {}}
}

func TestDecodeRejectsUnupgradedVersion(t *testing.T) {
	desc := mustDesc(t, &staleConfig{})
	n := node.Record(
		node.Field{Name: "version", Value: node.Int(1)},
		node.Field{Name: "learning_rate", Value: node.Float(0.1)},
	)

	var out staleConfig
	_, err := serde.Decode(n, desc, &out, serde.DecodeOptions{})
	var derr *serde.DecodeError
	require.ErrorAs(t, err, &derr)
	assert.Contains(t, derr.Msg, "upgrade before decoding")
}

func TestEncodeEmitsLeadingVersion(t *testing.T) {
	desc := mustDesc(t, &staleConfig{})
	enc, err := serde.Encode(&staleConfig{LearningRate: 0.5}, desc, serde.EncodeOptions{})
	require.NoError(t, err)

	fields := enc.Node.Fields()
	require.NotEmpty(t, fields)
	assert.Equal(t, "version", fields[0].Name)
	assert.Equal(t, int64(2), fields[0].Value.AsInt())
}

func TestEncodeElidesDefaults(t *testing.T) {
	desc := mustDesc(t, &testRecord{})
	in := testRecord{
		LearningRate: 0.1, // equals default
		Optimizer:    "sgd",
		Name:         "x",
		Net:          testNet{Hidden: 128},
	}

	enc, err := serde.Encode(&in, desc, serde.EncodeOptions{ElideDefaults: true})
	require.NoError(t, err)

	_, hasLR := enc.Node.Get("learning_rate")
	assert.False(t, hasLR)
	opt, hasOpt := enc.Node.Get("optimizer")
	require.True(t, hasOpt)
	assert.Equal(t, "sgd", opt.AsString())
}

func TestScheduleInFloatField(t *testing.T) {
	type cfg struct {
		LearningRate float64
	}
	desc := mustDesc(t, &cfg{})
	n := node.Record(
		node.Field{Name: "learning_rate", Value: node.String("step: 1.0@0 0.1@1000")},
	)

	var out cfg
	dec, err := serde.Decode(n, desc, &out, serde.DecodeOptions{ScheduleKey: 500})
	require.NoError(t, err)
	assert.InDelta(t, 0.55, out.LearningRate, 1e-9)

	sch, ok := dec.Schedules["learning_rate"]
	require.True(t, ok)
	assert.Equal(t, "step", sch.Key)

	// Re-encoding with the recorded schedules writes the source text back,
	// not the evaluated value.
	enc, err := serde.Encode(&out, desc, serde.EncodeOptions{Schedules: dec.Schedules})
	require.NoError(t, err)
	lr, ok := enc.Node.Get("learning_rate")
	require.True(t, ok)
	assert.Equal(t, "step: 1.0@0 0.1@1000", lr.AsString())
}

type weightsBlob struct {
	Data []float64
}

func (w *weightsBlob) EncodeCustom() ([]byte, error) { return lazy.MarshalPayload(w) }
func (w *weightsBlob) DecodeCustom(b []byte) error   { return lazy.UnmarshalPayload(b, w) }

type blobRecord struct {
	Step    int64
	Weights *lazy.Ref[*weightsBlob]
}

func TestEncodeBlobEmitsMarker(t *testing.T) {
	desc := mustDesc(t, &blobRecord{})
	rec := blobRecord{Step: 3, Weights: lazy.NewRef(&weightsBlob{Data: []float64{1, 2}})}

	enc, err := serde.Encode(&rec, desc, serde.EncodeOptions{})
	require.NoError(t, err)

	w, ok := enc.Node.Get("weights")
	require.True(t, ok)
	assert.Equal(t, lazy.Marker, w.AsString())
	require.Len(t, enc.Blobs, 1)
	assert.Equal(t, "weights", enc.Blobs[0].FieldPath())
}

func TestDecodeBlobBuildsUnloadedHandle(t *testing.T) {
	desc := mustDesc(t, &blobRecord{})
	n := node.Record(
		node.Field{Name: "step", Value: node.Int(9)},
		node.Field{Name: "weights", Value: node.String(lazy.Marker)},
	)

	var out blobRecord
	dec, err := serde.Decode(n, desc, &out, serde.DecodeOptions{BlobDir: "/ckpt", BlobStem: "state"})
	require.NoError(t, err)

	require.NotNil(t, out.Weights)
	assert.False(t, out.Weights.Loaded())
	assert.Equal(t, "weights", out.Weights.FieldPath())
	assert.Equal(t, lazy.BackingFileName("state", "weights"), out.Weights.FileName())
	require.Len(t, dec.Blobs, 1)
}
