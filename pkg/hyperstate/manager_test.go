package hyperstate_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/hyperstate/pkg/hyperstate"
	"github.com/vk/hyperstate/pkg/lazy"
)

type trainCfg struct {
	LearningRate float64 `default:"0.1"`
	BatchSize    int64   `default:"32"`
}

type netWeights struct {
	Values []float64
}

func (w *netWeights) EncodeCustom() ([]byte, error) { return lazy.MarshalPayload(w) }
func (w *netWeights) DecodeCustom(b []byte) error   { return lazy.UnmarshalPayload(b, w) }

type trainState struct {
	Step    int64
	Loss    float64
	Weights *lazy.Ref[*netWeights]
}

func newState(*trainCfg) (*trainState, error) {
	return &trainState{
		Weights: lazy.NewRef(&netWeights{Values: []float64{1, 2, 3}}),
	}, nil
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.hcl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFreshStart(t *testing.T) {
	ctx := context.Background()
	init := writeConfig(t, t.TempDir(), "learning_rate = 0.5\n")

	m, err := hyperstate.New[trainCfg, trainState](ctx, hyperstate.Options{InitPath: init}, newState)
	require.NoError(t, err)

	assert.Equal(t, 0.5, m.Config().LearningRate)
	assert.Equal(t, int64(32), m.Config().BatchSize)
	assert.Equal(t, int64(0), m.State().Step)
	assert.Empty(t, m.LastCheckpoint())
}

func TestOverridesApplied(t *testing.T) {
	ctx := context.Background()
	init := writeConfig(t, t.TempDir(), "learning_rate = 0.5\n")

	m, err := hyperstate.New[trainCfg, trainState](ctx, hyperstate.Options{
		InitPath:  init,
		Overrides: []string{"batch_size=64", "learning_rate=0.25"},
	}, newState)
	require.NoError(t, err)

	assert.Equal(t, int64(64), m.Config().BatchSize)
	assert.Equal(t, 0.25, m.Config().LearningRate)
}

func TestCheckpointAndResume(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	init := writeConfig(t, t.TempDir(), "learning_rate = 0.5\n")
	opts := hyperstate.Options{InitPath: init, CheckpointDir: root}

	m, err := hyperstate.New[trainCfg, trainState](ctx, opts, newState)
	require.NoError(t, err)
	m.State().Step = 7
	m.State().Loss = 0.25
	require.NoError(t, m.Step(ctx))
	assert.Equal(t, filepath.Join(root, "latest-step000000000007"), m.LastCheckpoint())

	resumed, err := hyperstate.New[trainCfg, trainState](ctx, opts, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(7), resumed.State().Step)
	assert.Equal(t, 0.25, resumed.State().Loss)
	assert.Equal(t, 0.5, resumed.Config().LearningRate)
	assert.Equal(t, m.LastCheckpoint(), resumed.LastCheckpoint())

	require.False(t, resumed.State().Weights.Loaded())
	w, err := resumed.State().Weights.Force(ctx)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, w.Values)
}

func TestStepPrunesPreviousGeneration(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	init := writeConfig(t, t.TempDir(), "")
	m, err := hyperstate.New[trainCfg, trainState](ctx, hyperstate.Options{InitPath: init, CheckpointDir: root}, newState)
	require.NoError(t, err)

	m.State().Step = 1
	require.NoError(t, m.Step(ctx))
	m.State().Step = 2
	require.NoError(t, m.Step(ctx))

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "latest-step000000000002", entries[0].Name())
}

func TestRecheckpointAtSameKeyReplacesGeneration(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	init := writeConfig(t, t.TempDir(), "")
	opts := hyperstate.Options{InitPath: init, CheckpointDir: root}
	m, err := hyperstate.New[trainCfg, trainState](ctx, opts, newState)
	require.NoError(t, err)

	m.State().Step = 3
	m.State().Loss = 0.5
	require.NoError(t, m.Step(ctx))
	m.State().Loss = 0.4
	require.NoError(t, m.Step(ctx))

	// The replaced generation leaves nothing behind, not even its
	// transient aside copy.
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "latest-step000000000003", entries[0].Name())

	resumed, err := hyperstate.New[trainCfg, trainState](ctx, opts, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.4, resumed.State().Loss)
}

func TestSchedulesFollowTheKey(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	init := writeConfig(t, t.TempDir(), `learning_rate = "step: 1.0@0 0.1@1000"`+"\n")
	opts := hyperstate.Options{InitPath: init, CheckpointDir: root}

	m, err := hyperstate.New[trainCfg, trainState](ctx, opts, newState)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, m.Config().LearningRate, 1e-9)

	m.State().Step = 500
	require.NoError(t, m.Step(ctx))
	assert.InDelta(t, 0.55, m.Config().LearningRate, 1e-9)

	// The published config record carries the schedule, not the value it
	// evaluated to, so a resumed run keeps following it.
	resumed, err := hyperstate.New[trainCfg, trainState](ctx, opts, nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.55, resumed.Config().LearningRate, 1e-9)
	require.Len(t, resumed.Schedules(), 1)
}

func TestDeferredBlobFailure(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	init := writeConfig(t, t.TempDir(), "")
	opts := hyperstate.Options{InitPath: init, CheckpointDir: root}

	m, err := hyperstate.New[trainCfg, trainState](ctx, opts, newState)
	require.NoError(t, err)
	m.State().Step = 3
	require.NoError(t, m.Step(ctx))

	blob := filepath.Join(m.LastCheckpoint(), lazy.BackingFileName("state", "weights"))
	require.NoError(t, os.Remove(blob))

	// The record still loads; only touching the blob fails.
	resumed, err := hyperstate.New[trainCfg, trainState](ctx, opts, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), resumed.State().Step)

	_, err = resumed.State().Weights.Force(ctx)
	require.Error(t, err)
	var berr *lazy.BlobError
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, "weights", berr.FieldPath)
}

func TestInterruptedSaveStaysInvisible(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	init := writeConfig(t, t.TempDir(), "")
	opts := hyperstate.Options{InitPath: init, CheckpointDir: root}

	m, err := hyperstate.New[trainCfg, trainState](ctx, opts, newState)
	require.NoError(t, err)
	m.State().Step = 1
	require.NoError(t, m.Step(ctx))

	// A save that died before publish leaves only a staging directory.
	staging := filepath.Join(root, "deadbeef.tmp")
	require.NoError(t, os.MkdirAll(staging, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(staging, "state.hcl"), []byte("step = 99\n"), 0o644))

	resumed, err := hyperstate.New[trainCfg, trainState](ctx, opts, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), resumed.State().Step)
}

func TestNoCheckpoint(t *testing.T) {
	_, err := hyperstate.LatestCheckpoint(t.TempDir(), "step")
	assert.ErrorIs(t, err, hyperstate.ErrNoCheckpoint)
}

func TestCorruptCheckpointIsNotAFreshStart(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	gen := filepath.Join(root, "latest-step000000000005")
	require.NoError(t, os.MkdirAll(gen, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(gen, "state.hcl"), []byte("step = {{{\n"), 0o644))

	init := writeConfig(t, t.TempDir(), "")
	_, err := hyperstate.New[trainCfg, trainState](ctx, hyperstate.Options{InitPath: init, CheckpointDir: root}, newState)
	require.Error(t, err)

	var cerr *hyperstate.CheckpointError
	require.ErrorAs(t, err, &cerr)
}
