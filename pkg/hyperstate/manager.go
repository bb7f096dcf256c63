package hyperstate

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"

	"github.com/google/uuid"

	"github.com/vk/hyperstate/internal/ctxlog"
	"github.com/vk/hyperstate/internal/fsutil"
	"github.com/vk/hyperstate/pkg/lazy"
	"github.com/vk/hyperstate/pkg/node"
	"github.com/vk/hyperstate/pkg/schedule"
	"github.com/vk/hyperstate/pkg/schema"
	"github.com/vk/hyperstate/pkg/serde"
)

const (
	configFile = "config.hcl"
	stateFile  = "state.hcl"
	configStem = "config"
	stateStem  = "state"

	generationPrefix = "latest-"
)

// Options configure a Manager.
type Options struct {
	// InitPath is the config record file used when no checkpoint exists.
	// Empty means an all-defaults config.
	InitPath string
	// CheckpointDir is the root directory for checkpoint generations.
	// Empty disables checkpointing.
	CheckpointDir string
	// Overrides are path=value assignments applied to the config record on
	// every load, initial or resumed.
	Overrides []string
	// CheckpointKey is the dotted path of the state field that names and
	// orders generations and that schedules are evaluated against.
	// Defaults to "step".
	CheckpointKey string
	// DisallowExtraFields makes unknown record fields fatal on decode.
	DisallowExtraFields bool
}

// Manager owns a typed config/state pair for one job: C is the immutable
// configuration record, S the mutable runtime state.
type Manager[C any, S any] struct {
	opts       Options
	keyPath    node.Path
	configDesc *schema.Struct
	stateDesc  *schema.Struct

	config    *C
	state     *S
	schedules map[string]*schedule.Schedule
	published string
}

// New builds a Manager and loads its pair: from the latest checkpoint
// generation under Options.CheckpointDir when one is published, otherwise
// from Options.InitPath, with initial building the fresh state from the
// loaded config.
func New[C any, S any](ctx context.Context, opts Options, initial func(*C) (*S, error)) (*Manager[C, S], error) {
	if opts.CheckpointKey == "" {
		opts.CheckpointKey = "step"
	}
	keyPath, err := node.ParsePath(opts.CheckpointKey)
	if err != nil {
		return nil, fmt.Errorf("checkpoint key: %w", err)
	}

	m := &Manager[C, S]{opts: opts, keyPath: keyPath}
	if m.configDesc, err = schema.Materialize(new(C)); err != nil {
		return nil, err
	}
	if m.stateDesc, err = schema.Materialize(new(S)); err != nil {
		return nil, err
	}
	if _, ok := m.stateDesc.FindField(keyPath); !ok {
		return nil, fmt.Errorf("checkpoint key %q is not a field of %s", keyPath, m.stateDesc.Name)
	}

	if opts.CheckpointDir != "" {
		gen, ok, err := fsutil.LatestGeneration(opts.CheckpointDir, m.generationPrefix())
		if err != nil {
			return nil, &CheckpointError{Dir: opts.CheckpointDir, Msg: "scanning generations", Err: err}
		}
		if ok {
			if err := m.resume(ctx, filepath.Join(opts.CheckpointDir, gen)); err != nil {
				return nil, err
			}
			return m, nil
		}
	}
	if err := m.fresh(ctx, initial); err != nil {
		return nil, err
	}
	return m, nil
}

// Config returns the loaded configuration record.
func (m *Manager[C, S]) Config() *C { return m.config }

// State returns the mutable runtime state record.
func (m *Manager[C, S]) State() *S { return m.state }

// LastCheckpoint returns the path of the most recently published
// generation, or "" when none has been written or resumed from.
func (m *Manager[C, S]) LastCheckpoint() string { return m.published }

// Schedules returns the schedules found in the config record, keyed by
// field path.
func (m *Manager[C, S]) Schedules() map[string]*schedule.Schedule { return m.schedules }

func (m *Manager[C, S]) generationPrefix() string {
	return generationPrefix + m.keyPath.Leaf()
}

func (m *Manager[C, S]) fresh(ctx context.Context, initial func(*C) (*S, error)) error {
	logger := ctxlog.FromContext(ctx)

	n := node.Record()
	blobDir := "."
	if m.opts.InitPath != "" {
		var err error
		if n, err = node.ParseFile(m.opts.InitPath); err != nil {
			return fmt.Errorf("reading config: %w", err)
		}
		blobDir = filepath.Dir(m.opts.InitPath)
	}
	if err := m.decodeConfig(ctx, n, blobDir, 0); err != nil {
		return err
	}

	if initial == nil {
		return fmt.Errorf("no checkpoint to resume from and no initial state constructor")
	}
	st, err := initial(m.config)
	if err != nil {
		return fmt.Errorf("building initial state: %w", err)
	}
	m.state = st

	key, err := m.keyValue()
	if err != nil {
		return err
	}
	if err := m.applySchedules(key); err != nil {
		return err
	}
	logger.Debug("Initialized fresh state.", "config", m.opts.InitPath, "key", key)
	return nil
}

func (m *Manager[C, S]) resume(ctx context.Context, dir string) error {
	logger := ctxlog.FromContext(ctx)

	stateNode, err := node.ParseFile(filepath.Join(dir, stateFile))
	if err != nil {
		return &CheckpointError{Dir: dir, Msg: "reading state record", Err: err}
	}
	stateNode, err = schema.Upgrade(ctx, stateNode, m.stateDesc)
	if err != nil {
		return &CheckpointError{Dir: dir, Msg: "upgrading state record", Err: err}
	}
	var st S
	dec, err := serde.Decode(stateNode, m.stateDesc, &st, serde.DecodeOptions{
		DisallowExtraFields: m.opts.DisallowExtraFields,
		BlobDir:             dir,
		BlobStem:            stateStem,
	})
	if err != nil {
		return &CheckpointError{Dir: dir, Msg: "decoding state record", Err: err}
	}
	m.state = &st
	logExtraFields(logger, stateFile, dec)

	key, err := m.keyValue()
	if err != nil {
		return err
	}

	configNode, err := node.ParseFile(filepath.Join(dir, configFile))
	if err != nil {
		return &CheckpointError{Dir: dir, Msg: "reading config record", Err: err}
	}
	if err := m.decodeConfig(ctx, configNode, dir, key); err != nil {
		return &CheckpointError{Dir: dir, Msg: "decoding config record", Err: err}
	}

	m.published = dir
	logger.Debug("Resumed from checkpoint.", "dir", dir, "key", key)
	return nil
}

// decodeConfig runs the full config load pipeline: overrides, version
// upgrade, then typed decode with schedules evaluated at key.
func (m *Manager[C, S]) decodeConfig(ctx context.Context, n *node.Node, blobDir string, key float64) error {
	logger := ctxlog.FromContext(ctx)

	n, err := serde.ApplyOverrides(n, m.configDesc, m.opts.Overrides)
	if err != nil {
		return err
	}
	n, err = schema.Upgrade(ctx, n, m.configDesc)
	if err != nil {
		return err
	}

	var cfg C
	dec, err := serde.Decode(n, m.configDesc, &cfg, serde.DecodeOptions{
		DisallowExtraFields: m.opts.DisallowExtraFields,
		BlobDir:             blobDir,
		BlobStem:            configStem,
		ScheduleKey:         key,
	})
	if err != nil {
		return err
	}
	m.config = &cfg
	m.schedules = dec.Schedules
	logExtraFields(logger, configFile, dec)
	return nil
}

// Step re-evaluates the config schedules against the current value of the
// checkpoint key and, when a checkpoint directory is configured, publishes
// a new generation. Advancing the key itself (incrementing the step
// counter) is the caller's business; Step only reads it.
func (m *Manager[C, S]) Step(ctx context.Context) error {
	key, err := m.keyValue()
	if err != nil {
		return err
	}
	if err := m.applySchedules(key); err != nil {
		return err
	}
	if m.opts.CheckpointDir == "" {
		return nil
	}
	return m.Checkpoint(ctx)
}

// Checkpoint encodes the pair, writes every blob backing file, and makes
// the generation visible with a single directory rename, so a reader never
// observes a half-written checkpoint. The previously published generation
// is pruned afterwards.
func (m *Manager[C, S]) Checkpoint(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	root := m.opts.CheckpointDir
	if root == "" {
		return &CheckpointError{Msg: "no checkpoint directory configured"}
	}
	key, err := m.keyValue()
	if err != nil {
		return err
	}

	staging := filepath.Join(root, uuid.NewString()+fsutil.StagingSuffix)
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return &CheckpointError{Dir: staging, Msg: "creating staging directory", Err: err}
	}
	discard := func() { _ = os.RemoveAll(staging) }

	cfgEnc, err := serde.Encode(m.config, m.configDesc, serde.EncodeOptions{Schedules: m.schedules})
	if err != nil {
		discard()
		return &CheckpointError{Dir: staging, Msg: "encoding config", Err: err}
	}
	stEnc, err := serde.Encode(m.state, m.stateDesc, serde.EncodeOptions{})
	if err != nil {
		discard()
		return &CheckpointError{Dir: staging, Msg: "encoding state", Err: err}
	}
	if err := node.WriteFile(filepath.Join(staging, configFile), cfgEnc.Node); err != nil {
		discard()
		return &CheckpointError{Dir: staging, Msg: "writing config record", Err: err}
	}
	if err := node.WriteFile(filepath.Join(staging, stateFile), stEnc.Node); err != nil {
		discard()
		return &CheckpointError{Dir: staging, Msg: "writing state record", Err: err}
	}

	// All blob writes complete before the generation is published.
	if err := writeBlobs(cfgEnc.Blobs, staging, configStem); err != nil {
		discard()
		return &CheckpointError{Dir: staging, Msg: "writing config blobs", Err: err}
	}
	if err := writeBlobs(stEnc.Blobs, staging, stateStem); err != nil {
		discard()
		return &CheckpointError{Dir: staging, Msg: "writing state blobs", Err: err}
	}

	final := filepath.Join(root, fmt.Sprintf("%s%012d", m.generationPrefix(), int64(key)))

	// Re-checkpointing at an unchanged key replaces that generation. The
	// old copy is moved aside rather than removed before the publish, so
	// a crash between the two renames still leaves one generation that
	// discovery can find.
	aside := final + fsutil.StagingSuffix
	replacing := false
	if _, err := os.Stat(final); err == nil {
		replacing = true
		if err := os.RemoveAll(aside); err != nil {
			discard()
			return &CheckpointError{Dir: aside, Msg: "clearing stale staging", Err: err}
		}
		if err := os.Rename(final, aside); err != nil {
			discard()
			return &CheckpointError{Dir: final, Msg: "replacing generation", Err: err}
		}
	}
	if err := os.Rename(staging, final); err != nil {
		discard()
		if replacing {
			if rerr := os.Rename(aside, final); rerr != nil {
				logger.Warn("Failed to restore replaced generation.", "dir", aside, "error", rerr)
			}
		}
		return &CheckpointError{Dir: final, Msg: "publishing generation", Err: err}
	}
	if replacing {
		if err := os.RemoveAll(aside); err != nil {
			logger.Warn("Failed to prune replaced generation.", "dir", aside, "error", err)
		}
	}

	for _, h := range cfgEnc.Blobs {
		h.Rebind(final, configStem)
	}
	for _, h := range stEnc.Blobs {
		h.Rebind(final, stateStem)
	}

	if m.published != "" && m.published != final {
		if err := os.RemoveAll(m.published); err != nil {
			logger.Warn("Failed to prune previous generation.", "dir", m.published, "error", err)
		}
	}
	m.published = final
	logger.Debug("Published checkpoint.", "dir", final, "key", key)
	return nil
}

func writeBlobs(blobs []lazy.Handle, dir, stem string) error {
	for _, h := range blobs {
		if err := h.WriteTo(dir, stem); err != nil {
			return err
		}
	}
	return nil
}

// keyValue reads the checkpoint key field out of the state record.
func (m *Manager[C, S]) keyValue() (float64, error) {
	fv, err := fieldByPath(reflect.ValueOf(m.state).Elem(), m.keyPath)
	if err != nil {
		return 0, fmt.Errorf("checkpoint key %q: %w", m.keyPath, err)
	}
	switch fv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(fv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(fv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return fv.Float(), nil
	}
	return 0, fmt.Errorf("checkpoint key %q: field is not numeric", m.keyPath)
}

// applySchedules overwrites scheduled config fields with their value at
// the given key position.
func (m *Manager[C, S]) applySchedules(key float64) error {
	for pathStr, sch := range m.schedules {
		fv, err := fieldByPath(reflect.ValueOf(m.config).Elem(), node.MustPath(pathStr))
		if err != nil {
			return fmt.Errorf("schedule %q: %w", pathStr, err)
		}
		fv.SetFloat(sch.At(key))
	}
	return nil
}

// LatestCheckpoint returns the path of the latest published generation
// under dir for the given checkpoint key, or ErrNoCheckpoint.
func LatestCheckpoint(dir, key string) (string, error) {
	gen, ok, err := fsutil.LatestGeneration(dir, generationPrefix+key)
	if err != nil {
		return "", &CheckpointError{Dir: dir, Msg: "scanning generations", Err: err}
	}
	if !ok {
		return "", ErrNoCheckpoint
	}
	return filepath.Join(dir, gen), nil
}

// fieldByPath resolves a record field path against a Go struct value,
// following the descriptor builder's field naming.
func fieldByPath(rv reflect.Value, path node.Path) (reflect.Value, error) {
	for _, seg := range path {
		for rv.Kind() == reflect.Pointer {
			if rv.IsNil() {
				return reflect.Value{}, fmt.Errorf("nil block before %q", seg)
			}
			rv = rv.Elem()
		}
		if rv.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("%q is not a block", seg)
		}
		rt := rv.Type()
		idx := -1
		for i := 0; i < rt.NumField(); i++ {
			if name, ok := schema.GoFieldName(rt.Field(i)); ok && name == seg {
				idx = i
				break
			}
		}
		if idx < 0 {
			return reflect.Value{}, fmt.Errorf("no field %q", seg)
		}
		rv = rv.Field(idx)
	}
	return rv, nil
}

func logExtraFields(logger *slog.Logger, file string, dec *serde.Decoded) {
	if len(dec.Extra) == 0 {
		return
	}
	paths := make([]string, len(dec.Extra))
	for i, p := range dec.Extra {
		paths[i] = p.String()
	}
	logger.Warn("Record carries fields the schema does not know.", "file", file, "fields", paths)
}
