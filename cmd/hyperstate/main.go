package main

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"

	"github.com/spf13/cobra"

	"github.com/vk/hyperstate/internal/ctxlog"
	"github.com/vk/hyperstate/pkg/command"
	"github.com/vk/hyperstate/pkg/hyperstate"
	"github.com/vk/hyperstate/pkg/lazy"
)

// trainConfig is the demo record type guarded by the schema tools. It shows
// the common shapes: a schedulable float, an enum, a nested block and a
// defaulted integer.
type trainConfig struct {
	LearningRate float64   `default:"0.1"`
	BatchSize    int64     `default:"32"`
	Optimizer    optimizer `default:"adam"`
	Net          netConfig
	TotalSteps   int64 `default:"1000"`
}

type optimizer string

func (optimizer) Variants() []string { return []string{"adam", "sgd", "rmsprop"} }

type netConfig struct {
	Hidden  int64   `default:"128"`
	Dropout float64 `default:"0.0"`
}

// modelWeights is the demo blob payload. Real jobs would hold tensors here.
type modelWeights struct {
	Values []float64
}

func (w *modelWeights) EncodeCustom() ([]byte, error) { return lazy.MarshalPayload(w) }
func (w *modelWeights) DecodeCustom(b []byte) error   { return lazy.UnmarshalPayload(b, w) }

type trainState struct {
	Step    int64
	Loss    float64
	Weights *lazy.Ref[*modelWeights]
}

func main() {
	// Use a minimal logger until the full one is configured.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	app := command.App{
		Name:         "hyperstate",
		Config:       &trainConfig{},
		SnapshotPath: "schema.hcl",
	}
	root := command.New(app)
	root.AddCommand(newRunCmd())

	if err := root.Execute(); err != nil {
		var xerr *command.ExitError
		if errors.As(err, &xerr) {
			if xerr.Message != "" {
				fmt.Fprintln(os.Stderr, xerr.Message)
			}
			os.Exit(xerr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newRunCmd builds the demo training loop command. It decodes the config,
// resumes from the latest checkpoint if one exists, and checkpoints every
// --save-every steps.
func newRunCmd() *cobra.Command {
	var (
		initPath  string
		ckptDir   string
		overrides []string
		steps     int64
		saveEvery int64
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the demo training loop",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			logger := ctxlog.FromContext(ctx)

			mgr, err := hyperstate.New(ctx, hyperstate.Options{
				InitPath:      initPath,
				CheckpointDir: ckptDir,
				Overrides:     overrides,
			}, func(cfg *trainConfig) (*trainState, error) {
				values := make([]float64, cfg.Net.Hidden)
				return &trainState{
					Weights: lazy.NewRef(&modelWeights{Values: values}),
				}, nil
			})
			if err != nil {
				return err
			}

			cfg, state := mgr.Config(), mgr.State()
			logger.Info("Starting run.",
				"step", state.Step,
				"learning_rate", cfg.LearningRate,
				"optimizer", cfg.Optimizer,
			)

			for i := int64(0); i < steps && state.Step < cfg.TotalSteps; i++ {
				weights, err := state.Weights.Force(ctx)
				if err != nil {
					return err
				}
				state.Loss = fakeLoss(state.Step, cfg.LearningRate)
				for j := range weights.Values {
					weights.Values[j] -= cfg.LearningRate * state.Loss / float64(len(weights.Values))
				}
				state.Weights.Store(weights)
				state.Step++

				if saveEvery > 0 && state.Step%saveEvery == 0 {
					if err := mgr.Step(ctx); err != nil {
						return err
					}
					logger.Info("Checkpointed.", "step", state.Step, "loss", state.Loss, "dir", mgr.LastCheckpoint())
				}
			}

			if err := mgr.Step(ctx); err != nil {
				return err
			}
			logger.Info("Run finished.", "step", state.Step, "loss", state.Loss)
			return nil
		},
	}
	cmd.Flags().StringVar(&initPath, "init", "", "Initial config record file.")
	cmd.Flags().StringVar(&ckptDir, "checkpoint-dir", "checkpoints", "Directory holding checkpoint generations.")
	cmd.Flags().StringArrayVar(&overrides, "set", nil, "Config override as path=value; repeatable.")
	cmd.Flags().Int64Var(&steps, "steps", 100, "Number of steps to run before exiting.")
	cmd.Flags().Int64Var(&saveEvery, "save-every", 50, "Checkpoint every N steps; 0 saves only at exit.")
	return cmd
}

func fakeLoss(step int64, lr float64) float64 {
	return math.Exp(-float64(step)/200) + lr*0.01
}
