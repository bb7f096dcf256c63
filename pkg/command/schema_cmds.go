package command

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/spf13/cobra"

	"github.com/vk/hyperstate/internal/ctxlog"
	"github.com/vk/hyperstate/pkg/node"
	"github.com/vk/hyperstate/pkg/schema"
	"github.com/vk/hyperstate/pkg/serde"
)

func newDumpSchemaCmd(app App) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "dump-schema",
		Short: "Write the schema snapshot of the live config type",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			desc, err := schema.Materialize(app.Config)
			if err != nil {
				return err
			}
			path := out
			if path == "" {
				path = app.SnapshotPath
			}
			if path == "" {
				data, err := node.Print(schema.SnapshotNode(desc))
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := schema.SaveSnapshot(path, desc); err != nil {
				return err
			}
			ctxlog.FromContext(cmd.Context()).Info("Wrote schema snapshot.", "path", path, "version", desc.Version)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Snapshot file to write; prints to stdout when empty.")
	return cmd
}

func newCheckSchemaCmd(app App) *cobra.Command {
	return &cobra.Command{
		Use:   "check-schema [snapshot-file]",
		Short: "Diff a stored schema snapshot against the live config type",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			old, live, err := loadPair(app, args)
			if err != nil {
				return err
			}
			report := schema.Check(old, live)
			report.Write(cmd.OutOrStdout())
			if report.Severity() > schema.SeverityInfo {
				return &ExitError{Code: 1}
			}
			return nil
		},
	}
}

func newUpgradeSchemaCmd(app App) *cobra.Command {
	return &cobra.Command{
		Use:   "upgrade-schema [snapshot-file]",
		Short: "Replace a stored schema snapshot with the live config type",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			old, live, err := loadPair(app, args)
			if err != nil {
				return err
			}
			report := schema.Check(old, live)
			report.Write(cmd.OutOrStdout())

			path := app.SnapshotPath
			if len(args) == 1 {
				path = args[0]
			}
			if err := schema.SaveSnapshot(path, live); err != nil {
				return err
			}
			ctxlog.FromContext(cmd.Context()).Info("Upgraded schema snapshot.", "path", path, "version", live.Version)
			return nil
		},
	}
}

func newUpgradeConfigCmd(app App) *cobra.Command {
	var includeDefaults, dryRun bool
	cmd := &cobra.Command{
		Use:   "upgrade-config <config-file>",
		Short: "Rewrite a config record file at the current schema version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			desc, err := schema.Materialize(app.Config)
			if err != nil {
				return err
			}
			path := args[0]
			orig, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			n, err := node.Parse(orig, path)
			if err != nil {
				return err
			}
			n, err = schema.Upgrade(cmd.Context(), n, desc)
			if err != nil {
				return err
			}

			// Push the tree through the codec so the output is normalized:
			// declaration field order, validated values, defaults elided.
			inst := reflect.New(configType(app)).Interface()
			dec, err := serde.Decode(n, desc, inst, serde.DecodeOptions{
				BlobDir:  filepath.Dir(path),
				BlobStem: recordStem(path),
			})
			if err != nil {
				return err
			}
			enc, err := serde.Encode(inst, desc, serde.EncodeOptions{
				ElideDefaults: !includeDefaults,
				Schedules:     dec.Schedules,
			})
			if err != nil {
				return err
			}
			text, err := node.Print(enc.Node)
			if err != nil {
				return err
			}

			if dryRun {
				diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
					A:        difflib.SplitLines(string(orig)),
					B:        difflib.SplitLines(string(text)),
					FromFile: path,
					ToFile:   path + " (upgraded)",
					Context:  3,
				})
				if err != nil {
					return err
				}
				if diff == "" {
					fmt.Fprintf(cmd.OutOrStdout(), "%s is already at version %d.\n", path, desc.Version)
					return nil
				}
				_, err = fmt.Fprint(cmd.OutOrStdout(), diff)
				return err
			}

			if err := os.WriteFile(path, text, 0o644); err != nil {
				return err
			}
			ctxlog.FromContext(cmd.Context()).Info("Rewrote config record.", "path", path, "version", desc.Version)
			return nil
		},
	}
	cmd.Flags().BoolVar(&includeDefaults, "include-defaults", false, "Keep fields whose value equals the declared default.")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print a diff of the rewrite instead of applying it.")
	return cmd
}

func loadPair(app App, args []string) (old, live *schema.Struct, err error) {
	path := app.SnapshotPath
	if len(args) == 1 {
		path = args[0]
	}
	if path == "" {
		return nil, nil, fmt.Errorf("no snapshot file given and no default configured")
	}
	if old, err = schema.LoadSnapshot(path); err != nil {
		return nil, nil, err
	}
	if live, err = schema.Materialize(app.Config); err != nil {
		return nil, nil, err
	}
	return old, live, nil
}

func configType(app App) reflect.Type {
	rt := reflect.TypeOf(app.Config)
	for rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	return rt
}

func recordStem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
