package command

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vk/hyperstate/internal/ctxlog"
)

// ExitError carries a specific process exit code up through Execute.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string { return e.Message }

// App names the record type the schema tools guard.
type App struct {
	// Name is the binary name shown in help text.
	Name string
	// Config is a prototype value of the guarded record type.
	Config any
	// SnapshotPath is the default schema snapshot location used when a
	// command is not given one explicitly.
	SnapshotPath string
}

// New assembles the root command with the schema tool subcommands.
func New(app App) *cobra.Command {
	var logLevel, logFormat string

	root := &cobra.Command{
		Use:           app.Name,
		Short:         "Versioned typed config and state for long-running jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Logging level: debug, info, warn or error.")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log output format: text or json.")
	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		format := strings.ToLower(logFormat)
		if format != "text" && format != "json" {
			return &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
		}
		logger := newLogger(strings.ToLower(logLevel), format, cmd.ErrOrStderr())
		cmd.SetContext(ctxlog.WithLogger(cmd.Context(), logger))
		return nil
	}

	root.AddCommand(
		newDumpSchemaCmd(app),
		newCheckSchemaCmd(app),
		newUpgradeSchemaCmd(app),
		newUpgradeConfigCmd(app),
		newFieldsCmd(app),
	)
	return root
}

// Execute runs the command tree and returns the process exit code.
func Execute(app App) int {
	if err := New(app).Execute(); err != nil {
		var xerr *ExitError
		if errors.As(err, &xerr) {
			if xerr.Message != "" {
				fmt.Fprintln(os.Stderr, xerr.Message)
			}
			return xerr.Code
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

// newLogger creates a configured slog.Logger instance. It does not set the
// global logger, allowing for isolated logger instances.
func newLogger(levelStr, formatStr string, outW io.Writer) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if formatStr == "json" {
		handler = slog.NewJSONHandler(outW, handlerOpts)
	} else {
		handler = slog.NewTextHandler(outW, handlerOpts)
	}
	return slog.New(handler)
}
