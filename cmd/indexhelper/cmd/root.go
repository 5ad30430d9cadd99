// Package cmd provides the CLI commands for indexhelper.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/indexhelper/internal/assembler"
	"github.com/Aman-CERP/indexhelper/internal/config"
	"github.com/Aman-CERP/indexhelper/internal/errors"
	"github.com/Aman-CERP/indexhelper/internal/helper"
	"github.com/Aman-CERP/indexhelper/internal/logging"
	"github.com/Aman-CERP/indexhelper/internal/profiling"
	"github.com/Aman-CERP/indexhelper/pkg/version"
)

// DefaultIndexName is the index documents go to unless --index is given.
const DefaultIndexName = "content"

var (
	debugMode      bool
	configDir      string
	loggingCleanup func()

	profileOpts profiling.Options
	profiler    *profiling.Session
)

// NewRootCmd creates the root command for the indexhelper CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "indexhelper",
		Short: "Index content trees into per-mount full-text indexes",
		Long: `indexhelper stores file content in a blob store and keeps full-text
indexes of it up to date, one index per configured mount.

Index directories live in a locked copier work directory under the
configured work_dir; unreferenced blobs can be garbage collected.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("indexhelper version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.indexhelper/logs/")
	cmd.PersistentFlags().StringVar(&configDir, "config-dir", ".", "Directory searched for "+config.ProjectConfigName)

	cmd.PersistentFlags().StringVar(&profileOpts.CPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profileOpts.Heap, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&profileOpts.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = startProfilingAndLogging
	cmd.PersistentPostRunE = stopProfilingAndLogging

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newGCCmd())
	cmd.AddCommand(newInfoCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func startProfilingAndLogging(_ *cobra.Command, _ []string) error {
	cfg := logging.DefaultConfig()
	if loaded, err := config.Load(configDir); err == nil {
		cfg.Level = loaded.LogLevel
	}
	if debugMode {
		cfg = logging.DebugConfig()
	}

	logger, cleanup, err := logging.Setup(cfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)

	if debugMode {
		slog.Info("debug_logging_enabled",
			slog.String("log_file", logging.DefaultLogPath()),
			slog.String("version", version.Version))
	}

	if profileOpts.Enabled() {
		profiler, err = profiling.Start(profileOpts)
		if err != nil {
			return err
		}
	}
	return nil
}

func stopProfilingAndLogging(_ *cobra.Command, _ []string) error {
	if profiler != nil {
		err := profiler.Stop()
		profiler = nil
		if err != nil {
			return err
		}
	}
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command and reports failures on stderr.
func Execute() error {
	err := NewRootCmd().Execute()
	if err != nil {
		fmt.Fprint(os.Stderr, errors.FormatForCLI(err))
	}
	return err
}

// session bundles what most commands need: the loaded config, the shared
// index context and an assembler over it.
type session struct {
	cfg       *config.Config
	helper    *helper.IndexHelper
	assembler *assembler.Assembler
}

func openSession() (*session, error) {
	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, errors.ConfigError("failed to load configuration", err)
	}
	h, err := helper.Open(cfg)
	if err != nil {
		return nil, err
	}
	return &session{cfg: cfg, helper: h, assembler: h.NewAssembler()}, nil
}

// Close releases the assembler first so the copier lock goes before the pool.
func (s *session) Close() error {
	aerr := s.assembler.Close()
	herr := s.helper.Close()
	if aerr != nil {
		return aerr
	}
	return herr
}

// withEditor opens a session and an editor for indexName, runs fn and
// closes everything in reverse order.
func withEditor(ctx context.Context, indexName string, fn func(*session, *editorHandle) error) (err error) {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); err == nil {
			err = cerr
		}
	}()

	p, err := s.assembler.EditorProvider(ctx)
	if err != nil {
		return err
	}
	ed, err := p.Editor(ctx, indexName)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := ed.Close(); err == nil {
			err = cerr
		}
	}()

	return fn(s, &editorHandle{provider: p, editor: ed})
}
