package cli

import (
	"context"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/dfbridge/backend"
	"github.com/roach88/dfbridge/backends"
	"github.com/roach88/dfbridge/frame"
	"github.com/roach88/dfbridge/internal/config"
	"github.com/roach88/dfbridge/internal/program"
)

// session holds what every command needs: the formatter, the loaded
// configuration and an open backend set.
type session struct {
	out    *OutputFormatter
	cfg    config.Config
	logger *slog.Logger
	set    *backends.Set
}

// openSession loads the configuration and opens the backends. The caller
// closes the session. Failures are reported through the formatter and
// returned as ExitCommandError.
func openSession(ctx context.Context, opts *RootOptions, cmd *cobra.Command) (*session, error) {
	s := &session{
		out: &OutputFormatter{
			Format:    opts.Format,
			Writer:    cmd.OutOrStdout(),
			ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
			Verbose:   opts.Verbose,
		},
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, s.out.Fail(ExitCommandError, ErrCodeConfig, err, nil)
	}
	s.cfg = cfg

	level, _ := cfg.Level()
	if opts.Verbose {
		level = slog.LevelDebug
	}
	s.logger = newLogger(s.out.GetErrWriter(), level)

	set, err := backends.New(ctx, cfg.BackendOptions(backend.WithLogger(s.logger)))
	if err != nil {
		return nil, s.out.Fail(ExitCommandError, ErrCodeBackend, err, nil)
	}
	s.set = set
	s.logger.Debug("backends ready", "tags", set.Tags())
	return s, nil
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func (s *session) Close() error {
	return s.set.Close()
}

// frameOptions binds frames to the session registry.
func (s *session) frameOptions() []frame.Option {
	return []frame.Option{frame.WithRegistry(s.set.Registry)}
}

// lookup returns the adapter for tag or reports an unknown backend.
func (s *session) lookup(tag string) (backend.Adapter, error) {
	a, err := s.set.Lookup(tag)
	if err != nil {
		return nil, s.out.Fail(ExitCommandError, ErrCodeBackend, err, nil)
	}
	return a, nil
}

// loadProgram reads path or reports the failure.
func (s *session) loadProgram(path string) (*program.Program, error) {
	prog, err := program.Load(path)
	if err != nil {
		return nil, s.out.Fail(ExitCommandError, ErrCodeProgram, err, nil)
	}
	s.logger.Debug("program loaded", "name", prog.Name, "steps", len(prog.Steps))
	return prog, nil
}

// collectOptions picks where a lazy backend materializes its result.
func (s *session) collectOptions(a backend.Adapter) []frame.CollectOption {
	if a.Capabilities().NativeLazy {
		return []frame.CollectOption{frame.WithCollectBackend(s.cfg.CollectBackend)}
	}
	return nil
}

// runProgram runs prog on tag and exports the result.
func (s *session) runProgram(ctx context.Context, prog *program.Program, a backend.Adapter) (*result, error) {
	df, err := prog.Run(ctx, a.Tag(), s.collectOptions(a), s.frameOptions()...)
	if err != nil {
		return nil, err
	}
	cols, err := df.ToColumns(ctx)
	if err != nil {
		return nil, err
	}
	return newResult(cols), nil
}
