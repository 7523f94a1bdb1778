package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/dfbridge/internal/equiv"
)

// RunResult is the output of the run command.
type RunResult struct {
	Program string       `json:"program"`
	Backend string       `json:"backend"`
	Columns []fieldJSON  `json:"columns"`
	Rows    [][]any      `json:"rows"`
	Expect  *ExpectCheck `json:"expect,omitempty"`

	res *result
}

// ExpectCheck reports the comparison against the program's expect block.
type ExpectCheck struct {
	Equal      bool             `json:"equal"`
	Mismatches []equiv.Mismatch `json:"mismatches,omitempty"`
	Truncated  bool             `json:"truncated,omitempty"`
}

func (r RunResult) renderText(w io.Writer) error {
	fmt.Fprintf(w, "%s on %s: %d rows\n", r.Program, r.Backend, len(r.Rows))
	if err := r.res.table().write(w); err != nil {
		return err
	}
	if r.Expect == nil {
		return nil
	}
	if r.Expect.Equal {
		_, err := fmt.Fprintln(w, "expect: ok")
		return err
	}
	return r.Expect.renderText(w)
}

func (e *ExpectCheck) renderText(w io.Writer) error {
	fmt.Fprintf(w, "expect: %d mismatch(es)\n", len(e.Mismatches))
	for _, m := range e.Mismatches {
		fmt.Fprintf(w, "  %s\n", m)
	}
	if e.Truncated {
		fmt.Fprintln(w, "  ...")
	}
	return nil
}

type runOptions struct {
	backend string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run <program.yaml>",
		Short: "Run a program on one backend and print the result",
		Long: `Run a program on one backend and print the collected frame.

Lazy SQL backends collect into the configured collect backend. When the
program has an expect block the result is compared against it and any
mismatch fails the command.

Exit codes:
  0 - Success
  1 - Execution failed or the result does not match expect
  2 - Command error (unreadable program or config, unknown backend)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(rootOpts, opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.backend, "backend", "b", "", "backend tag (default: config default_backend)")

	return cmd
}

func runRun(rootOpts *RootOptions, opts *runOptions, path string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	s, err := openSession(ctx, rootOpts, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	prog, err := s.loadProgram(path)
	if err != nil {
		return err
	}
	tag := opts.backend
	if tag == "" {
		tag = s.cfg.DefaultBackend
	}
	a, err := s.lookup(tag)
	if err != nil {
		return err
	}

	res, err := s.runProgram(ctx, prog, a)
	if err != nil {
		return s.out.Fail(ExitFailure, ErrCodeBackend, err, nil)
	}
	s.logger.Debug("program finished", "program", prog.Name, "backend", tag, "rows", res.height())

	out := RunResult{
		Program: prog.Name,
		Backend: tag,
		Columns: res.fields(),
		Rows:    res.rows(),
		res:     res,
	}
	if want := prog.Expected(); want != nil {
		report := equiv.Compare(want, res.cols, equiv.Options{
			Tolerances: s.cfg.ToleranceTable(),
			Kinds:      prog.Kinds(),
			Unordered:  prog.Unordered,
		})
		out.Expect = &ExpectCheck{Equal: report.Equal, Mismatches: report.Mismatches, Truncated: report.Truncated}
		if !report.Equal {
			_ = s.out.Error(ErrCodeExpect, fmt.Sprintf("%s on %s does not match expect", prog.Name, tag), out)
			return NewExitError(ExitFailure, ErrCodeExpect)
		}
	}
	return s.out.Success(out)
}
